package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FileInfo error codes. Positive codes are backend EResult values passed through verbatim.
const (
	FileInfoErrCreateQuery  = -1
	FileInfoErrSendQuery    = -2
	FileInfoErrResultCount  = -3
	FileInfoErrInvalidID    = -5
	FileInfoErrMismatchedID = -6
)

// QueryCacheMaxAge is how old a backend cached response may be.
const QueryCacheMaxAge = 60 * time.Second

// FileInfo is the structured result handed to FileInfo callbacks. When Error is non-zero
// only ID is meaningful.
type FileInfo struct {
	ID          ItemId   `json:"id"`
	Error       int      `json:"error,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Owner       string   `json:"owner,omitempty"`
	Tags        string   `json:"tags,omitempty"`
	Banned      bool     `json:"banned,omitempty"`
	Created     int64    `json:"created,omitempty"`
	Updated     int64    `json:"updated,omitempty"`
	Size        uint64   `json:"size,omitempty"`
	PreviewURL  string   `json:"previewurl,omitempty"`
	PreviewID   uint64   `json:"previewid,omitempty"`
	PreviewSize uint64   `json:"previewsize,omitempty"`
	FileID      uint64   `json:"fileid,omitempty"`
	VotesUp     uint32   `json:"up,omitempty"`
	VotesDown   uint32   `json:"down,omitempty"`
	Score       float32  `json:"score,omitempty"`
	Children    []ItemId `json:"children,omitempty"`
}

// Failed reports whether the query produced an error code instead of metadata.
func (f *FileInfo) Failed() bool {
	return f == nil || f.Error != 0
}

// QueryClient issues single item metadata queries and validates the answer.
type QueryClient struct {
	session *Session
	hook    *PollHook
	metrics *Metrics
}

// NewQueryClient creates a client whose completions are pumped by hook.
func NewQueryClient(session *Session, hook *PollHook, metrics *Metrics) *QueryClient {
	return &QueryClient{
		session: session,
		hook:    hook,
		metrics: metrics,
	}
}

// Query resolves handle exactly once with the metadata of id, or with an error code.
func (q *QueryClient) Query(id ItemId, handle *QueryHandle) {
	req := QueryRequest{
		IDs:                 []ItemId{id},
		AllowCachedResponse: QueryCacheMaxAge,
		IncludeChildren:     true,
	}

	q.hook.Acquire()
	err := q.session.QueryItem(req, func(results *QueryResults, err error) {
		q.hook.Release()
		q.deliver(id, handle, results, err)
	})
	if err != nil {
		q.hook.Release()
		PushLogError(q, TagWorkshop, fmt.Sprintf("Failed to query %d: %v", id, err))
		q.deliver(id, handle, nil, err)
	}
}

func (q *QueryClient) deliver(id ItemId, handle *QueryHandle, results *QueryResults, err error) {
	info := BuildFileInfo(id, results, err)
	if info.Error != 0 {
		q.metrics.query(OutcomeError)
		PushLogWarning(q, TagWorkshop, fmt.Sprintf("Query for %d failed with code %d", id, info.Error))
	} else {
		q.metrics.query(OutcomeOk)
	}
	handle.Resolve(info)
}

// BuildFileInfo validates a query answer for id and converts it into a FileInfo.
func BuildFileInfo(id ItemId, results *QueryResults, err error) *FileInfo {
	info := &FileInfo{ID: id}

	if err != nil {
		info.Error = queryErrorCode(err)
		return info
	}

	if results == nil || len(results.Items) != 1 {
		info.Error = FileInfoErrResultCount
		return info
	}

	item := results.Items[0]
	switch {
	case item.PublishedFileId == 0:
		info.Error = FileInfoErrInvalidID
		return info
	case item.PublishedFileId != id:
		info.Error = FileInfoErrMismatchedID
		return info
	case item.Result != EResultNone && item.Result != EResultOK:
		info.Error = int(item.Result)
		return info
	}

	info.Title = item.Title
	info.Description = item.Description
	info.Owner = fmt.Sprintf("%d", item.Owner)
	info.Tags = item.Tags
	info.Banned = item.Banned
	info.Created = unixOrZero(item.Created)
	info.Updated = unixOrZero(item.Updated)
	info.Size = item.FileSize
	info.PreviewURL = item.PreviewURL
	info.PreviewID = item.PreviewHandle
	info.PreviewSize = item.PreviewSize
	info.FileID = item.FileHandle
	info.VotesUp = item.VotesUp
	info.VotesDown = item.VotesDown
	info.Score = item.Score
	info.Children = append([]ItemId(nil), item.Children...)
	return info
}

func queryErrorCode(err error) int {
	var backendErr *BackendError
	switch {
	case errors.As(err, &backendErr):
		return int(backendErr.Result)
	case errors.Is(err, ErrQuerySend):
		return FileInfoErrSendQuery
	default:
		return FileInfoErrCreateQuery
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// JoinTags renders a tag list the way the backend's tag string looks.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}
