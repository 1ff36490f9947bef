package internal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ItemState mirrors the backend's per-item state flags.
type ItemState uint32

const (
	ItemStateNone       ItemState = 0
	ItemStateSubscribed ItemState = 1 << (iota - 1)
	ItemStateLegacy
	ItemStateInstalled
	ItemStateNeedsUpdate
	ItemStateDownloading
	ItemStateDownloadPending
)

// Has reports whether every bit of flag is set.
func (s ItemState) Has(flag ItemState) bool {
	return s&flag == flag
}

// InstallInfo is the backend's on-disk installation record for an item. Folder is either
// a directory or, for legacy items, the container file itself.
type InstallInfo struct {
	Folder     string
	SizeOnDisk uint64
	Timestamp  time.Time
}

// QueryRequest describes a single item metadata query.
type QueryRequest struct {
	IDs                 []ItemId
	AllowCachedResponse time.Duration
	IncludeChildren     bool
}

// ItemDetails is one result row of a metadata query.
type ItemDetails struct {
	PublishedFileId ItemId
	Result          EResult
	Title           string
	Description     string
	Owner           uint64
	Tags            string
	Banned          bool
	Created         time.Time
	Updated         time.Time
	FileSize        uint64
	FileName        string
	FileURL         string
	FileHandle      uint64
	PreviewURL      string
	PreviewHandle   uint64
	PreviewSize     uint64
	VotesUp         uint32
	VotesDown       uint32
	Score           float32
	Children        []ItemId
}

// QueryResults is the complete answer to a QueryRequest.
type QueryResults struct {
	Items        []ItemDetails
	WasCached    bool
	TotalMatches uint32
}

// Get returns the i-th result, if any.
func (r *QueryResults) Get(i int) (*ItemDetails, bool) {
	if r == nil || i < 0 || i >= len(r.Items) {
		return nil, false
	}
	return &r.Items[i], true
}

// Backend is the content distribution SDK surface the engine is built on. Operations that
// complete asynchronously only deliver their callbacks from RunCallbacks, on the goroutine
// that calls it.
type Backend interface {
	LoggedIn() bool
	// LogOn blocks until the session is connected or ctx ends.
	LogOn(ctx context.Context) error
	SuspendDownloads(suspend bool)
	// DownloadItem returns false when the id is invalid or there is no network session.
	DownloadItem(id ItemId, highPriority bool) bool
	ItemInstallInfo(id ItemId) (InstallInfo, bool)
	ItemState(id ItemId) ItemState
	// QueryItem fails synchronously when the query cannot be created or sent; otherwise
	// cb fires exactly once from RunCallbacks.
	QueryItem(req QueryRequest, cb DelegateQueryComplete) error
	// OnDownloadResult sets the handler RunCallbacks delivers download results to,
	// replacing any previous one.
	OnDownloadResult(fn DelegateDownloadResult)
	RunCallbacks()
}

// EResult is the backend's native result code.
type EResult int32

const (
	EResultNone               EResult = 0
	EResultOK                 EResult = 1
	EResultFail               EResult = 2
	EResultNoConnection       EResult = 3
	EResultInvalidParam       EResult = 8
	EResultFileNotFound       EResult = 9
	EResultBusy               EResult = 10
	EResultAccessDenied       EResult = 15
	EResultTimeout            EResult = 16
	EResultServiceUnavailable EResult = 20
	EResultLimitExceeded      EResult = 25
	EResultRateLimitExceeded  EResult = 84
)

// BackendError carries a backend result code verbatim.
type BackendError struct {
	Result EResult
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend result %d: %v", e.Result, e.Err)
	}
	return fmt.Sprintf("backend result %d", e.Result)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Errors returned synchronously by Backend.QueryItem.
var (
	ErrQueryCreate = errors.New("failed to create query")
	ErrQuerySend   = errors.New("failed to send query")
)
