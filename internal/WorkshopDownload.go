package internal

import (
	"errors"
	"fmt"
)

// QueuedHookName is the Think hook that replays downloads requested before log on.
const QueuedHookName = "gmsv_downloadugc_queued"

var (
	ErrDownloadRejected = errors.New("item id is invalid or the server is not logged onto the backend")
)

// Orchestrator runs the per-item download state machine on a single host thread:
//
//	NOT_REQUESTED -> DONE(path)   already installed or cached
//	NOT_REQUESTED -> QUEUED       session not logged on
//	NOT_REQUESTED -> DONE(fail)   backend rejected the request
//	NOT_REQUESTED -> DOWNLOADING  backend accepted the request
//	QUEUED        -> NOT_REQUESTED once logged on
//	DOWNLOADING   -> DONE(path)   a poll sees the item installed
//	DOWNLOADING   -> DONE(fail)   the backend reports the download failed
//
// It is not safe for concurrent use; callbacks may re-enter Download.
type Orchestrator struct {
	session  *Session
	hook     *PollHook
	resolver *ArtifactResolver
	host     HostRuntime
	metrics  *Metrics

	pending  map[ItemId][]*DownloadHandle
	queued   map[ItemId][]*DownloadHandle
	watching bool
}

// NewOrchestrator wires an orchestrator. hook is shared with any other async operation
// on the same host thread.
func NewOrchestrator(session *Session, hook *PollHook, resolver *ArtifactResolver, host HostRuntime, metrics *Metrics) *Orchestrator {
	o := &Orchestrator{
		session:  session,
		hook:     hook,
		resolver: resolver,
		host:     host,
		metrics:  metrics,
		pending:  make(map[ItemId][]*DownloadHandle),
		queued:   make(map[ItemId][]*DownloadHandle),
	}
	session.OnDownloadResult(o.downloadResult)
	return o
}

// Download makes id available locally and resolves handle exactly once with the package
// path or a failure. handle may be nil.
func (o *Orchestrator) Download(id ItemId, handle *DownloadHandle) {
	var handles []*DownloadHandle
	if handle != nil {
		handles = append(handles, handle)
	}
	o.download(id, handles)
}

func (o *Orchestrator) download(id ItemId, handles []*DownloadHandle) {
	if folder, ok := o.session.InstalledFolder(id); ok {
		o.complete(id, folder, handles)
		return
	}

	if path, ok := o.resolver.Cached(id); ok {
		PushLogDebug(o, TagDownload, fmt.Sprintf("Using cached package for %d", id))
		o.metrics.download(OutcomeCached)
		resolveAll(handles, DownloadResult{Path: path})
		return
	}

	if waiting, ok := o.pending[id]; ok {
		o.pending[id] = append(waiting, handles...)
		return
	}

	if !o.session.IsLoggedIn() {
		o.enqueue(id, handles)
		return
	}

	if !o.session.DownloadItem(id) {
		PushLogError(o, TagDownload, fmt.Sprintf("Item ID %d is invalid or the server is not logged onto Steam", id))
		o.metrics.download(OutcomeRejected)
		resolveAll(handles, DownloadResult{Err: fmt.Errorf("item %d: %w", id, ErrDownloadRejected)})
		return
	}

	if folder, ok := o.session.InstalledFolder(id); ok {
		o.complete(id, folder, handles)
		return
	}

	PushLogInfo(o, TagDownload, fmt.Sprintf("Downloading %d", id))

	o.pending[id] = handles
	o.metrics.setPending(len(o.pending))
	o.hook.Acquire()
}

func (o *Orchestrator) enqueue(id ItemId, handles []*DownloadHandle) {
	_, already := o.queued[id]
	o.queued[id] = append(o.queued[id], handles...)
	o.metrics.setQueued(len(o.queued))

	if !already {
		o.metrics.download(OutcomeQueued)
		PushLogInfo(o, TagDownload, fmt.Sprintf("Queued %d", id))
	}

	if !o.watching {
		o.watching = true
		o.host.AddHook(ThinkEvent, QueuedHookName, o.processQueued)
	}
}

// processQueued replays the whole queue in one pass once the session is logged on.
func (o *Orchestrator) processQueued() {
	if !o.session.IsLoggedIn() {
		return
	}

	queued := o.queued
	o.queued = make(map[ItemId][]*DownloadHandle)
	o.metrics.setQueued(0)

	o.watching = false
	o.host.RemoveHook(ThinkEvent, QueuedHookName)

	for id, handles := range queued {
		o.download(id, handles)
	}
}

// Poll completes every pending item the backend now reports installed. Completions are
// collected before any handle runs so callbacks can start new downloads safely.
func (o *Orchestrator) Poll() {
	type finished struct {
		id      ItemId
		folder  string
		handles []*DownloadHandle
	}

	var done []finished
	for id := range o.pending {
		if folder, ok := o.session.InstalledFolder(id); ok {
			done = append(done, finished{id: id, folder: folder})
		}
	}
	if len(done) == 0 {
		return
	}

	for i := range done {
		done[i].handles = o.pending[done[i].id]
		delete(o.pending, done[i].id)
	}
	o.metrics.setPending(len(o.pending))

	for _, f := range done {
		o.complete(f.id, f.folder, f.handles)
		o.hook.Release()
	}
}

// downloadResult fails a pending item the backend gave up on. Successful results are left
// to Poll, which also covers backends that install without reporting.
func (o *Orchestrator) downloadResult(id ItemId, result EResult) {
	if result == EResultOK || result == EResultNone {
		return
	}
	handles, ok := o.pending[id]
	if !ok {
		return
	}
	if _, installed := o.session.InstalledFolder(id); installed {
		return
	}

	delete(o.pending, id)
	o.metrics.setPending(len(o.pending))

	PushLogError(o, TagDownload, fmt.Sprintf("Download of %d failed with result %d", id, result))
	o.metrics.download(OutcomeFailed)
	resolveAll(handles, DownloadResult{Err: fmt.Errorf("item %d: %w", id, &BackendError{Result: result})})
	o.hook.Release()
}

func (o *Orchestrator) complete(id ItemId, folder string, handles []*DownloadHandle) {
	path, err := o.resolver.Resolve(id, folder)
	if err != nil {
		PushLogError(o, TagDownload, fmt.Sprintf("Failed to resolve package for %d from %s: %v", id, folder, err))
		o.metrics.download(OutcomeFailed)
		resolveAll(handles, DownloadResult{Err: err})
		return
	}

	PushLogInfo(o, TagDownload, fmt.Sprintf("Downloaded %d -> %s", id, path))
	o.metrics.download(OutcomeInstalled)
	resolveAll(handles, DownloadResult{Path: path})
}

// IsPending reports whether id is DOWNLOADING.
func (o *Orchestrator) IsPending(id ItemId) bool {
	_, ok := o.pending[id]
	return ok
}

// IsQueued reports whether id is waiting for log on.
func (o *Orchestrator) IsQueued(id ItemId) bool {
	_, ok := o.queued[id]
	return ok
}

// PendingCount returns the number of DOWNLOADING items.
func (o *Orchestrator) PendingCount() int {
	return len(o.pending)
}

// QueuedCount returns the number of QUEUED items.
func (o *Orchestrator) QueuedCount() int {
	return len(o.queued)
}

// Idle reports whether nothing is pending or queued.
func (o *Orchestrator) Idle() bool {
	return len(o.pending) == 0 && len(o.queued) == 0
}
