package internal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWorkerStopped fails requests that were still outstanding when the worker stopped.
var ErrWorkerStopped = errors.New("workshop worker stopped")

type workerRequestKind int

const (
	workerDownload workerRequestKind = iota
	workerQuery
)

type workerRequest struct {
	kind     workerRequestKind
	id       ItemId
	download *DownloadHandle
	query    *QueryHandle
}

type workerResult struct {
	request  workerRequest
	download DownloadResult
	info     *FileInfo
}

func (r workerRequest) failed() workerResult {
	res := workerResult{request: r}
	switch r.kind {
	case workerDownload:
		res.download = DownloadResult{Err: fmt.Errorf("item %d: %w", r.id, ErrWorkerStopped)}
	case workerQuery:
		res.info = &FileInfo{ID: r.id, Error: FileInfoErrSendQuery}
	}
	return res
}

// DedicatedDriverOptions configures NewDedicatedDriver.
type DedicatedDriverOptions struct {
	Backend  Backend
	Resolver *ArtifactResolver
	// HookName is used for the host side result drain hook and the worker's private pump.
	HookName string
	// TickInterval paces the worker's private callback pump.
	TickInterval time.Duration
	// QueueSize bounds the request and result channels. Requests that do not fit wait in
	// a host side backlog, so Download and Query never block.
	QueueSize  int
	LogOnRetry RetryPolicy
	Metrics    *Metrics
}

// DedicatedDriver runs the session and its own orchestrator on a private goroutine. The
// request and result channels are the only state shared with the host thread; handles
// travel through both and are only ever resolved on the host thread.
type DedicatedDriver struct {
	hook     *PollHook
	requests chan workerRequest
	results  chan workerResult
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool

	// backlog holds requests the full request channel could not take yet, in order.
	backlog []workerRequest

	// leftover is written by the worker before done is closed.
	leftover []workerResult
}

// NewDedicatedDriver starts the worker goroutine.
func NewDedicatedDriver(host HostRuntime, opts DedicatedDriverOptions) *DedicatedDriver {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.LogOnRetry.Attempts == 0 {
		opts.LogOnRetry.Attempts = -1
	}
	if opts.LogOnRetry.Backoff == 0 {
		opts.LogOnRetry.Backoff = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DedicatedDriver{
		requests: make(chan workerRequest, opts.QueueSize),
		results:  make(chan workerResult, opts.QueueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	d.hook = NewPollHook(host, opts.HookName, d.drain, opts.Metrics)

	go d.worker(ctx, opts)
	return d
}

// Download implements SessionDriver.
func (d *DedicatedDriver) Download(id ItemId, handle *DownloadHandle) {
	d.submit(workerRequest{kind: workerDownload, id: id, download: handle})
}

// Query implements SessionDriver.
func (d *DedicatedDriver) Query(id ItemId, handle *QueryHandle) {
	d.submit(workerRequest{kind: workerQuery, id: id, query: handle})
}

func (d *DedicatedDriver) submit(req workerRequest) {
	if d.stopped {
		d.deliver(req.failed())
		return
	}
	d.hook.Acquire()
	d.backlog = append(d.backlog, req)
	d.flush()
}

// flush hands backlogged requests to the worker until the request channel is full.
func (d *DedicatedDriver) flush() {
	sent := 0
	for _, req := range d.backlog {
		select {
		case d.requests <- req:
			sent++
			continue
		default:
		}
		break
	}
	if sent == 0 {
		return
	}
	remaining := copy(d.backlog, d.backlog[sent:])
	clear(d.backlog[remaining:])
	d.backlog = d.backlog[:remaining]
}

// Outstanding returns the number of requests whose result has not been delivered.
func (d *DedicatedDriver) Outstanding() uint {
	return d.hook.Pending()
}

// drain runs on the host tick. It delivers every finished result, then moves the backlog
// into the room the worker freed up.
func (d *DedicatedDriver) drain() {
	d.collect()
	if !d.stopped {
		d.flush()
	}
}

func (d *DedicatedDriver) collect() {
	for {
		select {
		case res := <-d.results:
			d.deliver(res)
			d.hook.Release()
		default:
			return
		}
	}
}

func (d *DedicatedDriver) deliver(res workerResult) {
	switch res.request.kind {
	case workerDownload:
		res.request.download.Resolve(res.download)
	case workerQuery:
		res.request.query.Resolve(res.info)
	}
}

// Stop ends the worker and fails everything still outstanding. It must be called from
// the host thread. The backend connection itself is left open.
func (d *DedicatedDriver) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	d.cancel()
	<-d.done

	d.collect()
	for _, res := range d.leftover {
		d.deliver(res)
		d.hook.Release()
	}
	d.leftover = nil

	for {
		select {
		case req := <-d.requests:
			d.deliver(req.failed())
			d.hook.Release()
			continue
		default:
		}
		break
	}

	backlog := d.backlog
	d.backlog = nil
	for _, req := range backlog {
		d.deliver(req.failed())
		d.hook.Release()
	}
}

func (d *DedicatedDriver) worker(ctx context.Context, opts DedicatedDriverOptions) {
	defer close(d.done)

	loop := NewTickLoop()
	session := NewSession(opts.Backend)

	var orchestrator *Orchestrator
	hook := NewPollHook(loop, opts.HookName, func() {
		session.RunCallbacks()
		orchestrator.Poll()
	}, nil)
	orchestrator = NewOrchestrator(session, hook, opts.Resolver, loop, opts.Metrics)
	query := NewQueryClient(session, hook, opts.Metrics)

	for !session.IsLoggedIn() {
		_, err := WaitForRetry(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, session.LogOn(ctx)
		}, opts.LogOnRetry)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			PushLogError(d, TagWorkshop, fmt.Sprintf("Failed to log on: %v", err))
		}
	}
	PushLogInfo(d, TagWorkshop, "Worker logged on")

	ticker := time.NewTicker(opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			res, ok := d.service(ctx, loop, ticker, orchestrator, query, req)
			if !ok {
				d.leftover = append(d.leftover, req.failed())
				return
			}
			select {
			case d.results <- res:
			case <-ctx.Done():
				d.leftover = append(d.leftover, res)
				return
			}
		}
	}
}

// service submits one request and pumps the private loop until it completes.
func (d *DedicatedDriver) service(ctx context.Context, loop *TickLoop, ticker *time.Ticker, orchestrator *Orchestrator, query *QueryClient, req workerRequest) (workerResult, bool) {
	finished := make(chan workerResult, 1)

	switch req.kind {
	case workerDownload:
		orchestrator.Download(req.id, NewCompletionHandle(func(r DownloadResult) {
			finished <- workerResult{request: req, download: r}
		}))
	case workerQuery:
		query.Query(req.id, NewCompletionHandle(func(info *FileInfo) {
			finished <- workerResult{request: req, info: info}
		}))
	}

	for {
		select {
		case res := <-finished:
			return res, true
		case <-ctx.Done():
			return workerResult{}, false
		case <-ticker.C:
			loop.Tick()
		}
	}
}
