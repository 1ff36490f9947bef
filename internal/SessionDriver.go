package internal

// SessionDriver is the deployment strategy behind the public verbs. Both implementations
// resolve every handle exactly once on the host thread.
type SessionDriver interface {
	Download(id ItemId, handle *DownloadHandle)
	Query(id ItemId, handle *QueryHandle)
}

// CooperativeDriver runs the session on the host thread. Its poll hook pumps the backend
// callbacks and polls pending downloads on every frame while work is outstanding.
type CooperativeDriver struct {
	session      *Session
	hook         *PollHook
	orchestrator *Orchestrator
	query        *QueryClient
}

// NewCooperativeDriver composes a driver over backend on host.
func NewCooperativeDriver(host HostRuntime, backend Backend, resolver *ArtifactResolver, hookName string, metrics *Metrics) *CooperativeDriver {
	d := &CooperativeDriver{session: NewSession(backend)}
	d.hook = NewPollHook(host, hookName, d.tick, metrics)
	d.orchestrator = NewOrchestrator(d.session, d.hook, resolver, host, metrics)
	d.query = NewQueryClient(d.session, d.hook, metrics)
	return d
}

func (d *CooperativeDriver) tick() {
	d.session.RunCallbacks()
	d.orchestrator.Poll()
}

// Download implements SessionDriver.
func (d *CooperativeDriver) Download(id ItemId, handle *DownloadHandle) {
	d.orchestrator.Download(id, handle)
}

// Query implements SessionDriver.
func (d *CooperativeDriver) Query(id ItemId, handle *QueryHandle) {
	d.query.Query(id, handle)
}

// Orchestrator exposes the download state machine.
func (d *CooperativeDriver) Orchestrator() *Orchestrator {
	return d.orchestrator
}

// PollHook exposes the shared poll hook.
func (d *CooperativeDriver) PollHook() *PollHook {
	return d.hook
}

// Idle reports whether no download or query is outstanding.
func (d *CooperativeDriver) Idle() bool {
	return d.orchestrator.Idle() && d.hook.Pending() == 0
}

// NewSessionDriver selects the deployment strategy described by cfg.
func NewSessionDriver(cfg Config, host HostRuntime, backend Backend, metrics *Metrics) SessionDriver {
	resolver := NewArtifactResolver(cfg.Cache.Dir)

	if cfg.Worker.Enabled {
		return NewDedicatedDriver(host, DedicatedDriverOptions{
			Backend:      backend,
			Resolver:     resolver,
			HookName:     cfg.Host.HookName,
			TickInterval: cfg.Worker.TickInterval,
			QueueSize:    cfg.Worker.QueueSize,
			LogOnRetry:   RetryPolicy{Attempts: -1, Backoff: cfg.Backend.RetryBackoff},
			Metrics:      metrics,
		})
	}
	return NewCooperativeDriver(host, backend, resolver, cfg.Host.HookName, metrics)
}
