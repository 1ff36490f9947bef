package internal

import "fmt"

// DefaultPollHookName is the Think hook name shared by every outstanding async operation.
const DefaultPollHookName = "gmsv_workshop_run_callbacks"

// PollHook reference counts in-flight async operations and keeps exactly one named Think
// hook installed while the count is above zero. It belongs to a single host thread.
type PollHook struct {
	host    HostRuntime
	name    string
	tick    DelegateHostTick
	pending uint
	metrics *Metrics
}

// NewPollHook creates a bridge that runs tick on every host frame while work is outstanding.
func NewPollHook(host HostRuntime, name string, tick DelegateHostTick, metrics *Metrics) *PollHook {
	if name == "" {
		name = DefaultPollHookName
	}
	return &PollHook{
		host:    host,
		name:    name,
		tick:    tick,
		metrics: metrics,
	}
}

// Name returns the hook name used with the host.
func (p *PollHook) Name() string {
	return p.name
}

// Pending returns the number of operations holding the hook.
func (p *PollHook) Pending() uint {
	return p.pending
}

// Installed reports whether the hook is currently registered with the host.
func (p *PollHook) Installed() bool {
	return p.pending > 0
}

// Acquire registers one more outstanding operation, installing the hook on 0 -> 1.
func (p *PollHook) Acquire() {
	p.pending++
	p.metrics.setRefcount(p.pending)

	if p.pending == 1 {
		p.host.AddHook(ThinkEvent, p.name, p.run)
		PushLogDebug(p, TagWorkshop, fmt.Sprintf("Installed %s hook", p.name))
	}
}

// Release marks one operation complete, removing the hook on 1 -> 0. Releasing with
// nothing outstanding does nothing.
func (p *PollHook) Release() {
	if p.pending == 0 {
		return
	}
	p.pending--
	p.metrics.setRefcount(p.pending)

	if p.pending == 0 {
		p.host.RemoveHook(ThinkEvent, p.name)
		PushLogDebug(p, TagWorkshop, fmt.Sprintf("Removed %s hook", p.name))
	}
}

func (p *PollHook) run() {
	if p.tick != nil {
		p.tick()
	}
}
