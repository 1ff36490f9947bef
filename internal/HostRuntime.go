package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ThinkEvent is the host event fired once per server frame.
const ThinkEvent = "Think"

// ErrNotMounted is returned by OpenFile for paths outside every mount point.
var ErrNotMounted = errors.New("path is not inside any mounted search path")

// HostFile is an open file as handed back to host callbacks.
type HostFile interface {
	io.ReadSeekCloser
	Name() string
}

// HostRuntime is the embedding application's side of the engine: named per-event tick
// hooks and a virtual filesystem.
type HostRuntime interface {
	// AddHook registers fn under (event, name), replacing any previous hook with that name.
	AddHook(event, name string, fn DelegateHostTick)
	// RemoveHook unregisters (event, name). Removing an unknown hook is a no-op.
	RemoveHook(event, name string)
	// OpenFile opens an absolute path for reading through the host's search paths.
	OpenFile(path string) (HostFile, error)
}

// Mount is one root of the host virtual filesystem.
type Mount struct {
	Name string
	Root string
}

type hookTable struct {
	order []string
	fns   map[string]DelegateHostTick
}

// TickLoop is an in-process HostRuntime. Hooks run in registration order on whichever
// goroutine calls Tick.
type TickLoop struct {
	mu     sync.Mutex
	hooks  map[string]*hookTable
	mounts []Mount
	ticks  uint64
}

// NewTickLoop creates a loop whose filesystem searches mounts in order.
func NewTickLoop(mounts ...Mount) *TickLoop {
	return &TickLoop{
		hooks:  make(map[string]*hookTable),
		mounts: mounts,
	}
}

// AddHook implements HostRuntime.
func (l *TickLoop) AddHook(event, name string, fn DelegateHostTick) {
	l.mu.Lock()
	defer l.mu.Unlock()

	table, ok := l.hooks[event]
	if !ok {
		table = &hookTable{fns: make(map[string]DelegateHostTick)}
		l.hooks[event] = table
	}
	if _, exists := table.fns[name]; !exists {
		table.order = append(table.order, name)
	}
	table.fns[name] = fn
}

// RemoveHook implements HostRuntime.
func (l *TickLoop) RemoveHook(event, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	table, ok := l.hooks[event]
	if !ok {
		return
	}
	if _, exists := table.fns[name]; !exists {
		return
	}
	delete(table.fns, name)
	for i, n := range table.order {
		if n == name {
			table.order = append(table.order[:i:i], table.order[i+1:]...)
			break
		}
	}
}

// HasHook reports whether (event, name) is currently registered.
func (l *TickLoop) HasHook(event, name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	table, ok := l.hooks[event]
	if !ok {
		return false
	}
	_, exists := table.fns[name]
	return exists
}

// HookCount returns the number of hooks registered for event.
func (l *TickLoop) HookCount(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if table, ok := l.hooks[event]; ok {
		return len(table.order)
	}
	return 0
}

// Ticks returns how many frames have run.
func (l *TickLoop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Tick runs one frame of Think hooks. Hooks added during the frame first run on the
// next one; hooks removed during the frame are skipped.
func (l *TickLoop) Tick() {
	l.mu.Lock()
	l.ticks++
	var names []string
	if table, ok := l.hooks[ThinkEvent]; ok {
		names = append(names, table.order...)
	}
	l.mu.Unlock()

	for _, name := range names {
		l.mu.Lock()
		fn := l.hooks[ThinkEvent].fns[name]
		l.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
}

// Run ticks every interval until done returns true or ctx ends.
func (l *TickLoop) Run(ctx context.Context, interval time.Duration, done func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if done != nil && done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
		}
	}
}

// OpenFile implements HostRuntime by mapping path onto the first mount containing it.
func (l *TickLoop) OpenFile(path string) (HostFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	for _, mount := range l.mounts {
		rel, ok := relativeToMount(mount.Root, abs)
		if !ok {
			continue
		}
		f, err := os.Open(filepath.Join(mount.Root, rel))
		if err != nil {
			return nil, fmt.Errorf("open %s in %s: %w", rel, mount.Name, err)
		}
		return f, nil
	}

	return nil, fmt.Errorf("%s: %w", path, ErrNotMounted)
}

func relativeToMount(root, abs string) (string, bool) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
