package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockBackend is a scripted Backend. Accepted downloads become installed after
// installAfter calls to RunCallbacks, unless fail names a result for the item.
type mockBackend struct {
	mu sync.Mutex

	loggedIn     bool
	logOnErr     error
	reject       map[ItemId]bool
	installAfter int
	folders      map[ItemId]string
	installed    map[ItemId]bool
	countdown    map[ItemId]int
	requests     map[ItemId]int
	fail         map[ItemId]EResult
	suspendCalls int
	onResult     DelegateDownloadResult

	queryErr      error
	queryAnswers  map[ItemId]func() (*QueryResults, error)
	queryRequests []QueryRequest
	queued        []func()
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		loggedIn:     true,
		reject:       make(map[ItemId]bool),
		folders:      make(map[ItemId]string),
		installed:    make(map[ItemId]bool),
		countdown:    make(map[ItemId]int),
		requests:     make(map[ItemId]int),
		fail:         make(map[ItemId]EResult),
		queryAnswers: make(map[ItemId]func() (*QueryResults, error)),
	}
}

func (m *mockBackend) LoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn
}

func (m *mockBackend) setLoggedIn(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedIn = v
}

func (m *mockBackend) LogOn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logOnErr != nil {
		return m.logOnErr
	}
	m.loggedIn = true
	return nil
}

func (m *mockBackend) SuspendDownloads(suspend bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspendCalls++
}

func (m *mockBackend) DownloadItem(id ItemId, highPriority bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn || m.reject[id] {
		return false
	}
	m.requests[id]++
	if _, failing := m.fail[id]; !failing && m.installAfter <= 0 {
		m.installed[id] = true
		return true
	}
	m.countdown[id] = max(m.installAfter, 1)
	return true
}

func (m *mockBackend) ItemInstallInfo(id ItemId) (InstallInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[id]
	if !ok || !m.installed[id] {
		return InstallInfo{}, false
	}
	return InstallInfo{Folder: folder}, true
}

func (m *mockBackend) ItemState(id ItemId) ItemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed[id] {
		return ItemStateSubscribed | ItemStateInstalled
	}
	if _, ok := m.countdown[id]; ok {
		return ItemStateSubscribed | ItemStateDownloading
	}
	return ItemStateNone
}

func (m *mockBackend) QueryItem(req QueryRequest, cb DelegateQueryComplete) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return m.queryErr
	}
	m.queryRequests = append(m.queryRequests, req)

	answer, ok := m.queryAnswers[req.IDs[0]]
	if !ok {
		answer = func() (*QueryResults, error) {
			return nil, &BackendError{Result: EResultFileNotFound}
		}
	}
	m.queued = append(m.queued, func() { cb(answer()) })
	return nil
}

func (m *mockBackend) OnDownloadResult(fn DelegateDownloadResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResult = fn
}

func (m *mockBackend) RunCallbacks() {
	m.mu.Lock()
	results := make(map[ItemId]EResult)
	for id, left := range m.countdown {
		left--
		if left > 0 {
			m.countdown[id] = left
			continue
		}
		delete(m.countdown, id)
		if result, failing := m.fail[id]; failing {
			results[id] = result
			continue
		}
		m.installed[id] = true
		results[id] = EResultOK
	}
	queued := m.queued
	m.queued = nil
	onResult := m.onResult
	m.mu.Unlock()

	for id, result := range results {
		if onResult != nil {
			onResult(id, result)
		}
	}
	for _, cb := range queued {
		cb()
	}
}

func (m *mockBackend) failWith(id ItemId, result EResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[id] = result
}

func (m *mockBackend) requestCount(id ItemId) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id]
}

func (m *mockBackend) totalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// installFolder creates an install directory holding a package for id.
func (m *mockBackend) installFolder(t *testing.T, root string, id ItemId) string {
	t.Helper()
	dir := filepath.Join(root, id.String())
	require.NoError(t, os.MkdirAll(dir, 0755))
	writePackage(t, filepath.Join(dir, "addon.gma"), "payload-"+id.String())

	m.mu.Lock()
	m.folders[id] = dir
	m.mu.Unlock()
	return dir
}

func (m *mockBackend) markInstalled(id ItemId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed[id] = true
}

func writePackage(t *testing.T, path, payload string) []byte {
	t.Helper()
	data := append([]byte("GMAD"), payload...)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return data
}

// tickUntil drives loop until cond holds or the timeout passes.
func tickUntil(t *testing.T, loop *TickLoop, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			require.FailNow(t, "condition not met before timeout")
		}
		loop.Tick()
		time.Sleep(5 * time.Millisecond)
	}
}

var errMockLogOn = errors.New("mock log on failure")

const defaultWait = 5 * time.Second

func overwrite(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

// captureLogs records every log entry into logs until the returned func is called.
func captureLogs(logs *[]LogStruct) func() {
	var mu sync.Mutex
	previous := LogHandler
	LogHandler = func(sender interface{}, log LogStruct) {
		mu.Lock()
		defer mu.Unlock()
		*logs = append(*logs, log)
	}
	return func() { LogHandler = previous }
}
