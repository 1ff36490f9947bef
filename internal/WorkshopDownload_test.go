package internal

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downloadFixture struct {
	root     string
	cacheDir string
	backend  *mockBackend
	host     *TickLoop
	driver   *CooperativeDriver
	metrics  *Metrics
}

func newDownloadFixture(t *testing.T) *downloadFixture {
	t.Helper()
	root := t.TempDir()
	f := &downloadFixture{
		root:     root,
		cacheDir: filepath.Join(root, "cache"),
		backend:  newMockBackend(),
		host:     NewTickLoop(Mount{Name: "GAME", Root: root}),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	f.driver = NewCooperativeDriver(f.host, f.backend, NewArtifactResolver(f.cacheDir), "", f.metrics)
	return f
}

func (f *downloadFixture) orchestrator() *Orchestrator {
	return f.driver.Orchestrator()
}

type recordedDownload struct {
	calls   int
	results []DownloadResult
}

func (r *recordedDownload) handle() *DownloadHandle {
	return NewCompletionHandle(func(res DownloadResult) {
		r.calls++
		r.results = append(r.results, res)
	})
}

func (r *recordedDownload) last() DownloadResult {
	return r.results[len(r.results)-1]
}

func TestOrchestrator_AlreadyInstalled(t *testing.T) {
	f := newDownloadFixture(t)
	id := ItemId(42)
	f.backend.installFolder(t, f.root, id)
	f.backend.markInstalled(id)

	var rec recordedDownload
	f.orchestrator().Download(id, rec.handle())

	require.Equal(t, 1, rec.calls)
	assert.True(t, rec.last().Ok())
	assert.Equal(t, filepath.Join(f.cacheDir, "42.gma"), rec.last().Path)
	assert.Zero(t, f.backend.totalRequests())
	assert.False(t, f.driver.PollHook().Installed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Downloads.WithLabelValues(OutcomeInstalled)))
}

func TestOrchestrator_CachedShortCircuit(t *testing.T) {
	f := newDownloadFixture(t)
	id := ItemId(7)
	require.NoError(t, EnsureDirectoryExistence(f.cacheDir))
	writePackage(t, filepath.Join(f.cacheDir, "7.gma"), "cached")

	t.Run("Resolves without asking the backend", func(t *testing.T) {
		var rec recordedDownload
		f.orchestrator().Download(id, rec.handle())

		require.Equal(t, 1, rec.calls)
		assert.Equal(t, filepath.Join(f.cacheDir, "7.gma"), rec.last().Path)
		assert.Zero(t, f.backend.totalRequests())
		assert.Zero(t, f.backend.suspendCalls)
		assert.Zero(t, f.host.HookCount(ThinkEvent))
	})

	t.Run("Works while logged off", func(t *testing.T) {
		f.backend.setLoggedIn(false)
		var rec recordedDownload
		f.orchestrator().Download(id, rec.handle())

		require.Equal(t, 1, rec.calls)
		assert.True(t, rec.last().Ok())
		assert.False(t, f.orchestrator().IsQueued(id))
	})

	t.Run("Ignores a cached file without the signature", func(t *testing.T) {
		other := ItemId(8)
		writePackage(t, filepath.Join(f.cacheDir, "8.gma"), "")
		require.NoError(t, overwrite(filepath.Join(f.cacheDir, "8.gma"), []byte("JUNK")))
		f.backend.setLoggedIn(true)

		var rec recordedDownload
		f.orchestrator().Download(other, rec.handle())

		assert.Zero(t, rec.calls)
		assert.True(t, f.orchestrator().IsPending(other))
		assert.Equal(t, 1, f.backend.requestCount(other))
	})
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.installAfter = 2
	f.backend.installFolder(t, f.root, 104533079)

	workshop := NewWorkshop(f.host, f.driver)

	calls := 0
	var gotPath string
	var gotFile HostFile
	workshop.DownloadItem("104533079", func(path string, file HostFile) {
		calls++
		gotPath = path
		gotFile = file
	})

	require.True(t, f.host.HasHook(ThinkEvent, DefaultPollHookName))
	assert.Equal(t, 1, f.backend.requestCount(104533079))

	f.host.Tick()
	assert.Zero(t, calls, "still downloading after one tick")

	f.host.Tick()
	require.Equal(t, 1, calls)
	assert.True(t, strings.HasSuffix(gotPath, "104533079.gma"))
	require.NotNil(t, gotFile)
	defer gotFile.Close()

	head := make([]byte, 4)
	_, err := gotFile.Read(head)
	require.NoError(t, err)
	assert.Equal(t, PackageSignature, head)

	assert.False(t, f.host.HasHook(ThinkEvent, DefaultPollHookName))
	assert.True(t, f.driver.Idle())

	f.host.Tick()
	assert.Equal(t, 1, calls, "callback must fire exactly once")
}

func TestOrchestrator_QueuedUntilLogOn(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.setLoggedIn(false)
	f.backend.installAfter = 1

	ids := []ItemId{11, 12, 13}
	recs := make([]*recordedDownload, len(ids))
	for i, id := range ids {
		f.backend.installFolder(t, f.root, id)
		recs[i] = &recordedDownload{}
		f.orchestrator().Download(id, recs[i].handle())
	}

	assert.Equal(t, len(ids), f.orchestrator().QueuedCount())
	assert.True(t, f.host.HasHook(ThinkEvent, QueuedHookName))
	assert.Equal(t, 1, f.host.HookCount(ThinkEvent), "one watcher hook for every queued item")
	assert.Equal(t, float64(len(ids)), testutil.ToFloat64(f.metrics.QueuedDownloads))

	for i := 0; i < 5; i++ {
		f.host.Tick()
	}
	assert.Zero(t, f.backend.totalRequests())
	for _, rec := range recs {
		assert.Zero(t, rec.calls)
	}

	f.backend.setLoggedIn(true)
	f.host.Tick()

	assert.False(t, f.host.HasHook(ThinkEvent, QueuedHookName))
	assert.Zero(t, f.orchestrator().QueuedCount())
	assert.Equal(t, len(ids), f.orchestrator().PendingCount())
	for _, id := range ids {
		assert.Equal(t, 1, f.backend.requestCount(id))
	}

	tickUntil(t, f.host, defaultWait, f.driver.Idle)
	for i, rec := range recs {
		require.Equal(t, 1, rec.calls, "item %d", ids[i])
		assert.Equal(t, filepath.Join(f.cacheDir, ids[i].String()+".gma"), rec.last().Path)
	}
	assert.Zero(t, f.host.HookCount(ThinkEvent))
}

func TestOrchestrator_QueuedDuplicatesAllNotified(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.setLoggedIn(false)
	id := ItemId(99)
	f.backend.installFolder(t, f.root, id)

	var first, second recordedDownload
	f.orchestrator().Download(id, first.handle())
	f.orchestrator().Download(id, second.handle())
	assert.Equal(t, 1, f.orchestrator().QueuedCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Downloads.WithLabelValues(OutcomeQueued)))

	f.backend.setLoggedIn(true)
	tickUntil(t, f.host, defaultWait, f.driver.Idle)

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 1, f.backend.requestCount(id))
}

func TestOrchestrator_Rejected(t *testing.T) {
	f := newDownloadFixture(t)
	id := ItemId(5)
	f.backend.reject[id] = true

	var logs []LogStruct
	restore := captureLogs(&logs)
	defer restore()

	var rec recordedDownload
	f.orchestrator().Download(id, rec.handle())

	require.Equal(t, 1, rec.calls)
	assert.False(t, rec.last().Ok())
	assert.True(t, errors.Is(rec.last().Err, ErrDownloadRejected))
	assert.False(t, f.orchestrator().IsPending(id))
	assert.Zero(t, f.host.HookCount(ThinkEvent))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Downloads.WithLabelValues(OutcomeRejected)))

	require.NotEmpty(t, logs)
	found := false
	for _, l := range logs {
		if l.LogLevel == Error && l.Tag == TagDownload && strings.Contains(l.Message, "Item ID 5 is invalid") {
			found = true
		}
	}
	assert.True(t, found, "rejection is logged as an error")
}

func TestOrchestrator_AtMostOneInFlight(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.installAfter = 3
	id := ItemId(300)
	f.backend.installFolder(t, f.root, id)

	var a, b, c recordedDownload
	f.orchestrator().Download(id, a.handle())
	f.orchestrator().Download(id, b.handle())
	f.orchestrator().Download(id, nil)
	f.orchestrator().Download(id, c.handle())

	assert.Equal(t, 1, f.backend.requestCount(id))
	assert.Equal(t, 1, f.orchestrator().PendingCount())
	assert.Equal(t, uint(1), f.driver.PollHook().Pending())

	tickUntil(t, f.host, defaultWait, f.driver.Idle)
	for _, rec := range []*recordedDownload{&a, &b, &c} {
		require.Equal(t, 1, rec.calls)
		assert.True(t, rec.last().Ok())
	}
	assert.Equal(t, uint(0), f.driver.PollHook().Pending())
}

func TestOrchestrator_ResolveFailure(t *testing.T) {
	f := newDownloadFixture(t)
	id := ItemId(400)
	dir := filepath.Join(f.root, "empty")
	require.NoError(t, EnsureDirectoryExistence(dir))
	f.backend.folders[id] = dir
	f.backend.markInstalled(id)

	var rec recordedDownload
	f.orchestrator().Download(id, rec.handle())

	require.Equal(t, 1, rec.calls)
	assert.False(t, rec.last().Ok())
	assert.True(t, errors.Is(rec.last().Err, ErrPackageNotFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Downloads.WithLabelValues(OutcomeFailed)))
}

func TestOrchestrator_CallbackStartsNewDownload(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.installAfter = 1
	first, second := ItemId(501), ItemId(502)
	f.backend.installFolder(t, f.root, first)
	f.backend.installFolder(t, f.root, second)

	var chained recordedDownload
	f.orchestrator().Download(first, NewCompletionHandle(func(res DownloadResult) {
		require.True(t, res.Ok())
		f.orchestrator().Download(second, chained.handle())
	}))

	f.host.Tick()
	assert.True(t, f.orchestrator().IsPending(second))
	assert.True(t, f.driver.PollHook().Installed(), "hook stays while the chained download runs")

	tickUntil(t, f.host, defaultWait, f.driver.Idle)
	require.Equal(t, 1, chained.calls)
	assert.True(t, chained.last().Ok())
	assert.False(t, f.driver.PollHook().Installed())
}

func TestOrchestrator_SharedHookWithQuery(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.installAfter = 2
	id := ItemId(600)
	f.backend.installFolder(t, f.root, id)
	f.backend.queryAnswers[id] = func() (*QueryResults, error) {
		return &QueryResults{Items: []ItemDetails{{PublishedFileId: id, Result: EResultOK}}}, nil
	}

	var rec recordedDownload
	var info *FileInfo
	f.driver.Download(id, rec.handle())
	f.driver.Query(id, NewCompletionHandle(func(fi *FileInfo) { info = fi }))

	assert.Equal(t, uint(2), f.driver.PollHook().Pending())
	assert.Equal(t, 1, f.host.HookCount(ThinkEvent))

	f.host.Tick()
	require.NotNil(t, info)
	assert.False(t, info.Failed())
	assert.True(t, f.driver.PollHook().Installed(), "download still holds the hook")

	f.host.Tick()
	assert.Equal(t, 1, rec.calls)
	assert.False(t, f.driver.PollHook().Installed())
}

func TestWorkshop_InvalidIds(t *testing.T) {
	f := newDownloadFixture(t)
	workshop := NewWorkshop(f.host, f.driver)

	for _, id := range []any{"abc", 0, -3, 1.5, nil, ""} {
		calls := 0
		workshop.DownloadItem(id, func(path string, file HostFile) {
			calls++
			assert.Empty(t, path)
			assert.Nil(t, file)
		})
		assert.Equal(t, 1, calls, "download %v", id)

		infoCalls := 0
		workshop.FileInfo(id, func(info *FileInfo) {
			infoCalls++
			assert.Nil(t, info)
		})
		assert.Equal(t, 1, infoCalls, "fileinfo %v", id)
	}
	assert.Zero(t, f.backend.totalRequests())
	assert.Zero(t, f.host.HookCount(ThinkEvent))
}

func TestWorkshop_NilCallbacks(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.installFolder(t, f.root, 700)
	workshop := NewWorkshop(f.host, f.driver)

	workshop.DownloadItem(700, nil)
	workshop.FileInfo(700, nil)
	tickUntil(t, f.host, defaultWait, f.driver.Idle)

	assert.Equal(t, 1, f.backend.requestCount(700))
}

func TestWorkshop_PackageOutsideMounts(t *testing.T) {
	f := newDownloadFixture(t)
	f.host = NewTickLoop(Mount{Name: "GAME", Root: filepath.Join(f.root, "elsewhere")})
	f.driver = NewCooperativeDriver(f.host, f.backend, NewArtifactResolver(f.cacheDir), "", nil)
	f.backend.installFolder(t, f.root, 800)
	f.backend.markInstalled(800)

	var gotPath string
	var gotFile HostFile
	NewWorkshop(f.host, f.driver).DownloadItem(uint64(800), func(path string, file HostFile) {
		gotPath, gotFile = path, file
	})

	assert.Equal(t, filepath.Join(f.cacheDir, "800.gma"), gotPath)
	assert.Nil(t, gotFile)
}

func TestOrchestrator_BackendReportsFailure(t *testing.T) {
	f := newDownloadFixture(t)
	f.backend.installAfter = 2
	failing, healthy := ItemId(900), ItemId(901)
	f.backend.installFolder(t, f.root, healthy)
	f.backend.failWith(failing, EResultAccessDenied)

	var logs []LogStruct
	restore := captureLogs(&logs)
	defer restore()

	var bad, good recordedDownload
	f.orchestrator().Download(failing, bad.handle())
	f.orchestrator().Download(failing, bad.handle())
	f.orchestrator().Download(healthy, good.handle())
	assert.Equal(t, uint(2), f.driver.PollHook().Pending())

	tickUntil(t, f.host, defaultWait, f.driver.Idle)

	require.Equal(t, 2, bad.calls, "every caller waiting on the item is answered")
	for _, res := range bad.results {
		assert.False(t, res.Ok())
		var backendErr *BackendError
		require.True(t, errors.As(res.Err, &backendErr))
		assert.Equal(t, EResultAccessDenied, backendErr.Result)
	}
	require.Equal(t, 1, good.calls)
	assert.True(t, good.last().Ok())

	assert.False(t, f.orchestrator().IsPending(failing))
	assert.False(t, f.driver.PollHook().Installed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Downloads.WithLabelValues(OutcomeFailed)))

	found := false
	for _, l := range logs {
		if l.LogLevel == Error && l.Tag == TagDownload && strings.Contains(l.Message, "900") {
			found = true
		}
	}
	assert.True(t, found, "failure is logged as an error")

	t.Run("Results for items nobody waits on are ignored", func(t *testing.T) {
		f.orchestrator().downloadResult(12345, EResultFail)
		assert.True(t, f.orchestrator().Idle())
		assert.False(t, f.driver.PollHook().Installed())
	})
}
