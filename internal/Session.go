package internal

import "context"

// Session owns the authenticated backend connection for one host thread (or one worker
// goroutine). It is never torn down: the backend connection is left open until process
// exit on purpose, so there is no Close.
type Session struct {
	backend Backend
}

// NewSession wraps backend.
func NewSession(backend Backend) *Session {
	return &Session{backend: backend}
}

// Backend returns the wrapped SDK surface.
func (s *Session) Backend() Backend {
	return s.backend
}

// IsLoggedIn reports whether the session has authenticated.
func (s *Session) IsLoggedIn() bool {
	return s.backend.LoggedIn()
}

// LogOn blocks until the backend is connected.
func (s *Session) LogOn(ctx context.Context) error {
	return s.backend.LogOn(ctx)
}

// DownloadItem asks the backend to fetch id at high priority, resuming downloads first
// in case something suspended them. The return value is the backend's accept/reject.
func (s *Session) DownloadItem(id ItemId) bool {
	s.backend.SuspendDownloads(false)
	return s.backend.DownloadItem(id, true)
}

// InstalledFolder returns the install folder of id if it is genuinely installed.
func (s *Session) InstalledFolder(id ItemId) (string, bool) {
	return IsInstalled(s.backend, id)
}

// QueryItem forwards a metadata query.
func (s *Session) QueryItem(req QueryRequest, cb DelegateQueryComplete) error {
	return s.backend.QueryItem(req, cb)
}

// OnDownloadResult routes the backend's download results to fn.
func (s *Session) OnDownloadResult(fn DelegateDownloadResult) {
	s.backend.OnDownloadResult(fn)
}

// RunCallbacks pumps the backend's pending completions on the calling goroutine.
func (s *Session) RunCallbacks() {
	s.backend.RunCallbacks()
}

// IsInstalled combines the install-info lookup with the state flags. A record can exist
// while the item is still downloading, so both must agree.
func IsInstalled(backend Backend, id ItemId) (string, bool) {
	info, ok := backend.ItemInstallInfo(id)
	if !ok || info.Folder == "" {
		return "", false
	}
	if !backend.ItemState(id).Has(ItemStateInstalled) {
		return "", false
	}
	return info.Folder, true
}
