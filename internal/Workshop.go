package internal

import "fmt"

// Workshop exposes the two host verbs, DownloadItem and FileInfo, on top of a SessionDriver.
type Workshop struct {
	host   HostRuntime
	driver SessionDriver
}

// NewWorkshop binds the verbs to driver. Callbacks run on the goroutine ticking host.
func NewWorkshop(host HostRuntime, driver SessionDriver) *Workshop {
	return &Workshop{host: host, driver: driver}
}

// Driver returns the strategy the verbs are bound to.
func (w *Workshop) Driver() SessionDriver {
	return w.driver
}

// DownloadItem fetches a Workshop item. callback may be nil. An id that is not a positive
// 64 bit integer resolves the callback immediately with ("", nil).
func (w *Workshop) DownloadItem(id any, callback DelegateDownloadComplete) {
	itemId, ok := ParseItemId(id)
	if !ok {
		if callback != nil {
			callback("", nil)
		}
		return
	}

	var handle *DownloadHandle
	if callback != nil {
		handle = NewCompletionHandle(func(res DownloadResult) {
			if !res.Ok() {
				callback("", nil)
				return
			}
			callback(res.Path, w.openPackage(res.Path))
		})
	}
	w.driver.Download(itemId, handle)
}

// FileInfo fetches item metadata. An invalid id resolves the callback immediately with nil.
func (w *Workshop) FileInfo(id any, callback DelegateFileInfoComplete) {
	if callback == nil {
		callback = func(*FileInfo) {}
	}

	itemId, ok := ParseItemId(id)
	if !ok {
		callback(nil)
		return
	}
	w.driver.Query(itemId, NewCompletionHandle(func(info *FileInfo) {
		callback(info)
	}))
}

func (w *Workshop) openPackage(path string) HostFile {
	f, err := w.host.OpenFile(path)
	if err != nil {
		PushLogError(w, TagDownload, fmt.Sprintf("Failed to find relative path for %s: %v", path, err))
		return nil
	}
	return f
}
