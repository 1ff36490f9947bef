package internal

import "sync/atomic"

// CompletionHandle is a caller supplied continuation which the engine consumes exactly once.
// A nil *CompletionHandle is valid and means nobody is waiting for the result.
type CompletionHandle[T any] struct {
	fn       func(T)
	consumed atomic.Bool
}

// NewCompletionHandle wraps fn. fn may be nil, in which case resolving only marks the
// handle consumed.
func NewCompletionHandle[T any](fn func(T)) *CompletionHandle[T] {
	return &CompletionHandle[T]{fn: fn}
}

// Resolve invokes the continuation with value and invalidates the handle. It returns
// false without calling anything if the handle is nil or was already consumed.
func (h *CompletionHandle[T]) Resolve(value T) bool {
	if h == nil || !h.consumed.CompareAndSwap(false, true) {
		return false
	}
	if h.fn != nil {
		h.fn(value)
	}
	return true
}

// Consumed reports whether Resolve has already run.
func (h *CompletionHandle[T]) Consumed() bool {
	return h != nil && h.consumed.Load()
}

// DownloadResult is what a download handle is resolved with.
type DownloadResult struct {
	Path string
	Err  error
}

// Ok reports whether the download produced a usable package file.
func (r DownloadResult) Ok() bool {
	return r.Err == nil && r.Path != ""
}

// DownloadHandle is the handle type accepted by Orchestrator.Download.
type DownloadHandle = CompletionHandle[DownloadResult]

// QueryHandle is the handle type accepted by QueryClient.Query.
type QueryHandle = CompletionHandle[*FileInfo]

// resolveAll consumes every handle in hs with the same value.
func resolveAll[T any](hs []*CompletionHandle[T], value T) {
	for _, h := range hs {
		h.Resolve(value)
	}
}
