package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSteamWebAPI is the public Steam Web API endpoint.
const DefaultSteamWebAPI = "https://api.steampowered.com"

// DownloadTimeout is the minimum time a single file transfer attempt is given.
const DownloadTimeout = 10 * time.Minute

// RegistryFileName is the install registry kept at the root of the install directory.
const RegistryFileName = "registry.pb"

// SteamWebBackendOptions configures NewSteamWebBackend.
type SteamWebBackendOptions struct {
	BaseURL    string
	APIKey     string
	InstallDir string
	Client     *http.Client
	Retry      RetryPolicy
	// CacheSize bounds the number of cached query responses.
	CacheSize int
}

type cachedDetails struct {
	details   ItemDetails
	fetchedAt time.Time
}

type webItem struct {
	state ItemState
	info  InstallInfo
}

// SteamWebBackend implements Backend over the Steam Web API. Network work runs on
// background goroutines; query completions are queued and only delivered by RunCallbacks.
type SteamWebBackend struct {
	opts   SteamWebBackendOptions
	client *http.Client

	loggedIn  atomic.Bool
	suspended atomic.Bool

	mu       sync.Mutex
	items    map[ItemId]*webItem
	registry *InstallRegistry

	callbackMu     sync.Mutex
	callbacks      []func()
	downloadResult DelegateDownloadResult

	responses *lru.Cache[ItemId, cachedDetails]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSteamWebBackend loads the install registry from opts.InstallDir and returns a
// backend that is not yet logged on.
func NewSteamWebBackend(opts SteamWebBackendOptions) (*SteamWebBackend, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultSteamWebAPI
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry.Attempts = 3
	}
	if opts.Retry.Backoff == 0 {
		opts.Retry.Backoff = time.Second
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	if err := EnsureDirectoryExistence(opts.InstallDir); err != nil {
		return nil, fmt.Errorf("install dir: %w", err)
	}
	RemoveStaleStagingFiles(opts.InstallDir)

	registry, err := LoadInstallRegistry(filepath.Join(opts.InstallDir, RegistryFileName))
	if err != nil {
		return nil, err
	}

	responses, err := lru.New[ItemId, cachedDetails](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &SteamWebBackend{
		opts:      opts,
		client:    client,
		items:     make(map[ItemId]*webItem),
		registry:  registry,
		responses: responses,
		ctx:       ctx,
		cancel:    cancel,
	}

	registry.Each(func(id ItemId, rec InstallRecord) {
		if _, err := os.Stat(rec.Folder); err != nil {
			PushLogWarning(b, TagWorkshop, fmt.Sprintf("Installed item %d is missing from %s", id, rec.Folder))
			registry.Delete(id)
			return
		}
		state := ItemStateSubscribed | ItemStateInstalled
		if rec.Legacy {
			state |= ItemStateLegacy
		}
		b.items[id] = &webItem{
			state: state,
			info:  InstallInfo{Folder: rec.Folder, SizeOnDisk: rec.Size, Timestamp: rec.Updated},
		}
	})

	return b, nil
}

// LoggedIn implements Backend.
func (b *SteamWebBackend) LoggedIn() bool {
	return b.loggedIn.Load()
}

// LogOn implements Backend by probing the API once.
func (b *SteamWebBackend) LogOn(ctx context.Context) error {
	var info ServerInfoResponse
	if err := b.getJSON(ctx, "/ISteamWebAPIUtil/GetServerInfo/v1/", nil, &info); err != nil {
		return err
	}
	if !b.loggedIn.Swap(true) {
		PushLogInfo(b, TagWorkshop, fmt.Sprintf("Connected to %s (server time %d)", b.opts.BaseURL, info.ServerTime))
	}
	return nil
}

// SuspendDownloads implements Backend.
func (b *SteamWebBackend) SuspendDownloads(suspend bool) {
	b.suspended.Store(suspend)
}

// DownloadItem implements Backend.
func (b *SteamWebBackend) DownloadItem(id ItemId, highPriority bool) bool {
	if id == 0 || !b.LoggedIn() {
		return false
	}

	b.mu.Lock()
	item, ok := b.items[id]
	if !ok {
		item = &webItem{}
		b.items[id] = item
	}
	if item.state.Has(ItemStateDownloading) || item.state.Has(ItemStateDownloadPending) {
		b.mu.Unlock()
		return true
	}
	item.state = (item.state | ItemStateSubscribed | ItemStateDownloadPending) &^ ItemStateInstalled
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.fetch(id)
	}()
	return true
}

// ItemInstallInfo implements Backend.
func (b *SteamWebBackend) ItemInstallInfo(id ItemId) (InstallInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[id]
	if !ok || item.info.Folder == "" {
		return InstallInfo{}, false
	}
	return item.info, true
}

// ItemState implements Backend.
func (b *SteamWebBackend) ItemState(id ItemId) ItemState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if item, ok := b.items[id]; ok {
		return item.state
	}
	return ItemStateNone
}

// QueryItem implements Backend.
func (b *SteamWebBackend) QueryItem(req QueryRequest, cb DelegateQueryComplete) error {
	if len(req.IDs) == 0 {
		return ErrQueryCreate
	}
	for _, id := range req.IDs {
		if id == 0 {
			return ErrQueryCreate
		}
	}
	if !b.LoggedIn() {
		return ErrQuerySend
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		results, err := b.query(b.ctx, req)
		b.post(func() { cb(results, err) })
	}()
	return nil
}

// OnDownloadResult implements Backend.
func (b *SteamWebBackend) OnDownloadResult(fn DelegateDownloadResult) {
	b.callbackMu.Lock()
	b.downloadResult = fn
	b.callbackMu.Unlock()
}

// RunCallbacks implements Backend.
func (b *SteamWebBackend) RunCallbacks() {
	b.callbackMu.Lock()
	callbacks := b.callbacks
	b.callbacks = nil
	b.callbackMu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Close stops background transfers. Sessions never call it; it exists for tools and tests.
func (b *SteamWebBackend) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *SteamWebBackend) post(cb func()) {
	b.callbackMu.Lock()
	b.callbacks = append(b.callbacks, cb)
	b.callbackMu.Unlock()
}

func (b *SteamWebBackend) query(ctx context.Context, req QueryRequest) (*QueryResults, error) {
	results := &QueryResults{WasCached: true}

	var missing []ItemId
	cached := make(map[ItemId]ItemDetails)
	for _, id := range req.IDs {
		if entry, ok := b.responses.Get(id); ok && time.Since(entry.fetchedAt) <= req.AllowCachedResponse {
			cached[id] = entry.details
			continue
		}
		missing = append(missing, id)
	}

	fetched := make(map[ItemId][]ItemDetails)
	if len(missing) > 0 {
		results.WasCached = false
		items, err := b.fetchDetails(ctx, missing, req.IncludeChildren)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		asked := ToSet(missing)
		for _, item := range items {
			if item.PublishedFileId != 0 && item.Result == EResultOK {
				b.responses.Add(item.PublishedFileId, cachedDetails{details: item, fetchedAt: now})
			}
			fetched[item.PublishedFileId] = append(fetched[item.PublishedFileId], item)
		}
		// Rows the API returned for ids nobody asked about are kept so callers can detect them.
		for id, items := range fetched {
			if _, ok := asked[id]; !ok {
				results.Items = append(results.Items, items...)
			}
		}
	}

	for _, id := range req.IDs {
		if details, ok := cached[id]; ok {
			results.Items = append(results.Items, details)
			continue
		}
		results.Items = append(results.Items, fetched[id]...)
	}
	results.TotalMatches = uint32(len(results.Items))
	return results, nil
}

func (b *SteamWebBackend) fetchDetails(ctx context.Context, ids []ItemId, includeChildren bool) ([]ItemDetails, error) {
	params := url.Values{}
	if b.opts.APIKey != "" {
		params.Set("key", b.opts.APIKey)
	}
	params.Set("includetags", "true")
	params.Set("includevotes", "true")
	params.Set("includechildren", strconv.FormatBool(includeChildren))
	for i, id := range ids {
		params.Set(fmt.Sprintf("publishedfileids[%d]", i), id.String())
	}

	return WaitForRetry(ctx, func(ctx context.Context) ([]ItemDetails, error) {
		var resp PublishedFileDetailsResponse
		if err := b.getJSON(ctx, "/IPublishedFileService/GetDetails/v1/", params, &resp); err != nil {
			return nil, err
		}
		items := make([]ItemDetails, 0, len(resp.Response.PublishedFileDetails))
		for i := range resp.Response.PublishedFileDetails {
			items = append(items, resp.Response.PublishedFileDetails[i].ToItemDetails())
		}
		return items, nil
	}, b.opts.Retry)
}

// fetch downloads id into the install directory and flips it to installed.
func (b *SteamWebBackend) fetch(id ItemId) {
	for b.suspended.Load() {
		select {
		case <-b.ctx.Done():
			b.abandon(id, EResultFail)
			return
		case <-time.After(250 * time.Millisecond):
		}
	}

	b.setState(id, func(s ItemState) ItemState {
		return (s | ItemStateDownloading) &^ ItemStateDownloadPending
	})

	items, err := b.fetchDetails(b.ctx, []ItemId{id}, false)
	if err == nil && (len(items) != 1 || items[0].PublishedFileId != id) {
		err = &BackendError{Result: EResultFileNotFound}
	}
	if err == nil && items[0].Result != EResultOK {
		err = &BackendError{Result: items[0].Result}
	}
	if err == nil && items[0].FileURL == "" {
		err = &BackendError{Result: EResultFileNotFound, Err: errors.New("item has no downloadable file")}
	}
	if err != nil {
		PushLogError(b, TagDownload, fmt.Sprintf("Failed to fetch details for %d: %v", id, err))
		b.abandon(id, resultOf(err))
		return
	}
	details := items[0]

	legacy := strings.EqualFold(filepath.Ext(details.FileName), ".bin")
	folder := filepath.Join(b.opts.InstallDir, id.String())
	dest := filepath.Join(folder, installFileName(id, details.FileName, legacy))
	if legacy {
		dest = filepath.Join(b.opts.InstallDir, id.String()+"_legacy.bin")
		folder = dest
	}

	policy := b.opts.Retry
	if policy.Timeout < DownloadTimeout {
		policy.Timeout = DownloadTimeout
	}
	size, err := WaitForRetry(b.ctx, func(ctx context.Context) (int64, error) {
		return b.downloadFile(ctx, details.FileURL, dest, GetStagingFilenameHash(id, details.FileURL))
	}, policy)
	if err != nil {
		PushLogError(b, TagDownload, fmt.Sprintf("Failed to download %d from %s: %v", id, details.FileURL, err))
		b.abandon(id, resultOf(err))
		return
	}

	updated := details.Updated
	if updated.IsZero() {
		updated = time.Now()
	}

	b.mu.Lock()
	item := b.items[id]
	item.info = InstallInfo{Folder: folder, SizeOnDisk: uint64(size), Timestamp: updated}
	item.state = (item.state | ItemStateInstalled) &^ (ItemStateDownloading | ItemStateDownloadPending | ItemStateNeedsUpdate)
	if legacy {
		item.state |= ItemStateLegacy
	}
	b.registry.Put(id, InstallRecord{Folder: folder, Size: uint64(size), Updated: updated, Legacy: legacy})
	saveErr := b.registry.Save()
	b.mu.Unlock()

	if saveErr != nil {
		PushLogWarning(b, TagWorkshop, saveErr.Error())
	}
	PushLogDebug(b, TagDownload, fmt.Sprintf("Installed %d into %s (%d bytes)", id, folder, size))
	b.postDownloadResult(id, EResultOK)
}

func (b *SteamWebBackend) abandon(id ItemId, result EResult) {
	b.setState(id, func(s ItemState) ItemState {
		return s &^ (ItemStateDownloading | ItemStateDownloadPending)
	})
	b.postDownloadResult(id, result)
}

// postDownloadResult queues the result for whichever handler is set when RunCallbacks runs.
func (b *SteamWebBackend) postDownloadResult(id ItemId, result EResult) {
	b.post(func() {
		b.callbackMu.Lock()
		fn := b.downloadResult
		b.callbackMu.Unlock()
		if fn != nil {
			fn(id, result)
		}
	})
}

func (b *SteamWebBackend) setState(id ItemId, fn func(ItemState) ItemState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if item, ok := b.items[id]; ok {
		item.state = fn(item.state)
	}
}

func (b *SteamWebBackend) downloadFile(ctx context.Context, fileURL, dest, staging string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, statusError(resp.StatusCode)
	}
	return writeFileAtomic(dest, staging, resp.Body)
}

func (b *SteamWebBackend) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := strings.TrimRight(b.opts.BaseURL, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return statusError(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &BackendError{Result: EResultFail, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

func installFileName(id ItemId, name string, legacy bool) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = id.String()
	}
	if !legacy && !strings.EqualFold(filepath.Ext(base), PackageExtension) {
		base += PackageExtension
	}
	return base
}

func statusError(code int) error {
	result := EResultFail
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		result = EResultAccessDenied
	case code == http.StatusNotFound:
		result = EResultFileNotFound
	case code == http.StatusTooManyRequests:
		result = EResultRateLimitExceeded
	case code == http.StatusBadRequest:
		result = EResultInvalidParam
	case code >= 500:
		result = EResultServiceUnavailable
	}
	return &BackendError{Result: result, Err: fmt.Errorf("HTTP request failed with status: %d", code)}
}

func resultOf(err error) EResult {
	var backendErr *BackendError
	if errors.As(err, &backendErr) && backendErr.Result != EResultNone && backendErr.Result != EResultOK {
		return backendErr.Result
	}
	return EResultFail
}

func transportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &BackendError{Result: EResultTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &BackendError{Result: EResultNoConnection, Err: err}
}
