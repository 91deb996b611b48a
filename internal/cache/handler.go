package cache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"visitsync/internal/logging"
	"visitsync/internal/netmon"
)

// MarkerHeader is set on responses served from the cache instead of the
// network so clients can distinguish stale data.
const MarkerHeader = "X-Visitsync-Cache"

// offlineBody is the structured payload of the synthetic 503 returned when a
// request is offline with no cached entry. Response handlers treat it like
// any other API error body.
type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// Handler serves the offline read path: network-first with cache fallback
// for allow-listed API GETs, stale-while-revalidate for static assets, and
// an application-shell fallback for navigations.
type Handler struct {
	upstream  *url.URL
	client    *http.Client
	store     *Store
	policy    Policy
	monitor   *netmon.Monitor
	logger    *slog.Logger
	shellPath string
}

// NewHandler builds the read-path handler. The store may be nil when
// caching is disabled; every lookup then misses. The monitor may be nil in
// tests.
func NewHandler(upstream *url.URL, client *http.Client, store *Store, policy Policy, monitor *netmon.Monitor, shellPath string, logger *slog.Logger) *Handler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		upstream:  upstream,
		client:    client,
		store:     store,
		policy:    policy,
		monitor:   monitor,
		logger:    logging.NewComponentLogger(logger, "cache"),
		shellPath: shellPath,
	}
}

// Handles reports whether the read path owns this request. Writes never go
// through the cache; they belong to the mutation queue.
func (h *Handler) Handles(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return h.policy.CacheableAPI(r.Method, r.URL.Path) || h.policy.Asset(r.URL.Path) || Navigation(r)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		// HEAD and writes never touch the cache; a HEAD response would
		// prime an entry with an empty body.
		h.forward(w, r)
		return
	}
	switch {
	case h.policy.CacheableAPI(r.Method, r.URL.Path):
		h.serveAPIRead(w, r)
	case h.policy.Asset(r.URL.Path):
		h.serveAsset(w, r)
	case Navigation(r):
		h.serveNavigation(w, r)
	default:
		h.forward(w, r)
	}
}

// serveAPIRead is network-first: a live 200 refreshes the cache and is
// returned; a transport failure falls back to the cached entry, or a
// structured 503 when none exists.
func (h *Handler) serveAPIRead(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)

	resp, err := h.fetch(r)
	if err != nil {
		h.reportFailure()
		entry, cacheErr := h.lookup(r.Context(), key)
		if cacheErr != nil {
			h.logger.Error("cache lookup failed", logging.Error(cacheErr), logging.String("key", key))
		}
		if entry != nil {
			writeEntry(w, entry, true)
			return
		}
		writeOffline(w, r.URL.Path)
		return
	}
	defer resp.Body.Close()
	h.reportSuccess()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logger.Error("read upstream body failed", logging.Error(err))
		writeOffline(w, r.URL.Path)
		return
	}

	if resp.StatusCode == http.StatusOK {
		entry := Entry{StatusCode: resp.StatusCode, Header: cacheableHeader(resp.Header), Body: body}
		if err := h.save(r.Context(), key, entry); err != nil {
			h.logger.Warn("cache refresh failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "cache_refresh_failed"),
				logging.String(logging.FieldErrorHint, "check cache database access"),
			)
		}
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// serveAsset is stale-while-revalidate: a cached copy is returned
// immediately and refreshed in the background; a miss waits for the network.
func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)

	entry, err := h.lookup(r.Context(), key)
	if err != nil {
		h.logger.Error("cache lookup failed", logging.Error(err), logging.String("key", key))
	}
	if entry != nil {
		writeEntry(w, entry, false)
		go h.refreshAsset(r, key)
		return
	}

	resp, err := h.fetch(r)
	if err != nil {
		h.reportFailure()
		writeOffline(w, r.URL.Path)
		return
	}
	defer resp.Body.Close()
	h.reportSuccess()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeOffline(w, r.URL.Path)
		return
	}
	if resp.StatusCode == http.StatusOK {
		entry := Entry{StatusCode: resp.StatusCode, Header: cacheableHeader(resp.Header), Body: body}
		if err := h.save(r.Context(), key, entry); err != nil {
			h.logger.Warn("asset cache store failed", logging.Error(err), logging.String("key", key))
		}
	}
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

func (h *Handler) refreshAsset(r *http.Request, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refreshReq := r.Clone(ctx)
	resp, err := h.fetch(refreshReq)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	entry := Entry{StatusCode: resp.StatusCode, Header: cacheableHeader(resp.Header), Body: body}
	if err := h.save(ctx, key, entry); err != nil {
		h.logger.Warn("asset refresh store failed", logging.Error(err), logging.String("key", key))
	}
}

// serveNavigation proxies full-page loads, falling back to the cached
// application shell when the network is unavailable.
func (h *Handler) serveNavigation(w http.ResponseWriter, r *http.Request) {
	resp, err := h.fetch(r)
	if err != nil {
		h.reportFailure()
		entry, cacheErr := h.lookup(r.Context(), h.shellKey())
		if cacheErr == nil && entry != nil {
			writeEntry(w, entry, true)
			return
		}
		writeOffline(w, r.URL.Path)
		return
	}
	defer resp.Body.Close()
	h.reportSuccess()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeOffline(w, r.URL.Path)
		return
	}
	if resp.StatusCode == http.StatusOK && strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		entry := Entry{StatusCode: resp.StatusCode, Header: cacheableHeader(resp.Header), Body: body}
		if err := h.save(r.Context(), h.shellKey(), entry); err != nil {
			h.logger.Warn("shell cache store failed", logging.Error(err))
		}
	}
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// forward proxies a request without touching the cache.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request) {
	resp, err := h.fetch(r)
	if err != nil {
		h.reportFailure()
		writeOffline(w, r.URL.Path)
		return
	}
	defer resp.Body.Close()
	h.reportSuccess()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) fetch(r *http.Request) (*http.Response, error) {
	target := *r.URL
	target.Scheme = h.upstream.Scheme
	target.Host = h.upstream.Host

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	return h.client.Do(req)
}

func (h *Handler) lookup(ctx context.Context, key string) (*Entry, error) {
	if h.store == nil {
		return nil, nil
	}
	return h.store.Get(ctx, key)
}

func (h *Handler) save(ctx context.Context, key string, entry Entry) error {
	if h.store == nil {
		return nil
	}
	return h.store.Put(ctx, key, entry)
}

func (h *Handler) shellKey() string {
	return h.shellPath
}

func (h *Handler) reportSuccess() {
	if h.monitor != nil {
		h.monitor.ReportSuccess()
	}
}

func (h *Handler) reportFailure() {
	if h.monitor != nil {
		h.monitor.ReportFailure()
	}
}

func requestKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func writeEntry(w http.ResponseWriter, entry *Entry, marker bool) {
	copyHeader(w.Header(), entry.Header)
	if marker {
		w.Header().Set(MarkerHeader, "hit")
	}
	w.WriteHeader(entry.StatusCode)
	_, _ = w.Write(entry.Body)
}

func writeOffline(w http.ResponseWriter, path string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(MarkerHeader, "miss")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(offlineBody{
		Error:   "offline",
		Message: "offline and no cached data is available for this resource",
		Path:    path,
	})
}

// hop-by-hop headers are never forwarded or cached.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		if _, skip := hopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func cacheableHeader(src http.Header) http.Header {
	out := make(http.Header, len(src))
	copyHeader(out, src)
	out.Del("Set-Cookie")
	return out
}
