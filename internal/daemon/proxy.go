package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"visitsync/internal/cache"
	"visitsync/internal/logging"
	"visitsync/internal/queue"
)

// maxCapturedBody bounds how much of a write request body is accepted for
// forwarding or replay. Larger writes are refused outright; a silently
// truncated payload must never reach the queue or the server.
const maxCapturedBody = 4 << 20

// queuedResponse is returned to the application when a write was captured
// into the queue instead of reaching the upstream.
type queuedResponse struct {
	Queued bool   `json:"queued"`
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// proxyHandler builds the HTTP surface the application points at. Cacheable
// reads flow through the cache handler; API writes go through the offline
// facade so capture and replay share one delivery path; everything else is
// forwarded untouched.
func (d *Daemon) proxyHandler() http.Handler {
	upstream, err := url.Parse(d.service.Client().BaseURL())
	if err != nil {
		// Config validation rejects unparseable base URLs before the
		// daemon is constructed.
		panic("invalid api base_url: " + err.Error())
	}

	httpClient := &http.Client{
		Timeout: time.Duration(d.cfg.API.RequestTimeout) * time.Second,
	}
	readHandler := cache.NewHandler(
		upstream,
		httpClient,
		d.service.CacheStore(),
		cache.NewPolicy(d.cfg.Cache, d.cfg.Proxy.AssetPrefixes),
		d.service.Monitor(),
		d.cfg.Proxy.ShellPath,
		d.logger,
	)

	r := chi.NewRouter()
	r.Get("/visitsync/status", d.handleProxyStatus)
	r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if readHandler.Handles(req) {
			readHandler.ServeHTTP(w, req)
			return
		}
		if req.Method == http.MethodGet || req.Method == http.MethodHead {
			d.forwardUpstream(w, req, httpClient, upstream)
			return
		}
		if strings.HasPrefix(req.URL.Path, "/api/") {
			d.handleWrite(w, req)
			return
		}
		d.forwardUpstream(w, req, httpClient, upstream)
	}))
	return r
}

// handleProxyStatus lets the application ask the daemon about connectivity
// and queue depth without going through IPC.
func (d *Daemon) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	status := d.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"online": status.Online,
		"sync":   status.Sync,
	})
}

// handleWrite hands an API mutation to the offline facade. A response the
// server produced is relayed untouched; a captured write answers 202 so the
// application can treat it as accepted.
func (d *Daemon) handleWrite(w http.ResponseWriter, r *http.Request) {
	body, ok := d.readWriteBody(w, r)
	if !ok {
		return
	}

	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	m, res, err := d.service.Do(r.Context(), r.Method, target, body)
	if err != nil {
		if errors.Is(err, queue.ErrStorageUnavailable) {
			d.logger.Error("write capture failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "write_capture_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"))
			http.Error(w, "offline and unable to queue the write", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "unable to deliver the write", http.StatusBadGateway)
		return
	}

	if m != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Visitsync-Queued", "1")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(queuedResponse{
			Queued: true,
			ID:     m.ID,
			Status: string(m.Status),
		})
		return
	}

	copyResponseHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

// forwardUpstream proxies a request without capture or caching.
func (d *Daemon) forwardUpstream(w http.ResponseWriter, r *http.Request, client *http.Client, upstream *url.URL) {
	body, ok := d.readWriteBody(w, r)
	if !ok {
		return
	}
	resp, err := d.forwardRequest(r, client, upstream, body)
	if err != nil {
		d.service.Monitor().ReportFailure()
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	d.service.Monitor().ReportSuccess()

	copyResponseHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// readWriteBody reads a bounded request body, refusing oversized payloads
// with 413 rather than truncating them.
func (d *Daemon) readWriteBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCapturedBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body exceeds the queueable limit", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "read request body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (d *Daemon) forwardRequest(r *http.Request, client *http.Client, upstream *url.URL, body []byte) (*http.Response, error) {
	target := *r.URL
	target.Scheme = upstream.Scheme
	target.Host = upstream.Host

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	copyResponseHeader(req.Header, r.Header)
	return client.Do(req)
}

func copyResponseHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
