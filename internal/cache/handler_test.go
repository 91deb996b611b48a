package cache_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"visitsync/internal/cache"
	"visitsync/internal/config"
	"visitsync/internal/testsupport"
)

func newReadHandler(t *testing.T, upstream *httptest.Server) (*cache.Handler, *cache.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg)

	parsed, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	defaults := config.Default()
	policy := cache.NewPolicy(defaults.Cache, defaults.Proxy.AssetPrefixes)
	handler := cache.NewHandler(parsed, &http.Client{Timeout: 2 * time.Second}, store, policy, nil, "/", nil)
	return handler, store
}

func TestAPIReadIsNetworkFirst(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"visit":"live"}`))
	}))
	defer upstream.Close()

	handler, store := newReadHandler(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/api/visits/1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(cache.MarkerHeader) != "" {
		t.Fatal("live responses must not carry the cache marker")
	}
	if rec.Body.String() != `{"visit":"live"}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	// The 200 must have refreshed the cache.
	entry, err := store.Get(context.Background(), "/api/visits/1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry == nil || string(entry.Body) != `{"visit":"live"}` {
		t.Fatalf("expected cached copy, got %#v", entry)
	}
}

func TestAPIReadFallsBackToCacheWhenOffline(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"visit":"live"}`))
	}))

	handler, store := newReadHandler(t, upstream)

	// Warm the cache while online, then kill the upstream.
	warm := httptest.NewRequest(http.MethodGet, "/api/visits/1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), warm)
	upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/visits/1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected cached 200, got %d", rec.Code)
	}
	if rec.Header().Get(cache.MarkerHeader) != "hit" {
		t.Fatal("expected cache marker on fallback response")
	}
	if rec.Body.String() != `{"visit":"live"}` {
		t.Fatalf("unexpected cached body: %s", rec.Body.String())
	}

	// Sanity: the entry really is what served the fallback.
	if entry, _ := store.Get(context.Background(), "/api/visits/1"); entry == nil {
		t.Fatal("expected warm cache entry")
	}
}

func TestAPIReadOfflineMissReturnsStructured503(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	handler, _ := newReadHandler(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/api/visits/9", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected JSON error body, got %s", rec.Header().Get("Content-Type"))
	}

	var body struct {
		Error string `json:"error"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "offline" || body.Path != "/api/visits/9" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestDeniedEndpointNeverServedFromCache(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("live"))
	}))

	handler, store := newReadHandler(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/api/visits/1/transcribe", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry, _ := store.Get(context.Background(), "/api/visits/1/transcribe"); entry != nil {
		t.Fatal("denied endpoint must not be cached")
	}
	upstream.Close()
}

func TestAssetServedStaleWhileRevalidate(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fresh-script"))
	}))
	defer upstream.Close()

	handler, store := newReadHandler(t, upstream)

	ctx := context.Background()
	stale := cache.Entry{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/javascript"}},
		Body:       []byte("stale-script"),
	}
	if err := store.Put(ctx, "/assets/app.js", stale); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Body.String() != "stale-script" {
		t.Fatalf("expected immediate cached copy, got %s", rec.Body.String())
	}

	// The background refresh replaces the entry shortly after.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := store.Get(ctx, "/assets/app.js")
		if err == nil && entry != nil && string(entry.Body) == "fresh-script" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background refresh never updated the asset")
}

func TestHeadNeverPrimesTheCache(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte("full-script"))
	}))
	defer upstream.Close()

	handler, store := newReadHandler(t, upstream)

	head := httptest.NewRequest(http.MethodHead, "/assets/app.js", nil)
	handler.ServeHTTP(httptest.NewRecorder(), head)

	if entry, _ := store.Get(context.Background(), "/assets/app.js"); entry != nil {
		t.Fatal("a HEAD must not create a cache entry")
	}

	get := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, get)

	if rec.Body.String() != "full-script" {
		t.Fatalf("expected the full asset body, got %q", rec.Body.String())
	}
}

func TestNavigationFallsBackToShell(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>shell</html>"))
	}))

	handler, _ := newReadHandler(t, upstream)

	// First navigation caches the shell.
	warm := httptest.NewRequest(http.MethodGet, "/visits/1", nil)
	warm.Header.Set("Accept", "text/html")
	handler.ServeHTTP(httptest.NewRecorder(), warm)

	upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/visits/2", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected shell fallback 200, got %d", rec.Code)
	}
	if rec.Header().Get(cache.MarkerHeader) != "hit" {
		t.Fatal("expected cache marker on shell fallback")
	}
	if rec.Body.String() != "<html>shell</html>" {
		t.Fatalf("unexpected shell body: %s", rec.Body.String())
	}
}
