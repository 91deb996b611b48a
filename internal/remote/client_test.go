package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"visitsync/internal/remote"
	"visitsync/internal/testsupport"
)

func newClient(t *testing.T, handler http.HandlerFunc) *remote.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(server.URL))
	cfg.API.Token = "secret-token"
	return remote.New(cfg, "device-123")
}

func TestReplaySendsHeadersAndBody(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	})

	err := client.Replay(context.Background(), "POST", "/api/visits", []byte(`{"member":"m-1"}`))
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if got.Header.Get("Authorization") != "Bearer secret-token" {
		t.Fatalf("missing bearer token, headers: %v", got.Header)
	}
	if got.Header.Get("X-Device-ID") != "device-123" {
		t.Fatal("missing device id header")
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Fatal("missing content type")
	}
	if string(gotBody) != `{"member":"m-1"}` {
		t.Fatalf("unexpected body: %q", gotBody)
	}
}

func TestReplayClassifiesServerResponses(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
		message   string
	}{
		{"validation error", http.StatusUnprocessableEntity, `{"code":"invalid","message":"bad visit"}`, false, "invalid: bad visit"},
		{"conflict", http.StatusConflict, `{"error":"duplicate"}`, false, "duplicate"},
		{"server error", http.StatusInternalServerError, `{"message":"db down"}`, true, "db down"},
		{"plain text error", http.StatusBadGateway, "bad gateway", true, "bad gateway"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			err := client.Replay(context.Background(), "POST", "/api/visits", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			var replayErr *remote.ReplayError
			if !errors.As(err, &replayErr) {
				t.Fatalf("expected ReplayError, got %T: %v", err, err)
			}
			if replayErr.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, replayErr.StatusCode)
			}
			if replayErr.Message != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, replayErr.Message)
			}
			if remote.IsRetryable(err) != tc.retryable {
				t.Fatalf("expected retryable=%v for %d", tc.retryable, tc.status)
			}
		})
	}
}

func TestReplayTransportFailureIsRetryable(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL("http://127.0.0.1:1"))
	client := remote.New(cfg, "device-123")

	err := client.Replay(context.Background(), "POST", "/api/visits", nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	var replayErr *remote.ReplayError
	if errors.As(err, &replayErr) {
		t.Fatalf("transport failure must not be a ReplayError: %v", err)
	}
	if !remote.IsRetryable(err) {
		t.Fatal("transport failures must be retryable")
	}
}

func TestCheckHealthAcceptsAnyServerResponse(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := client.CheckHealth(context.Background(), "/api/health", time.Second); err != nil {
		t.Fatalf("a 500 still proves reachability: %v", err)
	}

	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL("http://127.0.0.1:1"))
	unreachable := remote.New(cfg, "device-123")
	if err := unreachable.CheckHealth(context.Background(), "/api/health", time.Second); err == nil {
		t.Fatal("expected probe failure for unreachable host")
	}
}

func TestLoadDeviceIDPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := remote.LoadDeviceID(dir)
	if err != nil {
		t.Fatalf("LoadDeviceID failed: %v", err)
	}
	if first == "" {
		t.Fatal("expected generated id")
	}

	second, err := remote.LoadDeviceID(dir)
	if err != nil {
		t.Fatalf("LoadDeviceID failed: %v", err)
	}
	if second != first {
		t.Fatalf("expected stable id, got %q then %q", first, second)
	}
}
