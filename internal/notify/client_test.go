package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	var got Notice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notices" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithRetry(3, time.Millisecond))
	n := Notice{Type: "cancelled", ChallengeID: "ch-1", UserID: "u1", Text: "Challenge ch-1 was cancelled."}
	if err := c.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if got != n {
		t.Fatalf("payload: %+v", got)
	}
}

func TestSendGivesUpAndSetsDedupKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		keys <- r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(2, time.Millisecond))
	n := Notice{Type: "match_found", ChallengeID: "ch-9", UserID: "u2"}
	err := c.Send(context.Background(), n)
	var se *StatusError
	if !errors.As(err, &se) || !se.Temporary() {
		t.Fatalf("expected temporary StatusError, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
	if k := <-keys; k != "ch-9:u2:match_found" {
		t.Fatalf("dedup key: %q", k)
	}
}

func TestSendNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3, time.Millisecond))
	err := c.Send(context.Background(), Notice{Type: "x"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest || se.Temporary() {
		t.Fatalf("expected permanent StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not retry, got %d calls", calls.Load())
	}
}

func TestSendHeaders(t *testing.T) {
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Notify-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Notify-Token": "secret", "": "skip"}
	}))
	if err := c.Send(context.Background(), Notice{Type: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if token != "secret" {
		t.Fatalf("header not sent: %q", token)
	}
}
