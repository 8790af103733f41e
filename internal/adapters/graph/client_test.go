package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	perr "replyloop/internal/platform/errors"
)

// newTestClient points a Client at srv with instant sleeps
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient(Options{BaseURL: srv.URL})
	c.sleep = func(time.Duration) {}
	return c
}

func TestSendDM_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}
		var req sendMessageReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Recipient.ID != "u1" || req.Message.Text != "hi" {
			t.Errorf("unexpected payload %+v", req)
		}
		json.NewEncoder(w).Encode(SendResult{MessageID: "m1", RecipientID: "u1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := c.SendDM(context.Background(), "u1", "hi", "tok")
	if err != nil {
		t.Fatalf("SendDM: %v", err)
	}
	if res.MessageID != "m1" {
		t.Fatalf("message id = %q, want m1", res.MessageID)
	}
}

func TestSendDM_RetriesOn5xxThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(SendResult{MessageID: "m1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.SendDM(context.Background(), "u1", "hi", "tok"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSendDM_5xxExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendDM(context.Background(), "u1", "hi", "tok")
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !perr.Retryable(err) {
		t.Fatalf("5xx exhaustion should stay retryable for the queue")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestSendDM_4xxIsPermanentAndNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad recipient"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendDM(context.Background(), "u1", "hi", "tok")
	if err == nil {
		t.Fatalf("expected error")
	}
	if perr.Retryable(err) {
		t.Fatalf("4xx must be permanent, got retryable %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("4xx must not retry, got %d attempts", got)
	}
}

func TestSendDM_TokenExpiredCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "expired", "code": 190}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendDM(context.Background(), "u1", "hi", "tok")
	if !perr.IsCode(err, perr.ErrorCodeTokenExpired) {
		t.Fatalf("expected token expired code, got %v", err)
	}
}

func TestSendDM_429SurfacesRetryableWithoutInCallRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendDM(context.Background(), "u1", "hi", "tok")
	if !perr.IsCode(err, perr.ErrorCodeTooManyRequests) {
		t.Fatalf("expected rate limited code, got %v", err)
	}
	if !perr.Retryable(err) {
		t.Fatalf("rate limit should be retryable at the queue level")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("429 handled by queue reschedule, not in-call retry; got %d attempts", got)
	}
}

func TestReplyToComment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/c9/replies" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(replyResp{ID: "r1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	id, err := c.ReplyToComment(context.Background(), "c9", "thanks!", "tok")
	if err != nil {
		t.Fatalf("ReplyToComment: %v", err)
	}
	if id != "r1" {
		t.Fatalf("reply id = %q, want r1", id)
	}
}

func TestIsFollowing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_id"); got != "u1" {
			t.Errorf("user_id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"id": "u1"}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ok, err := c.IsFollowing(context.Background(), "u1", "tok")
	if err != nil || !ok {
		t.Fatalf("IsFollowing = %v, %v; want true, nil", ok, err)
	}
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("grant_type") != "ig_refresh_token" || q.Get("access_token") != "old" {
			t.Errorf("unexpected query %v", q)
		}
		json.NewEncoder(w).Encode(refreshResp{AccessToken: "new", ExpiresIn: 5183944})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	tok, ttl, err := c.RefreshToken(context.Background(), "old")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if tok != "new" || ttl != 5183944*time.Second {
		t.Fatalf("got %q %v", tok, ttl)
	}
}
