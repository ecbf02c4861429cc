package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatReturnsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"score\": 85}"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "gpt-4o-mini", 5*time.Second)
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "score this"}}, 0.3)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"score": 85}` {
		t.Errorf("content = %q", out)
	}
}

func TestChatStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))

		c := New(srv.URL, "k", "m", 5*time.Second)
		_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, 0)
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if Retryable(err) != tc.retryable {
			t.Errorf("status %d: Retryable = %v, want %v", tc.status, Retryable(err), tc.retryable)
		}
		srv.Close()
	}
}

func TestChatCancelledContextNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := New(srv.URL, "k", "m", 5*time.Second)
	_, err := c.Chat(ctx, []Message{{Role: "user", Content: "x"}}, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if Retryable(err) {
		t.Error("context deadline errors must not be retryable")
	}
}

func TestChatEmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "m", 5*time.Second)
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, 0); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
