package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestLokutorChatPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req postRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		wsjson.Write(r.Context(), conn, postResponse{ID: "msg-1", Timestamp: 1700000000})
	}))
	defer server.Close()

	c := &LokutorChat{
		apiKey:       "test-key",
		host:         strings.TrimPrefix(server.URL, "http://"),
		scheme:       "ws",
		recentPosts:  make(map[string]time.Time),
		dedupeWindow: 30 * time.Second,
	}

	result, err := c.Post(context.Background(), "chat-123", "hello chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID != "msg-1" {
		t.Errorf("expected msg-1, got %s", result.ID)
	}

	if c.Name() != "lokutor-chat" {
		t.Errorf("expected lokutor-chat, got %s", c.Name())
	}

	c.Close()
}

func TestLokutorChatPostRejectsOverLength(t *testing.T) {
	c := NewLokutorChat("test-key", 0)
	longText := strings.Repeat("a", 201)
	_, err := c.Post(context.Background(), "chat-123", longText)
	if err == nil {
		t.Error("expected error for over-length comment")
	}
}

func TestLokutorChatPostRejectsDuplicate(t *testing.T) {
	c := NewLokutorChat("test-key", time.Minute)
	c.recordPost("already posted")
	_, err := c.Post(context.Background(), "chat-123", "already posted")
	if err == nil {
		t.Error("expected error for duplicate comment within dedupe window")
	}
}
