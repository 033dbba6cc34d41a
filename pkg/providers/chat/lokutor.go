// Package chat holds concrete ChatProvider clients that post generated
// comments to a broadcast's live chat.
package chat

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// LokutorChat posts comments over a persistent websocket connection to
// Lokutor's live-chat relay, reconnecting lazily on the next call after
// any read or write failure.
type LokutorChat struct {
	apiKey string
	host   string
	scheme string

	mu   sync.Mutex
	conn *websocket.Conn

	dedupeMu     sync.Mutex
	recentPosts  map[string]time.Time
	dedupeWindow time.Duration
}

// NewLokutorChat builds a LokutorChat client. dedupeWindow defaults to
// 30s when zero.
func NewLokutorChat(apiKey string, dedupeWindow time.Duration) *LokutorChat {
	if dedupeWindow == 0 {
		dedupeWindow = 30 * time.Second
	}
	return &LokutorChat{
		apiKey:       apiKey,
		host:         "api.lokutor.com",
		scheme:       "wss",
		recentPosts:  make(map[string]time.Time),
		dedupeWindow: dedupeWindow,
	}
}

func (c *LokutorChat) Name() string { return "lokutor-chat" }

func (c *LokutorChat) Healthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.getConn(probeCtx)
	return err == nil
}

func (c *LokutorChat) getConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	u := url.URL{Scheme: c.scheme, Host: c.host, Path: "/chat", RawQuery: "api_key=" + c.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor chat: %w", err)
	}

	c.conn = conn
	return conn, nil
}

type postRequest struct {
	Op     string `json:"op"`
	ChatID string `json:"chat_id,omitempty"`
	Text   string `json:"text,omitempty"`
	Broadcast string `json:"broadcast_id,omitempty"`
}

type postResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	ChatID    string `json:"chat_id"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   int64  `json:"reset_at"`
	Error     string `json:"error"`
}

// Post enforces the 200-character hard limit and a dedupe window
// before sending over the websocket.
func (c *LokutorChat) Post(ctx context.Context, chatID string, text string) (providers.PostResult, error) {
	if text == "" {
		return providers.PostResult{}, providers.NewFatal(c.Name(), fmt.Errorf("comment text is empty"))
	}
	if utf8.RuneCountInString(text) > 200 {
		return providers.PostResult{}, providers.NewFatal(c.Name(), fmt.Errorf("comment exceeds 200 characters"))
	}
	if c.isDuplicate(text) {
		return providers.PostResult{}, providers.NewFatal(c.Name(), fmt.Errorf("duplicate comment within dedupe window"))
	}

	resp, err := c.roundTrip(ctx, postRequest{Op: "post", ChatID: chatID, Text: text})
	if err != nil {
		return providers.PostResult{}, err
	}
	if resp.Error != "" {
		return providers.PostResult{}, providers.NewRetryable(c.Name(), fmt.Errorf("%s", resp.Error))
	}

	c.recordPost(text)
	return providers.PostResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// GetLiveChatID negotiates the chat-room handle for a broadcast.
func (c *LokutorChat) GetLiveChatID(ctx context.Context, broadcastID string) (string, error) {
	resp, err := c.roundTrip(ctx, postRequest{Op: "resolve_chat_id", Broadcast: broadcastID})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", providers.NewRetryable(c.Name(), fmt.Errorf("%s", resp.Error))
	}
	return resp.ChatID, nil
}

// GetRateLimitInfo reports the remote provider's own posting quota.
func (c *LokutorChat) GetRateLimitInfo(ctx context.Context) (providers.RateLimitInfo, error) {
	resp, err := c.roundTrip(ctx, postRequest{Op: "rate_limit_info"})
	if err != nil {
		return providers.RateLimitInfo{}, err
	}
	return providers.RateLimitInfo{Limit: resp.Limit, Remaining: resp.Remaining, ResetAt: resp.ResetAt}, nil
}

func (c *LokutorChat) roundTrip(ctx context.Context, req postRequest) (postResponse, error) {
	conn, err := c.getConn(ctx)
	if err != nil {
		return postResponse{}, providers.NewRetryable(c.Name(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wsjson.Write(ctx, conn, req); err != nil {
		c.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "write failed")
		return postResponse{}, providers.NewRetryable(c.Name(), fmt.Errorf("failed to send request: %w", err))
	}

	var resp postResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		c.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "read failed")
		return postResponse{}, providers.NewRetryable(c.Name(), fmt.Errorf("failed to read response: %w", err))
	}
	return resp, nil
}

func (c *LokutorChat) isDuplicate(text string) bool {
	c.dedupeMu.Lock()
	defer c.dedupeMu.Unlock()
	now := time.Now()
	for t, at := range c.recentPosts {
		if now.Sub(at) > c.dedupeWindow {
			delete(c.recentPosts, t)
		}
	}
	_, ok := c.recentPosts[text]
	return ok
}

func (c *LokutorChat) recordPost(text string) {
	c.dedupeMu.Lock()
	defer c.dedupeMu.Unlock()
	c.recentPosts[text] = time.Now()
}

// Close tears down the underlying connection, if any.
func (c *LokutorChat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
		return err
	}
	return nil
}
