// Package chatclient talks to the chat relay over one-shot HTTP requests and
// a reconnecting realtime channel.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/garagechat/internal/protocol"
	"github.com/ent0n29/garagechat/internal/reliability"
)

var (
	ErrNotConnected       = errors.New("realtime channel not connected")
	ErrAlreadyConnected   = errors.New("realtime channel already started")
	ErrSuperseded         = errors.New("connection superseded by a newer one")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ReconnectPolicy bounds reconnect backoff.
type ReconnectPolicy = reliability.ReconnectPolicy

// DefaultReconnectPolicy waits 1s, doubling up to 30s, for at most 5 attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return reliability.DefaultReconnectPolicy()
}

type Config struct {
	APIURL string
	WSURL  string
	APIKey string
}

// APIError is a non-2xx answer from the relay.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("relay status %d", e.Status)
}

type (
	EventHandler      func(Event)
	ConnectionHandler func(connected bool)
)

type Client struct {
	apiURL string
	wsURL  string
	apiKey string

	http   *http.Client
	dialer *websocket.Dialer
	policy ReconnectPolicy
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	userID  string
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	writeMu sync.Mutex
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		apiURL: strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		wsURL:  strings.TrimSpace(cfg.WSURL),
		apiKey: strings.TrimSpace(cfg.APIKey),
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		policy: DefaultReconnectPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts the realtime channel for userID in the background. It
// reconnects after drops and gives up after the policy's attempt budget,
// or immediately when the server supersedes the connection.
func (c *Client) Connect(ctx context.Context, userID string, onEvent EventHandler, onConnectionChange ConnectionHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		select {
		case <-c.done:
		default:
			return ErrAlreadyConnected
		}
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	if onConnectionChange == nil {
		onConnectionChange = func(bool) {}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.userID = strings.TrimSpace(userID)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.lastErr = nil

	go c.run(runCtx, onEvent, onConnectionChange)
	return nil
}

func (c *Client) run(ctx context.Context, onEvent EventHandler, onConnectionChange ConnectionHandler) {
	defer close(c.done)

	failures := 0
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			failures = 0
			code := c.serve(ctx, conn, onEvent, onConnectionChange)
			if ctx.Err() != nil {
				return
			}
			if code == protocol.CloseSuperseded {
				c.logger.Warn().Msg("realtime channel superseded, not reconnecting")
				c.setErr(ErrSuperseded)
				return
			}
		} else {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.logger.Warn().Err(err).Int("attempt", failures).Msg("realtime dial failed")
			if c.policy.Exhausted(failures) {
				c.setErr(fmt.Errorf("%w: %v", ErrReconnectExhausted, err))
				return
			}
		}

		delay := c.policy.Delay(failures)
		c.logger.Debug().Dur("delay", delay).Msg("reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	conn, res, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	return conn, err
}

// serve joins, reads until the connection ends and returns the close code.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, onEvent EventHandler, onConnectionChange ConnectionHandler) int {
	stop := context.AfterFunc(ctx, func() {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	if err := c.writeJSON(conn, protocol.Join{Type: protocol.TypeJoin, UserID: userID}); err != nil {
		c.logger.Warn().Err(err).Msg("join failed")
		return 0
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	onConnectionChange(true)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		onConnectionChange(false)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code
			}
			return 0
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("ignoring server frame")
			continue
		}
		if ev.Type == protocol.TypeJoined {
			continue
		}
		onEvent(Event{
			Type:           string(ev.Type),
			Content:        ev.Content,
			Sender:         ev.Sender,
			Timestamp:      ev.Timestamp,
			ConversationID: ev.ConversationID,
			Message:        ev.Message,
		})
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Connected reports whether the realtime channel is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Done is closed once the realtime loop stops for good.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Err explains why the realtime loop stopped; nil after Disconnect.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SendRealtime writes msg on the open channel. Nothing is queued: it returns
// false when the channel is down.
func (c *Client) SendRealtime(content, userRole, conversationID string) bool {
	c.mu.Lock()
	conn, userID := c.conn, c.userID
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	err := c.writeJSON(conn, protocol.ClientMessage{
		Type:           protocol.TypeMessage,
		Content:        content,
		UserRole:       userRole,
		UserID:         userID,
		ConversationID: conversationID,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("realtime send failed")
		return false
	}
	return true
}

// Disconnect stops reconnecting and closes the channel.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Send posts a one-shot message and returns the reply.
func (c *Client) Send(ctx context.Context, req SendRequest) (Reply, error) {
	var out Reply
	if err := c.doJSON(ctx, http.MethodPost, "/chat/message", req, &out); err != nil {
		return Reply{}, err
	}
	return out, nil
}

// History returns the conversation, or its last limit messages. Failures
// yield an empty slice.
func (c *Client) History(ctx context.Context, conversationID string, limit int) []Message {
	path := "/chat/conversation/" + url.PathEscape(conversationID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		c.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("history fetch failed")
		return []Message{}
	}
	if out.Messages == nil {
		return []Message{}
	}
	return out.Messages
}

func (c *Client) StartConversation(ctx context.Context, userID, userRole string) (string, error) {
	var out struct {
		ConversationID string `json:"conversationId"`
	}
	body := map[string]string{"userId": userID, "userRole": userRole}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/conversation", body, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

func (c *Client) EndConversation(ctx context.Context, conversationID string) bool {
	var out struct {
		Success bool `json:"success"`
	}
	path := "/chat/conversation/" + url.PathEscape(conversationID) + "/end"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		c.logger.Warn().Err(err).Msg("end conversation failed")
		return false
	}
	return out.Success
}

func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) bool {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/feedback", fb, &out); err != nil {
		c.logger.Warn().Err(err).Msg("feedback failed")
		return false
	}
	return out.Success
}

func (c *Client) Escalate(ctx context.Context, esc Escalation) (EscalationTicket, error) {
	var out EscalationTicket
	if err := c.doJSON(ctx, http.MethodPost, "/chat/escalate", esc, &out); err != nil {
		return EscalationTicket{}, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := &APIError{Status: res.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(io.LimitReader(res.Body, 4<<10)).Decode(&payload) == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
