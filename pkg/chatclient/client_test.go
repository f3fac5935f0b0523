package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/garagechat/internal/config"
	"github.com/ent0n29/garagechat/internal/conversation"
	"github.com/ent0n29/garagechat/internal/httpapi"
	"github.com/ent0n29/garagechat/internal/logging"
	"github.com/ent0n29/garagechat/internal/observability"
	"github.com/ent0n29/garagechat/internal/registry"
	"github.com/ent0n29/garagechat/internal/relay"
	"github.com/ent0n29/garagechat/internal/responder"
)

func fastPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: attempts}
}

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()
	metrics := observability.NewMetrics("test_chatclient")
	svc := relay.NewService(conversation.NewInMemoryStore(), registry.New(), responder.NewKeywordResponder(nil), metrics, logging.Nop())
	api := httpapi.New(config.Config{FrontendURL: "*", WSOutboundBuffer: 16}, svc, metrics, logging.Nop())
	ts := httptest.NewServer(api.Router())
	t.Cleanup(ts.Close)
	return ts
}

func clientFor(ts *httptest.Server, opts ...Option) *Client {
	return New(Config{
		APIURL: ts.URL,
		WSURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		APIKey: "client-key",
	}, opts...)
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestReconnectStopsAfterBudget(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	var states []bool
	var mu sync.Mutex
	c := clientFor(ts, WithReconnectPolicy(fastPolicy(3)))
	require.NoError(t, c.Connect(context.Background(), "u1", nil, func(up bool) {
		mu.Lock()
		states = append(states, up)
		mu.Unlock()
	}))

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect loop did not give up")
	}
	assert.EqualValues(t, 3, hits.Load())
	assert.ErrorIs(t, c.Err(), ErrReconnectExhausted)
	assert.False(t, c.Connected())
	assert.Empty(t, states)
}

func TestRealtimeRoundTrip(t *testing.T) {
	ts := newRelayServer(t)
	sink := &eventSink{}
	c := clientFor(ts, WithReconnectPolicy(fastPolicy(3)))

	assert.False(t, c.SendRealtime("hello", "vehicle-owner", "c1"))

	require.NoError(t, c.Connect(context.Background(), "u1", sink.add, nil))
	t.Cleanup(c.Disconnect)
	require.Eventually(t, c.Connected, 5*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, c.Connect(context.Background(), "u1", nil, nil), ErrAlreadyConnected)

	require.True(t, c.SendRealtime("I need help, my car broke down", "vehicle-owner", "c1"))
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 5*time.Second, 5*time.Millisecond)
	ev := sink.snapshot()[0]
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "bot", ev.Sender)
	assert.Equal(t, responder.EmergencyReply, ev.Content)

	// One-shot sends for a connected user arrive on both paths.
	reply, err := c.Send(context.Background(), SendRequest{Content: "book a service", UserID: "u1", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, responder.BookingReply, reply.Message)
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, reply.Message, sink.snapshot()[1].Content)

	history := c.History(context.Background(), "c1", 0)
	require.Len(t, history, 4)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Len(t, c.History(context.Background(), "c1", 1), 1)

	c.Disconnect()
	assert.False(t, c.Connected())
	assert.NoError(t, c.Err())
}

func TestSupersededClientStopsReconnecting(t *testing.T) {
	ts := newRelayServer(t)

	first := clientFor(ts, WithReconnectPolicy(fastPolicy(5)))
	require.NoError(t, first.Connect(context.Background(), "u1", nil, nil))
	t.Cleanup(first.Disconnect)
	require.Eventually(t, first.Connected, 5*time.Second, 5*time.Millisecond)

	second := clientFor(ts, WithReconnectPolicy(fastPolicy(5)))
	require.NoError(t, second.Connect(context.Background(), "u1", nil, nil))
	t.Cleanup(second.Disconnect)

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("superseded client kept running")
	}
	assert.ErrorIs(t, first.Err(), ErrSuperseded)
	assert.Eventually(t, second.Connected, 5*time.Second, 5*time.Millisecond)
}

func TestOneShotWrappers(t *testing.T) {
	ts := newRelayServer(t)
	c := clientFor(ts)
	ctx := context.Background()

	id, err := c.StartConversation(ctx, "u1", "garage-partner")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "conv_u1_"))

	assert.Empty(t, c.History(ctx, id, 0))
	assert.True(t, c.SubmitFeedback(ctx, Feedback{ConversationID: id, Rating: 5}))
	assert.False(t, c.SubmitFeedback(ctx, Feedback{ConversationID: id, Rating: 9}))
	assert.True(t, c.EndConversation(ctx, id))

	ticket, err := c.Escalate(ctx, Escalation{ConversationID: id, Reason: "engine smoke", Urgency: "critical"})
	require.NoError(t, err)
	assert.Equal(t, "pending", ticket.Status)
}

func TestConversationIDRoutesForAnyUserID(t *testing.T) {
	ts := newRelayServer(t)
	c := clientFor(ts)
	ctx := context.Background()

	id, err := c.StartConversation(ctx, "fleet/42 ?#", "vehicle-owner")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "conv_fleet-42-_"), id)

	_, err = c.Send(ctx, SendRequest{Content: "book a slot", UserID: "fleet/42 ?#", ConversationID: id})
	require.NoError(t, err)

	hist := c.History(ctx, id, 0)
	require.Len(t, hist, 2)
	assert.Equal(t, "book a slot", hist[0].Content)
	assert.True(t, c.EndConversation(ctx, id))
}

func TestOneShotFailureRules(t *testing.T) {
	var auth atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error","code":"internal_error"}`))
	}))
	defer ts.Close()
	c := clientFor(ts)
	ctx := context.Background()

	history := c.History(ctx, "c1", 0)
	assert.NotNil(t, history)
	assert.Empty(t, history)
	assert.Equal(t, "Bearer client-key", auth.Load())

	_, err := c.StartConversation(ctx, "u1", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "internal_error", apiErr.Code)

	_, err = c.Escalate(ctx, Escalation{ConversationID: "c1"})
	assert.Error(t, err)

	_, err = c.Send(ctx, SendRequest{Content: "hi"})
	assert.Error(t, err)

	assert.False(t, c.EndConversation(ctx, "c1"))
	assert.False(t, c.SubmitFeedback(ctx, Feedback{ConversationID: "c1", Rating: 3}))
}

func TestTransportFailureIsSwallowedOrPropagated(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(Config{APIURL: url, WSURL: "ws://127.0.0.1:1/ws"})
	ctx := context.Background()
	assert.Empty(t, c.History(ctx, "c1", 0))
	assert.False(t, c.EndConversation(ctx, "c1"))
	_, err := c.StartConversation(ctx, "u1", "")
	assert.Error(t, err)
}
