package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/garagechat/internal/conversation"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveGenerate(source, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, source+"/"+outcome)
}

func TestKeywordReplyRuleOrder(t *testing.T) {
	cases := map[string]string{
		"I need help, my car broke down":          EmergencyReply,
		"EMERGENCY on the highway":                EmergencyReply,
		"can I book a service? I need help":       EmergencyReply,
		"please schedule an oil change":           BookingReply,
		"I want to Book a slot":                   BookingReply,
		"what are your opening hours":             GreetingReply,
		"":                                        GreetingReply,
		"my booking got cancelled, this is awful": BookingReply,
	}
	for msg, want := range cases {
		assert.Equal(t, want, KeywordReply(msg), "message %q", msg)
	}
}

func TestSystemPromptDefaultsToVehicleOwner(t *testing.T) {
	assert.Equal(t, rolePrompts[RoleVehicleOwner], SystemPrompt(""))
	assert.Equal(t, rolePrompts[RoleVehicleOwner], SystemPrompt("mechanic"))
	assert.Equal(t, rolePrompts[RoleInsurance], SystemPrompt(" Insurance "))
	assert.NotEqual(t, SystemPrompt(RoleAdmin), SystemPrompt(RoleGaragePartner))
}

func newCompletionServer(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompletionGeneratorSendsRolePromptAndHistory(t *testing.T) {
	var got chatRequest
	srv := newCompletionServer(t, func(w http.ResponseWriter, req chatRequest) {
		got = req
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Brake pads usually take an hour. "}}]}`))
	})

	g := NewCompletionGenerator(CompletionConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Temperature: 0.7})
	prior := []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "hi", time.Now()),
		conversation.NewMessage(conversation.RoleAssistant, "hello", time.Now()),
	}
	text, err := g.Complete(context.Background(), "how long for brake pads?", Context{
		UserRole:      RoleGaragePartner,
		UserProfile:   map[string]any{"name": "Ada"},
		PriorMessages: prior,
	})
	require.NoError(t, err)
	assert.Equal(t, "Brake pads usually take an hour.", text)

	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, rolePrompts[RoleGaragePartner])
	assert.Contains(t, got.Messages[0].Content, `"name":"Ada"`)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, chatMessage{Role: "user", Content: "how long for brake pads?"}, got.Messages[3])
}

func TestCompletionGeneratorErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := newCompletionServer(t, func(w http.ResponseWriter, _ chatRequest) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		})
		g := NewCompletionGenerator(CompletionConfig{APIKey: "sk-test", BaseURL: srv.URL})
		_, err := g.Complete(context.Background(), "x", Context{})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
		assert.True(t, statusErr.Retryable())
	})

	t.Run("malformed", func(t *testing.T) {
		srv := newCompletionServer(t, func(w http.ResponseWriter, _ chatRequest) {
			_, _ = w.Write([]byte(`{not json`))
		})
		g := NewCompletionGenerator(CompletionConfig{APIKey: "sk-test", BaseURL: srv.URL})
		_, err := g.Complete(context.Background(), "x", Context{})
		require.Error(t, err)
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := newCompletionServer(t, func(w http.ResponseWriter, _ chatRequest) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		})
		g := NewCompletionGenerator(CompletionConfig{APIKey: "sk-test", BaseURL: srv.URL})
		_, err := g.Complete(context.Background(), "x", Context{})
		require.Error(t, err)
	})
}

type errCompleter struct{ err error }

func (c errCompleter) Complete(context.Context, string, Context) (string, error) {
	return "", c.err
}

type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, _ string, _ Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type okCompleter struct{ text string }

func (c okCompleter) Complete(context.Context, string, Context) (string, error) {
	return c.text, nil
}

func TestFallbackGeneratorUsesPrimaryWhenHealthy(t *testing.T) {
	obs := &recordingObserver{}
	g := NewFallbackGenerator(okCompleter{text: "from api"}, NewKeywordResponder(nil), time.Second, obs)
	assert.Equal(t, "from api", g.Generate(context.Background(), "help", Context{}))
	assert.Equal(t, []string{"completion/ok"}, obs.calls)
}

func TestFallbackGeneratorFallsBackOnError(t *testing.T) {
	obs := &recordingObserver{}
	g := NewFallbackGenerator(errCompleter{err: errors.New("boom")}, NewKeywordResponder(nil), time.Second, obs)
	assert.Equal(t, BookingReply, g.Generate(context.Background(), "book me in", Context{}))
	assert.Equal(t, []string{"fallback/error"}, obs.calls)
}

func TestFallbackGeneratorFallsBackOnTimeout(t *testing.T) {
	obs := &recordingObserver{}
	g := NewFallbackGenerator(blockingCompleter{}, NewKeywordResponder(nil), 20*time.Millisecond, obs)

	started := time.Now()
	reply := g.Generate(context.Background(), "I need help, my car broke down", Context{})
	assert.Equal(t, EmergencyReply, reply)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, []string{"fallback/timeout"}, obs.calls)
}

func TestFallbackGeneratorRepliesAfterCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewFallbackGenerator(blockingCompleter{}, NewKeywordResponder(nil), time.Second, nil)
	assert.Equal(t, GreetingReply, g.Generate(ctx, "hello", Context{}))
}

func TestFallbackGeneratorAgainstFailingServer(t *testing.T) {
	srv := newCompletionServer(t, func(w http.ResponseWriter, _ chatRequest) {
		w.WriteHeader(http.StatusBadGateway)
	})
	g := NewFallbackGenerator(
		NewCompletionGenerator(CompletionConfig{APIKey: "sk-test", BaseURL: srv.URL}),
		NewKeywordResponder(nil), time.Second, nil,
	)
	assert.Equal(t, EmergencyReply, g.Generate(context.Background(), "emergency!", Context{}))
}

func TestNewModes(t *testing.T) {
	r, err := New(Config{Mode: "auto"}, nil)
	require.NoError(t, err)
	assert.False(t, r.Enabled())
	assert.Equal(t, EmergencyReply, r.Generate(context.Background(), "help", Context{}))

	r, err = New(Config{Mode: "auto", APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	assert.True(t, r.Enabled())

	r, err = New(Config{Mode: "keyword", APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.False(t, r.Enabled())

	_, err = New(Config{Mode: "completion"}, nil)
	require.Error(t, err)

	_, err = New(Config{Mode: "psychic"}, nil)
	require.Error(t, err)
}

func TestKeywordResponderObserves(t *testing.T) {
	obs := &recordingObserver{}
	k := NewKeywordResponder(obs)
	_ = k.Generate(context.Background(), "hi", Context{})
	assert.Equal(t, []string{"keyword/ok"}, obs.calls)
}
