package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/garagechat/internal/conversation"
	"github.com/ent0n29/garagechat/internal/observability"
	"github.com/ent0n29/garagechat/internal/policy"
	"github.com/ent0n29/garagechat/internal/protocol"
	"github.com/ent0n29/garagechat/internal/registry"
	"github.com/ent0n29/garagechat/internal/responder"
)

const (
	PathHTTP = "http"
	PathWS   = "ws"
)

var (
	// ErrStore marks failures of the conversation store.
	ErrStore        = errors.New("conversation store failure")
	ErrEmptyMessage = errors.New("message content is empty")
	ErrMissingID    = errors.New("conversation id is required")
)

// SendRequest is one user message entering the relay.
type SendRequest struct {
	Content        string
	UserRole       string
	UserID         string
	ConversationID string
	UserProfile    map[string]any
}

// Reply is the assistant answer to a SendRequest.
type Reply struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

type Conversation struct {
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

type Feedback struct {
	ConversationID string
	UserID         string
	Rating         int
	Comment        string
}

type Escalation struct {
	ConversationID string
	UserID         string
	Reason         string
	Urgency        string
}

type EscalationTicket struct {
	EscalationID string `json:"escalationId"`
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
}

type Health struct {
	Status               string    `json:"status"`
	Timestamp            time.Time `json:"timestamp"`
	ActiveConnections    int       `json:"activeConnections"`
	Conversations        int       `json:"conversations"`
	CompletionAPIEnabled bool      `json:"completionApiEnabled"`
	Store                string    `json:"store"`
}

// Service stores each exchange and routes replies to the caller and to the
// user's live channel.
type Service struct {
	store        conversation.Store
	registry     *registry.Registry
	generator    responder.Generator
	metrics      *observability.Metrics
	logger       zerolog.Logger
	storeBackend string
	now          func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStoreBackend sets the backend name reported by Health.
func WithStoreBackend(name string) Option {
	return func(s *Service) { s.storeBackend = name }
}

func NewService(
	store conversation.Store,
	reg *registry.Registry,
	generator responder.Generator,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:        store,
		registry:     reg,
		generator:    generator,
		metrics:      metrics,
		logger:       logger,
		storeBackend: "memory",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send handles a one-shot message. The reply is returned and also pushed to
// the user's registered channel, if there is one.
func (s *Service) Send(ctx context.Context, req SendRequest) (Reply, error) {
	reply, err := s.exchange(ctx, req, PathHTTP)
	if err != nil {
		return Reply{}, err
	}
	if ch, ok := s.registry.Lookup(strings.TrimSpace(req.UserID)); ok {
		s.push(ctx, ch, reply)
	}
	return reply, nil
}

// SendOverChannel handles a message that arrived on ch; the reply goes to ch only.
func (s *Service) SendOverChannel(ctx context.Context, req SendRequest, ch registry.Channel) (Reply, error) {
	reply, err := s.exchange(ctx, req, PathWS)
	if err != nil {
		return Reply{}, err
	}
	s.push(ctx, ch, reply)
	return reply, nil
}

func (s *Service) exchange(ctx context.Context, req SendRequest, path string) (Reply, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return Reply{}, ErrEmptyMessage
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = conversation.NewID(req.UserID)
	}
	log := s.log(ctx).With().Str("conversation_id", convID).Str("user_id", req.UserID).Str("path", path).Logger()
	log.Debug().Str("content", policy.Redacted(content)).Msg("user message")

	prior, err := s.store.Get(ctx, convID)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: load history: %w", ErrStore, err)
	}
	if err := s.store.Append(ctx, convID, conversation.NewMessage(conversation.RoleUser, content, s.now())); err != nil {
		return Reply{}, fmt.Errorf("%w: append user message: %w", ErrStore, err)
	}

	text := s.generator.Generate(log.WithContext(ctx), content, responder.Context{
		UserRole:      req.UserRole,
		UserProfile:   req.UserProfile,
		PriorMessages: prior,
	})

	at := s.now()
	// The reply exists even if the caller went away; record it regardless.
	if err := s.store.Append(context.WithoutCancel(ctx), convID, conversation.NewMessage(conversation.RoleAssistant, text, at)); err != nil {
		return Reply{}, fmt.Errorf("%w: append assistant reply: %w", ErrStore, err)
	}

	s.metrics.Messages.WithLabelValues(path).Inc()
	log.Info().Int("reply_len", len(text)).Msg("message relayed")

	return Reply{Message: text, ConversationID: convID, Timestamp: at.UnixMilli()}, nil
}

func (s *Service) push(ctx context.Context, ch registry.Channel, reply Reply) {
	if err := ch.Send(protocol.NewBotMessage(reply.Message, reply.ConversationID, reply.Timestamp)); err != nil {
		s.log(ctx).Warn().Err(err).Str("conversation_id", reply.ConversationID).Msg("reply push failed")
	}
}

// History returns the conversation, or its last limit messages when limit > 0.
// Unknown ids yield an empty slice.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	msgs, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: get conversation: %w", ErrStore, err)
	}
	return conversation.Last(msgs, limit), nil
}

func (s *Service) StartConversation(ctx context.Context, userID, userRole string) (Conversation, error) {
	id := conversation.NewID(userID)
	if err := s.store.Create(ctx, id); err != nil {
		return Conversation{}, fmt.Errorf("%w: create conversation: %w", ErrStore, err)
	}
	s.metrics.ConversationsStarted.Inc()
	s.log(ctx).Info().Str("conversation_id", id).Str("user_id", userID).Str("user_role", userRole).Msg("conversation started")
	return Conversation{ConversationID: id, Timestamp: s.now().UnixMilli()}, nil
}

// EndConversation acknowledges the end of a conversation. History is kept.
func (s *Service) EndConversation(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrMissingID
	}
	s.metrics.RelayEvents.WithLabelValues("ended").Inc()
	s.log(ctx).Info().Str("conversation_id", conversationID).Msg("conversation ended")
	return nil
}

func (s *Service) SubmitFeedback(ctx context.Context, fb Feedback) error {
	if strings.TrimSpace(fb.ConversationID) == "" {
		return ErrMissingID
	}
	s.metrics.RelayEvents.WithLabelValues("feedback").Inc()
	s.log(ctx).Info().
		Str("conversation_id", fb.ConversationID).
		Str("user_id", fb.UserID).
		Int("rating", fb.Rating).
		Str("comment", policy.Redacted(fb.Comment)).
		Msg("feedback received")
	return nil
}

func (s *Service) Escalate(ctx context.Context, esc Escalation) (EscalationTicket, error) {
	if strings.TrimSpace(esc.ConversationID) == "" {
		return EscalationTicket{}, ErrMissingID
	}
	ticket := EscalationTicket{
		EscalationID: "esc_" + uuid.NewString(),
		Status:       "pending",
		Timestamp:    s.now().UnixMilli(),
	}
	s.metrics.RelayEvents.WithLabelValues("escalated").Inc()
	s.log(ctx).Warn().
		Str("escalation_id", ticket.EscalationID).
		Str("conversation_id", esc.ConversationID).
		Str("user_id", esc.UserID).
		Str("urgency", esc.Urgency).
		Str("reason", policy.Redacted(esc.Reason)).
		Msg("conversation escalated")
	return ticket, nil
}

func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:            "ok",
		Timestamp:         s.now().UTC(),
		ActiveConnections: s.registry.Count(),
		Store:             s.storeBackend,
	}
	if e, ok := s.generator.(interface{ Enabled() bool }); ok {
		h.CompletionAPIEnabled = e.Enabled()
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		s.log(ctx).Error().Err(err).Msg("health: count conversations")
		h.Status = "degraded"
	}
	h.Conversations = n
	return h
}

// Connections lists the users holding a live channel.
func (s *Service) Connections() []registry.Connection {
	return s.registry.Snapshot()
}

// Registry exposes the connection registry to the transport layer.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
