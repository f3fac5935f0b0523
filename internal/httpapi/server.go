package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ent0n29/garagechat/internal/config"
	"github.com/ent0n29/garagechat/internal/conversation"
	"github.com/ent0n29/garagechat/internal/observability"
	"github.com/ent0n29/garagechat/internal/registry"
	"github.com/ent0n29/garagechat/internal/relay"
)

type Server struct {
	cfg      config.Config
	relay    *relay.Service
	metrics  *observability.Metrics
	logger   zerolog.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader

	connMu   sync.Mutex
	conns    map[*wsChannel]struct{}
	closing  bool
	handlers sync.WaitGroup
}

func New(cfg config.Config, svc *relay.Service, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	if cfg.WSOutboundBuffer <= 0 {
		cfg.WSOutboundBuffer = 64
	}
	s := &Server{
		cfg:      cfg,
		relay:    svc,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		conns:    make(map[*wsChannel]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.AccessLog(s.logger))
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/ws", s.handleWS)
	r.Get("/debug/connections", s.handleConnections)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/message", s.handleSendMessage)
		r.Post("/conversation", s.handleStartConversation)
		r.Get("/conversation/{id}", s.handleGetConversation)
		r.Post("/conversation/{id}/end", s.handleEndConversation)
		r.Post("/feedback", s.handleFeedback)
		r.Post("/escalate", s.handleEscalate)
	})

	return r
}

type messageContext struct {
	UserRole    string         `json:"userRole"`
	UserProfile map[string]any `json:"userProfile"`
}

type sendMessageRequest struct {
	Content        string          `json:"content" validate:"required"`
	UserRole       string          `json:"userRole"`
	UserID         string          `json:"userId"`
	ConversationID string          `json:"conversationId"`
	Context        *messageContext `json:"context"`
}

type startConversationRequest struct {
	UserID   string `json:"userId"`
	UserRole string `json:"userRole"`
}

type feedbackRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId"`
	Rating         int    `json:"rating" validate:"min=1,max=5"`
	Comment        string `json:"comment" validate:"max=2000"`
}

type escalateRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId"`
	Reason         string `json:"reason" validate:"max=2000"`
	Urgency        string `json:"urgency" validate:"omitempty,oneof=low medium high critical"`
}

type conversationResponse struct {
	Messages       []conversation.Message `json:"messages"`
	ConversationID string                 `json:"conversationId"`
}

type successResponse struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.relay.Health(r.Context()))
}

type connectionsResponse struct {
	Count       int                   `json:"count"`
	Connections []registry.Connection `json:"connections"`
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.relay.Connections()
	respondJSON(w, http.StatusOK, connectionsResponse{Count: len(conns), Connections: conns})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}

	role := req.UserRole
	var profile map[string]any
	if req.Context != nil {
		if role == "" {
			role = req.Context.UserRole
		}
		profile = req.Context.UserProfile
	}

	reply, err := s.relay.Send(r.Context(), relay.SendRequest{
		Content:        req.Content,
		UserRole:       role,
		UserID:         strings.TrimSpace(req.UserID),
		ConversationID: req.ConversationID,
		UserProfile:    profile,
	})
	if err != nil {
		s.respondRelayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if !s.decodeAndValidate(w, r, &req, true) {
		return
	}
	conv, err := s.relay.StartConversation(r.Context(), strings.TrimSpace(req.UserID), req.UserRole)
	if err != nil {
		s.respondRelayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := s.relay.History(r.Context(), id, limit)
	if err != nil {
		s.respondRelayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conversationResponse{Messages: msgs, ConversationID: id})
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.relay.EndConversation(r.Context(), id); err != nil {
		s.respondRelayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true, ConversationID: id})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	err := s.relay.SubmitFeedback(r.Context(), relay.Feedback{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Rating:         req.Rating,
		Comment:        req.Comment,
	})
	if err != nil {
		s.respondRelayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	ticket, err := s.relay.Escalate(r.Context(), relay.Escalation{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Reason:         req.Reason,
		Urgency:        req.Urgency,
	})
	if err != nil {
		s.respondRelayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ticket)
}

// decodeAndValidate writes a 400 and returns false when the body is unusable.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, out any, allowEmpty bool) bool {
	if err := decodeJSON(r, out); err != nil {
		if !errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return false
		}
		if !allowEmpty {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return false
		}
	}
	if err := s.validate.Struct(out); err != nil {
		respondError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	return strings.Join(lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			return field + " is required"
		case "min", "max":
			return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
		default:
			return field + " is invalid"
		}
	}), "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (s *Server) respondRelayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, relay.ErrEmptyMessage), errors.Is(err, relay.ErrMissingID):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, relay.ErrStore):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("store failure")
		respondError(w, http.StatusInternalServerError, "store_error", "Conversation store unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func (s *Server) allowedOrigins() []string {
	origin := strings.TrimRight(strings.TrimSpace(s.cfg.FrontendURL), "/")
	if origin == "" || origin == "*" {
		return []string{"*"}
	}
	return []string{origin}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients often omit Origin.
		return true
	}
	allowed := s.allowedOrigins()
	if allowed[0] == "*" || strings.EqualFold(strings.TrimRight(origin, "/"), allowed[0]) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
