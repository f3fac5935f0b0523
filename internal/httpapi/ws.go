package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/garagechat/internal/observability"
	"github.com/ent0n29/garagechat/internal/policy"
	"github.com/ent0n29/garagechat/internal/protocol"
	"github.com/ent0n29/garagechat/internal/relay"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 25 * time.Second
	wsReadLimit    = 64 << 10
	wsCloseGrace   = time.Second
)

var (
	errChannelClosed = errors.New("channel closed")
	errQueueFull     = errors.New("outbound queue full")
)

// wsChannel is a registry.Channel backed by one websocket connection. Send
// never blocks; a single writer goroutine owns all writes.
type wsChannel struct {
	conn     *websocket.Conn
	outbound chan any
	done     chan struct{}
	metrics  *observability.Metrics

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newWSChannel(conn *websocket.Conn, buffer int, metrics *observability.Metrics) *wsChannel {
	return &wsChannel{
		conn:     conn,
		outbound: make(chan any, buffer),
		done:     make(chan struct{}),
		metrics:  metrics,
	}
}

func (c *wsChannel) Send(event any) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}
	select {
	case c.outbound <- event:
		return nil
	default:
		c.metrics.WSDropped.Inc()
		return errQueueFull
	}
}

// Close asks the writer to send a close frame with code and stop.
func (c *wsChannel) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

func (c *wsChannel) writeLoop(log *zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
			// Unblock the reader if the peer never answers the close frame.
			time.AfterFunc(wsCloseGrace, func() { _ = c.conn.Close() })
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Debug().Err(err).Msg("ws ping failed")
				_ = c.conn.Close()
				return
			}
		case msg := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				_ = c.conn.Close()
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				c.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := zerolog.Ctx(r.Context()).With().Str("remote", r.RemoteAddr).Logger()
	ctx, cancel := context.WithCancel(log.WithContext(r.Context()))
	defer cancel()

	ch := newWSChannel(conn, s.cfg.WSOutboundBuffer, s.metrics)
	if !s.track(ch) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		return
	}
	defer s.untrack(ch)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ch.writeLoop(&log)
	}()

	inbound := make(chan any, s.cfg.WSOutboundBuffer)
	var userID string
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		userID = s.processInbound(ctx, ch, inbound)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	log.Debug().Msg("ws connected")

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, protocol.CloseSuperseded) {
				log.Debug().Err(err).Msg("ws read ended")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			log.Warn().Err(err).Str("frame", policy.Redacted(truncate(string(data), 256))).Msg("malformed ws frame")
			s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			_ = ch.Send(protocol.NewErrorEvent("Invalid message format"))
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-procDone
	if userID != "" {
		s.relay.Registry().Unregister(userID, ch)
	}
	_ = ch.Close(websocket.CloseNormalClosure, "")
	<-writerDone
	log.Debug().Str("user_id", userID).Msg("ws disconnected")
}

// track adds ch to the live set unless the server is shutting down.
func (s *Server) track(ch *wsChannel) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[ch] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(ch *wsChannel) {
	s.connMu.Lock()
	delete(s.conns, ch)
	s.connMu.Unlock()
	s.handlers.Done()
}

// CloseConnections sends 1001 to every websocket, joined or not, and refuses
// new ones. It does not wait; pair it with WaitConnections.
func (s *Server) CloseConnections() {
	s.connMu.Lock()
	s.closing = true
	live := make([]*wsChannel, 0, len(s.conns))
	for ch := range s.conns {
		live = append(live, ch)
	}
	s.connMu.Unlock()

	for _, ch := range live {
		_ = ch.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// WaitConnections blocks until every websocket handler has returned or ctx ends.
func (s *Server) WaitConnections(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processInbound handles events in arrival order and returns the joined user id.
func (s *Server) processInbound(ctx context.Context, ch *wsChannel, inbound <-chan any) string {
	log := zerolog.Ctx(ctx)
	reg := s.relay.Registry()
	var userID string

	for ev := range inbound {
		if ctx.Err() != nil {
			continue
		}
		switch m := ev.(type) {
		case protocol.Join:
			if userID != "" && userID != m.UserID {
				reg.Unregister(userID, ch)
			}
			userID = m.UserID
			if prev := reg.Register(userID, ch); prev != nil {
				log.Info().Str("user_id", userID).Msg("superseding previous connection")
				_ = prev.Close(protocol.CloseSuperseded, "superseded")
			}
			_ = ch.Send(protocol.Joined{Type: protocol.TypeJoined, UserID: userID})
			log.Info().Str("user_id", userID).Msg("user joined")

		case protocol.ClientMessage:
			uid := strings.TrimSpace(m.UserID)
			if uid == "" {
				uid = userID
			}
			_, err := s.relay.SendOverChannel(ctx, relay.SendRequest{
				Content:        m.Content,
				UserRole:       m.UserRole,
				UserID:         uid,
				ConversationID: m.ConversationID,
			}, ch)
			if err != nil {
				log.Error().Err(err).Str("user_id", uid).Msg("ws message failed")
				_ = ch.Send(protocol.NewErrorEvent("Failed to process message"))
			}
		}
	}
	return userID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
