package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeJoin    MessageType = "join"
	TypeMessage MessageType = "message"
	TypeJoined  MessageType = "joined"
	TypeError   MessageType = "error"
)

// SenderBot marks replies produced by the relay.
const SenderBot = "bot"

// CloseSuperseded is the websocket close code sent to a channel replaced by a
// newer registration for the same user. Clients must not reconnect on it.
const CloseSuperseded = 4001

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// Join identifies the user behind a channel.
type Join struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

// ClientMessage is a chat message sent over the channel.
type ClientMessage struct {
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	UserRole       string      `json:"userRole,omitempty"`
	UserID         string      `json:"userId,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
}

// BotMessage carries a generated reply to the client.
type BotMessage struct {
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	Sender         string      `json:"sender"`
	Timestamp      int64       `json:"timestamp"`
	ConversationID string      `json:"conversationId,omitempty"`
}

// Joined acknowledges a join.
type Joined struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewBotMessage(content, conversationID string, ts int64) BotMessage {
	return BotMessage{
		Type:           TypeMessage,
		Content:        content,
		Sender:         SenderBot,
		Timestamp:      ts,
		ConversationID: conversationID,
	}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

// ParseClientMessage decodes a client->server frame into Join or ClientMessage.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoin:
		var msg Join
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.UserID = strings.TrimSpace(msg.UserID)
		if msg.UserID == "" {
			return nil, fmt.Errorf("%w: join requires userId", ErrInvalidMessage)
		}
		return msg, nil
	case TypeMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, fmt.Errorf("%w: message requires content", ErrInvalidMessage)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ServerEvent is the decoded form of any server->client frame.
type ServerEvent struct {
	Type           MessageType `json:"type"`
	Content        string      `json:"content,omitempty"`
	Sender         string      `json:"sender,omitempty"`
	Timestamp      int64       `json:"timestamp,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	UserID         string      `json:"userId,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// ParseServerEvent decodes a server->client frame.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("invalid envelope: %w", err)
	}
	switch ev.Type {
	case TypeMessage, TypeJoined, TypeError:
		return ev, nil
	default:
		return ServerEvent{}, ErrUnsupportedType
	}
}

// TypeOf returns the frame type of a protocol value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case Join:
		return m.Type, true
	case ClientMessage:
		return m.Type, true
	case BotMessage:
		return m.Type, true
	case Joined:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
