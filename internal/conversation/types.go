package conversation

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single immutable exchange entry. Timestamp is epoch milliseconds.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func NewMessage(role Role, content string, at time.Time) Message {
	return Message{Role: role, Content: content, Timestamp: at.UnixMilli()}
}

// Store keeps the ordered message history of each conversation.
//
// Get never fails for unknown ids: it returns an empty, non-nil slice.
type Store interface {
	Append(ctx context.Context, conversationID string, msg Message) error
	Get(ctx context.Context, conversationID string) ([]Message, error)
	Create(ctx context.Context, conversationID string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewID returns a conversation id unique within the process, even for
// repeated calls by the same user in the same millisecond. The user part is
// reduced to [A-Za-z0-9_-] so the id is always a single URL path segment.
func NewID(userID string) string {
	userID = idUnsafe.ReplaceAllString(strings.TrimSpace(userID), "-")
	if userID == "" {
		userID = "anonymous"
	}
	return "conv_" + userID + "_" + uuid.Must(uuid.NewV7()).String()
}

var idUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Last returns the trailing limit messages; limit <= 0 keeps everything.
func Last(msgs []Message, limit int) []Message {
	if limit <= 0 || limit >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
