package chatclient

// Message is one stored conversation entry.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Event is a frame received over the realtime channel.
type Event struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	Sender         string `json:"sender,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

type SendRequest struct {
	Content        string         `json:"content"`
	UserRole       string         `json:"userRole,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

type Reply struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

type Feedback struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment,omitempty"`
}

type Escalation struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Urgency        string `json:"urgency,omitempty"`
}

type EscalationTicket struct {
	EscalationID string `json:"escalationId"`
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
}
