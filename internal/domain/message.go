package domain

import "time"

// MessageType classifies an IPC message.
type MessageType string

const (
	MsgTaskAssign   MessageType = "task_assign"
	MsgTaskProgress MessageType = "task_progress"
	MsgTaskComplete MessageType = "task_complete"
	MsgTaskFailed   MessageType = "task_failed"
	MsgTaskApproved MessageType = "task_approved"
	MsgStatusUpdate MessageType = "status_update"
	MsgRequest      MessageType = "request"
	MsgResponse     MessageType = "response"
	MsgBroadcast    MessageType = "broadcast"
	MsgSystem       MessageType = "system"
	MsgError        MessageType = "error"
)

// ParseMessageType validates a message type string.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case MsgTaskAssign, MsgTaskProgress, MsgTaskComplete, MsgTaskFailed,
		MsgTaskApproved, MsgStatusUpdate, MsgRequest, MsgResponse,
		MsgBroadcast, MsgSystem, MsgError:
		return MessageType(s), nil
	}
	return "", Validation("unknown message type " + s)
}

// MessagePriority is the delivery priority of an IPC message.
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
)

// Message is one IPC mailbox entry. Immutable once written except ReadAt.
type Message struct {
	ID          string          `json:"id" yaml:"id"`
	SenderID    string          `json:"sender_id" yaml:"sender_id"`
	ReceiverID  string          `json:"receiver_id" yaml:"receiver_id"`
	MessageType MessageType     `json:"message_type" yaml:"message_type"`
	Priority    MessagePriority `json:"priority" yaml:"priority"`
	Subject     string          `json:"subject,omitempty" yaml:"subject,omitempty"`
	Content     string          `json:"content" yaml:"-"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	ReadAt      *time.Time      `json:"read_at,omitempty" yaml:"read_at,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// TaskID returns the task id carried in metadata, or "".
func (m *Message) TaskID() string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata["task_id"].(string)
	return s
}

// ProgressValue returns the progress percentage carried in metadata, or -1.
func (m *Message) ProgressValue() int {
	if m.Metadata == nil {
		return -1
	}
	switch v := m.Metadata["progress"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return -1
}
