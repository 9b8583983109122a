package conversation

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a conversation.
//
// RawContent is the text as written by the user or streamed by the model,
// Content is its rendering-ready form. Both are kept in sync by whoever
// mutates the message (the session manager or the stream aggregator).
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	RawContent   string    `json:"rawContent"`
	QuestionCode string    `json:"questionCode,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Done         bool      `json:"done"`
	IsError      bool      `json:"isError,omitempty"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		if id != "" {
			m.ID = id
		}
	}
}

func WithQuestionCode(code string) MessageOption {
	return func(m *Message) {
		m.QuestionCode = code
	}
}

func WithContent(content string) MessageOption {
	return func(m *Message) {
		m.Content = content
	}
}

func WithCreatedAt(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
	}
}

// Pending marks the message as not done, which is how streaming placeholders start.
func Pending() MessageOption {
	return func(m *Message) {
		m.Done = false
	}
}

// NewMessage creates a finished message whose rendering-ready content equals
// its raw content unless overridden by an option.
func NewMessage(role Role, raw string, options ...MessageOption) *Message {
	ret := &Message{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    raw,
		RawContent: raw,
		CreatedAt:  time.Now(),
		Done:       true,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// NewPlaceholder creates the empty assistant message a generation streams into.
func NewPlaceholder(id string) *Message {
	return NewMessage(RoleAssistant, "", WithID(id), Pending())
}
