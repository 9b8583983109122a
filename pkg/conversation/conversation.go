// Package conversation holds the in-memory data model of the chat engine:
// conversations, their ordered messages and the cached token budget.
//
// Conversations are owned by the session manager. Everything handed out to the
// UI goes through Snapshot so that the engine's state is never aliased.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

type Verbosity string

const (
	VerbosityCode    Verbosity = "code"
	VerbosityConcise Verbosity = "concise"
	VerbosityNormal  Verbosity = "normal"
	VerbosityFull    Verbosity = "full"
)

var ErrUnknownVerbosity = errors.New("unknown verbosity")

func ParseVerbosity(s string) (Verbosity, error) {
	switch v := Verbosity(strings.ToLower(strings.TrimSpace(s))); v {
	case VerbosityCode, VerbosityConcise, VerbosityNormal, VerbosityFull:
		return v, nil
	case "":
		return VerbosityNormal, nil
	default:
		return "", errors.Wrapf(ErrUnknownVerbosity, "%q", s)
	}
}

// TokenCount is the cached budget snapshot shown next to the input field.
type TokenCount struct {
	Messages  int `json:"messages"`
	UserInput int `json:"userInput"`
	MinTotal  int `json:"minTotal"`
	MaxTotal  int `json:"maxTotal"`
}

type Conversation struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Model      string     `json:"model"`
	Verbosity  Verbosity  `json:"verbosity"`
	Messages   []*Message `json:"messages"`
	InProgress bool       `json:"inProgress"`
	Autoscroll bool       `json:"autoscroll"`
	TokenCount TokenCount `json:"tokenCount"`
	UserInput  string     `json:"userInput"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type Option func(*Conversation)

func WithConversationID(id string) Option {
	return func(c *Conversation) {
		if id != "" {
			c.ID = id
		}
	}
}

func WithTitle(title string) Option {
	return func(c *Conversation) {
		c.Title = title
	}
}

func WithModel(model string) Option {
	return func(c *Conversation) {
		c.Model = model
	}
}

func WithVerbosity(v Verbosity) Option {
	return func(c *Conversation) {
		c.Verbosity = v
	}
}

func WithMessages(msgs ...*Message) Option {
	return func(c *Conversation) {
		c.Messages = append(c.Messages, msgs...)
	}
}

func New(options ...Option) *Conversation {
	ret := &Conversation{
		ID:         uuid.NewString(),
		Verbosity:  VerbosityNormal,
		Autoscroll: true,
		CreatedAt:  time.Now(),
	}
	for _, o := range options {
		o(ret)
	}
	if ret.Title == "" {
		ret.Title = fmt.Sprintf("Chat %s", ret.CreatedAt.Format("2006-01-02 15:04"))
	}
	return ret
}

func (c *Conversation) Append(msgs ...*Message) {
	c.Messages = append(c.Messages, msgs...)
}

func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// FindMessage returns the message with the given id and its index.
func (c *Conversation) FindMessage(id string) (*Message, int, bool) {
	if id == "" {
		return nil, -1, false
	}
	for i, m := range c.Messages {
		if m.ID == id {
			return m, i, true
		}
	}
	return nil, -1, false
}

// LastMessage returns the last message with the given role.
func (c *Conversation) LastMessage(role Role) (*Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == role {
			return c.Messages[i], true
		}
	}
	return nil, false
}

// EnsureSystemMessage inserts the system message at the head of an empty
// conversation. It reports whether a message was added.
func (c *Conversation) EnsureSystemMessage(text string) bool {
	if !c.IsEmpty() {
		return false
	}
	c.Messages = append(c.Messages, NewMessage(RoleSystem, text))
	return true
}

// ReplaceFrom rewrites the message at index i with new content and drops every
// message after it. This is the edit-and-resend path: the answers that followed
// the old question no longer belong to the thread.
func (c *Conversation) ReplaceFrom(i int, raw string, options ...MessageOption) (*Message, error) {
	if i < 0 || i >= len(c.Messages) {
		return nil, errors.Errorf("message index %d out of range", i)
	}
	m := c.Messages[i]
	m.RawContent = raw
	m.Content = raw
	m.QuestionCode = ""
	m.CreatedAt = time.Now()
	for _, o := range options {
		o(m)
	}
	c.Messages = c.Messages[:i+1]
	return m, nil
}

// RemoveMessage deletes the message with the given id, if present.
func (c *Conversation) RemoveMessage(id string) bool {
	_, i, ok := c.FindMessage(id)
	if !ok {
		return false
	}
	c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
	return true
}

// Clear drops all messages and the cached token budget.
func (c *Conversation) Clear() {
	c.Messages = nil
	c.TokenCount = TokenCount{}
}

// Snapshot returns a deep copy that can be handed to the UI.
func (c *Conversation) Snapshot() *Conversation {
	return clone.Clone(c).(*Conversation)
}

// SnapshotMessages returns a deep copy of the message list.
func (c *Conversation) SnapshotMessages() []*Message {
	if len(c.Messages) == 0 {
		return []*Message{}
	}
	return clone.Clone(c.Messages).([]*Message)
}
