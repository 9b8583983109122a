package conversation

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
)

// Set is the active-conversation set. It is not safe for concurrent use; the
// session manager serializes access to it.
type Set struct {
	conversations map[string]*Conversation
}

func NewSet() *Set {
	return &Set{
		conversations: map[string]*Conversation{},
	}
}

func (s *Set) Add(c *Conversation) error {
	if c == nil {
		return errors.New("conversation is nil")
	}
	if _, ok := s.conversations[c.ID]; ok {
		return errors.Wrap(ErrConversationExists, c.ID)
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *Set) Get(id string) (*Conversation, error) {
	c, ok := s.conversations[id]
	if !ok {
		return nil, errors.Wrapf(ErrConversationNotFound, "id %q", id)
	}
	return c, nil
}

func (s *Set) Remove(id string) (*Conversation, bool) {
	c, ok := s.conversations[id]
	if ok {
		delete(s.conversations, id)
	}
	return c, ok
}

func (s *Set) Len() int {
	return len(s.conversations)
}

// List returns the conversations ordered by creation time.
func (s *Set) List() []*Conversation {
	ret := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		ret = append(ret, c)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}
