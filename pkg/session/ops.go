package session

import (
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/tokens"
	"github.com/rs/zerolog/log"
)

// NewConversation adds a conversation to the active set. Model and verbosity
// default to the settings when not given as options.
func (m *Manager) NewConversation(options ...conversation.Option) (*conversation.Conversation, error) {
	defaults := []conversation.Option{
		conversation.WithModel(m.settings.Model),
		conversation.WithVerbosity(m.settings.DefaultVerbosity()),
	}
	c := conversation.New(append(defaults, options...)...)
	if c.Model == "" {
		c.Model = m.settings.Model
	}
	if c.Verbosity == "" {
		c.Verbosity = m.settings.DefaultVerbosity()
	}

	m.mu.Lock()
	err := m.conversations.Add(c)
	snapshot := c.Snapshot()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Debug().Str("conversation_id", c.ID).Str("model", c.Model).Msg("conversation created")
	m.publish(events.NewMessagesUpdatedEvent(c.ID, snapshot.Messages))
	return snapshot, nil
}

// CloseConversation stops the conversation's generation, if any, and removes
// it from the active set.
func (m *Manager) CloseConversation(id string) error {
	m.StopGeneration(id)

	m.mu.Lock()
	if _, err := m.conversations.Get(id); err != nil {
		m.mu.Unlock()
		return err
	}
	m.conversations.Remove(id)
	m.mu.Unlock()
	log.Debug().Str("conversation_id", id).Msg("conversation closed")
	return nil
}

// ClearConversation stops any running generation and drops all messages.
func (m *Manager) ClearConversation(id string) error {
	m.StopGeneration(id)

	m.mu.Lock()
	c, err := m.conversations.Get(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	c.Clear()
	m.mu.Unlock()

	m.publish(events.NewMessagesUpdatedEvent(id, []*conversation.Message{}))
	m.publishTokenCount(id, false)
	return nil
}

func (m *Manager) SetModel(id string, model string) error {
	m.mu.Lock()
	c, err := m.conversations.Get(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if model == "" {
		model = m.settings.Model
	}
	c.Model = model
	m.mu.Unlock()

	if _, ok := m.estimator.Models().Lookup(model); !ok {
		log.Warn().Str("model", model).Msg("unknown model, using default token limits")
	}
	m.publishTokenCount(id, false)
	return nil
}

func (m *Manager) SetVerbosity(id string, verbosity string) error {
	v, err := conversation.ParseVerbosity(verbosity)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conversations.Get(id)
	if err != nil {
		return err
	}
	c.Verbosity = v
	return nil
}

// UpdateUserInput stores the text currently typed in the input field, which
// counts towards the token budget.
func (m *Manager) UpdateUserInput(id string, input string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conversations.Get(id)
	if err != nil {
		return err
	}
	c.UserInput = input
	return nil
}

// TokenCount recomputes the token budget of a conversation, caches it on the
// conversation and publishes it together with the cost estimate.
func (m *Manager) TokenCount(id string, includeSelection bool) (conversation.TokenCount, tokens.CostEstimate, error) {
	selection := ""
	if includeSelection && m.editor != nil {
		selection, _ = m.editor.Selection()
	}

	m.mu.Lock()
	c, err := m.conversations.Get(id)
	if err != nil {
		m.mu.Unlock()
		return conversation.TokenCount{}, tokens.CostEstimate{}, err
	}
	tc := m.estimator.Budget(c, tokens.BudgetInput{
		UserInput:         c.UserInput,
		Selection:         selection,
		IncludeSelection:  includeSelection,
		MaxResponseTokens: m.settings.MaxResponseTokens,
	})
	c.TokenCount = tc
	model := c.Model
	m.mu.Unlock()

	cost := m.estimator.Cost(tc, model)
	m.publish(events.NewTokenCountEvent(id, tc, &cost))
	return tc, cost, nil
}

func (m *Manager) publishTokenCount(id string, includeSelection bool) {
	if _, _, err := m.TokenCount(id, includeSelection); err != nil {
		log.Debug().Err(err).Str("conversation_id", id).Msg("no token count for conversation")
	}
}

// ExportMarkdown returns the conversation as a markdown document.
func (m *Manager) ExportMarkdown(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conversations.Get(id)
	if err != nil {
		return "", err
	}
	return c.ExportMarkdown(), nil
}

// ResetCredential forgets the API key. The next request without a key
// reports the missing credential again.
func (m *Manager) ResetCredential() {
	m.credentials.Reset()
	m.mu.Lock()
	m.advisedMissingCredential = false
	m.mu.Unlock()
	log.Info().Msg("API key reset")
	m.publish(events.NewAdvisoryEvent("", events.AdvisoryCredentialReset, "The API key has been reset."))
}

// Conversation returns a snapshot of one conversation.
func (m *Manager) Conversation(id string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.conversations.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Snapshot(), nil
}

// Conversations returns snapshots of all active conversations, oldest first.
func (m *Manager) Conversations() []*conversation.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.conversations.List()
	ret := make([]*conversation.Conversation, 0, len(list))
	for _, c := range list {
		ret = append(ret, c.Snapshot())
	}
	return ret
}
