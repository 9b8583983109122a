package session

import (
	"context"
	"strings"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/cancel"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	ActionGenerateTitle      = "generateTitle"
	ActionExportConversation = "exportConversation"
)

var (
	ErrUnknownAction    = errors.New("unknown action")
	ErrActionInProgress = errors.New("action is already running")
)

const (
	titlePrompt      = "Summarize the following conversation as a short title of at most six words. Answer with the title only."
	titleMaxLength   = 60
	titleMaxTokens   = 32
	titleTemperature = 0.2
)

// ActionRequest is what an ad-hoc action gets to work with. Conversation is a
// snapshot and may be nil when the action is not tied to a conversation.
type ActionRequest struct {
	ActionID     string
	Name         string
	Conversation *conversation.Conversation
	Provider     provider.Provider
	Params       provider.Params
}

// ActionFunc runs an action. The returned string is published as its result.
type ActionFunc func(ctx context.Context, req ActionRequest) (string, error)

// ActionRun is a running ad-hoc action.
type ActionRun struct {
	*task
	ActionID       string
	Name           string
	ConversationID string

	result string
	err    error
}

// Wait blocks until the action has finished.
func (r *ActionRun) Wait() (string, error) {
	<-r.done
	return r.result, r.err
}

func (r *ActionRun) Cancel() {
	r.end()
}

// RunAction starts the named action in the background. Actions are keyed by
// actionID; only one run per id may be active.
func (m *Manager) RunAction(ctx context.Context, actionID string, name string, conversationID string) (*ActionRun, error) {
	m.mu.Lock()
	f, ok := m.actions[name]
	if !ok {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrUnknownAction, "%q", name)
	}

	req := ActionRequest{
		ActionID: actionID,
		Name:     name,
		Provider: m.provider,
	}
	if conversationID != "" {
		c, err := m.conversations.Get(conversationID)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		req.Conversation = c.Snapshot()
		req.Params = m.params(c, SubmitOptions{})
	}

	actx, release, err := m.registry.Track(context.WithoutCancel(ctx), cancel.ActionKey(actionID))
	if err != nil {
		m.mu.Unlock()
		return nil, errors.Wrap(ErrActionInProgress, actionID)
	}
	r := &ActionRun{
		ActionID:       actionID,
		Name:           name,
		ConversationID: conversationID,
	}
	r.task = newTask(release, func() { m.endAction(r) })
	m.actionRuns[actionID] = r
	m.wg.Add(1)
	m.mu.Unlock()

	log.Debug().Str("action_id", actionID).Str("action", name).Str("conversation_id", conversationID).Msg("action started")
	m.publish(events.NewActionInProgressEvent(actionID, true))

	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("action_id", actionID).Msg("action panicked")
				r.err = errors.Errorf("action panicked: %v", p)
			}
			if actx.Err() == nil {
				m.publish(events.NewActionResultEvent(conversationID, actionID, name, r.result, r.err))
			}
			r.end()
			close(r.done)
			m.wg.Done()
		}()

		r.result, r.err = f(events.WithSink(actx, m.sink), req)
	}()

	return r, nil
}

func (m *Manager) endAction(r *ActionRun) {
	m.mu.Lock()
	if m.actionRuns[r.ActionID] == r {
		delete(m.actionRuns, r.ActionID)
	}
	m.mu.Unlock()
	m.publish(events.NewActionInProgressEvent(r.ActionID, false))
}

// StopAction cancels a running action. It reports whether one was running.
func (m *Manager) StopAction(actionID string) bool {
	signalled := m.registry.SignalAndRelease(cancel.ActionKey(actionID)) == nil

	m.mu.Lock()
	r := m.actionRuns[actionID]
	m.mu.Unlock()
	if r == nil {
		return signalled
	}
	r.end()
	return true
}

// generateTitle asks the model for a short title and stores it on the
// conversation.
func (m *Manager) generateTitle(ctx context.Context, req ActionRequest) (string, error) {
	if req.Conversation == nil {
		return "", errors.New("generateTitle needs a conversation")
	}

	var transcript strings.Builder
	for _, msg := range req.Conversation.Messages {
		if msg.Role == conversation.RoleSystem || msg.RawContent == "" {
			continue
		}
		transcript.WriteString(string(msg.Role))
		transcript.WriteString(": ")
		transcript.WriteString(msg.RawContent)
		transcript.WriteString("\n")
	}
	if transcript.Len() == 0 {
		return "", errors.New("conversation is empty")
	}

	params := req.Params
	params.MaxTokens = titleMaxTokens
	t := titleTemperature
	params.Temperature = &t

	raw, err := provider.Collect(ctx, req.Provider, []*conversation.Message{
		conversation.NewMessage(conversation.RoleSystem, titlePrompt),
		conversation.NewMessage(conversation.RoleUser, transcript.String()),
	}, params)
	if err != nil {
		return "", errors.Wrap(err, "could not generate title")
	}

	title := strings.Trim(strings.TrimSpace(raw), "\"'")
	if r := []rune(title); len(r) > titleMaxLength {
		title = string(r[:titleMaxLength])
	}
	if title == "" {
		return "", errors.New("model returned an empty title")
	}

	m.mu.Lock()
	c, err := m.conversations.Get(req.Conversation.ID)
	if err == nil {
		c.Title = title
	}
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	events.PublishToContext(ctx, events.NewAdvisoryEvent(req.Conversation.ID, events.AdvisoryTitleUpdated, title))
	return title, nil
}
