package session

import (
	"context"
	"time"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/apierrors"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/cancel"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/continuation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/prompt"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/stream"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type SubmitOptions struct {
	ConversationID string
	// QuestionID names an existing user message to edit and resend.
	QuestionID string
	// MessageID names the assistant message to regenerate.
	MessageID string

	Code     string
	Language string
	// IncludeEditorSelection attaches the current editor selection when no
	// code is given.
	IncludeEditorSelection bool

	// PreviousAnswer is prepended to the new answer when continuing a
	// truncated one.
	PreviousAnswer string

	MaxTokens   int
	Temperature *float64
	TopP        *float64

	// Command names what triggered the request; it is only logged.
	Command string
}

// GenerationResult is what Wait returns.
type GenerationResult struct {
	stream.Result
	Truncated      bool
	Classification *apierrors.Classification
}

// Generation is one running request/response cycle.
type Generation struct {
	*task
	ConversationID string
	MessageID      string

	result GenerationResult
	err    error
}

// Wait blocks until the generation has finished. A cancelled generation
// returns no error.
func (g *Generation) Wait() (GenerationResult, error) {
	<-g.done
	return g.result, g.err
}

// Cancel stops the generation, keeping what was streamed so far.
func (g *Generation) Cancel() {
	g.end()
}

func (m *Manager) params(c *conversation.Conversation, opts SubmitOptions) provider.Params {
	s := m.settings
	ret := provider.Params{
		Model:       c.Model,
		MaxTokens:   s.MaxResponseTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}
	if ret.Model == "" {
		ret.Model = s.Model
	}
	if opts.MaxTokens > 0 {
		ret.MaxTokens = opts.MaxTokens
	}
	if ret.Temperature == nil {
		t := s.Temperature
		ret.Temperature = &t
	}
	if ret.TopP == nil {
		p := s.TopP
		ret.TopP = &p
	}
	return ret
}

func (m *Manager) needsCredential() bool {
	if !m.settings.NeedsAPIKey() {
		return false
	}
	_, ok := m.credentials.APIKey()
	return !ok
}

// SubmitRequest appends (or edits) a user question in a conversation and
// starts streaming the answer. It returns once the generation is running.
func (m *Manager) SubmitRequest(ctx context.Context, text string, opts SubmitOptions) (*Generation, error) {
	code, language := opts.Code, opts.Language
	if m.editor != nil {
		if code == "" && opts.IncludeEditorSelection {
			code, language = m.editor.Selection()
		}
		if code != "" && language == "" {
			language = m.editor.ActiveLanguage()
		}
	}

	log.Info().
		Str("conversation_id", opts.ConversationID).
		Str("command", opts.Command).
		Bool("has_code", code != "").
		Bool("has_previous_answer", opts.PreviousAnswer != "").
		Msg("request submitted")

	// rendered before locking so that a panicking renderer cannot leave m.mu held
	msgOptions := []conversation.MessageOption{conversation.WithContent(m.renderer.Render(text))}
	if code != "" {
		msgOptions = append(msgOptions, conversation.WithQuestionCode(m.renderer.Render(prompt.FenceCode(code, language))))
	}

	m.mu.Lock()
	c, err := m.conversations.Get(opts.ConversationID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if m.needsCredential() {
		advise := !m.advisedMissingCredential
		m.advisedMissingCredential = true
		m.mu.Unlock()
		if advise {
			m.publish(events.NewAdvisoryEvent(c.ID, events.AdvisoryMissingCredential,
				"No API key is configured. Set one to start chatting."))
		}
		return nil, ErrMissingCredential
	}

	key := cancel.ConversationKey(c.ID)
	if _, ok := m.generations[c.ID]; ok || c.InProgress || m.registry.Has(key) {
		m.mu.Unlock()
		return nil, errors.Wrap(ErrGenerationInProgress, c.ID)
	}

	if c.IsEmpty() {
		c.EnsureSystemMessage(m.prompts.SystemMessage(prompt.SystemData{
			Model:     c.Model,
			Language:  language,
			Verbosity: c.Verbosity,
		}))
	}

	q := prompt.Question{Text: text, Code: code, Language: language, Verbosity: c.Verbosity}
	raw := q.Build()

	// an id that already names a message of another role is not reused
	questionID := opts.QuestionID
	if existing, idx, ok := c.FindMessage(opts.QuestionID); ok && existing.Role == conversation.RoleUser {
		if _, err := c.ReplaceFrom(idx, raw, msgOptions...); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	} else {
		if ok {
			questionID = ""
		}
		c.Append(conversation.NewMessage(conversation.RoleUser, raw, append(msgOptions, conversation.WithID(questionID))...))
	}

	answerID := opts.MessageID
	if existing, _, ok := c.FindMessage(opts.MessageID); ok {
		if existing.Role == conversation.RoleAssistant {
			c.RemoveMessage(opts.MessageID)
		} else {
			answerID = ""
		}
	}

	history := c.SnapshotMessages()
	placeholder := conversation.NewPlaceholder(answerID)
	c.Append(placeholder)
	c.InProgress = true
	c.UserInput = ""
	params := m.params(c, opts)

	genCtx, release, err := m.registry.Track(context.WithoutCancel(ctx), key)
	if err != nil {
		c.RemoveMessage(placeholder.ID)
		c.InProgress = false
		m.mu.Unlock()
		return nil, errors.Wrap(ErrGenerationInProgress, err.Error())
	}

	g := &Generation{
		ConversationID: c.ID,
		MessageID:      placeholder.ID,
	}
	g.task = newTask(release, func() { m.endGeneration(g) })
	m.generations[c.ID] = g
	placeholderSnapshot := *placeholder
	m.wg.Add(1)
	m.mu.Unlock()

	m.publish(events.NewMessagesUpdatedEvent(c.ID, history))
	m.publish(events.NewFocusEvent(c.ID))
	m.publish(events.NewShowInProgressEvent(c.ID, true))
	m.publish(events.NewAddMessageEvent(c.ID, &placeholderSnapshot))

	go m.run(genCtx, g, placeholder, history, params, opts)

	return g, nil
}

// endGeneration clears the in-progress state. It runs exactly once per
// generation, from Cancel, StopGeneration or the generation's own goroutine.
func (m *Manager) endGeneration(g *Generation) {
	m.mu.Lock()
	if c, err := m.conversations.Get(g.ConversationID); err == nil {
		c.InProgress = false
	}
	if m.generations[g.ConversationID] == g {
		delete(m.generations, g.ConversationID)
	}
	m.mu.Unlock()

	m.publish(events.NewShowInProgressEvent(g.ConversationID, false))
}

func (m *Manager) run(
	ctx context.Context,
	g *Generation,
	placeholder *conversation.Message,
	history []*conversation.Message,
	params provider.Params,
	opts SubmitOptions,
) {
	tctx, tg := m.telemetry.StartGeneration(ctx, g.ConversationID, params.Model)
	outcome := telemetry.OutcomeCompleted
	kind := ""

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("conversation_id", g.ConversationID).Msg("generation panicked")
			g.err = errors.Errorf("generation panicked: %v", r)
			outcome, kind = telemetry.OutcomeFailed, string(apierrors.KindUnknown)
			m.markFailed(placeholder)
			m.publish(events.NewAddErrorEvent(g.ConversationID, g.MessageID, apierrors.MessageUnknown))
		}
		tg.End(context.WithoutCancel(tctx), outcome, g.result.Deltas, kind, g.err)
		g.end()
		m.publishTokenCount(g.ConversationID, false)
		close(g.done)
		m.wg.Done()
	}()

	res, err := m.aggregator.Run(tctx, g.ConversationID, placeholder, history, params)
	g.result.Result = res

	switch {
	case err != nil:
		outcome = telemetry.OutcomeFailed
		g.err = err
		cl := apierrors.Classify(err)
		kind = string(cl.Kind)
		g.result.Classification = &cl

		m.markFailed(placeholder)

		log.Warn().Err(err).
			Str("conversation_id", g.ConversationID).
			Str("kind", kind).
			Int("status", cl.Status).
			Msg("generation failed")

		ev := events.NewAddErrorEvent(g.ConversationID, g.MessageID, cl.Message)
		ev.Kind = string(cl.Kind)
		ev.Status = cl.Status
		m.publish(ev)

	case res.Cancelled:
		outcome = telemetry.OutcomeCancelled
		log.Debug().Str("conversation_id", g.ConversationID).Msg("generation cancelled")

	case res.Skipped:
		outcome = telemetry.OutcomeSkipped
		m.mu.Lock()
		var msgs []*conversation.Message
		if c, err := m.conversations.Get(g.ConversationID); err == nil {
			c.RemoveMessage(placeholder.ID)
			msgs = c.SnapshotMessages()
		}
		m.mu.Unlock()
		if msgs != nil {
			m.publish(events.NewMessagesUpdatedEvent(g.ConversationID, msgs))
		}

	default:
		m.postProcess(g, placeholder, opts)
	}
}

func (m *Manager) markFailed(placeholder *conversation.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	placeholder.Done = true
	placeholder.IsError = true
}

// postProcess combines a continued answer with its predecessor and closes a
// dangling code fence.
func (m *Manager) postProcess(g *Generation, placeholder *conversation.Message, opts SubmitOptions) {
	start := time.Now()

	m.mu.Lock()
	raw := placeholder.RawContent
	m.mu.Unlock()

	if opts.PreviousAnswer != "" {
		raw = opts.PreviousAnswer + raw
	}
	fixed, truncated := continuation.Fix(raw)
	changed := fixed != raw || opts.PreviousAnswer != ""
	content := ""
	if changed {
		content = m.renderer.Render(fixed)
	}

	m.mu.Lock()
	if changed {
		placeholder.RawContent = fixed
		placeholder.Content = content
	}
	snapshot := *placeholder
	m.mu.Unlock()

	g.result.Raw = fixed
	g.result.Truncated = truncated

	if changed {
		m.publish(events.NewUpdateMessageEvent(g.ConversationID, &snapshot))
	}
	if truncated {
		m.publish(events.NewOfferContinuationEvent(g.ConversationID, g.MessageID))
	}
	if m.settings.NotifyOnResponse {
		m.publish(events.NewAdvisoryEvent(g.ConversationID, events.AdvisoryResponseReady, "The answer is ready."))
	}

	log.Debug().
		Str("conversation_id", g.ConversationID).
		Bool("truncated", truncated).
		Bool("continued", opts.PreviousAnswer != "").
		Dur("elapsed", time.Since(start)).
		Msg("generation post-processed")
}

// StopGeneration cancels the running generation of a conversation. Partial
// output stays on the message. It reports whether anything was running.
func (m *Manager) StopGeneration(conversationID string) bool {
	signalled := m.registry.SignalAndRelease(cancel.ConversationKey(conversationID)) == nil

	m.mu.Lock()
	g := m.generations[conversationID]
	m.mu.Unlock()

	if g == nil {
		if !signalled {
			log.Debug().Str("conversation_id", conversationID).Msg("nothing to stop")
		}
		return signalled
	}
	g.end()
	return true
}

// Continue asks the model to go on with the last assistant answer of a
// conversation; the new answer is combined with the previous one.
func (m *Manager) Continue(ctx context.Context, conversationID string) (*Generation, error) {
	m.mu.Lock()
	c, err := m.conversations.Get(conversationID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	last, ok := c.LastMessage(conversation.RoleAssistant)
	previous := ""
	if ok {
		previous = last.RawContent
	}
	m.mu.Unlock()

	if previous == "" {
		return nil, errors.Errorf("conversation %s has no answer to continue", conversationID)
	}

	return m.SubmitRequest(ctx, "Continue", SubmitOptions{
		ConversationID: conversationID,
		PreviousAnswer: previous,
		Command:        "continue",
	})
}
