package session

import (
	"context"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var _ events.IntentHandler = (*Manager)(nil)

// Handle dispatches an intent from the chat panel. Intents that start work
// return as soon as the work is running.
func (m *Manager) Handle(ctx context.Context, intent events.Intent) error {
	log.Debug().Str("intent", string(intent.Type())).Msg("handling intent")

	switch i := intent.(type) {
	case *events.AddFreeTextQuestion:
		_, err := m.SubmitRequest(ctx, i.Value, SubmitOptions{
			ConversationID:         i.ConversationID,
			QuestionID:             i.QuestionID,
			MessageID:              i.MessageID,
			Code:                   i.Code,
			Language:               i.Language,
			IncludeEditorSelection: i.IncludeEditorSelection,
			Command:                i.Command,
		})
		return err

	case *events.StopGenerating:
		m.StopGeneration(i.ConversationID)
		return nil

	case *events.GetTokenCount:
		if err := m.UpdateUserInput(i.ConversationID, i.UserInput); err != nil {
			return err
		}
		_, _, err := m.TokenCount(i.ConversationID, i.IncludeEditorSelection)
		return err

	case *events.RunAction:
		_, err := m.RunAction(ctx, i.ActionID, i.Name, i.ConversationID)
		return err

	case *events.StopAction:
		m.StopAction(i.ActionID)
		return nil

	case *events.NewConversation:
		options := []conversation.Option{
			conversation.WithConversationID(i.ConversationID),
		}
		if i.Title != "" {
			options = append(options, conversation.WithTitle(i.Title))
		}
		if i.Model != "" {
			options = append(options, conversation.WithModel(i.Model))
		}
		if i.Verbosity != "" {
			v, err := conversation.ParseVerbosity(i.Verbosity)
			if err != nil {
				return err
			}
			options = append(options, conversation.WithVerbosity(v))
		}
		_, err := m.NewConversation(options...)
		return err

	case *events.CloseConversation:
		return m.CloseConversation(i.ConversationID)

	case *events.ClearConversation:
		return m.ClearConversation(i.ConversationID)

	case *events.SetModel:
		return m.SetModel(i.ConversationID, i.Model)

	case *events.SetVerbosity:
		return m.SetVerbosity(i.ConversationID, i.Verbosity)

	case *events.ContinueGeneration:
		_, err := m.Continue(ctx, i.ConversationID)
		return err

	case *events.ExportConversation:
		md, err := m.ExportMarkdown(i.ConversationID)
		m.publish(events.NewActionResultEvent(i.ConversationID, "", ActionExportConversation, md, err))
		return err

	case *events.ResetApiKey:
		m.ResetCredential()
		return nil

	default:
		return errors.Wrapf(events.ErrUnknownIntent, "%q", intent.Type())
	}
}
