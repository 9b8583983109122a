package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/prompt"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/render"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/session"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/settings"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tcnksm/go-input"
)

const helpText = `Commands:
  /new [title]          start a new conversation
  /clear                drop all messages of the conversation
  /model <name>         switch the model
  /verbosity <level>    code, concise, normal or full
  /sel <question>       ask about the --file selection
  /code <path> <q>      ask about a file
  /continue             continue the last answer
  /tokens [input]       show the token budget and cost
  /title                let the model name the conversation
  /export [path]        export the conversation as markdown
  /blocks               list the code blocks of the last answer
  /reset-key            forget the API key
  /quit                 leave
Anything else is sent as a question. Ctrl-C stops a running answer.
`

type intentPublisher interface {
	PublishIntent(intent events.Intent) error
}

type repl struct {
	ui       *input.UI
	out      io.Writer
	router   intentPublisher
	console  *console
	results  chan error
	creds    *settings.Credentials
	settings *settings.Settings

	conversationID string
}

func tag(t events.IntentType) events.IntentImpl {
	return events.IntentImpl{Type_: t}
}

// publish sends intent and returns the error of its handler.
func (r *repl) publish(intent events.Intent) error {
	if err := r.router.PublishIntent(intent); err != nil {
		return err
	}
	select {
	case err := <-r.results:
		return err
	default:
		return nil
	}
}

func (r *repl) newConversation(title string) error {
	id := uuid.NewString()
	err := r.publish(&events.NewConversation{
		IntentImpl:     tag(events.IntentTypeNewConversation),
		ConversationID: id,
		Title:          title,
		Model:          r.settings.Model,
		Verbosity:      r.settings.Verbosity,
	})
	if err != nil {
		return err
	}
	r.conversationID = id
	return nil
}

func (r *repl) run(ctx context.Context) error {
	if err := r.newConversation(""); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "codechat %s, model %s. Type /help for commands.\n", version, r.settings.Model)

	for ctx.Err() == nil {
		line, err := r.ui.Ask("you", &input.Options{HideOrder: true})
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		quit, err := r.dispatch(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %s\n", err)
		}
		if quit {
			return nil
		}
	}
	return nil
}

func (r *repl) dispatch(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.ask(ctx, &events.AddFreeTextQuestion{
			IntentImpl: tag(events.IntentTypeAddFreeTextQuestion),
			Value:      line,
			Command:    "freeText",
		})
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	id := r.conversationID

	switch cmd {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprint(r.out, helpText)
		return false, nil

	case "/new":
		return false, r.newConversation(rest)

	case "/clear":
		return false, r.publish(&events.ClearConversation{IntentImpl: tag(events.IntentTypeClearConversation), ConversationID: id})

	case "/model":
		return false, r.publish(&events.SetModel{IntentImpl: tag(events.IntentTypeSetModel), ConversationID: id, Model: rest})

	case "/verbosity":
		return false, r.publish(&events.SetVerbosity{IntentImpl: tag(events.IntentTypeSetVerbosity), ConversationID: id, Verbosity: rest})

	case "/sel":
		return false, r.ask(ctx, &events.AddFreeTextQuestion{
			IntentImpl:             tag(events.IntentTypeAddFreeTextQuestion),
			Value:                  rest,
			IncludeEditorSelection: true,
			Command:                "addSelection",
		})

	case "/code":
		path, question, _ := strings.Cut(rest, " ")
		b, err := os.ReadFile(path)
		if err != nil {
			return false, errors.Wrap(err, "could not read file")
		}
		if strings.TrimSpace(question) == "" {
			question = "Explain this code"
		}
		return false, r.ask(ctx, &events.AddFreeTextQuestion{
			IntentImpl: tag(events.IntentTypeAddFreeTextQuestion),
			Value:      question,
			Code:       string(b),
			Language:   prompt.LanguageFromPath(path),
			Command:    "explain",
		})

	case "/continue":
		return false, r.ask(ctx, &events.ContinueGeneration{IntentImpl: tag(events.IntentTypeContinueGeneration)})

	case "/tokens":
		err := r.publish(&events.GetTokenCount{IntentImpl: tag(events.IntentTypeGetTokenCount), ConversationID: id, UserInput: rest})
		if err != nil {
			return false, err
		}
		r.printTokenCount()
		return false, nil

	case "/title":
		return false, r.title(ctx)

	case "/export":
		return false, r.export(rest)

	case "/blocks":
		blocks := render.CodeBlocks(r.console.LastAnswer(id))
		if len(blocks) == 0 {
			fmt.Fprintln(r.out, "no code blocks in the last answer")
		}
		for i, b := range blocks {
			fmt.Fprintf(r.out, "--- [%d] %s\n%s\n", i+1, b.Language, b.Code)
		}
		return false, nil

	case "/reset-key":
		if err := r.publish(&events.ResetApiKey{IntentImpl: tag(events.IntentTypeResetApiKey)}); err != nil {
			return false, err
		}
		if r.settings.Mode == settings.ModeChat {
			return false, askForAPIKey(r.ui, r.creds)
		}
		return false, nil

	default:
		return false, errors.Errorf("unknown command %s, try /help", cmd)
	}
}

// ask sends a question or continuation and waits for the answer, offering to
// continue answers that look cut off.
func (r *repl) ask(ctx context.Context, intent events.Intent) error {
	id := r.conversationID
	switch i := intent.(type) {
	case *events.AddFreeTextQuestion:
		i.ConversationID = id
	case *events.ContinueGeneration:
		i.ConversationID = id
	}

	r.console.drain()
	err := r.publish(intent)
	if errors.Is(err, session.ErrMissingCredential) {
		return askForAPIKey(r.ui, r.creds)
	}
	if err != nil {
		return err
	}
	r.waitIdle(ctx, id)

	if !r.console.takeContinuation(id) {
		return nil
	}
	ok, err := r.confirm("The answer looks cut off. Continue? [y/n]")
	if err != nil || !ok {
		return err
	}
	return r.ask(ctx, &events.ContinueGeneration{IntentImpl: tag(events.IntentTypeContinueGeneration)})
}

// waitIdle blocks until the conversation's generation has ended. Ctrl-C stops
// the generation.
func (r *repl) waitIdle(ctx context.Context, id string) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	for {
		select {
		case got := <-r.console.idle:
			if got == id {
				return
			}
		case <-sig:
			_ = r.publish(&events.StopGenerating{IntentImpl: tag(events.IntentTypeStopGenerating), ConversationID: id})
		case <-ctx.Done():
			return
		}
	}
}

func (r *repl) confirm(query string) (bool, error) {
	answer, err := r.ui.Ask(query, &input.Options{
		Default:   "y",
		Required:  true,
		Loop:      true,
		HideOrder: true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n":
				return nil
			default:
				return errors.New("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "y"), nil
}

func (r *repl) printTokenCount() {
	tc, cost, ok := r.console.TokenCount(r.conversationID)
	if !ok {
		fmt.Fprintln(r.out, "no token count yet")
		return
	}
	fmt.Fprintf(r.out, "messages %d, input %d, total %d-%d tokens\n", tc.Messages, tc.UserInput, tc.MinTotal, tc.MaxTotal)
	if cost != nil && cost.Known {
		fmt.Fprintf(r.out, "estimated cost $%.4f-$%.4f\n", cost.MinCost, cost.MaxCost)
	}
}

func (r *repl) title(ctx context.Context) error {
	actionID := uuid.NewString()
	err := r.publish(&events.RunAction{
		IntentImpl:     tag(events.IntentTypeRunAction),
		ActionID:       actionID,
		Name:           session.ActionGenerateTitle,
		ConversationID: r.conversationID,
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	for {
		select {
		case ev := <-r.console.actions:
			if ev.ActionID != actionID {
				continue
			}
			if ev.Error != "" {
				return errors.New(ev.Error)
			}
			fmt.Fprintf(r.out, "title: %s\n", ev.Result)
			return nil
		case <-sig:
			return r.publish(&events.StopAction{IntentImpl: tag(events.IntentTypeStopAction), ActionID: actionID})
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *repl) export(path string) error {
	err := r.publish(&events.ExportConversation{IntentImpl: tag(events.IntentTypeExportConversation), ConversationID: r.conversationID})
	if err != nil {
		return err
	}
	ev := r.console.takeExport()
	if ev == nil {
		return errors.New("no export received")
	}
	if path == "" {
		fmt.Fprint(r.out, ev.Result)
		return nil
	}
	if err := os.WriteFile(path, []byte(ev.Result), 0644); err != nil {
		return errors.Wrap(err, "could not write export")
	}
	fmt.Fprintf(r.out, "exported to %s\n", path)
	return nil
}
