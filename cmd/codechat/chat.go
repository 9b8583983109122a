package main

import (
	"context"
	"os"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/prompt"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider/ollama"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider/openai"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/render"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/session"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/settings"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/telemetry"
	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

var dryRunAnswer = []string{
	"This is a dry run, ",
	"no request was sent to the model.\n\n",
	"```go\nfmt.Println(\"hello\")\n```\n",
}

// fileEditor serves a file as the editor selection.
type fileEditor struct {
	path string
}

func (f fileEditor) ActiveLanguage() string {
	return prompt.LanguageFromPath(f.path)
}

func (f fileEditor) Selection() (string, string) {
	if f.path == "" {
		return "", ""
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("could not read selection file")
		return "", ""
	}
	return string(b), f.ActiveLanguage()
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE:  runChat,
	}
	flags := cmd.Flags()
	flags.String("model", settings.DefaultModel, "Model to chat with")
	flags.String("verbosity", "normal", "Answer verbosity (code, concise, normal, full)")
	flags.String("mode", settings.ModeChat, "Generation mode (chat, none)")
	flags.String("provider", settings.ProviderOpenAI, "Completion backend (openai, ollama); ollama reads OLLAMA_HOST")
	flags.String("transcript", "", "Append every published event to this file as JSON lines")
	flags.String("telemetry-dir", "", "Write traces and metrics to this directory")
	flags.String("file", "", "File served as the editor selection for /sel")
	flags.Bool("dry-run", false, "Answer with a canned response instead of calling the model")
	flags.Bool("render", false, "Render finished answers as markdown instead of streaming them")
	flags.Bool("verbose-events", false, "Log every event published on the bus")
	for _, name := range []string{"model", "verbosity", "mode", "provider", "telemetry-dir"} {
		cobra.CheckErr(viper.BindPFlag(name, flags.Lookup(name)))
	}
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := loadSettings()
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	renderMarkdown, _ := cmd.Flags().GetBool("render")
	verbose, _ := cmd.Flags().GetBool("verbose-events")
	file, _ := cmd.Flags().GetString("file")
	transcriptPath, _ := cmd.Flags().GetString("transcript")

	ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}
	creds := settings.NewCredentials(s.APIKey)
	if _, ok := creds.APIKey(); !ok && !dryRun && s.NeedsAPIKey() {
		if err := askForAPIKey(ui, creds); err != nil {
			return err
		}
	}

	p, err := newProvider(s, creds, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		creds.Set("dry-run")
	}

	tel, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Dir:            s.TelemetryDir,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	router, err := events.NewEventRouter(events.WithVerbose(verbose))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	var sink events.EventSink = router.EventSink()
	var transcript *events.ChannelSink
	var transcriptFile *os.File
	if transcriptPath != "" {
		transcriptFile, err = os.OpenFile(transcriptPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, "could not open transcript")
		}
		defer func() {
			_ = transcriptFile.Close()
		}()
		transcript = events.NewChannelSink(ctx, 64)
		sink = events.MultiSink{sink, transcript}
	}

	m, err := session.NewManager(
		session.WithProvider(p),
		session.WithSink(sink),
		session.WithRenderer(render.Plain{}),
		session.WithSettings(s),
		session.WithTelemetry(tel),
		session.WithCredentials(creds),
		session.WithEditorContext(fileEditor{path: file}),
	)
	if err != nil {
		return err
	}

	var md *glamour.TermRenderer
	if renderMarkdown {
		md, err = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return err
		}
	}
	con := newConsole(os.Stdout, md)

	results := make(chan error, 1)
	router.AddEventHandler("console", con.HandleEvent)
	if verbose {
		router.AddHandler("dump", events.TopicEvents, router.DumpRawEvents)
	}
	router.AddIntentHandler("session", events.IntentHandlerFunc(func(ctx context.Context, intent events.Intent) error {
		err := m.Handle(ctx, intent)
		select {
		case results <- err:
		default:
		}
		return err
	}))

	// the transcript writer follows the session context, like the sink feeding it
	sessionCtx := ctx
	eg, ctx := errgroup.WithContext(ctx)
	if transcript != nil {
		eg.Go(func() error {
			return writeTranscript(sessionCtx, transcript, transcriptFile)
		})
	}
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		defer m.Shutdown()

		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}

		r := &repl{
			ui:       ui,
			out:      os.Stdout,
			router:   router,
			console:  con,
			results:  results,
			creds:    creds,
			settings: s,
		}
		return r.run(ctx)
	})

	return eg.Wait()
}

func newProvider(s *settings.Settings, creds *settings.Credentials, dryRun bool) (provider.Provider, error) {
	if dryRun {
		return &provider.Scripted{Deltas: dryRunAnswer}, nil
	}
	if s.Provider == settings.ProviderOllama {
		p, err := ollama.New()
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return openai.New(creds.APIKey, openai.WithBaseURL(s.APIBaseURL)), nil
}

func askForAPIKey(ui *input.UI, creds *settings.Credentials) error {
	key, err := ui.Ask("OpenAI API key (kept for this session only)", &input.Options{
		Required:  true,
		Loop:      true,
		Mask:      true,
		HideOrder: true,
	})
	if err != nil {
		return err
	}
	creds.Set(key)
	return nil
}
