// Package session is the conversation orchestration engine. A Manager owns
// the active conversations and runs their generations: it validates requests,
// builds prompts, streams answers through the aggregator, classifies failures
// and keeps the chat panel informed through events.
//
// All conversation state is guarded by the Manager's mutex. Each generation
// and each ad-hoc action runs in its own goroutine under a context registered
// in the cancellation registry; events of one generation are published in
// order from that goroutine.
package session

import (
	"context"
	"sync"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/cancel"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/prompt"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/render"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/settings"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/stream"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/telemetry"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrConversationNotFound = conversation.ErrConversationNotFound
	ErrMissingCredential    = errors.New("no API key configured")
	ErrGenerationInProgress = errors.New("a generation is already running for this conversation")
	ErrNoProvider           = errors.New("no model provider configured")
)

// EditorContext gives access to the editor the chat panel is attached to.
type EditorContext interface {
	ActiveLanguage() string
	Selection() (code string, language string)
}

// CredentialSource supplies the provider API key.
type CredentialSource interface {
	APIKey() (string, bool)
	Reset()
}

type Manager struct {
	mu sync.Mutex

	conversations *conversation.Set
	generations   map[string]*Generation
	actionRuns    map[string]*ActionRun
	actions       map[string]ActionFunc

	registry    *cancel.Registry
	estimator   *tokens.Estimator
	prompts     *prompt.Builder
	provider    provider.Provider
	aggregator  *stream.Aggregator
	renderer    render.Renderer
	sink        events.EventSink
	settings    *settings.Settings
	telemetry   *telemetry.Telemetry
	editor      EditorContext
	credentials CredentialSource

	advisedMissingCredential bool

	wg sync.WaitGroup
}

type Option func(*Manager)

func WithProvider(p provider.Provider) Option {
	return func(m *Manager) {
		m.provider = p
	}
}

func WithSink(s events.EventSink) Option {
	return func(m *Manager) {
		m.sink = s
	}
}

func WithRenderer(r render.Renderer) Option {
	return func(m *Manager) {
		m.renderer = r
	}
}

func WithSettings(s *settings.Settings) Option {
	return func(m *Manager) {
		m.settings = s.Clone()
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = t
	}
}

func WithEditorContext(e EditorContext) Option {
	return func(m *Manager) {
		m.editor = e
	}
}

func WithCredentials(c CredentialSource) Option {
	return func(m *Manager) {
		m.credentials = c
	}
}

func WithEstimator(e *tokens.Estimator) Option {
	return func(m *Manager) {
		m.estimator = e
	}
}

func WithAction(name string, f ActionFunc) Option {
	return func(m *Manager) {
		m.actions[name] = f
	}
}

func NewManager(options ...Option) (*Manager, error) {
	m := &Manager{
		conversations: conversation.NewSet(),
		generations:   map[string]*Generation{},
		actionRuns:    map[string]*ActionRun{},
		actions:       map[string]ActionFunc{},
		registry:      cancel.NewRegistry(),
		renderer:      render.NewMarkdown(),
		sink:          events.NewCollectingSink(),
		settings:      settings.NewSettings(),
	}
	m.actions[ActionGenerateTitle] = m.generateTitle

	for _, o := range options {
		o(m)
	}

	if err := m.settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	if m.estimator == nil {
		m.estimator = tokens.NewEstimator(nil)
	}
	if m.telemetry == nil {
		m.telemetry = telemetry.Nop()
	}
	if m.credentials == nil {
		m.credentials = settings.NewCredentials(m.settings.APIKey)
	}
	if m.provider == nil {
		m.provider = provider.Func(func(ctx context.Context, _ []*conversation.Message, _ provider.Params) (provider.Stream, error) {
			return nil, ErrNoProvider
		})
	}

	m.prompts = prompt.NewBuilder(m.settings.SystemContext)

	m.aggregator = stream.NewAggregator(m.provider, m.sink,
		stream.WithInterval(m.settings.StreamInterval),
		stream.WithRenderer(m.renderer),
		stream.WithMode(stream.Mode(m.settings.Mode)),
		stream.WithLock(&m.mu),
	)

	return m, nil
}

func (m *Manager) Settings() *settings.Settings {
	return m.settings.Clone()
}

func (m *Manager) Registry() *cancel.Registry {
	return m.registry
}

func (m *Manager) publish(e events.Event) {
	if err := m.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Str("conversation_id", e.ConversationID()).Msg("could not publish event")
	}
}

// Wait blocks until every generation and action started so far has ended.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops all running generations and actions and waits for them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	gens := make([]*Generation, 0, len(m.generations))
	for _, g := range m.generations {
		gens = append(gens, g)
	}
	runs := make([]*ActionRun, 0, len(m.actionRuns))
	for _, r := range m.actionRuns {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	for _, g := range gens {
		g.Cancel()
	}
	for _, r := range runs {
		r.Cancel()
	}
	m.Wait()
}
