// Package settings holds the engine configuration and its loading from
// config files, environment and flags.
package settings

import (
	"strings"
	"time"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	ModeChat = "chat"
	ModeNone = "none"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DefaultModel             = "gpt-3.5-turbo"
	DefaultAPIBaseURL        = "https://api.openai.com/v1"
	DefaultMaxResponseTokens = 1024
	DefaultTemperature       = 0.9
	DefaultTopP              = 1.0
	DefaultStreamInterval    = 100 * time.Millisecond
)

type Settings struct {
	// Provider selects the completion backend. Ollama needs no API key.
	Provider          string        `yaml:"provider" mapstructure:"provider"`
	Model             string        `yaml:"model" mapstructure:"model"`
	APIBaseURL        string        `yaml:"api-base-url" mapstructure:"api-base-url"`
	APIKey            string        `yaml:"api-key,omitempty" mapstructure:"api-key"`
	MaxResponseTokens int           `yaml:"max-response-tokens" mapstructure:"max-response-tokens"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature"`
	TopP              float64       `yaml:"top-p" mapstructure:"top-p"`
	SystemContext     string        `yaml:"system-context,omitempty" mapstructure:"system-context"`
	Verbosity         string        `yaml:"verbosity" mapstructure:"verbosity"`
	StreamInterval    time.Duration `yaml:"stream-interval" mapstructure:"stream-interval"`
	// Mode "none" turns generation off; requests are accepted but never sent.
	Mode             string `yaml:"mode" mapstructure:"mode"`
	NotifyOnResponse bool   `yaml:"notify-on-response" mapstructure:"notify-on-response"`
	TelemetryDir     string `yaml:"telemetry-dir,omitempty" mapstructure:"telemetry-dir"`
}

func NewSettings() *Settings {
	return &Settings{
		Provider:          ProviderOpenAI,
		Model:             DefaultModel,
		APIBaseURL:        DefaultAPIBaseURL,
		MaxResponseTokens: DefaultMaxResponseTokens,
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		Verbosity:         string(conversation.VerbosityNormal),
		StreamInterval:    DefaultStreamInterval,
		Mode:              ModeChat,
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// SetDefaults registers the defaults of every key on v.
func SetDefaults(v *viper.Viper) {
	d := NewSettings()
	v.SetDefault("provider", d.Provider)
	v.SetDefault("model", d.Model)
	v.SetDefault("api-base-url", d.APIBaseURL)
	v.SetDefault("api-key", "")
	v.SetDefault("max-response-tokens", d.MaxResponseTokens)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("top-p", d.TopP)
	v.SetDefault("system-context", "")
	v.SetDefault("verbosity", d.Verbosity)
	v.SetDefault("stream-interval", d.StreamInterval)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("notify-on-response", false)
	v.SetDefault("telemetry-dir", "")
}

// Load reads the settings from v and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	s := NewSettings()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return errors.New("model must not be empty")
	}
	if s.MaxResponseTokens < 0 {
		return errors.Errorf("max-response-tokens must not be negative, got %d", s.MaxResponseTokens)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return errors.Errorf("temperature must be between 0 and 2, got %v", s.Temperature)
	}
	if s.TopP < 0 || s.TopP > 1 {
		return errors.Errorf("top-p must be between 0 and 1, got %v", s.TopP)
	}
	if s.StreamInterval < 0 {
		return errors.Errorf("stream-interval must not be negative, got %s", s.StreamInterval)
	}
	switch s.Mode {
	case ModeChat, ModeNone:
	default:
		return errors.Errorf("unknown mode %q", s.Mode)
	}
	switch s.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return errors.Errorf("unknown provider %q", s.Provider)
	}
	if _, err := conversation.ParseVerbosity(s.Verbosity); err != nil {
		return err
	}
	return nil
}

// NeedsAPIKey reports whether requests can only be sent with a credential.
func (s *Settings) NeedsAPIKey() bool {
	return s.Mode != ModeNone && s.Provider != ProviderOllama
}

// DefaultVerbosity returns the configured verbosity, normal when invalid.
func (s *Settings) DefaultVerbosity() conversation.Verbosity {
	v, err := conversation.ParseVerbosity(s.Verbosity)
	if err != nil {
		return conversation.VerbosityNormal
	}
	return v
}
