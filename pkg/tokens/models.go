package tokens

import (
	_ "embed"
	"strings"

	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEncoding         = tokenizer.Cl100kBase
	DefaultContextWindow    = 4096
	DefaultTokensPerMessage = 3
)

// ModelInfo describes how a model family tokenizes and what it costs. Rates
// are USD per 1000 tokens; a zero rate means the price is unknown.
type ModelInfo struct {
	Pattern          string             `yaml:"pattern"`
	Encoding         tokenizer.Encoding `yaml:"encoding"`
	TokensPerMessage int                `yaml:"tokens_per_message,omitempty"`
	ContextWindow    int                `yaml:"context_window"`
	PromptRate       float64            `yaml:"prompt_rate,omitempty"`
	CompletionRate   float64            `yaml:"completion_rate,omitempty"`
	// Review marks entries whose numbers look inconsistent and were kept as
	// published rather than corrected.
	Review bool `yaml:"review,omitempty"`
}

func (m ModelInfo) HasRates() bool {
	return m.PromptRate > 0 || m.CompletionRate > 0
}

type ModelTable struct {
	Models []ModelInfo `yaml:"models"`
}

//go:embed models.yaml
var modelsYAML []byte

// DefaultModelTable returns the embedded table.
func DefaultModelTable() *ModelTable {
	t, err := ParseModelTable(modelsYAML)
	if err != nil {
		// the embedded file is part of the build
		panic(err)
	}
	return t
}

func ParseModelTable(b []byte) (*ModelTable, error) {
	var t ModelTable
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, errors.Wrap(err, "could not parse model table")
	}
	for i, m := range t.Models {
		if m.Pattern == "" {
			return nil, errors.Errorf("model entry %d has no pattern", i)
		}
		if _, err := glob.Match(m.Pattern, ""); err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", m.Pattern)
		}
	}
	return &t, nil
}

// Lookup returns the first entry matching model, or defaults for unknown models.
func (t *ModelTable) Lookup(model string) (ModelInfo, bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	for _, m := range t.Models {
		ok, err := glob.Match(m.Pattern, name)
		if err != nil {
			log.Warn().Err(err).Str("pattern", m.Pattern).Msg("invalid model pattern")
			continue
		}
		if ok {
			return m.withDefaults(), true
		}
	}
	return ModelInfo{Pattern: name}.withDefaults(), false
}

// NeedsReview lists the entries flagged for a pricing review.
func (t *ModelTable) NeedsReview() []ModelInfo {
	var ret []ModelInfo
	for _, m := range t.Models {
		if m.Review {
			ret = append(ret, m)
		}
	}
	return ret
}

func (m ModelInfo) withDefaults() ModelInfo {
	if m.Encoding == "" {
		m.Encoding = DefaultEncoding
	}
	if m.TokensPerMessage == 0 {
		m.TokensPerMessage = DefaultTokensPerMessage
	}
	if m.ContextWindow == 0 {
		m.ContextWindow = DefaultContextWindow
	}
	return m
}
