// Package tokens estimates token counts and costs for conversations.
//
// The numbers are budgeting estimates shown to the user before a request is
// sent. They follow the provider's chat accounting closely (tiktoken encodings
// plus a fixed per-message overhead) but are not billing-exact.
package tokens

import (
	"sync"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// SelectionOverheadTokens approximates the fence, language tag and separators
// added around an attached editor selection.
const SelectionOverheadTokens = 5

type Estimator struct {
	models *ModelTable

	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

func NewEstimator(models *ModelTable) *Estimator {
	if models == nil {
		models = DefaultModelTable()
	}
	return &Estimator{
		models: models,
		codecs: map[tokenizer.Encoding]tokenizer.Codec{},
	}
}

func (e *Estimator) Models() *ModelTable {
	return e.models
}

func (e *Estimator) codec(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	e.codecs[enc] = c
	return c, nil
}

// CountText returns the number of tokens of text under model's encoding. If
// the encoding cannot be loaded it falls back to four characters per token.
func (e *Estimator) CountText(text string, model string) int {
	if text == "" {
		return 0
	}
	info, _ := e.models.Lookup(model)
	c, err := e.codec(info.Encoding)
	if err == nil {
		var ids []uint
		ids, _, err = c.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	log.Debug().Err(err).Str("model", model).Str("encoding", string(info.Encoding)).Msg("falling back to heuristic token count")
	return (len(text) + 3) / 4
}

// CountMessageTokens counts one chat message: the per-message framing, the
// role and the content.
func (e *Estimator) CountMessageTokens(m *conversation.Message, model string) int {
	if m == nil {
		return 0
	}
	info, _ := e.models.Lookup(model)
	text := m.RawContent
	if text == "" {
		text = m.Content
	}
	return info.TokensPerMessage + e.CountText(string(m.Role), model) + e.CountText(text, model)
}

// CountConversationTokens is the sum of CountMessageTokens over all messages.
func (e *Estimator) CountConversationTokens(c *conversation.Conversation) int {
	if c == nil {
		return 0
	}
	total := 0
	for _, m := range c.Messages {
		total += e.CountMessageTokens(m, c.Model)
	}
	return total
}

type BudgetInput struct {
	UserInput string
	// Selection is the pending editor selection; it only counts when
	// IncludeSelection is set.
	Selection         string
	IncludeSelection  bool
	MaxResponseTokens int
}

// Budget computes the token snapshot shown before sending.
func (e *Estimator) Budget(c *conversation.Conversation, in BudgetInput) conversation.TokenCount {
	model := ""
	if c != nil {
		model = c.Model
	}
	info, _ := e.models.Lookup(model)

	messages := e.CountConversationTokens(c)
	userInput := e.CountText(in.UserInput, model)
	if in.IncludeSelection {
		userInput += e.CountText(in.Selection, model) + SelectionOverheadTokens
	}

	maxTotal := info.ContextWindow
	if in.MaxResponseTokens > 0 {
		maxTotal = min(in.MaxResponseTokens, info.ContextWindow)
	}

	return conversation.TokenCount{
		Messages:  messages,
		UserInput: userInput,
		MinTotal:  messages + userInput,
		MaxTotal:  maxTotal,
	}
}
