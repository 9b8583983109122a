package tokens

import "github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"

// CostEstimate is an advisory price range in USD. Known is false when the
// model has no rates in the table.
type CostEstimate struct {
	MinTokens int     `json:"minTokens"`
	MaxTokens int     `json:"maxTokens"`
	MinCost   float64 `json:"minCost"`
	MaxCost   float64 `json:"maxCost"`
	Known     bool    `json:"known"`
	Review    bool    `json:"review,omitempty"`
}

// Cost prices a budget: the prompt side at the prompt rate, and the largest
// possible completion on top at the completion rate.
func (e *Estimator) Cost(tc conversation.TokenCount, model string) CostEstimate {
	info, _ := e.models.Lookup(model)

	maxTokens := tc.MaxTotal
	minTokens := min(tc.Messages+tc.UserInput, maxTokens)

	ret := CostEstimate{
		MinTokens: minTokens,
		MaxTokens: maxTokens,
		Known:     info.HasRates(),
		Review:    info.Review,
	}
	if !ret.Known {
		return ret
	}

	ret.MinCost = float64(minTokens) / 1000 * info.PromptRate
	ret.MaxCost = ret.MinCost + float64(max(0, maxTokens-minTokens))/1000*info.CompletionRate
	return ret
}
