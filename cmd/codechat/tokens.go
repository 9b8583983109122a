package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/settings"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Estimate tokens and cost",
	}

	count := &cobra.Command{
		Use:   "count [text]",
		Short: "Count the tokens of text, read from stdin when no argument is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			text, err := textFromArgs(cmd, args)
			if err != nil {
				return err
			}
			e := tokens.NewEstimator(nil)
			fmt.Fprintln(cmd.OutOrStdout(), e.CountText(text, model))
			return nil
		},
	}
	count.Flags().String("model", settings.DefaultModel, "Model whose tokenizer is used")

	cost := &cobra.Command{
		Use:   "cost [text]",
		Short: "Estimate the cost range of sending text as a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			maxResponse, _ := cmd.Flags().GetInt("max-response-tokens")
			text, err := textFromArgs(cmd, args)
			if err != nil {
				return err
			}

			e := tokens.NewEstimator(nil)
			c := conversation.New(conversation.WithModel(model))
			tc := e.Budget(c, tokens.BudgetInput{UserInput: text, MaxResponseTokens: maxResponse})
			est := e.Cost(tc, model)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tokens: %d-%d\n", est.MinTokens, est.MaxTokens)
			if !est.Known {
				fmt.Fprintf(out, "no pricing known for %s\n", model)
				return nil
			}
			fmt.Fprintf(out, "cost: $%.4f-$%.4f\n", est.MinCost, est.MaxCost)
			if est.Review {
				fmt.Fprintln(out, "note: the rates of this model are flagged for review")
			}
			return nil
		},
	}
	cost.Flags().String("model", settings.DefaultModel, "Model to price")
	cost.Flags().Int("max-response-tokens", settings.DefaultMaxResponseTokens, "Upper bound of the answer length")

	models := &cobra.Command{
		Use:   "models",
		Short: "List the model table",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, m := range tokens.DefaultModelTable().Models {
				review := ""
				if m.Review {
					review = " (review)"
				}
				fmt.Fprintf(out, "%-24s %-12s %6d  %.4f/%.4f%s\n",
					m.Pattern, m.Encoding, m.ContextWindow, m.PromptRate, m.CompletionRate, review)
			}
			return nil
		},
	}

	cmd.AddCommand(count, cost, models)
	return cmd
}

func textFromArgs(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", errors.Wrap(err, "could not read stdin")
	}
	return string(b), nil
}
