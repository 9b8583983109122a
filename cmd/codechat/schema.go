package main

import (
	"encoding/json"
	"fmt"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/spf13/cobra"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [intent-type]",
		Short: "Print the JSON schema of an intent, or list the intent types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, t := range events.IntentTypes() {
					fmt.Fprintln(out, t)
				}
				return nil
			}

			s, err := events.IntentSchema(events.NormalizeIntentType(args[0]))
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		},
	}
}
