// Package cmd wires the application together behind a cobra CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "Sage - a conversational agent with retrieval and tools",
	Long: `Sage answers user messages over HTTP, grounding replies in a local
content index and a small set of tools (weather lookup, calculator),
with model fallback and cooperative rate-limit backoff underneath.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Running without a subcommand starts the server.
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
