package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("threadbot exited")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var llmService string

	root := &cobra.Command{
		Use:           "threadbot",
		Short:         "Telegram assistant that keeps per-chat conversation threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), llmService)
		},
	}
	root.Flags().StringVar(&llmService, "llm-service", "", "completion backend: openai, groq or stub (overrides LLM_PROVIDER)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "threadbot "+version)
		},
	})
	return root
}
