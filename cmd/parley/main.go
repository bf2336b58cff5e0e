// Command parley is the English tutoring server and its admin tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals so tests can execute commands repeatedly.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "parley",
		Short: "Spoken English practice with an AI tutor",
		Long: `Parley runs practice sessions for English learners: free conversation
with a tutor, shadowing of generated sentences, and dictation.

Quick Start:
  parley serve --config config.yaml      # Run the HTTP server
  parley config check                    # Validate the configuration
  parley archive list                    # Show archived conversations`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(&configPath),
		newConfigCmd(&configPath),
		newArchiveCmd(&configPath),
	)
	return root
}
