// Package cmd defines and implements the CLI commands for the drawpulse
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drawpulse",
		Short: "A lottery draw ingestion and analysis pipeline.",
		Long: `drawpulse collects draw results from upstream endpoints, validates
them into a canonical table and runs asynchronous analysis jobs over the
validated series. All stages share one durable relational store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
