// Package main provides the entry point for the spindle CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for spindle.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spindle",
		Short: "Polite, adaptive web crawler",
		Long: `Spindle is a polite, adaptive web crawler. It fetches pages from seed
URLs, discovers links, deduplicates content, and adapts its pace to each
server's behavior: domains that struggle are slowed down, paths that
loop are cut off, and robots.txt is honored by default.

Crawl results are stored in a local SQLite database and summarized in
text, JSON, or Markdown reports.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
