// Package cmd provides the CLI commands for myrient-search.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Myrient-Search/Myrient-Search/pkg/version"
)

var configPath string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "myrient-search",
		Short: "Searchable catalog over the Myrient ROM archive",
		Long: `myrient-search crawls the Myrient archive's directory listings into a
SQLite catalog, enriches games with IGDB metadata, and serves a full-text
search API with an admin surface for pipeline control and scheduling.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("myrient-search version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml if present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
