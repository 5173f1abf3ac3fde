// Package cmd holds the vaultctl subcommands: operational tooling for the
// token vault that runs directly against the database, not through the HTTP
// surface.
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/autopost-hq/tokenvault/log"
)

var appLogger log.Logger

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "vaultctl is the operational CLI for the token vault",
	Long: `A command-line tool for token vault maintenance: running the
token cleanup sweep and generating encryption keys.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appLogger = log.NewZerologAdapter(zerolog.InfoLevel, true)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
