// Package cli wires the tokenproxy command-line surface: cobra root
// command plus the serve subcommand that runs the proxy and health
// listeners.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tokenproxy",
	Short: "Forward proxy that multiplexes clients over a bounded pool of bearer tokens",
	Long: `tokenproxy logs into a single upstream credential a fixed number of times,
holds the resulting tokens in a bounded pool, and forwards every client
connection to one upstream host with a pooled token injected as its
Authorization header.`,
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml (default ./config.yaml)")
}
