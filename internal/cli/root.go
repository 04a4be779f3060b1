// Package cli provides the command-line interface for skymirror.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"skymirror/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "skymirror",
	Short: "Mirror an X account's new posts to Bluesky",
	Long: "skymirror polls one X account, and every time a new post appears it republishes the " +
		"text, images and videos on Bluesky, optionally followed by a translated reply.",
	SilenceUsage: true,
	RunE:         runAction,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "skymirror %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file to load before reading the environment (empty to skip)")
	rootCmd.AddCommand(versionCmd, runCmd, checkCmd)
}

// Execute runs the root command. ctx is cancelled on shutdown signals.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
