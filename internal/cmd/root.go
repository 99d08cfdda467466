// Package cmd holds the wanworker CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tenexa/wanworker/internal/observability"
)

var (
	rootLogLevel string
	rootConfig   string
)

var rootCmd = &cobra.Command{
	Use:   "wanworker",
	Short: "Serverless worker for Wan 2.2 image-to-video generation",
	Long: `wanworker fronts a ComfyUI engine with a job API for Wan 2.2
image-to-video generation. It supervises the engine subprocess, patches
graph templates with request parameters, tracks executions over the engine
event stream, and delivers the resulting video inline or via an
S3-compatible bucket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return observability.Init(rootLogLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootConfig, "config", "", "Path to config file (YAML or JSON)")
}

// Execute runs the CLI. It returns the error for main to translate into an
// exit code.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}
