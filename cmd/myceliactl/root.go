package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "myceliactl",
	Short: "Operational CLI for the mycelia message-bus kernel",
	Long: `myceliactl boots an in-process mycelia kernel and exercises it:
listing subsystems and routes, or running a request/response demo with
tracing enabled.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to mycelia.yaml")
}
