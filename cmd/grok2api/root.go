package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "grok2api",
	Short: "OpenAI-compatible gateway for grok.com",
	Long: `Grok2api exposes the OpenAI chat and image APIs on top of grok.com's
private web API.

It manages a pool of session credentials with quota tracking and
cooldowns, retries transient upstream failures, bridges the provider's
NDJSON streams to OpenAI JSON and SSE, and collects finished images
over the provider's websocket.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}
