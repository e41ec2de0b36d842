package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/server"
	"github.com/tanranv5/grok2api/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Start the gateway with the specified configuration.

Examples:
  # Start with default config
  grok2api run

  # Start with custom config
  grok2api run --config /etc/grok2api/config.yaml

  # Override listen address
  grok2api run --listen 0.0.0.0:8180

  # Validate config without starting
  grok2api run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.Setup(cfg.Telemetry.Logging)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration OK")
		return nil
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	logger.Info("gateway configured",
		"listen_address", cfg.Server.ListenAddress,
		"catalog", cfg.Catalog.Path,
		"storage", storageLabel(cfg.Storage.Path),
	)
	return srv.Start(context.Background())
}

func storageLabel(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}
