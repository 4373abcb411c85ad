package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/product-catalog-client/internal/config"
	"github.com/Sternrassler/product-catalog-client/internal/telemetry"
	"github.com/Sternrassler/product-catalog-client/pkg/client"
	"github.com/Sternrassler/product-catalog-client/pkg/logging"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// app carries state shared by the subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string
	pretty     bool

	cfg       *config.Config
	telemetry *telemetry.Telemetry
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "catalog",
		Short: "Load products from the product catalog",
		Long: `catalog fetches products by identifier, one request per product, and
aggregates them into a sorted collection plus a map of failed identifiers.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human-readable log output")

	root.AddCommand(
		newLoadCmd(a),
		newGetCmd(a),
		newServeCmd(a),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = a.pretty
	}
	a.cfg = cfg

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)

	a.telemetry, err = telemetry.Setup(cmd.Context(), cfg.OTLP)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.telemetry == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.telemetry.Shutdown(ctx)
}

func (a *app) newClient() (*client.Client, error) {
	c, err := client.New(a.cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("create catalog client: %w", err)
	}
	return c, nil
}
