// Package cmd - stockctl commands
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/3-stardust-7/JarNox/internal/app"
	"github.com/3-stardust-7/JarNox/internal/pkg/config"
	"github.com/3-stardust-7/JarNox/internal/pkg/logger"
)

var (
	cfgFile string
	verbose bool

	application *app.App
)

// rootCmd root command
var rootCmd = &cobra.Command{
	Use:   "stockctl",
	Short: "Stock cache maintenance CLI",
	Long: `Stock cache maintenance CLI

Runs the same read-through cache as the API server against the configured store.

Commands:
    populate    fetch the company universe into the store
    companies   list companies (populates an empty store)
    history     daily bars for one ticker
    status      row counts and sample tickers
`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: CONFIG_FILE or built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(populateCmd)
	rootCmd.AddCommand(companiesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		if err := os.Setenv("CONFIG_FILE", cfgFile); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// the CLI never runs the scheduled warmer
	cfg.Warmer.Cron = ""

	level := "warn"
	if verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{
		Level:       level,
		Format:      "pretty",
		ServiceName: "stockctl",
	}); err != nil {
		return err
	}

	application, err = app.New(cmd.Context(), cfg)
	return err
}

func teardown(cmd *cobra.Command, args []string) error {
	if application != nil {
		application.Close()
		application = nil
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
