// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "weekly-calendar:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "weekly-calendar",
		Short: "Clinic calendar, smart plug and billing API server",
		Long: `weekly-calendar serves the clinic API: appointments with equipment
timers driven by Shelly smart plugs, tickets posted to a double-entry
journal, CRM leads and energy anomaly analysis.

Configuration is layered: defaults, --config YAML file, .env, environment
(WEEKCAL_*), then flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddFlagSet(cliparse.NewFlagSet("weekly-calendar"))

	root.AddCommand(newServeCmd(), newMigrateCmd(), newTemplateCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cliparse.LoadFlags(cmd.Flags())
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer log.Sync()

			conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.CreateSchema(conn); err != nil {
				return fmt.Errorf("schema creation failed: %w", err)
			}
			log.Info(cmd.Context(), "database schema ready")
			return nil
		},
	}
}
