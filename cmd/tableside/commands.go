package main

import (
	"os"
	"os/signal"
	"syscall"

	"tableside/internal/config"
	"tableside/internal/database"
	"tableside/internal/inventory"

	"github.com/spf13/cobra"
)

var (
	sweepOnce bool

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run the reconciliation sweeps without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, &logger)
			if err != nil {
				return err
			}
			defer a.Close()

			a.dispatcher.Start(ctx)
			defer a.dispatcher.Stop()

			if sweepOnce {
				return a.reconciler.RunOnce(ctx)
			}
			a.reconciler.Start(ctx)
			<-ctx.Done()
			a.reconciler.Stop()
			return nil
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := database.NewDB(cfg.Database.Path, &logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}

	tablesCmd = &cobra.Command{
		Use:   "tables",
		Short: "Manage the dining room inventory",
	}

	tablesSyncCmd = &cobra.Command{
		Use:   "sync [tables.yaml]",
		Short: "Apply a tables file to the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.TablesConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			tc, err := config.LoadTablesConfig(path)
			if err != nil {
				return err
			}

			db, err := database.NewDB(cfg.Database.Path, &logger)
			if err != nil {
				return err
			}
			defer db.Close()

			inv := inventory.New(db, &logger)
			if err := inv.Sync(cmd.Context(), tc); err != nil {
				return err
			}
			snap, err := inv.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info().
				Int("tables", len(snap.Tables)).
				Int("total_seats", snap.TotalSeats).
				Msg("Tables synced")
			return nil
		},
	}
)

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "run every sweep once and exit")
	tablesCmd.AddCommand(tablesSyncCmd)
}
