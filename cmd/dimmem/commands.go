package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/lexlapax/dimmem/pkg/dimmem"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore/migrations"
)

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "record [message]",
			Short: "Record a conversation turn",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runInput(dimmem.InputTypeRecord),
		},
		&cobra.Command{
			Use:   "search [query]",
			Short: "Search every memory dimension",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runInput(dimmem.InputTypeRetrieve),
		},
		&cobra.Command{
			Use:   "context [query]",
			Short: "Render the prompt context for a query",
			RunE:  runInput(dimmem.InputTypeContext),
		},
		&cobra.Command{
			Use:   "learn [topic: content]",
			Short: "Store a knowledge entry",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runInput(dimmem.InputTypeLearn),
		},
		newCompressCmd(),
		newMigrateCmd(),
		newShellCmd(),
	)
}

func newCompressCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Archive old conversation events into the knowledge vault",
		Long: "Archive conversation events older than --before into one knowledge entry " +
			"and delete them. --before accepts an age (720h), an RFC3339 timestamp or a date.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInput(dimmem.InputTypeCompress)(cmd, []string{before})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Cutoff age or time (default: memory.auto_compress_after)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL schema of the configured record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var (
				driver string
				db     *sqlx.DB
			)
			switch cfg.Store.Type {
			case "sqlite":
				driver = migrations.DriverSQLite
				db, err = sqlx.Open("sqlite3", cfg.Store.SQLite.Path)
			case "postgres":
				driver = migrations.DriverPostgres
				sqlDB, openErr := migrations.OpenPostgres(cfg.Store.Postgres.DSN)
				if openErr == nil {
					db = sqlx.NewDb(sqlDB, driver)
				}
				err = openErr
			default:
				return fmt.Errorf("store type %s has no SQL schema", cfg.Store.Type)
			}
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				err = migrations.Down(db.DB, driver)
			} else {
				err = migrations.Up(db.DB, driver)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied to %s store (down=%v)\n", cfg.Store.Type, down)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration instead")
	return cmd
}
