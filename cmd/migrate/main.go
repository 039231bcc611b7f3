// Command migrate manages the weather_lookups schema.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/app"
	"github.com/sean-rowe/farm-weather-gateway/internal/config"
	"github.com/sean-rowe/farm-weather-gateway/internal/infrastructure/database"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the lookup audit trail schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withDB(func(db *sql.DB, logger *zap.Logger, _ []string) error {
		return database.RunMigrations(db, logger)
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration",
	RunE: withDB(func(db *sql.DB, logger *zap.Logger, _ []string) error {
		return database.MigrateDown(db, logger)
	}),
}

var gotoCmd = &cobra.Command{
	Use:   "goto [version]",
	Short: "Migrate up or down to a version",
	Args:  cobra.ExactArgs(1),
	RunE: withDB(func(db *sql.DB, logger *zap.Logger, args []string) error {
		target, err := strconv.ParseUint(args[0], 10, 32)

		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}

		return database.MigrateToVersion(db, uint(target), logger)
	}),
}

var forceCmd = &cobra.Command{
	Use:   "force [version]",
	Short: "Mark a version as applied and clear the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: withDB(func(db *sql.DB, logger *zap.Logger, args []string) error {
		target, err := strconv.Atoi(args[0])

		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}

		return database.ForceVersion(db, target, logger)
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: withDB(func(db *sql.DB, _ *zap.Logger, _ []string) error {
		v, dirty, err := database.Version(db)

		if err != nil {
			return err
		}

		fmt.Printf("version %d (dirty: %t)\n", v, dirty)

		return nil
	}),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(upCmd, downCmd, gotoCmd, forceCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withDB loads configuration, opens the database and runs fn. The database
// section is used even when the audit trail is disabled for the server.
func withDB(fn func(db *sql.DB, logger *zap.Logger, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)

		if err != nil {
			return err
		}

		logger, err := zap.NewProduction()

		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		defer func() {
			_ = logger.Sync()
		}()

		db, err := database.Open(cmd.Context(), app.DatabaseConfig(cfg))

		if err != nil {
			return err
		}

		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close database connection", zap.Error(err))
			}
		}()

		return fn(db, logger, args)
	}
}
