// Command farm-weather runs the farm weather gateway HTTP server and offers a
// one-shot reading for scripts and troubleshooting.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/app"
	"github.com/sean-rowe/farm-weather-gateway/internal/config"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/version"
)

// Global flags
var (
	configPath string
	latitude   float64
	longitude  float64
)

// rootCmd serves HTTP when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:           "farm-weather",
	Short:         "Farm weather gateway",
	Long:          `Serves temperature and humidity for the farm dashboard, degrading to simulated data when the upstream is unavailable.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var readingCmd = &cobra.Command{
	Use:   "reading",
	Short: "Print one reading as JSON and exit",
	RunE:  runReading,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	readingCmd.Flags().Float64Var(&latitude, "lat", 0, "Latitude (defaults to the farm location)")
	readingCmd.Flags().Float64Var(&longitude, "lon", 0, "Longitude (defaults to the farm location)")
	readingCmd.MarkFlagsRequiredTogether("lat", "lon")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(readingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)

	if err != nil {
		return nil, nil, err
	}

	logger, err := app.NewLogger(cfg)

	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()

	if err != nil {
		return err
	}

	application := app.New(cfg, logger)

	if err := application.Start(cmd.Context()); err != nil {
		application.Stop()
		return err
	}

	application.WaitForShutdown(cmd.Context())
	application.Stop()

	return nil
}

func runReading(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()

	if err != nil {
		return err
	}

	application := app.New(cfg, logger)
	defer application.Stop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := application.Init(ctx); err != nil {
		return err
	}

	coords := cfg.Location.Farm().Coordinates

	if cmd.Flags().Changed("lat") {
		coords = domain.Coordinates{Latitude: latitude, Longitude: longitude}

		if err := coords.Validate(); err != nil {
			return err
		}
	}

	reading := application.Gateway().GetReading(ctx, coords)

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	return encoder.Encode(reading)
}
