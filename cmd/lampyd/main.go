package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/lampyd/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "lampyd",
		Short:         "Remote control daemon for Lampy LED lamps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")

	root.AddCommand(
		serveCmd(),
		previewCmd(),
		statusCmd(),
		discoverCmd(),
		forgetCmd(),
		patternsCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// loadConfig reads the config file and configures logging from it.
// A missing file is not an error; defaults are used.
func loadConfig() (*config.Config, error) {
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Log.Level, cfg.Log.UseJSON, cfg.Log.Colors)

	if !found {
		log.Warn().Str("config", configPath).Msg("Config file not found, using defaults")
	}
	return cfg, nil
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
