package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/config"
)

var Version = "dev"

type rootFlags struct {
	configFile string
	envFile    string
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "settlement-service",
		Short:         "Order checkout and payment settlement service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", os.Getenv("CONFIG_FILE"), "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Path to a .env file, ignored if missing")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(migrateCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configFile, flags.envFile)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg)
	return cfg, nil
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.App.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if useConsoleLog(cfg) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.With().Str("service", cfg.App.Name).Logger()
}

// useConsoleLog honours an explicit LOG_FORMAT and otherwise writes
// human-readable logs only in development.
func useConsoleLog(cfg *config.Config) bool {
	switch cfg.App.LogFormat {
	case "console":
		return true
	case "":
		return cfg.IsDevelopment()
	default:
		return false
	}
}
