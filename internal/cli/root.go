package cli

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/config"
)

var (
	dbPath     string
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fgoat",
	Short: "Form Goat - self-hosted A/B testing for forms",
	Long: `Form Goat runs A/B tests on form variants.
Single Go binary, embedded SQLite.

Running without a subcommand starts the server (same as 'fgoat serve').`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runServe, // Default action is to start server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default from config, then ./form-goat.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("FG_CONFIG"), "config file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// setup loads .env, the config file and the environment, then applies
// command line overrides.
func setup(cmd *cobra.Command, args []string) error {
	// A missing .env is fine
	_ = godotenv.Load()

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}
