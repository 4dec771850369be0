package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/mentionscan/internal/config"
)

const (
	appName = "mentionscan"
	version = "v0.4.0"

	defaultConfigPath = "config/mentionscan.yaml"
)

// app carries state shared by subcommands once the root pre-run has loaded
// the configuration
type app struct {
	configPath string
	config     *config.AppConfig
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Detect stock ticker mentions in Reddit posts and comments",
		Version: version,
		Long: `mentionscan scans posts and threaded comments for stock ticker mentions,
scores every detection, and infers tickers for replies without a direct
mention by propagating decayed confidence from a matched ancestor or post.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.config = cfg
			setupLogging(cfg.Logging)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "Path to the YAML configuration file")

	rootCmd.AddCommand(
		newScanCmd(a),
		newClassifyCmd(a),
		newTickersCmd(a),
		newMigrateCmd(a),
	)

	return rootCmd
}

// setupLogging configures the global zerolog logger. auto picks the console
// writer when stderr is a terminal and JSON otherwise.
func setupLogging(cfg config.LoggingSection) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.Format == "console" ||
		(cfg.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	log.Debug().
		Str("level", level.String()).
		Bool("console", console).
		Str("version", version).
		Msgf("%s logging initialized", appName)
}
