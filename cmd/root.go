package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ytmc/internal/config"
)

var (
	cfgFile string
	verbose bool

	// logLevel is shared by the installed handler so config reloads can
	// change verbosity without rebuilding the logger.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "ytmc",
	Short: "Companion server for the YouTube Music desktop shell",
	Long: `ytmc lets paired companion apps read player state, browse playlists and
send playback commands to the desktop player. Running it without a
subcommand starts the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ytmc/config.json5, or $YTMC_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(tokensCmd())
	rootCmd.AddCommand(consentCmd())
	rootCmd.AddCommand(connectInfoCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

// loadConfig loads the resolved config and exits on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging installs the default slog logger.
func setupLogging(cfg config.LogConfig) {
	applyLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func applyLogLevel(level string) {
	if verbose {
		logLevel.Set(slog.LevelDebug)
		return
	}
	logLevel.Set(parseLogLevel(level))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
