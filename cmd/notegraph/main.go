package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"notegraph/internal/config"
	"notegraph/internal/logging"
)

const defaultConfigFile = "notegraph.yaml"

var (
	// Global flags
	verbose    bool
	configPath string
	vaultFlag  string
	addrFlag   string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "notegraph",
	Short: "notegraph - background analyzer for Markdown vaults",
	Long: `notegraph watches a vault of Markdown notes, classifies each note with a
language model, discovers connections between related notes and inserts
wiki-style links into the notes it is confident about.

Run "notegraph start" to launch the service in the foreground.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		level := "info"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = newCLILogger(level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigFile, "Config file path")
	rootCmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "Vault directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Control API address (overrides config)")

	rootCmd.AddCommand(
		startCmd,
		statusCmd,
		forceCmd,
		forceAnalysisCmd,
		testCmd,
		connectionsCmd,
		initCmd,
	)
}

// loadConfig reads .env, the config file and the global flag overrides, then
// routes the internal category loggers through the CLI logger, rebuilt at the
// configured level.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if vaultFlag != "" {
		cfg.Vault.Path = vaultFlag
	}
	if addrFlag != "" {
		cfg.Control.ListenAddr = addrFlag
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if cfg.Logging.File != "" {
		if err := logging.Initialize(cfg.Logging.Options()); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cliLogger, err := newCLILogger(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger = cliLogger
	logging.InitializeWith(logger, cfg.Logging.Options())
	return cfg, nil
}

// newCLILogger builds the stderr production logger at level.
func newCLILogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(logging.ParseLevel(level))
	l, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// controlAddr resolves the control API address without touching logging.
func controlAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.DefaultConfig().Control.ListenAddr
	}
	return cfg.Control.ListenAddr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
