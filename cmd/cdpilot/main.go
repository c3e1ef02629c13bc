package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cdpilot/internal/browser"
	"cdpilot/internal/config"
	"cdpilot/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	cdpURL     string
	targetID   string
	stateDir   string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cdpilot",
	Short: "cdpilot - browser automation over the Chrome DevTools Protocol",
	Long: `cdpilot drives a running Chrome through CDP.

Take an accessibility snapshot to get element refs (e1, e2, ...), then act
on those refs. Refs are kept per tab in the state directory so separate
invocations can share them.

The relay command serves a CDP endpoint backed by a browser extension for
browsers that do not expose a remote-debugging port.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cdpURL != "" {
			loaded.Browser.CDPURL = cdpURL
		}
		cfg = loaded

		logger, err = buildLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Initialize(logger, cfg.Logging.Categories)
		logging.Boot("cdpilot %s starting (config=%q)", cmd.Name(), configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{"stderr"}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Config file")
	rootCmd.PersistentFlags().StringVar(&cdpURL, "cdp-url", "", "CDP endpoint (http(s) or ws(s)); overrides browser.cdp_url")
	rootCmd.PersistentFlags().StringVarP(&targetID, "target", "t", "", "Target (tab) id; default is the first page")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "Directory for refs shared between invocations")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tabsCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(actCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(cookiesCmd)
	rootCmd.AddCommand(storageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("CDPILOT_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "cdpilot.yaml"
	}
	return filepath.Join(home, ".cdpilot", "config.yaml")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cdpilot"
	}
	return filepath.Join(home, ".cdpilot")
}

func refStorePath() string {
	return filepath.Join(stateDir, "refs.json")
}

// commandContext is cancelled on SIGINT/SIGTERM or after --timeout.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// withManager runs fn against a manager whose ref cache is loaded from and
// saved back to the state directory.
func withManager(fn func(ctx context.Context, m *browser.Manager) error) error {
	ctx, cancel := commandContext(timeout)
	defer cancel()

	m := browser.NewManager(cfg.Browser)
	store := refStorePath()
	if err := m.RefCache().Load(store); err != nil {
		logging.BootWarn("ignoring ref store: %v", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logging.BootWarn("close browser connection: %v", err)
		}
	}()

	if err := fn(ctx, m); err != nil {
		return err
	}
	if err := m.RefCache().Save(store); err != nil {
		logging.BootWarn("failed to save ref store %s: %v", store, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
