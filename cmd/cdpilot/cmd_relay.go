package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"cdpilot/internal/config"
	"cdpilot/internal/logging"
	"cdpilot/internal/relay"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	relayHost  string
	relayPort  int
	relayWatch bool
)

// relayCmd serves the extension relay until interrupted.
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve a CDP endpoint backed by the browser extension",
	Long: `Starts the extension relay. The browser extension connects to
ws://HOST:PORT/extension; CDP clients then use http://HOST:PORT as their
cdp url (or ws://HOST:PORT/cdp directly).

With --watch, edits to the config file's logging categories apply without
a restart.`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayHost, "host", "", "Listen host (default from relay.host)")
	relayCmd.Flags().IntVarP(&relayPort, "port", "p", 0, "Listen port (default from relay.port)")
	relayCmd.Flags().BoolVar(&relayWatch, "watch", true, "Reload logging settings when the config file changes")
}

func relayConfig(base config.RelayConfig) config.RelayConfig {
	rc := base
	if relayHost != "" {
		rc.Host = relayHost
	}
	if relayPort != 0 {
		rc.Port = relayPort
	}
	return rc
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := relay.NewRegistry()
	srv, err := registry.Ensure(ctx, relayConfig(cfg.Relay))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Extension relay listening on http://%s\n", srv.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "  extension: ws://%s/extension\n", srv.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "  cdp:       ws://%s/cdp\n", srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	if relayWatch {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, func(next *config.Config) {
				logging.SetCategories(next.Logging.Categories)
				logging.Config("logging categories updated")
			})
			if err != nil {
				logging.ConfigWarn("config reload disabled: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-srv.Done():
			stop()
		}
		return registry.StopAll()
	})
	return g.Wait()
}
