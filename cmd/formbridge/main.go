// Package main provides the formbridge binary entry point.
// FormBridge relays form submissions into Zoho CRM with a cached OAuth
// credential and fans processed payloads out to automation webhooks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/formbridge/formbridge/config"
	"github.com/formbridge/formbridge/extract"
	"github.com/formbridge/formbridge/fanout"
	"github.com/formbridge/formbridge/metrics"
	"github.com/formbridge/formbridge/server"
	"github.com/formbridge/formbridge/zoho"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "formbridge"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   appName,
		Short: "Form-to-CRM relay with webhook fan-out",
		Long: `FormBridge accepts web and mobile form submissions, normalizes them,
writes them to Zoho CRM through a cached OAuth credential, and fans the
processed payloads out to a configurable list of automation webhooks.

Credentials and webhook targets come from a YAML config file and
environment variables; the webhook target lists reload on config file
changes without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	root.AddCommand(configCmd(&configPath))

	return root
}

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			cfg, err := config.NewLoader(logger).Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("configuration OK: listen %s, %d general and %d vendor webhook targets\n",
				cfg.Server.Addr, len(cfg.Webhooks.General), len(cfg.Webhooks.Vendor))
			return nil
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.NewLoader(bootstrap).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The flag wins over the config file
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(logLevel)}))
	slog.SetDefault(logger)

	fmt.Printf("%s v%s (build: %s)\n", appName, Version, BuildTime)

	metrics.Register()

	tokens := zoho.NewTokenCache(tokenConfig(cfg), tokenOptions(cfg, logger)...)
	crm := zoho.NewClient(cfg.Zoho.APIBaseURL, tokens,
		zoho.WithCallTimeout(cfg.Zoho.CallTimeout),
		zoho.WithLogger(logger),
	)

	dispatcher := fanout.New(
		fanout.WithTimeout(cfg.Webhooks.Timeout),
		fanout.WithLogger(logger),
	)

	webhookRuntime := config.NewRuntime(cfg.Webhooks)

	serverOpts := []server.Option{
		server.WithDispatcher(dispatcher),
		server.WithLogger(logger),
	}
	if relay, err := buildRelay(cfg, logger); err != nil {
		return err
	} else if relay != nil {
		serverOpts = append(serverOpts, server.WithRelay(relay))
	}

	app := server.New(cfg, webhookRuntime, tokens, crm, serverOpts...)
	defer app.Close()

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Hot-reload webhook targets on config file changes
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, webhookRuntime, logger)
		if err != nil {
			logger.Warn("Config watcher unavailable; webhook target changes need a restart", "error", err)
		} else if err := watcher.Start(signalCtx); err != nil {
			logger.Warn("Config watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("FormBridge ready",
		"version", Version,
		"addr", cfg.Server.Addr,
		"crm", cfg.Zoho.APIBaseURL,
		"general_targets", len(cfg.Webhooks.General),
		"vendor_targets", len(cfg.Webhooks.Vendor),
	)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-signalCtx.Done():
	}

	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}

	logger.Info("FormBridge shutdown complete")
	return nil
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func tokenConfig(cfg *config.Config) zoho.TokenConfig {
	probeURL := ""
	if cfg.Zoho.ProbePath != "" {
		probeURL = strings.TrimSuffix(cfg.Zoho.APIBaseURL, "/") + cfg.Zoho.ProbePath
	}

	return zoho.TokenConfig{
		TokenURL:     cfg.Zoho.TokenURL,
		ClientID:     cfg.Zoho.ClientID,
		ClientSecret: cfg.Zoho.ClientSecret,
		RefreshToken: cfg.Zoho.RefreshToken,
		ProbeURL:     probeURL,
	}
}

func tokenOptions(cfg *config.Config, logger *slog.Logger) []zoho.TokenOption {
	opts := []zoho.TokenOption{zoho.WithTokenLogger(logger)}
	if cfg.Zoho.ExchangeTimeout > 0 {
		opts = append(opts, zoho.WithExchangeTimeout(cfg.Zoho.ExchangeTimeout))
	}
	if cfg.Zoho.ProbeTimeout > 0 {
		opts = append(opts, zoho.WithProbeTimeout(cfg.Zoho.ProbeTimeout))
	}
	return opts
}

// buildRelay assembles the document extraction relay when an encrypted key
// is configured. Returning a nil relay leaves the endpoint disabled.
func buildRelay(cfg *config.Config, logger *slog.Logger) (*extract.Relay, error) {
	if cfg.Extract.EncryptedKey == "" {
		logger.Info("Document extraction disabled: no encrypted key configured")
		return nil, nil
	}

	keybox, err := extract.NewKeybox(cfg.Extract.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("extraction keybox: %w", err)
	}

	// Unseal once at startup so a bad passphrase fails fast instead of on
	// the first extraction request.
	if _, err := keybox.Open(cfg.Extract.EncryptedKey); err != nil {
		return nil, fmt.Errorf("extraction key does not unseal with the configured passphrase: %w", err)
	}

	opts := []extract.RelayOption{extract.WithRelayLogger(logger)}
	if cfg.Extract.Timeout > 0 {
		opts = append(opts, extract.WithRelayTimeout(cfg.Extract.Timeout))
	}

	return extract.NewRelay(cfg.Extract.Endpoint, cfg.Extract.Model, cfg.Extract.EncryptedKey, keybox, opts...), nil
}
