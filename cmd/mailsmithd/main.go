// Mailsmithd serves the mailsmith email generation API over HTTP.
//
// Configuration is read from ~/.config/mailsmith/config.yaml (or -config)
// and MAILSMITH_* environment variables.
//
// Usage:
//
//	# Start with defaults (stub provider, sqlite history, embedded index)
//	mailsmithd
//
//	# Point at an OpenAI-compatible endpoint
//	MAILSMITH_PROVIDER_NAME=openai MAILSMITH_PROVIDER_API_KEY=... mailsmithd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/config"
	"github.com/fyrsmithlabs/mailsmith/internal/http"
	"github.com/fyrsmithlabs/mailsmith/internal/logging"
	"github.com/fyrsmithlabs/mailsmith/internal/services"
	"github.com/fyrsmithlabs/mailsmith/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mailsmithd [-config path]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  mailsmithd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("mailsmithd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the service from configuration and blocks until ctx is
// cancelled, then drains the HTTP server, the indexer and telemetry in that
// order.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), logger.Underlying().Named("telemetry"))
	if err != nil {
		return err
	}
	// Telemetry needs a logger first; the bridged logger replaces it once
	// the log provider exists.
	if logCfg.Output.OTEL {
		if lp := tel.LoggerProvider(); lp != nil {
			if logger, err = logging.NewLogger(logCfg, lp); err != nil {
				return fmt.Errorf("initializing otel logger: %w", err)
			}
		} else {
			logger.Warn(ctx, "otel log output requested but telemetry is not exporting")
		}
	}
	defer func() { _ = logger.Sync() }()

	reg, err := services.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}

	srv, err := http.NewServer(reg.Assistant(), reg.Indexer(), logger, &http.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Telemetry: tel,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting mailsmithd",
		zap.String("version", version),
		zap.String("provider", cfg.Provider.Name),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("index", cfg.Index.Backend),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("indexing", cfg.Indexing.EnableIndexing))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	errs := []error{}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		errs = append(errs, err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := reg.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("closing services: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	logger.Info(shutdownCtx, "mailsmithd stopped")
	return errors.Join(errs...)
}
