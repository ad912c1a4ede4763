package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rood-one/telegram-anime-downloader/internal/bot"
	"github.com/rood-one/telegram-anime-downloader/internal/cleanup"
	"github.com/rood-one/telegram-anime-downloader/internal/config"
	"github.com/rood-one/telegram-anime-downloader/internal/downloader"
	"github.com/rood-one/telegram-anime-downloader/internal/http/rest"
	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/notifier"
	"github.com/rood-one/telegram-anime-downloader/internal/provider"
	"github.com/rood-one/telegram-anime-downloader/internal/provider/anon"
	"github.com/rood-one/telegram-anime-downloader/internal/provider/gdrive"
	"github.com/rood-one/telegram-anime-downloader/internal/provider/gofile"
	"github.com/rood-one/telegram-anime-downloader/internal/provider/pixeldrain"
	"github.com/rood-one/telegram-anime-downloader/internal/provider/putio"
	"github.com/rood-one/telegram-anime-downloader/internal/relay"
	"github.com/rood-one/telegram-anime-downloader/internal/routing"
	"github.com/rood-one/telegram-anime-downloader/internal/session"
	"github.com/rood-one/telegram-anime-downloader/internal/storage"
	"github.com/rood-one/telegram-anime-downloader/internal/storage/sqlite"
	"github.com/rood-one/telegram-anime-downloader/internal/telemetry"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout

	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: 3,
			Compress:   true,
		}
		defer rotated.Close()

		out = io.MultiWriter(os.Stdout, rotated)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("telegram downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}

	logger.Info("telegram downloader stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	instanceID := storage.GenerateInstanceID()
	ledger := sqlite.NewInstrumentedRepository(database, instanceID, tel)

	orphans, err := ledger.InterruptOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to close orphaned transfers: %w", err)
	}

	if orphans > 0 {
		logger.Warn("marked transfers from a previous run as interrupted", "count", orphans)
	}

	// =========================================================================
	// Start Workspace
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "telegram-anime-downloader")
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	// =========================================================================
	// Start Providers
	retry := transfer.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       cfg.RetryDelay,
		MaxElapsed:  cfg.RetryMaxElapsed,
	}

	chain, err := buildProviderChain(ctx, cfg, retry, tel)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Telegram Gateway
	botClient := provider.NewHTTPClient(tel.Transport(nil), max(cfg.UploadTimeout, bot.PollWindow))

	gw, err := bot.NewTelegramGateway(cfg.BotToken, cfg.BotAPIEndpoint, cfg.BotDebug, botClient)
	if err != nil {
		return err
	}

	logger.Info("authorized on telegram", "bot", gw.Username())

	// =========================================================================
	// Start Relay
	policy := routing.Policy{InlineThreshold: cfg.MaxDirectSize, MaxSourceBytes: cfg.MaxSourceSize}

	dl := downloader.New(newDownloadClient(cfg, tel), retry,
		downloader.WithTelemetry(tel),
		downloader.WithMaxBytes(cfg.MaxSourceSize),
	)

	runner := relay.New(dl, chain, bot.NewCourier(gw, cfg.InlineAsVideo), policy, workDir,
		relay.WithLedger(ledger),
		relay.WithAlerts(buildNotifier(cfg)),
		relay.WithTelemetry(tel),
	)

	// =========================================================================
	// Start Sessions
	sanitizer, err := session.NewSanitizer(cfg.FilenameScripts...)
	if err != nil {
		return fmt.Errorf("invalid FILENAME_SCRIPTS: %w", err)
	}

	store := session.NewStore(cfg.MaxSessions, cfg.SessionTTL)
	flow := session.NewFlow(store, sanitizer, cfg.AskDeliveryChoice)

	botHandler := bot.NewHandler(gw, flow, runner, bot.Settings{
		MaxParallel:   cfg.MaxParallel,
		MaxDirectSize: cfg.MaxDirectSize,
		ProviderLabel: chain.Names()[0],
	}, bot.WithHistory(ledger), bot.WithTelemetry(tel))

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, rest.NewKeepAliveHandler(gw.Username(), chain.Names(), store, tel))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		runCleanup(gctx, ledger, workDir, cfg)

		return nil
	})

	// =========================================================================
	// Start Main Loop
	g.Go(func() error {
		logger.Info("waiting for messages...",
			"providers", chain.Names(),
			"max_direct_size", cfg.MaxDirectSize,
			"max_parallel", cfg.MaxParallel,
			"work_dir", workDir,
		)

		return botHandler.Run(gctx, gw.Updates(gctx))
	})

	return g.Wait()
}

// buildProviderChain resolves PROVIDERS against every known adapter.
func buildProviderChain(ctx context.Context, cfg *config.Config, retry transfer.RetryPolicy, tel *telemetry.Telemetry) (*provider.Chain, error) {
	registry := provider.NewRegistry(
		gofile.Descriptor(),
		anon.FileIODescriptor(),
		anon.ZeroX0Descriptor(),
		anon.TransferShDescriptor(),
		pixeldrain.Descriptor(),
		gdrive.Descriptor(),
		putio.Descriptor(),
	)

	providers, err := registry.Build(ctx, cfg.ProviderNames(), provider.Credentials{
		HTTPClient:            provider.NewHTTPClient(tel.Transport(nil), cfg.UploadTimeout),
		PixeldrainAPIKey:      cfg.PixeldrainAPIKey,
		GDriveCredentialsFile: cfg.GDriveCredentialsFile,
		GDriveFolderID:        cfg.GDriveFolderID,
		PutioToken:            cfg.PutioToken,
		PutioFolderID:         cfg.PutioFolderID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build upload providers: %w", err)
	}

	return provider.NewChain(providers, retry, tel), nil
}

// newDownloadClient bounds the wait for response headers only; bodies of any
// size may stream for as long as they keep flowing.
func newDownloadClient(cfg *config.Config, tel *telemetry.Telemetry) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.DownloadTimeout

	return &http.Client{Transport: tel.Transport(tr)}
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return notifier.Nop{}
	}

	return notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, h *rest.KeepAliveHandler) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", h.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func runCleanup(ctx context.Context, ledger storage.TransferReadRepository, workDir string, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			active, err := ledger.Active(ctx)
			if err != nil {
				logger.Error("failed to get running transfers for cleanup", "err", err)

				continue
			}

			removed, err := cleanup.SweepWorkspaces(ctx, workDir, active, cfg.KeepWorkspaceFor)
			if err != nil {
				logger.Error("failed to sweep job workspaces", "err", err)

				continue
			}

			if removed > 0 {
				logger.Info("removed stale job workspaces", "count", removed)
			}
		}
	}
}
