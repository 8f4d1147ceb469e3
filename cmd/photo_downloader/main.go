package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/photo_downloader/internal/cleanup"
	"github.com/italolelis/photo_downloader/internal/config"
	"github.com/italolelis/photo_downloader/internal/downloader"
	"github.com/italolelis/photo_downloader/internal/hashverify"
	"github.com/italolelis/photo_downloader/internal/http/rest"
	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/metadata"
	"github.com/italolelis/photo_downloader/internal/metadata/jsondir"
	"github.com/italolelis/photo_downloader/internal/notifier"
	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/italolelis/photo_downloader/internal/session"
	"github.com/italolelis/photo_downloader/internal/session/baidu"
	"github.com/italolelis/photo_downloader/internal/session/putio"
	"github.com/italolelis/photo_downloader/internal/storage"
	"github.com/italolelis/photo_downloader/internal/storage/jsonfile"
	"github.com/italolelis/photo_downloader/internal/storage/sqlite"
	"github.com/italolelis/photo_downloader/internal/telemetry"
	"github.com/italolelis/photo_downloader/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2

	serviceName = "photo_downloader"

	// staleTempAge is how old a leftover record temp file must be before it is removed.
	staleTempAge = time.Hour
)

var version = "dev"

const usage = `usage: photo_downloader [command]

commands:
  run      download every pending photo (default)
  export   write the sqlite records as download_history.json and failed_downloads.json
`

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	command := "run"
	if len(args) > 0 {
		command = args[0]
	}

	if command != "run" && command != "export" {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)

		return exitUsage
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)

		return exitFatal
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logctx.WithLogger(ctx, logger)

	logger.InfoContext(ctx, "photo downloader starting...", "command", command, "version", version, "log_level", cfg.LogLevel)

	switch command {
	case "export":
		err = export(ctx, cfg)
	default:
		err = run(ctx, cfg)
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		logger.WarnContext(ctx, "interrupted, state saved")

		return exitOK
	default:
		logger.ErrorContext(ctx, "fatal error", "err", err)

		return exitFatal
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Telemetry.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.Telemetry.Enabled {
		server := setupMetricsServer(ctx, tel, cfg)

		go func() {
			logger.InfoContext(ctx, "serving metrics", "address", cfg.Telemetry.Address)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "metrics server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Telemetry.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.ErrorContext(ctx, "failed to gracefully shutdown the metrics server", "err", err)
			}
		}()
	}

	// One client for session calls and file transfers. Throttling and 5xx
	// answers are retried here before they cost the item a whole round.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: transfer.NewRetryTransport(otelhttp.NewTransport(http.DefaultTransport), transfer.RetryOptions{
			MaxRetries:      cfg.HTTPRetries,
			InitialInterval: cfg.HTTPBackoff,
		}),
	}

	// =========================================================================
	// Start Record Store
	if strings.EqualFold(cfg.StoreBackend, config.StoreJSON) {
		for _, path := range []string{cfg.HistoryPath, cfg.FailuresPath} {
			if _, err := cleanup.RemoveStaleTempFiles(ctx, path, staleTempAge); err != nil {
				logger.WarnContext(ctx, "failed to remove stale temp files", "path", path, "err", err)
			}
		}
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// =========================================================================
	// Start Session
	sess, source, err := buildSession(cfg, httpClient)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Downloader
	fetcher := transfer.NewHTTPFetcher(sess.HTTPClient(), transfer.Options{
		ChunkSize:   cfg.ChunkSize,
		MaxFileSize: cfg.MaxFileSize,
		UserAgent:   cfg.UserAgent,
	})

	d := downloader.NewDownloader(
		downloader.Config{
			SaveRoot:      cfg.SaveRoot,
			MaxWorkers:    cfg.MaxWorkers,
			MaxRetries:    cfg.MaxRetries,
			AdoptExisting: cfg.AdoptExisting,
		},
		source,
		session.NewInstrumentedClient(sess, tel, strings.ToLower(cfg.SessionBackend)),
		transfer.NewInstrumentedFetcher(fetcher, tel),
		storage.NewInstrumentedStore(store, tel),
		hashverify.MD5{},
		tel,
	)

	d.OnItemFailed = func(item photo.Item, err error) {
		logger.WarnContext(ctx, "download failed permanently", "item_key", item.Key(), "err", err)
	}

	summary, runErr := d.Run(ctx)

	fmt.Fprint(os.Stdout, summary.String())

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, httpClient)

		if err := notif.Notify(context.WithoutCancel(ctx), summary.String()); err != nil {
			logger.ErrorContext(ctx, "failed to send notification", "err", err)
		}
	}

	return runErr
}

func export(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	if !strings.EqualFold(cfg.StoreBackend, config.StoreSQLite) {
		return &photo.ConfigError{Field: "STORE_BACKEND", Reason: "export needs the sqlite store backend"}
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	store := sqlite.NewRecordStore(db, hashverify.MD5{})
	defer store.Close()

	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	if err := store.ExportJSON(cfg.HistoryPath, cfg.FailuresPath); err != nil {
		return fmt.Errorf("failed to export records: %w", err)
	}

	logger.InfoContext(ctx, "exported records", "history_path", cfg.HistoryPath, "failures_path", cfg.FailuresPath)

	return nil
}

// buildStore is an abstract factory for the record store.
func buildStore(cfg *config.Config) (storage.RecordStore, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case config.StoreJSON:
		return jsonfile.New(cfg.HistoryPath, cfg.FailuresPath, hashverify.MD5{}), nil
	case config.StoreSQLite:
		db, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		return sqlite.NewRecordStore(db, hashverify.MD5{}), nil
	}

	return nil, &photo.ConfigError{Field: "STORE_BACKEND", Reason: "invalid store backend: " + cfg.StoreBackend}
}

// buildSession is an abstract factory for the session client and the metadata
// source that goes with it.
func buildSession(cfg *config.Config, httpClient *http.Client) (session.Client, metadata.Source, error) {
	switch strings.ToLower(cfg.SessionBackend) {
	case config.SessionBaidu:
		settings, err := baidu.LoadSettings(cfg.Baidu.SettingsPath)
		if err != nil {
			return nil, nil, err
		}

		return baidu.NewClient(cfg.Baidu.APIURL, settings, httpClient, cfg.UserAgent), jsondir.New(cfg.MetadataDir), nil
	case config.SessionPutio:
		client := putio.NewClient(cfg.PutioToken, cfg.PutioFolderID, httpClient)

		return client, client, nil
	}

	return nil, nil, &photo.ConfigError{Field: "SESSION_BACKEND", Reason: "invalid session backend: " + cfg.SessionBackend}
}

// setupMetricsServer prepares the router serving metrics and health.
func setupMetricsServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", rest.NewMetricsHandler(tel.Handler()).Routes())

	return &http.Server{
		Addr:              cfg.Telemetry.Address,
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
