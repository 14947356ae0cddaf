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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vault_downloader/internal/cleanup"
	"vault_downloader/internal/config"
	"vault_downloader/internal/controller"
	"vault_downloader/internal/http/rest"
	"vault_downloader/internal/linklist"
	"vault_downloader/internal/logctx"
	"vault_downloader/internal/notifier"
	"vault_downloader/internal/storage"
	"vault_downloader/internal/storage/sqlite"
	"vault_downloader/internal/telemetry"
	"vault_downloader/internal/transfer"
	"vault_downloader/internal/vault"
)

const dirPerm = 0755

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("vault downloader starting...", "log_level", cfg.LogLevel, "diagnostic_mode", cfg.DiagnosticMode)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "vault_downloader"})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("DB error: %w", err)
	}
	defer database.Close()

	repo := sqlite.NewTargetRepository(database)

	// =========================================================================
	// Start Download Pipeline
	if err := os.MkdirAll(cfg.DownloadDir, dirPerm); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	// One client for pages and archives. No overall timeout: archive
	// downloads legitimately run for hours.
	httpClient := &http.Client{}

	pages := vault.NewClient(httpClient, cfg.UserAgent)
	manager := transfer.NewManager(httpClient, cfg.DownloadDir, cfg.Referer, cfg.UserAgent, tel)
	ctrl := controller.New(cfg.DownloadDir, manager, cfg.DiagnosticMode, cfg.RetryWait, cfg.MaxRetryWait, tel)
	links := linklist.NewSource(cfg.LinksFile, cfg.VaultDomain)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	d := &daemon{
		cfg:   cfg,
		links: links,
		pages: pages,
		ctrl:  ctrl,
		repo:  repo,
		notif: notif,
	}

	// =========================================================================
	// Start API Service
	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewStatusHandler(repo, tel).Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, cfg)

	logger.Info("waiting for links...",
		"links_file", cfg.LinksFile,
		"download_dir", cfg.DownloadDir,
		"vault_domain", cfg.VaultDomain,
		"poll_interval", cfg.PollInterval.String(),
	)

	// =========================================================================
	// Start Main Loop
	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	wg.Go(func() error {
		<-ctx.Done()
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			return server.Close()
		}

		return nil
	})

	wg.Go(func() error {
		return d.pollLoop(ctx)
	})

	return wg.Wait()
}

// daemon holds the wiring for the sequential per-target processing loop.
type daemon struct {
	cfg   *config.Config
	links *linklist.Source
	pages *vault.Client
	ctrl  *controller.Controller
	repo  storage.TargetRepository
	notif notifier.Notifier
}

// pollLoop runs passes over the link list forever: one target at a time,
// sequentially, then waits before re-reading the list for new links.
func (d *daemon) pollLoop(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		anyDownloaded, err := d.runPass(ctx)
		if err != nil {
			return err
		}

		if !anyDownloaded {
			logger.Info("pass complete, waiting for new links", "poll_interval", d.cfg.PollInterval.String())

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.PollInterval):
			}
		}
	}
}

// runPass processes every link once, in order. Per-target failures are
// logged and skipped so one malformed page cannot stall the rest of the
// list; only process-wide faults (context cancellation) end the pass.
func (d *daemon) runPass(ctx context.Context) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	urls, err := d.links.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load link list: %w", err)
	}

	if len(urls) == 0 {
		logger.Info("no links to process", "links_file", d.cfg.LinksFile)

		return false, nil
	}

	var anyDownloaded bool

	for _, pageURL := range urls {
		if err := ctx.Err(); err != nil {
			return anyDownloaded, err
		}

		downloaded, err := d.processTarget(ctx, pageURL)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return anyDownloaded, err
			}

			logger.Error("target failed", "page_url", pageURL, "err", err)
			d.notify("❌ Target failed: " + pageURL + " — " + err.Error())

			continue
		}

		if downloaded {
			anyDownloaded = true

			logger.Info("target completed", "page_url", pageURL)
		} else {
			logger.Info("target already satisfied", "page_url", pageURL)
		}
	}

	return anyDownloaded, nil
}

func (d *daemon) processTarget(ctx context.Context, pageURL string) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("processing target", "page_url", pageURL)

	target, err := d.pages.FetchTarget(ctx, pageURL)
	if err != nil {
		var parseErr *vault.ParseError
		if errors.As(err, &parseErr) {
			// Malformed pages do not warrant retrying within the pass; the
			// next pass picks the link up again if the operator keeps it.
			if dbErr := d.repo.Track(storage.TargetRecord{PageURL: pageURL}); dbErr != nil {
				logger.Error("failed to track target", "page_url", pageURL, "err", dbErr)
			}

			if dbErr := d.repo.UpdateStatus(pageURL, storage.StatusFailed, parseErr.Error()); dbErr != nil {
				logger.Error("failed to record parse failure", "page_url", pageURL, "err", dbErr)
			}
		}

		return false, err
	}

	rec := storage.TargetRecord{
		PageURL:     target.PageURL,
		MediaID:     target.MediaID,
		FileName:    target.PayloadName,
		ExpectedCRC: target.ExpectedCRC,
	}
	if err := d.repo.Track(rec); err != nil {
		logger.Error("failed to track target", "page_url", pageURL, "err", err)
	}

	if err := d.repo.UpdateStatus(pageURL, storage.StatusDownloading, ""); err != nil {
		logger.Error("failed to update target status", "page_url", pageURL, "err", err)
	}

	downloaded, err := d.ctrl.Process(ctx, target)
	if err != nil {
		if dbErr := d.repo.UpdateStatus(pageURL, storage.StatusFailed, err.Error()); dbErr != nil {
			logger.Error("failed to record target failure", "page_url", pageURL, "err", dbErr)
		}

		return false, err
	}

	if err := d.repo.MarkVerified(pageURL); err != nil {
		logger.Error("failed to mark target verified", "page_url", pageURL, "err", err)
	}

	if downloaded {
		d.notify("✅ Download verified: " + target.PayloadName)
	}

	return downloaded, nil
}

func (d *daemon) notify(content string) {
	if d.notif == nil {
		return
	}

	if err := d.notif.Notify(content); err != nil {
		slog.Error("failed to send notification", "err", err)
	}
}

func setupCleanup(ctx context.Context, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := cleanup.RemoveStalePending(ctx, cfg.DownloadDir, cfg.StalePendingAfter); err != nil {
					logger.Error("failed to remove stale staging files", "err", err)
				}
			}
		}
	}()
}
