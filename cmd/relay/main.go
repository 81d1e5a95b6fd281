package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"newsrelay/internal/bot"
	"newsrelay/internal/config"
	"newsrelay/internal/dedup"
	"newsrelay/internal/extract"
	"newsrelay/internal/fetcher"
	"newsrelay/internal/httpapi"
	"newsrelay/internal/pipeline"
	"newsrelay/internal/publish"
	"newsrelay/internal/recovery"
	"newsrelay/internal/registry"
	"newsrelay/internal/rewrite"
	"newsrelay/internal/sanity"
	"newsrelay/internal/scheduler"
	"newsrelay/internal/storage"
	"newsrelay/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	seeds, err := config.LoadTenants(cfg.TenantsFile)
	if err != nil {
		log.Error("load tenants", "path", cfg.TenantsFile, "error", err)
		os.Exit(1)
	}
	reg := registry.New(store, log)
	res, err := reg.Sync(ctx, seeds)
	if err != nil {
		log.Error("sync tenants", "error", err)
		os.Exit(1)
	}
	log.Info("tenants synced", "upserted", res.Upserted, "deactivated", len(res.Deactivated))

	checker, err := sanity.New(cfg.MinContentLength, sanity.DefaultRules(cfg.ForbiddenPhrases...))
	if err != nil {
		log.Error("build sanity rules", "error", err)
		os.Exit(1)
	}

	engine := dedup.New(store)
	orch := pipeline.New(store, engine, pipeline.Collaborators{
		Extractor: extract.New(http.DefaultClient, cfg.ExtractReaderURL),
		Rewriter:  rewrite.New(http.DefaultClient, cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMModel),
		Validator: checker,
		Publisher: publish.New(http.DefaultClient),
	}, pipeline.Timeouts{
		Extract: cfg.ExtractTimeout,
		Rewrite: cfg.RewriteTimeout,
		Publish: cfg.PublishTimeout,
	}, log)

	coord := recovery.New(store, log)
	pool := worker.New(orch, cfg.Workers, cfg.QueueSize, log)

	sched := scheduler.New(store, fetcher.New(http.DefaultClient), engine, coord, pool, log)
	sched.SetTickInterval(cfg.PollInterval)
	sched.SetStuckThreshold(cfg.StuckAfter)

	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		b, err = bot.New(cfg.TelegramBotToken, store, coord, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		b.SetQueue(pool)
		sched.SetAlerts(b, cfg.AdminChatID)
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, admin bot disabled")
	}

	api := httpapi.New(store, engine, reg, pool, log)

	log.Info("starting relay", "workers", cfg.Workers, "poll_interval", cfg.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error { return api.ListenAndServe(ctx, cfg.HTTPAddr) })
	if b != nil {
		g.Go(func() error {
			b.Run(ctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("relay stopped", "error", err)
		os.Exit(1)
	}
	log.Info("relay stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
