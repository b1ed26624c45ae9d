package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelfeed/reelfeed/internal/api"
	"github.com/reelfeed/reelfeed/internal/config"
	"github.com/reelfeed/reelfeed/internal/credential"
	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/geoip"
	"github.com/reelfeed/reelfeed/internal/history"
	xlog "github.com/reelfeed/reelfeed/internal/log"
	"github.com/reelfeed/reelfeed/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		logger := xlog.Base()
		logger.Fatal().Err(err).Msg("reelfeed exited")
	}
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("reelfeed", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("REELFEED_CONFIG"), "path to a YAML config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "reelfeed"})
	logger := xlog.WithComponent("main")

	client, err := api.New(api.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		Logger:  &logger,
	})
	if err != nil {
		return fmt.Errorf("backend client: %w", err)
	}

	tokens := credential.NewStore(cfg.TokenFile)
	if err := tokens.Load(); err != nil {
		return err
	}
	if claims, ok := tokens.Claims(); ok {
		logger.Info().Str("subject", claims.Subject).Msg("restored sign-in")
	}

	category, err := feed.ParseCategory(cfg.DefaultCategory)
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Backend:         client,
		Credentials:     tokens,
		BaseURL:         cfg.BaseURL,
		MediaOrigin:     mediaOrigin(cfg.BackendURL),
		DefaultCategory: category,
		PageSize:        cfg.PageSize,
		Threshold:       cfg.Threshold,
		MaxSessions:     cfg.MaxSessions,
		SessionTTL:      cfg.SessionTTL,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		Logger:          &logger,
	}

	if cfg.HistoryEnabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		db, err := history.Connect(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		logger.Info().Msg("database migrations applied")
		srvCfg.Journal = history.NewJournal(db.Pool)
		srvCfg.Pinger = db

		locator := geoip.Open(cfg.GeoIPFile, xlog.WithComponent("geoip"))
		defer func() { _ = locator.Close() }()
		srvCfg.Locator = locator
	} else {
		logger.Info().Msg("DATABASE_URL not set, play history disabled")
	}

	if webFS, ok := loadWebFS(cfg.WebDir); ok {
		srvCfg.WebFS = webFS
		logger.Info().Str("dir", cfg.WebDir).Msg("serving feed UI")
	}

	srv := server.New(srvCfg)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.BackendTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.BackendURL).Msg("reelfeed listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		srv.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// mediaOrigin returns scheme://host of the backend so the browser may load
// video and thumbnail URLs from it.
func mediaOrigin(backendURL string) string {
	u, err := url.Parse(backendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func loadWebFS(dir string) (fs.FS, bool) {
	if dir == "" {
		return nil, false
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, false
	}
	return os.DirFS(dir), true
}
