package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"orderdesk/api/internal/app"
	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/authpw"
	"orderdesk/api/internal/config"
	"orderdesk/api/internal/email"
	"orderdesk/api/internal/flow"
	"orderdesk/api/internal/guard"
	"orderdesk/api/internal/logging"
	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/org"
	"orderdesk/api/internal/search"
	"orderdesk/api/internal/session"
	"orderdesk/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisStore.Close()

	pg := store.NewPostgresStore(db)
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Warn("SMTP not configured; verification and invitation mail is disabled")
	}
	sessions := session.NewManager(
		authpw.NewService(pg),
		pg,
		redisStore,
		auth.NewIssuer(cfg.JWTSecret, cfg.TokenIssuer, cfg.TokenTTL),
		mailer,
		session.Config{AppBaseURL: cfg.AppBaseURL},
		logger,
	)

	m := metrics.New()
	resolver := org.NewResolver(pg, logger, m)
	registry := flow.NewRegistry(resolver, flow.Options{
		ResolveTimeout: cfg.ResolveTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	defer registry.Close()
	routeGuard := guard.New(guard.Options{Wait: cfg.GuardWait, Logger: logger, Metrics: m})

	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, 30*time.Second, logger)
		defer meili.Close()
		primary = meili
	}
	directory := search.NewService(primary, search.NewPgFTS(db), logger)
	go func() {
		reindexCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		n, err := directory.ReindexAll(reindexCtx)
		if err != nil {
			logger.Warn("organization reindex failed", zap.Error(err))
			return
		}
		logger.Info("organizations reindexed", zap.Int("count", n))
	}()

	service := app.New(app.Config{
		AppBaseURL:    cfg.AppBaseURL,
		InvitationTTL: cfg.InvitationTTL,
	}, app.Deps{
		Store:     pg,
		Sessions:  sessions,
		Registry:  registry,
		Guard:     routeGuard,
		Directory: directory,
		Mailer:    mailer,
		Logger:    logger,
		Ready:     []app.ReadyCheck{{Name: "redis", Ping: redisStore.Ping}},
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepIdleFlows(sweepCtx, service, cfg.FlowIdleTTL, logger)

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		CORSOrigin: cfg.CORSOrigin,
		Logger:     logger,
		Metrics:    m,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("OrderDesk API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// sweepIdleFlows releases flow state of identities whose sessions lapsed
// without a sign-out.
func sweepIdleFlows(ctx context.Context, service *app.Service, idle time.Duration, logger *zap.Logger) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := service.ReleaseIdle(idle); n > 0 {
				logger.Info("idle flow state released", zap.Int("count", n))
			}
		}
	}
}
