package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/tiltcheck/trust-layer/internal/app"
	"github.com/tiltcheck/trust-layer/internal/app/httpapi"
	"github.com/tiltcheck/trust-layer/internal/app/metrics"
	"github.com/tiltcheck/trust-layer/internal/app/storage/file"
	"github.com/tiltcheck/trust-layer/internal/config"
	"github.com/tiltcheck/trust-layer/internal/middleware"
	"github.com/tiltcheck/trust-layer/internal/mirror"
	"github.com/tiltcheck/trust-layer/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	log := logger.NewDefault("trustlayer")

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}

	secret := []byte(cfg.AdminJWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.WithError(err).Error("generate admin secret")
			os.Exit(1)
		}
		log.Warn("ADMIN_JWT_SECRET not set; admin sessions will not survive a restart")
	}

	rules := config.LoadRulesOrDefault()

	stores := app.Stores{}
	if cfg.DataDir != "" {
		fileStore, err := file.New(cfg.DataDir)
		if err != nil {
			log.WithError(err).Error("open data directory")
			os.Exit(1)
		}
		stores.Sessions = fileStore
		stores.Trust = fileStore
		stores.Accounts = fileStore
		stores.Legal = fileStore
	} else {
		log.Warn("DATA_DIR not set; records will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.MirrorBackend {
	case "postgres":
		pg, err := mirror.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Warn("postgres mirror unavailable; continuing without mirror")
		} else {
			defer pg.Close()
			stores.Mirror = pg
		}
	case "redis":
		rd, err := mirror.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Warn("redis mirror unavailable; continuing without mirror")
		} else {
			defer rd.Close()
			stores.Mirror = rd
		}
	case "":
		log.Info("no mirror backend configured")
	default:
		log.WithField("backend", cfg.MirrorBackend).Warn("unknown mirror backend; continuing without mirror")
	}

	application, err := app.New(stores, app.Options{
		OwnerID:      cfg.OwnerDiscordID,
		AdminSecret:  secret,
		ScoreTable:   rules.ScoreTable,
		BranchAccess: rules.BranchAccess,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	cors := middleware.NewCORSMiddlewareFromEnv()
	handler := metrics.InstrumentHandler(cors.Handler(httpapi.NewHandler(application)))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("trust layer listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
}
