package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/themobileprof/chatmanager/internal/api"
	"github.com/themobileprof/chatmanager/internal/config"
	"github.com/themobileprof/chatmanager/internal/db"
	"github.com/themobileprof/chatmanager/internal/dispatch"
	"github.com/themobileprof/chatmanager/internal/keys"
	"github.com/themobileprof/chatmanager/internal/logger"
	"github.com/themobileprof/chatmanager/pkg/openai"
)

func main() {
	logger.Setup(os.Stderr)
	log := logger.New("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	registry := keys.NewRegistry(keys.WithPolicy(cfg.Policy))
	for _, cred := range cfg.Credentials {
		if err := registry.Add(cred.Name, cred.Secret); err != nil {
			log.Fatal().Err(err).Msg("Failed to register credential")
		}
	}
	if registry.Len() == 0 {
		log.Warn().Msg("No credentials configured, requests return null until keys are added")
	}

	transport := openai.NewHTTPClient(openai.Config{
		BaseURL:     cfg.APIBase,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	})

	opts := []dispatch.Option{
		dispatch.WithDefaultConcurrency(cfg.Concurrency),
		dispatch.WithTimeout(cfg.Timeout),
	}
	if cfg.BreakerFailures > 0 {
		opts = append(opts, dispatch.WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, dispatch.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	// Optional archive
	var history api.ExchangeReader
	if cfg.DatabaseURL != "" {
		database, err := db.NewFromURL(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = database.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare database schema")
		}

		opts = append(opts, dispatch.WithArchive(db.NewArchiveAdapter(database)))
		history = database
		log.Info().Msg("Exchange archive enabled")
	}

	manager := dispatch.NewManager(registry, transport, opts...)
	defer manager.Close()
	manager.SelectSession(cfg.Session)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		Registry:          registry,
		Manager:           manager,
		History:           history,
		Logger:            logger.New("http"),
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestsPerSecond: cfg.HTTPRateLimit,
		Burst:             cfg.HTTPRateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("policy", string(registry.Policy())).
			Int("credentials", registry.Len()).
			Str("session", cfg.Session).
			Msg("Server starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}

	log.Info().Msg("Server exited")
}
