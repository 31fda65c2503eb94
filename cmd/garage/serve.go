package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bbsm-garage/config"
	"bbsm-garage/internal/database"
	"bbsm-garage/internal/gateway"
	"bbsm-garage/internal/metrics"
	cardhandler "bbsm-garage/internal/services/card/handler"
	"bbsm-garage/internal/services/reconcile"
	stockhandler "bbsm-garage/internal/services/stock/handler"
	userhandler "bbsm-garage/internal/services/user/handler"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(config.LoadConfig())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "run schema migration before serving")
}

func serve(cfg config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	db, err := database.NewConnection(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to db: %w", err)
	}
	if autoMigrate {
		if err := database.MigrateGarageDB(db); err != nil {
			return fmt.Errorf("failed to migrate garage database: %w", err)
		}
	}

	redisClient, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	ledger := stockhandler.NewLedger(m)
	stockCache := stockhandler.NewStockCache(redisClient, m)
	engine := reconcile.NewEngine(ledger, m)

	gin.SetMode(gin.ReleaseMode)
	router := gateway.NewRouter(gateway.Dependencies{
		DB:        db,
		Redis:     redisClient,
		Users:     userhandler.NewUserHandler(db, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
		Stocks:    stockhandler.NewStockHandler(db, ledger, stockCache, cfg.Reconcile.MaxAttempts),
		Records:   cardhandler.NewCardHandler(db, engine, stockCache, redisClient, m, cfg.Reconcile.MaxAttempts),
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		RateLimit: cfg.RateLimit.Rate,
		Gatherer:  reg,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("garage API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("could not start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	log.Info().Msg("garage API stopped")
	return nil
}
