// Go 1.21
//
// main.go is the demo HTTP/WebSocket host for the time-series prefetch
// cache: it wires configuration, structured logging, the TimescaleDB
// BackingStore (falling back to an in-memory store when no database
// credentials are configured), the Facade, and a Gin router, then serves until a shutdown
// signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/intelpoc/tscache/internal/backingstore"
	"github.com/intelpoc/tscache/internal/config"
	"github.com/intelpoc/tscache/internal/facade"
	"github.com/intelpoc/tscache/internal/handlers"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backing, closeBacking := buildBackingStore(ctx, cfg, logger)
	defer closeBacking()

	f := facade.New(backing, logger, cfg.Cache.PopulateRPS)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	streamHandler := handlers.NewStreamHandler(logger)
	f.SetObserver(streamHandler)
	cacheHandler := handlers.NewCacheHandler(f, logger, reg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	cacheHandler.RegisterRoutes(router)
	streamHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         addrFromPort(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("cache server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	streamHandler.Shutdown()
	f.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildBackingStore falls back to an in-memory BackingStore, so the demo
// server runs with zero external dependencies, when the database host is
// empty or is "localhost" with no username; otherwise it connects to
// TimescaleDB.
func buildBackingStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backingstore.BackingStore, func()) {
	if cfg.Database.Host == "" || cfg.Database.Host == "localhost" && cfg.Database.Username == "" {
		logger.Warn("no database credentials configured, using in-memory backing store")
		return backingstore.NewMapBackingStore(), func() {}
	}

	store, err := backingstore.NewTimescaleBackingStore(ctx, backingstore.TimescaleConfig{
		DSN:                   cfg.Database.DSN(),
		MaxConnections:        cfg.Database.MaxConnections,
		ConnectionTimeout:     cfg.Database.ConnectionTimeout,
		RetentionPeriod:       cfg.Database.RetentionPeriod,
		CompressionAfter:      cfg.Database.CompressionAfter,
		CircuitBreakerTimeout: cfg.Database.CircuitBreakerTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to timescaledb", zap.Error(err))
	}
	return store, store.Close
}

func addrFromPort(port int) string {
	if port <= 0 {
		port = config.DefaultServerPort
	}
	return ":" + strconv.Itoa(port)
}
