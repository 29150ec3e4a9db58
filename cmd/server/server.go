package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/config"
	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
)

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Shopify-Shop-Domain, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config: %v", err)
		os.Exit(1)
	}
	logger.Initialize(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config: %v", err)
		os.Exit(1)
	}
	logger.Info("starting stockproxy for %s (state=%s, proxy auth=%s)", cfg.Shop, cfg.StateStrategy, cfg.ProxyAuth)
	if !cfg.OAuthConfigured() {
		logger.Warn("SHOPIFY_API_KEY, SHOPIFY_API_SECRET or APP_URL missing; /auth/install will answer 500")
	}
	if cfg.AdminToken == "" {
		logger.Warn("SHOPIFY_ADMIN_TOKEN not set; /proxy needs a completed install first")
	}

	metrics.RegisterDefault()

	a, err := build(cfg)
	if err != nil {
		logger.Error("init: %v", err)
		os.Exit(1)
	}

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           withCORS(a.router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown: %v", err)
	}
	a.close()
	logger.Info("server stopped")
}
