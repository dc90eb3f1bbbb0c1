package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/service"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/service/cache"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var corpusPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve single-transaction matching over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if corpusPath != "" {
				a.cfg.Input.Corpus = corpusPath
			}
			if err := a.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "corpus file (JSON Lines, or a .smcs snapshot)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The service always exposes /metrics on its own port.
	m := metrics.New(prometheus.DefaultRegisterer)
	slog.Info("starting match service", "port", cfg.Server.Port)

	forest, err := loadForest(ctx, cfg, cfg.Input.Corpus, m)
	if err != nil {
		return err
	}
	s, err := scheduler.New(forest, nil, scheduler.Options{
		AllowedMismatches: cfg.Matcher.AllowedMismatches,
		Metrics:           m,
	})
	if err != nil {
		return err
	}

	var (
		matchCache  *cache.MatchCache
		redisClient *pkgredis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, match caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			fingerprint := cache.Fingerprint(forest)
			matchCache = cache.New(redisClient, fingerprint, cfg.Redis.CacheTTL)
			matchCache.OnHit = m.CacheHitsTotal.Inc
			matchCache.OnMiss = m.CacheMissesTotal.Inc
			slog.Info("match cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL, "forest", fingerprint)
		}
	}

	stats := forest.Stats()
	checker := health.NewChecker()
	checker.Register("forest", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d sets indexed", stats.Sets)}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.PingCheck(redisClient.Ping, true)(ctx)
	})

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
	}
	h := service.New(s, stats, matchCache, cfg.Matcher.AllowedMismatches, cfg.Server.MaxItems)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      service.Routes(h, checker, m, limiter, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	rpcDone := make(chan struct{})
	if cfg.Server.RPCPort > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.RPCPort))
		if err != nil {
			return fmt.Errorf("listening for rpc: %w", err)
		}
		rpcServer := rpc.NewServer()
		service.RegisterRPC(rpcServer, h)
		go func() {
			defer close(rpcDone)
			if err := rpcServer.Serve(ctx, ln); err != nil {
				slog.Error("rpc server failed", "error", err)
			}
		}()
	} else {
		close(rpcDone)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("match service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	stop()
	<-rpcDone
	slog.Info("match service stopped")
	return nil
}
