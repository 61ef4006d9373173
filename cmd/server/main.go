package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Brownie44l1/tbscan/internal/config"
	"github.com/Brownie44l1/tbscan/internal/handlers"
	"github.com/Brownie44l1/tbscan/internal/logging"
	"github.com/Brownie44l1/tbscan/internal/middleware"
	"github.com/Brownie44l1/tbscan/internal/model"
	"github.com/Brownie44l1/tbscan/internal/routes"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", envOr("TBX_CONFIG", "config.yaml"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	classifier, modelPath := loadModel(cfg.Model, logger)
	drained := true
	defer func() {
		if !drained {
			// a Score call may still be inside the session; let process exit reclaim it
			logger.Warn("requests still in flight, leaving model open")
			return
		}
		if classifier != nil {
			if err := classifier.Close(); err != nil {
				logger.Warn("closing model", logging.Err(err))
			}
		}
		if err := model.ShutdownRuntime(); err != nil {
			logger.Warn("shutting down onnxruntime", logging.Err(err))
		}
	}()

	limiter, closeLimiter := newLimiter(cfg, logger)
	defer closeLimiter()

	handler := handlers.NewHandler(classifier, modelPath, cfg.Upload.MaxBytes, logger)
	router, err := routes.SetupRoutes(handler, routes.Options{
		Debug:          cfg.Server.Debug,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		MaxBodyBytes:   cfg.Upload.MaxBytes,
		Limiter:        limiter,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to build router", logging.Err(err))
		return 1
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Error("failed to listen", "addr", srv.Addr, logging.Err(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server starting",
		"addr", ln.Addr().String(),
		"model_loaded", classifier != nil,
		"cors_origins", cfg.CORS.AllowedOrigins)

	drained, err = serve(ctx, srv, ln, cfg.Server.ShutdownTimeout, logger)
	if err != nil {
		logger.Error("server failed", logging.Err(err))
		return 1
	}
	return 0
}

// serve runs srv on ln until ctx is done or the listener fails, then shuts
// down within timeout. drained is false when requests were still running at
// the deadline, in which case shared resources must stay open.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, logger *slog.Logger) (drained bool, err error) {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return true, nil
		}
		return true, err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", logging.Err(err))
		return !errors.Is(err, context.DeadlineExceeded), nil
	}
	return true, nil
}

// loadModel never aborts startup: without a model the service stays up and
// answers 503 on /predict until it is restarted with a working artifact.
func loadModel(cfg config.ModelConfig, logger *slog.Logger) (model.Classifier, string) {
	if err := model.InitRuntime(cfg.LibraryPath); err != nil {
		logger.Error("onnxruntime unavailable, serving in degraded mode", "fatal", true, logging.Err(err))
		return nil, ""
	}

	classifier, path, err := model.Load(model.LoadOptions{
		Path:             cfg.Path,
		FallbackPath:     cfg.FallbackPath,
		MetadataPath:     cfg.MetadataPath,
		MetadataFallback: cfg.FallbackMetadataPath,
	}, model.OpenSession, logger)
	if err != nil {
		logger.Error("model unavailable, serving in degraded mode", "fatal", true, logging.Err(err))
		return nil, ""
	}

	meta := classifier.Info()
	logger.Info("model loaded",
		"path", path,
		"version", meta.Version,
		"input", meta.InputName,
		"shape", meta.InputShape,
		"layout", meta.Layout)
	return classifier, path
}

// newLimiter charges the per-minute, hourly and daily windows together so a
// request rejected by one window is not counted against the others.
func newLimiter(cfg *config.Config, logger *slog.Logger) (middleware.Limiter, func()) {
	closeFn := func() {}
	if !cfg.RateLimit.Enabled {
		logger.Warn("rate limiting disabled")
		return nil, closeFn
	}

	windows := middleware.Windows(
		middleware.Window{Limit: cfg.RateLimit.PerMinute, Period: time.Minute},
		middleware.Window{Limit: cfg.RateLimit.PerHour, Period: time.Hour},
		middleware.Window{Limit: cfg.RateLimit.PerDay, Period: 24 * time.Hour},
	)
	if len(windows) == 0 {
		logger.Warn("rate limiting enabled without windows")
		return nil, closeFn
	}

	var limiter middleware.Limiter
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-memory rate limits", "addr", cfg.Redis.Addr, logging.Err(err))
			client.Close()
		} else if l, err := middleware.NewRedisLimiter(client, cfg.Redis.Prefix, windows); err == nil {
			limiter = l
			closeFn = func() { client.Close() }
		} else {
			client.Close()
		}
	}
	redisBacked := limiter != nil
	if limiter == nil {
		l, err := middleware.NewMemoryLimiter(windows)
		if err != nil {
			logger.Warn("rate limiting unavailable", logging.Err(err))
			return nil, closeFn
		}
		limiter = l
	}

	logger.Info("rate limiting enabled",
		"redis", redisBacked,
		"per_minute", cfg.RateLimit.PerMinute,
		"per_hour", cfg.RateLimit.PerHour,
		"per_day", cfg.RateLimit.PerDay)
	return limiter, closeFn
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
