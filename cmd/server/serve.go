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

	"github.com/spf13/cobra"

	"github.com/yk970217-wq/cleanbear/internal/handler"
	"github.com/yk970217-wq/cleanbear/internal/middleware"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 派单服务",
	RunE:  serve,
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.roster != nil {
		go a.roster.Run(ctx, cfg.Dispatch.RosterRefreshInterval)
	}

	mux := http.NewServeMux()
	handler.NewAssignHandler(a.service).Register(mux, cfg.App.Name, buildInfo())

	deps := map[string]handler.Pinger{}
	if a.db != nil {
		deps["database"] = a.db
	}
	mux.HandleFunc("GET /ready", handler.Ready(deps))

	var h http.Handler = mux
	skip := []string{"/health", "/ready", "/version"}
	if a.metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, a.metrics.Handler())
		skip = append(skip, cfg.Metrics.Path)
		// 需要直接包住 mux 才能拿到路由模式
		h = a.metrics.Middleware(mux)
	}

	var limiter *middleware.RateLimiter
	if cfg.API.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(float64(cfg.API.RateLimit))
	}

	// 执行顺序：recovery -> requestID -> rateLimit -> cors -> logging -> auth -> metrics -> mux
	h = middleware.Chain(h,
		middleware.Recovery,
		middleware.RequestID,
		middleware.RateLimit(limiter),
		middleware.CORS(cfg.API.CORS),
		middleware.Logging,
		middleware.APIKeyAuth(middleware.AuthConfig{Keys: cfg.API.Keys, SkipPaths: skip}),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.App.Port).
			Str("version", Version).
			Str("env", cfg.App.Env).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}

	logger.Info().Msg("服务器已关闭")
	return nil
}
