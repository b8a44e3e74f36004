package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"sudooom.mathrush/internal/bootstrap"
	"sudooom.mathrush/internal/config"
	"sudooom.mathrush/internal/handler"
	"sudooom.mathrush/internal/health"
	"sudooom.mathrush/internal/middleware"
	mathNats "sudooom.mathrush/internal/nats"
	"sudooom.mathrush/internal/room"
	"sudooom.mathrush/internal/router"
	"sudooom.mathrush/shared/jwt"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := bootstrap.NewLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 打开存储
	backend, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	logger.Info("Store ready", "backend", cfg.Store.Backend)

	// 连接 NATS（可选）
	var (
		nc   *natsgo.Conn
		opts []room.Option
	)
	if cfg.NATS.Enabled {
		natsClient, err := mathNats.NewClient(cfg.NATS, cfg.App.Name)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		nc = natsClient.Conn()
		opts = append(opts, room.WithNotifier(mathNats.NewEventPublisher(nc)))
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	// 初始化服务
	roomService := room.NewService(backend.Store, cfg.Room, opts...)
	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire, cfg.JWT.RefreshExpire)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		go limiter.Run(ctx)
	}

	engine := router.SetupRouter(cfg, jwtService, limiter,
		handler.NewRoomHandler(roomService),
		handler.NewStreamHandler(roomService, cfg.CORS.AllowedOrigins),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 启动健康检查 HTTP 服务
	healthChecker := health.NewChecker(nc, backend.Redis, backend.DB)
	healthServer := startHealthServer(cfg.App.HealthPort, healthChecker, logger)

	logger.Info("Room service started", "name", cfg.App.Name)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown failed", "error", err)
	}
	cancel()
	logger.Info("Room service stopped")
}

// startHealthServer 启动健康检查 HTTP 服务
func startHealthServer(port int, healthChecker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/health", healthChecker)
	mux.HandleFunc("/ready", healthChecker.ReadyHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Health check server started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed", "error", err)
		}
	}()
	return server
}
