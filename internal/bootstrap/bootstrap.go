// Package bootstrap 进程启动时共用的连接与存储装配
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"sudooom.mathrush/internal/config"
	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/internal/store/memstore"
	"sudooom.mathrush/internal/store/pgstore"
	"sudooom.mathrush/internal/store/redisstore"
)

// NewLogger JSON 日志，级别取自 app.log_level
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Backend 已打开的存储及其底层连接
type Backend struct {
	Store store.Store
	Redis *redis.Client // 仅 redis 后端
	DB    *pgxpool.Pool // 仅 postgres 后端
}

// Close 关闭存储与连接
func (b *Backend) Close() {
	if b.Store != nil {
		b.Store.Close()
	}
	if b.Redis != nil {
		b.Redis.Close()
	}
	if b.DB != nil {
		b.DB.Close()
	}
}

// OpenStore 按 store.backend 打开存储。
// postgres 后端会先执行建表。
func OpenStore(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return &Backend{Store: memstore.New(clockwork.NewRealClock())}, nil

	case config.BackendRedis:
		client := ConnectRedis(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &Backend{
			Store: redisstore.New(client, redisstore.WithMaxRetries(cfg.Store.MaxRetries)),
			Redis: client,
		}, nil

	case config.BackendPostgres:
		pool, err := ConnectDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{
			Store: pgstore.New(pool, cfg.Store.MaxRetries),
			DB:    pool,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// ConnectRedis 连接 Redis
func ConnectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// ConnectDatabase 连接 PostgreSQL
func ConnectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
