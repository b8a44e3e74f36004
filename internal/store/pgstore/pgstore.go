// Package pgstore 基于 PostgreSQL 的房间存储
//
// 同一房间的事务通过 pg_advisory_xact_lock 串行化，服务器时间取 clock_timestamp()，
// 提交时 pg_notify 通知订阅方。
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

const defaultMaxRetries = 8

// querier pgxpool.Pool 与 pgx.Tx 的公共子集
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store PostgreSQL 存储
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	logger     *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New 创建存储，pool 的生命周期由调用方管理
func New(pool *pgxpool.Pool, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{
		pool:       pool,
		maxRetries: maxRetries,
		logger:     slog.Default().With("component", "pgstore"),
	}
}

// RunTransaction 加房间级咨询锁后执行读-改-写
func (s *Store) RunTransaction(ctx context.Context, code string, fn store.TxnFunc) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.runOnce(ctx, code, fn)
		if isRetryable(err) {
			s.logger.Debug("Transaction aborted, retrying", "code", code, "attempt", attempt+1, "error", err)
			continue
		}
		return err
	}
	s.logger.Warn("Transaction retries exhausted", "code", code, "retries", s.maxRetries)
	return store.ErrConflict
}

func (s *Store) runOnce(ctx context.Context, code string, fn store.TxnFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, code); err != nil {
		return fmt.Errorf("failed to lock room: %w", err)
	}

	var now time.Time
	if err := tx.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}

	snap, err := s.load(ctx, tx, code)
	if err != nil {
		return err
	}

	buf := store.NewBuffer(snap, now.UTC())
	if err := fn(buf); err != nil {
		return err
	}
	if !buf.Dirty() {
		return nil
	}

	if err := s.apply(ctx, tx, code, buf.Writes()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) apply(ctx context.Context, tx pgx.Tx, code string, w store.Writes) error {
	batch := &pgx.Batch{}

	if w.RoomDeleted {
		batch.Queue(`DELETE FROM room_players WHERE code = $1`, code)
		batch.Queue(`DELETE FROM rooms WHERE code = $1`, code)
	}

	if w.Room != nil {
		data, err := json.Marshal(w.Room)
		if err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}
		batch.Queue(`
			INSERT INTO rooms (code, status, data, version, updated_at)
			VALUES ($1, $2, $3::jsonb, $4, $5)
			ON CONFLICT (code) DO UPDATE SET
				status = EXCLUDED.status,
				data = EXCLUDED.data,
				version = EXCLUDED.version,
				updated_at = EXCLUDED.updated_at
		`, code, string(w.Room.Status), string(data), w.Room.Version, w.Room.UpdatedAt)
	}

	if len(w.Delete) > 0 {
		batch.Queue(`DELETE FROM room_players WHERE code = $1 AND uid = ANY($2)`, code, w.Delete)
	}

	for _, p := range w.Put {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal player: %w", err)
		}
		batch.Queue(`
			INSERT INTO room_players (code, uid, data, joined_at)
			VALUES ($1, $2, $3::jsonb, $4)
			ON CONFLICT (code, uid) DO UPDATE SET
				data = EXCLUDED.data,
				joined_at = EXCLUDED.joined_at
		`, code, p.UID, string(data), p.JoinedAt)
	}

	batch.Queue(`SELECT pg_notify($1, $2)`, NotifyChannel, code)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write room: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, q querier, code string) (store.Snapshot, error) {
	snap := store.Snapshot{Code: code, Players: []model.Player{}}

	var data []byte
	err := q.QueryRow(ctx, `SELECT data FROM rooms WHERE code = $1`, code).Scan(&data)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return snap, fmt.Errorf("failed to get room: %w", err)
	default:
		var room model.Room
		if err := json.Unmarshal(data, &room); err != nil {
			return snap, fmt.Errorf("failed to unmarshal room: %w", err)
		}
		snap.Room = &room
	}

	rows, err := q.Query(ctx, `SELECT data FROM room_players WHERE code = $1 ORDER BY joined_at, uid`, code)
	if err != nil {
		return snap, fmt.Errorf("failed to get players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return snap, err
		}
		var p model.Player
		if err := json.Unmarshal(raw, &p); err != nil {
			return snap, fmt.Errorf("failed to unmarshal player: %w", err)
		}
		snap.Players = append(snap.Players, p)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	// 数据库按微秒精度排序，再按模型规则排一次保证各后端一致
	store.SortPlayers(snap.Players)
	return snap, nil
}

// Snapshot 读取房间当前状态
func (s *Store) Snapshot(ctx context.Context, code string) (store.Snapshot, error) {
	return s.load(ctx, s.pool, code)
}

// Players 按加入顺序列出玩家
func (s *Store) Players(ctx context.Context, code string, limit int) ([]model.Player, error) {
	snap, err := s.load(ctx, s.pool, code)
	if err != nil {
		return nil, err
	}
	return store.Limit(snap.Players, limit), nil
}

// Subscribe 占用一个连接 LISTEN，收到本房间的通知后重新读取快照
func (s *Store) Subscribe(ctx context.Context, code string) (<-chan store.Snapshot, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	initial, err := s.load(ctx, s.pool, code)
	if err != nil {
		s.release(conn)
		return nil, err
	}

	out := make(chan store.Snapshot, 1)
	out <- initial

	go func() {
		defer close(out)
		defer s.release(conn)

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Listen connection lost", "code", code, "error", err)
				}
				return
			}
			if n.Payload != code {
				continue
			}
			snap, err := s.load(ctx, s.pool, code)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("Failed to reload room", "code", code, "error", err)
				continue
			}
			store.Offer(out, snap)
		}
	}()

	return out, nil
}

func (s *Store) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// 连接可能已因取消被关闭，直接丢弃
		conn.Conn().Close(ctx)
	}
	conn.Release()
}

// Now 数据库服务器时间
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return now.UTC(), nil
}

// Close 连接池由调用方关闭
func (s *Store) Close() error {
	return nil
}

// isRetryable 序列化失败或死锁
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
