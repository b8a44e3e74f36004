// Package redisstore 基于 Redis 的房间存储
//
// 房间文档存为 JSON 字符串，玩家存为 Hash（field = uid）。
// 事务使用 WATCH/MULTI/EXEC 乐观重试，服务器时间取自 TIME，
// 提交后向房间频道 PUBLISH 版本号通知订阅方重新读取。
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
	sharedRedis "sudooom.mathrush/shared/redis"
)

const defaultMaxRetries = 16

// Store Redis 存储
type Store struct {
	client     *redis.Client
	maxRetries int
	ttl        time.Duration
	logger     *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Option 配置项
type Option func(*Store)

// WithMaxRetries 乐观事务最大重试次数
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithTTL 房间 Key 过期时间
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New 创建 Redis 存储，client 的生命周期由调用方管理
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		maxRetries: defaultMaxRetries,
		ttl:        sharedRedis.RoomTTL,
		logger:     slog.Default().With("component", "redisstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTransaction WATCH 房间与玩家两个 Key，冲突时重试
func (s *Store) RunTransaction(ctx context.Context, code string, fn store.TxnFunc) error {
	roomKey := sharedRedis.BuildRoomKey(code)
	playersKey := sharedRedis.BuildRoomPlayersKey(code)

	txf := func(tx *redis.Tx) error {
		snap, err := s.load(ctx, tx, code)
		if err != nil {
			return err
		}
		now, err := tx.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("failed to read server time: %w", err)
		}

		buf := store.NewBuffer(snap, now.UTC())
		if err := fn(buf); err != nil {
			return err
		}
		if !buf.Dirty() {
			return nil
		}

		w := buf.Writes()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.apply(ctx, pipe, code, w)
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, roomKey, playersKey)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Transaction conflict, retrying", "code", code, "attempt", attempt+1)
			continue
		}
		return err
	}

	s.logger.Warn("Transaction retries exhausted", "code", code, "retries", s.maxRetries)
	return store.ErrConflict
}

func (s *Store) apply(ctx context.Context, pipe redis.Pipeliner, code string, w store.Writes) error {
	roomKey := sharedRedis.BuildRoomKey(code)
	playersKey := sharedRedis.BuildRoomPlayersKey(code)

	if w.RoomDeleted {
		pipe.Del(ctx, roomKey, playersKey)
	}

	var version int64
	if w.Room != nil {
		data, err := json.Marshal(w.Room)
		if err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}
		pipe.Set(ctx, roomKey, data, s.ttl)
		version = w.Room.Version
	}

	if len(w.Delete) > 0 {
		pipe.HDel(ctx, playersKey, w.Delete...)
	}
	if len(w.Put) > 0 {
		values := make([]interface{}, 0, len(w.Put)*2)
		for _, p := range w.Put {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to marshal player: %w", err)
			}
			values = append(values, p.UID, data)
		}
		pipe.HSet(ctx, playersKey, values...)
	}
	if w.Room != nil || len(w.Put) > 0 {
		pipe.Expire(ctx, playersKey, s.ttl)
	}

	pipe.Publish(ctx, sharedRedis.BuildRoomChannel(code), strconv.FormatInt(version, 10))
	return nil
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, code string) (store.Snapshot, error) {
	snap := store.Snapshot{Code: code, Players: []model.Player{}}

	data, err := c.Get(ctx, sharedRedis.BuildRoomKey(code)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return snap, fmt.Errorf("failed to get room: %w", err)
	default:
		var room model.Room
		if err := json.Unmarshal(data, &room); err != nil {
			return snap, fmt.Errorf("failed to unmarshal room: %w", err)
		}
		snap.Room = &room
	}

	fields, err := c.HGetAll(ctx, sharedRedis.BuildRoomPlayersKey(code)).Result()
	if err != nil {
		return snap, fmt.Errorf("failed to get players: %w", err)
	}
	for uid, raw := range fields {
		var p model.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn("Skipping malformed player", "code", code, "uid", uid, "error", err)
			continue
		}
		snap.Players = append(snap.Players, p)
	}
	store.SortPlayers(snap.Players)
	return snap, nil
}

// Snapshot 读取房间当前状态
func (s *Store) Snapshot(ctx context.Context, code string) (store.Snapshot, error) {
	return s.load(ctx, s.client, code)
}

// Players 按加入顺序列出玩家
func (s *Store) Players(ctx context.Context, code string, limit int) ([]model.Player, error) {
	snap, err := s.load(ctx, s.client, code)
	if err != nil {
		return nil, err
	}
	return store.Limit(snap.Players, limit), nil
}

// Subscribe 订阅房间频道，每收到一次通知重新读取完整快照
func (s *Store) Subscribe(ctx context.Context, code string) (<-chan store.Snapshot, error) {
	pubsub := s.client.Subscribe(ctx, sharedRedis.BuildRoomChannel(code))
	// 等待订阅确认，之后的写入一定会收到通知
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe room %s: %w", code, err)
	}

	initial, err := s.load(ctx, s.client, code)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan store.Snapshot, 1)
	out <- initial

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		lastVersion := versionOf(initial)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				// 版本号不变的重复通知直接跳过，删除房间时版本号为 0
				if v, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil && v != 0 && v == lastVersion {
					continue
				}
				snap, err := s.load(ctx, s.client, code)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Warn("Failed to reload room", "code", code, "error", err)
					continue
				}
				lastVersion = versionOf(snap)
				store.Offer(out, snap)
			}
		}
	}()

	return out, nil
}

func versionOf(s store.Snapshot) int64 {
	if s.Room == nil {
		return 0
	}
	return s.Room.Version
}

// Now Redis 服务器时间
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return now.UTC(), nil
}

// Close 客户端由调用方关闭
func (s *Store) Close() error {
	return nil
}
