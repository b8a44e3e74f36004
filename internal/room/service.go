// Package room 房间成员管理与比赛生命周期
//
// 所有修改都在存储事务内完成：读取房间与玩家、校验前置条件、写入新状态。
// 事务回调可能被重复执行，回调内只读写 Txn，不产生其他副作用。
package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"sudooom.mathrush/internal/config"
	"sudooom.mathrush/internal/ranking"
	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// Service 房间服务
type Service struct {
	store    store.Store
	cfg      config.RoomConfig
	notifier Notifier
	random   io.Reader
	logger   *slog.Logger
}

// Option 服务配置项
type Option func(*Service)

// WithNotifier 设置生命周期事件的下游通知
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithRandom 替换房间码与种子的随机源
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
		}
	}
}

// NewService 创建房间服务
func NewService(st store.Store, cfg config.RoomConfig, opts ...Option) *Service {
	s := &Service{
		store:    st,
		cfg:      cfg,
		notifier: NopNotifier{},
		random:   rand.Reader,
		logger:   slog.Default().With("component", "room"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config 房间参数
func (s *Service) Config() config.RoomConfig {
	return s.cfg
}

// Store 底层存储
func (s *Service) Store() store.Store {
	return s.store
}

// change 一次事务前后的房间状态
type change struct {
	before store.Snapshot
	after  store.Snapshot
}

func capture(code string, tx store.Txn) store.Snapshot {
	return store.Snapshot{Code: code, Room: tx.Room(), Players: tx.Players()}
}

// transact 执行事务并记录前后状态，提交成功后发布生命周期事件
func (s *Service) transact(ctx context.Context, op, code string, fn store.TxnFunc) (change, error) {
	var c change
	err := s.store.RunTransaction(ctx, code, func(tx store.Txn) error {
		c.before = capture(code, tx)
		if err := fn(tx); err != nil {
			return err
		}
		c.after = tx.Result()
		c.after.Code = code
		return nil
	})
	if err != nil {
		return c, s.storeError(op, code, err)
	}

	s.publish(ctx, code, Diff(c.before, c.after))
	return c, nil
}

func (s *Service) publish(ctx context.Context, code string, events []Event) {
	for _, ev := range events {
		if err := s.notifier.Publish(ctx, ev); err != nil {
			s.logger.Warn("Failed to publish room event", "code", code, "event", ev.Type, "error", err)
		}
	}
}

// storeError 业务错误原样返回，其余存储错误归为可重试的临时错误
func (s *Service) storeError(op, code string, err error) error {
	if err == nil || sharedErrors.IsAppError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Warn("Store operation failed", "op", op, "code", code, "error", err)
	return sharedErrors.ErrTransientStore.Wrap(fmt.Errorf("%s %s: %w", op, code, err))
}

// IsRetryable 是否为可由调用方重试的临时错误
func IsRetryable(err error) bool {
	return sharedErrors.Is(err, sharedErrors.ErrTransientStore) ||
		sharedErrors.Is(err, sharedErrors.ErrRoomCreationExhausted)
}

// GetRoom 读取房间文档
func (s *Service) GetRoom(ctx context.Context, code string) (*model.Room, error) {
	code = NormalizeCode(code)
	snap, err := s.store.Snapshot(ctx, code)
	if err != nil {
		return nil, s.storeError("get", code, err)
	}
	if snap.Room == nil {
		return nil, sharedErrors.ErrRoomNotFound
	}
	return snap.Room, nil
}

// ListPlayers 按加入顺序列出玩家，最多 max_players 个。
// 房间已删除时返回空列表。
func (s *Service) ListPlayers(ctx context.Context, code string) ([]model.Player, error) {
	code = NormalizeCode(code)
	players, err := s.store.Players(ctx, code, s.cfg.MaxPlayers)
	if err != nil {
		return nil, s.storeError("list", code, err)
	}
	return players, nil
}

// Results 比赛结果
type Results struct {
	Room      *model.Room       `json:"room"`
	Standings ranking.Standings `json:"standings"`
}

// GetResults 读取房间并计算排名
func (s *Service) GetResults(ctx context.Context, code string) (*Results, error) {
	code = NormalizeCode(code)
	snap, err := s.store.Snapshot(ctx, code)
	if err != nil {
		return nil, s.storeError("results", code, err)
	}
	if snap.Room == nil {
		return nil, sharedErrors.ErrRoomNotFound
	}
	return &Results{Room: snap.Room, Standings: ranking.Compute(snap.Players)}, nil
}

func requireRoom(tx store.Txn) (*model.Room, error) {
	room := tx.Room()
	if room == nil {
		return nil, sharedErrors.ErrRoomNotFound
	}
	return room, nil
}

func requireHost(room *model.Room, uid string) error {
	if room.HostUID != uid {
		return sharedErrors.ErrNotAuthorized
	}
	return nil
}

func validIdentity(who model.Identity) error {
	if who.UID == "" {
		return sharedErrors.ErrInvalidParams
	}
	return nil
}
