// Package memstore 进程内存储，用于测试和单机模式
package memstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

type document struct {
	room    *model.Room
	players map[string]model.Player
}

type subscriber struct {
	code string
	ch   chan store.Snapshot
}

// Store 以互斥锁串行化事务
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	docs     map[string]*document
	subs     map[*subscriber]struct{}
	failNext []error
	closed   bool
	logger   *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New 创建内存存储，clock 为 nil 时使用真实时钟
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:  clock,
		docs:   make(map[string]*document),
		subs:   make(map[*subscriber]struct{}),
		logger: slog.Default().With("component", "memstore"),
	}
}

// FailNext 让接下来的事务依次返回给定错误，用于模拟存储故障
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, errs...)
}

// RunTransaction 持锁执行回调，回调内不能再调用本存储
func (s *Store) RunTransaction(ctx context.Context, code string, fn store.TxnFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return err
	}

	buf := store.NewBuffer(s.snapshotLocked(code), s.clock.Now().UTC())
	if err := fn(buf); err != nil {
		return err
	}
	if !buf.Dirty() {
		return nil
	}

	s.applyLocked(code, buf.Writes())
	s.publishLocked(code)
	return nil
}

func (s *Store) applyLocked(code string, w store.Writes) {
	doc := s.docs[code]
	if w.RoomDeleted || doc == nil {
		doc = &document{players: make(map[string]model.Player)}
	}
	if w.Room != nil {
		doc.room = w.Room.Clone()
	}
	for _, uid := range w.Delete {
		delete(doc.players, uid)
	}
	for _, p := range w.Put {
		doc.players[p.UID] = p.Clone()
	}

	if doc.room == nil && len(doc.players) == 0 {
		delete(s.docs, code)
		return
	}
	s.docs[code] = doc
}

func (s *Store) snapshotLocked(code string) store.Snapshot {
	snap := store.Snapshot{Code: code, Players: []model.Player{}}
	doc, ok := s.docs[code]
	if !ok {
		return snap
	}
	snap.Room = doc.room.Clone()
	for _, p := range doc.players {
		snap.Players = append(snap.Players, p.Clone())
	}
	store.SortPlayers(snap.Players)
	return snap
}

func (s *Store) publishLocked(code string) {
	snap := s.snapshotLocked(code)
	for sub := range s.subs {
		if sub.code == code {
			store.Offer(sub.ch, snap.Clone())
		}
	}
}

// Snapshot 读取房间当前状态
func (s *Store) Snapshot(ctx context.Context, code string) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Snapshot{}, store.ErrClosed
	}
	return s.snapshotLocked(code), nil
}

// Players 按加入顺序列出玩家
func (s *Store) Players(ctx context.Context, code string, limit int) ([]model.Player, error) {
	snap, err := s.Snapshot(ctx, code)
	if err != nil {
		return nil, err
	}
	return store.Limit(snap.Players, limit), nil
}

// Subscribe 订阅房间变更
func (s *Store) Subscribe(ctx context.Context, code string) (<-chan store.Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	sub := &subscriber{code: code, ch: make(chan store.Snapshot, 1)}
	sub.ch <- s.snapshotLocked(code)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.unsubscribe(sub)
	}()

	return sub.ch, nil
}

func (s *Store) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
}

// Now 服务器时间
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	return s.clock.Now().UTC(), nil
}

// Close 关闭存储并结束所有订阅
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.logger.Debug("memory store closed", "rooms", len(s.docs))
	return nil
}
