package room

import (
	"context"

	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

// Observe 订阅房间完整快照，ctx 取消后通道关闭。
// 房间被删除时投递 Room 为 nil 的快照。
func (s *Service) Observe(ctx context.Context, code string) (<-chan store.Snapshot, error) {
	code = NormalizeCode(code)
	ch, err := s.store.Subscribe(ctx, code)
	if err != nil {
		return nil, s.storeError("subscribe", code, err)
	}
	return ch, nil
}

// ObserveRoom 订阅房间文档，房间被删除时投递 nil
func (s *Service) ObserveRoom(ctx context.Context, code string) (<-chan *model.Room, error) {
	src, err := s.Observe(ctx, code)
	if err != nil {
		return nil, err
	}
	out := make(chan *model.Room, 1)
	go func() {
		defer close(out)
		for snap := range src {
			store.Offer(out, snap.Room)
		}
	}()
	return out, nil
}

// ObserveRoster 订阅玩家名单，房间被删除时投递空名单
func (s *Service) ObserveRoster(ctx context.Context, code string) (<-chan []model.Player, error) {
	src, err := s.Observe(ctx, code)
	if err != nil {
		return nil, err
	}
	out := make(chan []model.Player, 1)
	go func() {
		defer close(out)
		for snap := range src {
			store.Offer(out, store.Limit(snap.Players, s.cfg.MaxPlayers))
		}
	}()
	return out, nil
}

// Events 订阅房间生命周期事件。
// 事件按顺序投递不丢弃，消费方过慢时阻塞快照读取。
func (s *Service) Events(ctx context.Context, code string) (<-chan Event, error) {
	src, err := s.Observe(ctx, code)
	if err != nil {
		return nil, err
	}
	code = NormalizeCode(code)
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		tracker := NewTracker(code)
		for snap := range src {
			for _, ev := range tracker.Apply(snap) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
