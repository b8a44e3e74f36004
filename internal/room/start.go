package room

import (
	"context"

	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// StartMatch 开始比赛。
// 一次事务内写入种子与服务器开始时间并锁定房间，冻结参赛人数。
// 对已开始的房间重试会得到 ErrRoomLocked，不修改任何状态。
func (s *Service) StartMatch(ctx context.Context, code string, who model.Identity) (*model.Room, error) {
	code = NormalizeCode(code)

	// 种子在事务外生成，冲突重试时保持不变
	seed, err := newSeed(s.random)
	if err != nil {
		return nil, sharedErrors.ErrServerError.Wrap(err)
	}

	minPlayers := s.cfg.MinPlayers
	if minPlayers < 1 {
		minPlayers = 1
	}

	c, err := s.transact(ctx, "start", code, func(tx store.Txn) error {
		room, err := requireRoom(tx)
		if err != nil {
			return err
		}
		if err := requireHost(room, who.UID); err != nil {
			return err
		}
		if !room.IsJoinable() {
			return sharedErrors.ErrRoomLocked
		}
		players := tx.Players()
		if len(players) < minPlayers {
			return sharedErrors.ErrInsufficientPlayers
		}

		now := tx.Now()
		seed := seed
		room.Status = model.StatusInProgress
		room.Locked = true
		room.Seed = &seed
		room.StartedAt = &now
		room.PlayerCount = len(players)
		room.FinishedCount = 0
		room.EndedReason = nil
		room.EndedAt = nil
		room.UpdatedAt = now
		tx.PutRoom(*room)
		return nil
	})
	if err != nil {
		return nil, err
	}

	room := c.after.Room
	s.logger.Info("Match started",
		"code", code,
		"seed", seed,
		"players", room.PlayerCount,
		"durationSec", room.DurationSec)
	return room, nil
}
