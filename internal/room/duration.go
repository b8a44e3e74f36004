package room

import (
	"context"

	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// SetDuration 修改比赛时长，仅房主、仅大厅阶段
func (s *Service) SetDuration(ctx context.Context, code string, who model.Identity, seconds int) (*model.Room, error) {
	if seconds < s.cfg.MinDurationSec || seconds > s.cfg.MaxDurationSec {
		return nil, sharedErrors.ErrInvalidParams
	}
	code = NormalizeCode(code)

	c, err := s.transact(ctx, "duration", code, func(tx store.Txn) error {
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
		if room.DurationSec == seconds {
			return nil
		}
		room.DurationSec = seconds
		room.UpdatedAt = tx.Now()
		tx.PutRoom(*room)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Match duration set", "code", code, "seconds", seconds)
	return c.after.Room, nil
}
