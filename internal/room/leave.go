package room

import (
	"context"

	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// LeaveRoom 离开房间。
// 大厅阶段普通玩家被移出名单，房主离开则删除整个房间；
// 比赛开始后玩家记录保留，不修改存储。
func (s *Service) LeaveRoom(ctx context.Context, code string, who model.Identity) error {
	if err := validIdentity(who); err != nil {
		return err
	}
	code = NormalizeCode(code)

	var closed, removed bool
	_, err := s.transact(ctx, "leave", code, func(tx store.Txn) error {
		closed, removed = false, false
		room, err := requireRoom(tx)
		if err != nil {
			return err
		}
		if room.Status != model.StatusLobby {
			return nil
		}
		if tx.Player(who.UID) == nil {
			return sharedErrors.ErrNotInRoom
		}

		if room.HostUID == who.UID {
			tx.DeleteRoom()
			closed = true
			return nil
		}
		tx.DeletePlayer(who.UID)
		removed = true
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case closed:
		s.logger.Info("Host left lobby, room closed", "code", code, "uid", who.UID)
	case removed:
		s.logger.Info("Player left lobby", "code", code, "uid", who.UID)
	default:
		s.logger.Debug("Player left running match, record kept", "code", code, "uid", who.UID)
	}
	return nil
}
