package room

import (
	"context"

	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// JoinRoom 加入房间。
// 已在房间内的玩家重复加入只更新昵称，成绩与加入时间保持不变。
func (s *Service) JoinRoom(ctx context.Context, code string, who model.Identity) (*model.Room, error) {
	if err := validIdentity(who); err != nil {
		return nil, err
	}
	code = NormalizeCode(code)

	var joined bool
	c, err := s.transact(ctx, "join", code, func(tx store.Txn) error {
		joined = false
		room, err := requireRoom(tx)
		if err != nil {
			return err
		}

		if p := tx.Player(who.UID); p != nil {
			if who.DisplayName != "" && p.DisplayName != who.DisplayName && room.Status == model.StatusLobby {
				p.DisplayName = who.DisplayName
				tx.PutPlayer(*p)
			}
			return nil
		}

		if !room.IsJoinable() {
			return sharedErrors.ErrRoomLocked
		}
		if len(tx.Players()) >= room.MaxPlayers {
			return sharedErrors.ErrRoomFull
		}

		tx.PutPlayer(model.Player{
			UID:         who.UID,
			DisplayName: who.DisplayName,
			JoinedAt:    tx.Now(),
		})
		joined = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		s.logger.Info("Player joined room", "code", code, "uid", who.UID, "players", len(c.after.Players))
	}
	return c.after.Room, nil
}
