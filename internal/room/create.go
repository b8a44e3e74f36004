package room

import (
	"context"
	"errors"

	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

var errCodeTaken = errors.New("room code taken")

// CreateRoom 创建房间，房主作为第一个玩家加入
func (s *Service) CreateRoom(ctx context.Context, host model.Identity) (*model.Room, error) {
	if err := validIdentity(host); err != nil {
		return nil, err
	}

	attempts := s.cfg.CodeAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		code, err := newCode(s.random)
		if err != nil {
			return nil, sharedErrors.ErrServerError.Wrap(err)
		}

		c, err := s.transact(ctx, "create", code, func(tx store.Txn) error {
			if tx.Room() != nil || len(tx.Players()) > 0 {
				return errCodeTaken
			}
			now := tx.Now()
			tx.PutRoom(model.Room{
				Code:        code,
				HostUID:     host.UID,
				Status:      model.StatusLobby,
				MaxPlayers:  s.cfg.MaxPlayers,
				DurationSec: s.cfg.DefaultDurationSec,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			tx.PutPlayer(model.Player{
				UID:         host.UID,
				DisplayName: host.DisplayName,
				IsHost:      true,
				JoinedAt:    now,
			})
			return nil
		})
		if errors.Is(err, errCodeTaken) {
			s.logger.Debug("Room code collision", "code", code, "attempt", i+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("Room created", "code", code, "host", host.UID)
		return c.after.Room, nil
	}

	s.logger.Warn("Room code attempts exhausted", "host", host.UID, "attempts", attempts)
	return nil, sharedErrors.ErrRoomCreationExhausted
}
