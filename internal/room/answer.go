package room

import (
	"context"

	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// ReportAnswer 记录一次作答。
// 仅在比赛进行中且玩家尚未完成时生效，否则原样返回玩家记录。
// 每次调用都会累加，重试请使用 ReportAnswerAt。
func (s *Service) ReportAnswer(ctx context.Context, code string, who model.Identity, correct bool) (*model.Player, error) {
	return s.ReportAnswerAt(ctx, code, who, correct, 0)
}

// ReportAnswerAt 记录第 attempt 次作答（从 1 开始）。
// 已存储的作答次数达到 attempt 时视为重复提交，原样返回，可安全重试。
// attempt 为 0 时不做去重。
func (s *Service) ReportAnswerAt(ctx context.Context, code string, who model.Identity, correct bool, attempt int) (*model.Player, error) {
	if err := validIdentity(who); err != nil {
		return nil, err
	}
	if attempt < 0 {
		return nil, sharedErrors.ErrInvalidParams
	}
	code = NormalizeCode(code)

	var player model.Player
	_, err := s.transact(ctx, "answer", code, func(tx store.Txn) error {
		room, err := requireRoom(tx)
		if err != nil {
			return err
		}
		p := tx.Player(who.UID)
		if p == nil {
			return sharedErrors.ErrNotInRoom
		}
		player = *p
		if room.Status != model.StatusInProgress || p.IsFinished() {
			return nil
		}
		if attempt > 0 && p.Attempts >= attempt {
			return nil
		}

		pr := p.Progress()
		pr.Attempts++
		if correct {
			pr.Correct++
			pr.Score += s.cfg.PointsPerCorrect
		}
		p.ApplyProgress(pr)
		tx.PutPlayer(*p)
		player = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &player, nil
}
