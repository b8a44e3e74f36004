package room

import (
	"context"

	"sudooom.mathrush/internal/store"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// FinishReason 玩家结束个人比赛的原因
type FinishReason string

const (
	FinishTimeout FinishReason = "timeout" // 倒计时归零
	FinishExit    FinishReason = "exit"    // 主动退出
)

// Valid 是否为已知原因
func (r FinishReason) Valid() bool {
	return r == FinishTimeout || r == FinishExit
}

// FinishResult 结束事务的结果
type FinishResult struct {
	Recorded  bool          `json:"recorded"`  // 写入了玩家成绩快照
	Counted   bool          `json:"counted"`   // 本次使 finished_count 加一
	Ended     bool          `json:"ended"`     // 本次触发了比赛结束
	Abandoned bool          `json:"abandoned"` // 房主中途退出，比赛被强制结束
	Room      *model.Room   `json:"room"`
	Player    *model.Player `json:"player"`
}

// validProgress nil 表示沿用已存储的成绩
func validProgress(pr *model.Progress) error {
	if pr == nil {
		return nil
	}
	if pr.Score < 0 || pr.Attempts < 0 || pr.Correct < 0 || pr.Correct > pr.Attempts {
		return sharedErrors.ErrInvalidParams
	}
	return nil
}

// FinishMatch 记录玩家最终成绩并推进完成计数。
// pr 为 nil 时保留服务器上已累计的成绩（ReportAnswer 写入的）。
//
// 整个过程是一次原子事务（大厅阶段不做任何修改）：
//  1. 玩家已完成过：只合并最新成绩，不再计数
//  2. 否则写入成绩与 finished_at
//  3. 房间不在进行中或已有结束原因：停止
//  4. player_count 未知：停止
//  5. finished_count 加一，达到 player_count 时同一次写入将房间置为 ended/all_finished
//
// 房主在比赛进行中且自己尚未完成时以 exit 原因结束，改走 AbandonMatch 的强制结束路径；
// 已经超时完成的房主再退出只合并成绩，不影响其他仍在作答的玩家。
func (s *Service) FinishMatch(ctx context.Context, code string, who model.Identity, pr *model.Progress, reason FinishReason) (*FinishResult, error) {
	if err := validIdentity(who); err != nil {
		return nil, err
	}
	if err := validProgress(pr); err != nil {
		return nil, err
	}
	if !reason.Valid() {
		return nil, sharedErrors.ErrInvalidParams
	}
	code = NormalizeCode(code)

	var res FinishResult
	c, err := s.transact(ctx, "finish", code, func(tx store.Txn) error {
		res = FinishResult{}
		room := tx.Room()
		if room == nil {
			// 房间已删除，视为比赛不可用
			return nil
		}

		p := tx.Player(who.UID)
		if reason == FinishExit && room.HostUID == who.UID && room.Status == model.StatusInProgress &&
			(p == nil || !p.IsFinished()) {
			res.Abandoned = true
			res.Recorded = abandon(tx, room, who.UID, pr)
			return nil
		}

		if p == nil {
			return sharedErrors.ErrNotInRoom
		}
		if room.Status == model.StatusLobby {
			// 比赛尚未开始，不能提前标记完成
			return nil
		}

		now := tx.Now()
		if p.IsFinished() {
			if pr != nil {
				p.ApplyProgress(*pr)
				tx.PutPlayer(*p)
			}
			res.Recorded = pr != nil
			return nil
		}

		if pr != nil {
			p.ApplyProgress(*pr)
		}
		p.FinishedAt = &now
		tx.PutPlayer(*p)
		res.Recorded = true

		if room.Status != model.StatusInProgress || room.EndedReason != nil {
			return nil
		}
		if room.PlayerCount <= 0 {
			return nil
		}

		room.FinishedCount++
		res.Counted = true
		if room.FinishedCount >= room.PlayerCount {
			ended := model.ReasonAllFinished
			room.Status = model.StatusEnded
			room.EndedReason = &ended
			room.EndedAt = &now
			room.Locked = true
			res.Ended = true
		}
		room.UpdatedAt = now
		tx.PutRoom(*room)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Room = c.after.Room
	if p, ok := c.after.Player(who.UID); ok {
		res.Player = &p
	}

	switch {
	case res.Abandoned:
		s.logger.Info("Host exited, match abandoned", "code", code, "uid", who.UID)
	case res.Ended:
		s.logger.Info("All players finished, match ended", "code", code, "uid", who.UID)
	case res.Counted:
		s.logger.Info("Player finished", "code", code, "uid", who.UID,
			"finished", res.Room.FinishedCount, "players", res.Room.PlayerCount)
	default:
		s.logger.Debug("Finish recorded without counting", "code", code, "uid", who.UID, "recorded", res.Recorded)
	}
	return &res, nil
}

// AbandonMatch 房主强制结束比赛。
// 开赛后无条件写入 ended/host_left，不检查是否已经结束，同时保存房主自己的成绩。
// 大厅阶段没有比赛可结束，与房主离开相同：删除房间，返回 nil。
func (s *Service) AbandonMatch(ctx context.Context, code string, who model.Identity, pr *model.Progress) (*model.Room, error) {
	if err := validProgress(pr); err != nil {
		return nil, err
	}
	code = NormalizeCode(code)

	closed := false
	c, err := s.transact(ctx, "abandon", code, func(tx store.Txn) error {
		closed = false
		room, err := requireRoom(tx)
		if err != nil {
			return err
		}
		if err := requireHost(room, who.UID); err != nil {
			return err
		}
		if room.Status == model.StatusLobby {
			tx.DeleteRoom()
			closed = true
			return nil
		}
		abandon(tx, room, who.UID, pr)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if closed {
		s.logger.Info("Host abandoned lobby, room closed", "code", code, "uid", who.UID)
		return nil, nil
	}
	s.logger.Info("Match abandoned by host", "code", code, "uid", who.UID)
	return c.after.Room, nil
}

// abandon 写入房主成绩并强制结束，返回是否写入了成绩
func abandon(tx store.Txn, room *model.Room, hostUID string, pr *model.Progress) bool {
	now := tx.Now()

	recorded := false
	if p := tx.Player(hostUID); p != nil {
		if pr != nil {
			p.ApplyProgress(*pr)
		}
		if !p.IsFinished() {
			p.FinishedAt = &now
		}
		tx.PutPlayer(*p)
		recorded = true
	}

	reason := model.ReasonHostLeft
	room.Status = model.StatusEnded
	room.EndedReason = &reason
	room.EndedAt = &now
	room.Locked = true
	room.UpdatedAt = now
	tx.PutRoom(*room)
	return recorded
}
