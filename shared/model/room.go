package model

import "time"

// RoomStatus 房间状态，只能向前推进：lobby -> in_progress -> ended
type RoomStatus string

const (
	StatusLobby      RoomStatus = "lobby"
	StatusInProgress RoomStatus = "in_progress"
	StatusEnded      RoomStatus = "ended"
)

// EndedReason 比赛结束原因
type EndedReason string

const (
	ReasonAllFinished EndedReason = "all_finished"
	ReasonHostLeft    EndedReason = "host_left"
)

// Room 房间文档（一场比赛一个）
type Room struct {
	Code          string       `json:"code"`           // 6 位房间码，创建后不可变
	HostUID       string       `json:"host_uid"`       // 房主
	Status        RoomStatus   `json:"status"`         // 房间状态
	Locked        bool         `json:"locked"`         // 开赛或关闭后禁止加入
	MaxPlayers    int          `json:"max_players"`    // 人数上限
	DurationSec   int          `json:"duration_sec"`   // 比赛时长，仅大厅阶段房主可改
	Seed          *uint32      `json:"seed"`           // 题目种子，开赛时写入一次
	StartedAt     *time.Time   `json:"started_at"`     // 服务器时间，所有客户端倒计时的基准
	PlayerCount   int          `json:"player_count"`   // 开赛时冻结的人数
	FinishedCount int          `json:"finished_count"` // 已完成人数，只增不减
	EndedReason   *EndedReason `json:"ended_reason"`   // 与 ended 状态同时写入
	EndedAt       *time.Time   `json:"ended_at"`       // 结束时间
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Version       int64        `json:"version"` // 每次提交递增
}

// Clone 深拷贝房间文档
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.Seed != nil {
		seed := *r.Seed
		c.Seed = &seed
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.EndedReason != nil {
		reason := *r.EndedReason
		c.EndedReason = &reason
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// IsJoinable 大厅阶段且未锁定
func (r *Room) IsJoinable() bool {
	return r.Status == StatusLobby && !r.Locked
}

// EndInstant 本场比赛的结束时刻，未开赛时返回 false
func (r *Room) EndInstant() (time.Time, bool) {
	if r.StartedAt == nil {
		return time.Time{}, false
	}
	return r.StartedAt.Add(time.Duration(r.DurationSec) * time.Second), true
}
