package room

import (
	"strings"
	"time"

	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

// EventType 房间生命周期事件类型
type EventType string

const (
	EventRosterChanged EventType = "room.roster_changed"
	EventMatchStarted  EventType = "room.match_started"
	EventMatchEnded    EventType = "room.match_ended"
	EventClosed        EventType = "room.closed"
)

// Event 房间生命周期事件
type Event struct {
	Type        EventType          `json:"type"`
	Code        string             `json:"code"`
	Version     int64              `json:"version"`
	Players     []model.Player     `json:"players,omitempty"`      // roster_changed
	Seed        *uint32            `json:"seed,omitempty"`         // match_started
	DurationSec int                `json:"duration_sec,omitempty"` // match_started
	StartedAt   *time.Time         `json:"started_at,omitempty"`   // match_started
	Reason      *model.EndedReason `json:"reason,omitempty"`       // match_ended
	EndedAt     *time.Time         `json:"ended_at,omitempty"`     // match_ended
}

// Tracker 把快照流转换为生命周期事件。
// 快照可能重复或跳过中间状态，Tracker 只比较相邻两次看到的状态。
type Tracker struct {
	code    string
	seen    bool
	closed  bool
	version int64
	status  model.RoomStatus
	roster  string
}

// NewTracker 创建跟踪器
func NewTracker(code string) *Tracker {
	return &Tracker{code: code}
}

// Closed 是否已观察到房间被删除
func (t *Tracker) Closed() bool {
	return t.closed
}

// Apply 处理一次快照，返回新产生的事件
func (t *Tracker) Apply(snap store.Snapshot) []Event {
	if t.closed {
		return nil
	}

	room := snap.Room
	if room == nil {
		if !t.seen {
			return nil
		}
		t.closed = true
		return []Event{{Type: EventClosed, Code: t.code, Version: t.version}}
	}

	if t.seen && room.Version == t.version {
		return nil
	}

	var events []Event
	roster := rosterKey(snap.Players)

	switch room.Status {
	case model.StatusLobby:
		if !t.seen || roster != t.roster {
			events = append(events, Event{
				Type:    EventRosterChanged,
				Code:    t.code,
				Version: room.Version,
				Players: snap.Players,
			})
		}
	case model.StatusInProgress:
		if t.status != model.StatusInProgress {
			events = append(events, startedEvent(t.code, room))
		}
	case model.StatusEnded:
		if t.status != model.StatusEnded {
			if t.status == model.StatusLobby && room.StartedAt != nil {
				// 中间的 in_progress 状态被合并掉了
				events = append(events, startedEvent(t.code, room))
			}
			events = append(events, Event{
				Type:    EventMatchEnded,
				Code:    t.code,
				Version: room.Version,
				Reason:  room.EndedReason,
				EndedAt: room.EndedAt,
			})
		}
	}

	t.seen = true
	t.version = room.Version
	t.status = room.Status
	t.roster = roster
	return events
}

func startedEvent(code string, room *model.Room) Event {
	return Event{
		Type:        EventMatchStarted,
		Code:        code,
		Version:     room.Version,
		Seed:        room.Seed,
		DurationSec: room.DurationSec,
		StartedAt:   room.StartedAt,
	}
}

// rosterKey 名单的比较键，只关心成员与昵称
func rosterKey(players []model.Player) string {
	var sb strings.Builder
	for _, p := range players {
		sb.WriteString(p.UID)
		sb.WriteByte('\x1f')
		sb.WriteString(p.DisplayName)
		sb.WriteByte('\x1e')
	}
	return sb.String()
}

// Diff 一次状态变化产生的事件
func Diff(before, after store.Snapshot) []Event {
	t := NewTracker(after.Code)
	t.Apply(before)
	return t.Apply(after)
}
