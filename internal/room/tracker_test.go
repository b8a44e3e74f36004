package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

func snapAt(version int64, status model.RoomStatus, uids ...string) store.Snapshot {
	room := &model.Room{Code: "ABC234", Status: status, Version: version, DurationSec: 60}
	if status != model.StatusLobby {
		seed := uint32(7)
		start := time.Unix(1000, 0)
		room.Seed = &seed
		room.StartedAt = &start
	}
	if status == model.StatusEnded {
		reason := model.ReasonAllFinished
		room.EndedReason = &reason
	}
	s := store.Snapshot{Code: "ABC234", Room: room}
	for _, uid := range uids {
		s.Players = append(s.Players, model.Player{UID: uid, DisplayName: uid})
	}
	return s
}

func types(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker("ABC234")

	assert.Empty(t, tr.Apply(store.Snapshot{Code: "ABC234"}))
	assert.Equal(t, []EventType{EventRosterChanged}, types(tr.Apply(snapAt(1, model.StatusLobby, "h"))))
	assert.Equal(t, []EventType{EventRosterChanged}, types(tr.Apply(snapAt(2, model.StatusLobby, "h", "g"))))

	// 重复通知
	assert.Empty(t, tr.Apply(snapAt(2, model.StatusLobby, "h", "g")))
	// 版本变化但名单不变
	assert.Empty(t, tr.Apply(snapAt(3, model.StatusLobby, "h", "g")))

	started := tr.Apply(snapAt(4, model.StatusInProgress, "h", "g"))
	require.Len(t, started, 1)
	assert.Equal(t, EventMatchStarted, started[0].Type)
	assert.Equal(t, uint32(7), *started[0].Seed)
	assert.Equal(t, 60, started[0].DurationSec)
	assert.NotNil(t, started[0].StartedAt)

	assert.Empty(t, tr.Apply(snapAt(5, model.StatusInProgress, "h", "g")))

	ended := tr.Apply(snapAt(6, model.StatusEnded, "h", "g"))
	require.Len(t, ended, 1)
	assert.Equal(t, EventMatchEnded, ended[0].Type)
	assert.Equal(t, model.ReasonAllFinished, *ended[0].Reason)

	assert.Empty(t, tr.Apply(snapAt(7, model.StatusEnded, "h", "g")))
	assert.Equal(t, []EventType{EventClosed}, types(tr.Apply(store.Snapshot{Code: "ABC234"})))
	assert.True(t, tr.Closed())
	assert.Empty(t, tr.Apply(snapAt(8, model.StatusLobby, "x")))
}

func TestTracker_CollapsedStart(t *testing.T) {
	tr := NewTracker("ABC234")
	tr.Apply(snapAt(1, model.StatusLobby, "h", "g"))
	assert.Equal(t, []EventType{EventMatchStarted, EventMatchEnded}, types(tr.Apply(snapAt(9, model.StatusEnded, "h", "g"))))
}

func TestTracker_LateSubscriber(t *testing.T) {
	tr := NewTracker("ABC234")
	assert.Equal(t, []EventType{EventMatchStarted}, types(tr.Apply(snapAt(5, model.StatusInProgress, "h", "g"))))

	tr = NewTracker("ABC234")
	assert.Equal(t, []EventType{EventMatchEnded}, types(tr.Apply(snapAt(5, model.StatusEnded, "h", "g"))))
}

func TestDiff(t *testing.T) {
	before := snapAt(1, model.StatusLobby, "h")
	after := snapAt(2, model.StatusLobby, "h", "g")
	assert.Equal(t, []EventType{EventRosterChanged}, types(Diff(before, after)))
	assert.Empty(t, Diff(before, before))
	assert.Equal(t, []EventType{EventClosed}, types(Diff(before, store.Snapshot{Code: "ABC234"})))
}
