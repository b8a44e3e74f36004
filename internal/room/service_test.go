package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.mathrush/internal/config"
	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/internal/store/memstore"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

type testEnv struct {
	svc   *Service
	store *memstore.Store
	clock *clockwork.FakeClock
}

func newTestEnv(t *testing.T, mutate func(*config.RoomConfig), opts ...Option) *testEnv {
	t.Helper()
	cfg := config.Default().Room
	if mutate != nil {
		mutate(&cfg)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clock)
	t.Cleanup(func() { st.Close() })
	return &testEnv{svc: NewService(st, cfg, opts...), store: st, clock: clock}
}

func ident(uid string) model.Identity {
	return model.Identity{UID: uid, DisplayName: "Player " + uid}
}

// lobby 创建房间并让其他玩家依次加入
func (e *testEnv) lobby(t *testing.T, host string, guests ...string) string {
	t.Helper()
	ctx := context.Background()
	room, err := e.svc.CreateRoom(ctx, ident(host))
	require.NoError(t, err)
	for _, uid := range guests {
		e.clock.Advance(time.Second)
		_, err := e.svc.JoinRoom(ctx, room.Code, ident(uid))
		require.NoError(t, err)
	}
	return room.Code
}

func (e *testEnv) started(t *testing.T, host string, guests ...string) string {
	t.Helper()
	code := e.lobby(t, host, guests...)
	_, err := e.svc.StartMatch(context.Background(), code, ident(host))
	require.NoError(t, err)
	return code
}

func (e *testEnv) snapshot(t *testing.T, code string) store.Snapshot {
	t.Helper()
	snap, err := e.store.Snapshot(context.Background(), code)
	require.NoError(t, err)
	return snap
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestCreateRoom(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	room, err := env.svc.CreateRoom(ctx, ident("host"))
	require.NoError(t, err)
	assert.True(t, ValidCode(room.Code))
	assert.Equal(t, "host", room.HostUID)
	assert.Equal(t, model.StatusLobby, room.Status)
	assert.False(t, room.Locked)
	assert.Equal(t, 8, room.MaxPlayers)
	assert.Equal(t, 60, room.DurationSec)
	assert.Nil(t, room.Seed)
	assert.Nil(t, room.StartedAt)
	assert.Equal(t, int64(1), room.Version)

	snap := env.snapshot(t, room.Code)
	require.Len(t, snap.Players, 1)
	assert.True(t, snap.Players[0].IsHost)
	assert.Equal(t, "Player host", snap.Players[0].DisplayName)

	_, err = env.svc.CreateRoom(ctx, model.Identity{})
	assert.ErrorIs(t, err, sharedErrors.ErrInvalidParams)
}

func TestCreateRoom_CodeAttemptsExhausted(t *testing.T) {
	env := newTestEnv(t, nil, WithRandom(zeroReader{}))
	ctx := context.Background()

	room, err := env.svc.CreateRoom(ctx, ident("first"))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", room.Code)

	_, err = env.svc.CreateRoom(ctx, ident("second"))
	assert.ErrorIs(t, err, sharedErrors.ErrRoomCreationExhausted)
	assert.True(t, IsRetryable(err))

	snap := env.snapshot(t, "AAAAAA")
	assert.Equal(t, "first", snap.Room.HostUID)
}

func TestJoinRoom_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.lobby(t, "host", "guest")

	// 模拟已有成绩，重复加入不能重置
	err := env.store.RunTransaction(ctx, code, func(tx store.Txn) error {
		p := tx.Player("guest")
		p.ApplyProgress(model.Progress{Score: 30, Attempts: 4, Correct: 3})
		tx.PutPlayer(*p)
		return nil
	})
	require.NoError(t, err)
	joinedAt := env.snapshot(t, code).Players[1].JoinedAt

	env.clock.Advance(time.Minute)
	_, err = env.svc.JoinRoom(ctx, code, model.Identity{UID: "guest", DisplayName: "Renamed"})
	require.NoError(t, err)
	_, err = env.svc.JoinRoom(ctx, code, model.Identity{UID: "guest", DisplayName: "Renamed"})
	require.NoError(t, err)

	snap := env.snapshot(t, code)
	require.Len(t, snap.Players, 2)
	guest, ok := snap.Player("guest")
	require.True(t, ok)
	assert.Equal(t, "Renamed", guest.DisplayName)
	assert.Equal(t, 30, guest.Score)
	assert.Equal(t, 4, guest.Attempts)
	assert.Equal(t, 75.0, guest.Accuracy)
	assert.False(t, guest.IsHost)
	assert.True(t, joinedAt.Equal(guest.JoinedAt))
}

func TestJoinRoom_Failures(t *testing.T) {
	env := newTestEnv(t, func(c *config.RoomConfig) { c.MaxPlayers = 2 })
	ctx := context.Background()

	_, err := env.svc.JoinRoom(ctx, "ZZZZZZ", ident("a"))
	assert.ErrorIs(t, err, sharedErrors.ErrRoomNotFound)

	code := env.lobby(t, "host", "second")
	_, err = env.svc.JoinRoom(ctx, code, ident("third"))
	assert.ErrorIs(t, err, sharedErrors.ErrRoomFull)
	assert.Len(t, env.snapshot(t, code).Players, 2)

	// 名单内的玩家仍可重复加入
	_, err = env.svc.JoinRoom(ctx, code, ident("second"))
	assert.NoError(t, err)

	_, err = env.svc.StartMatch(ctx, code, ident("host"))
	require.NoError(t, err)
	require.NoError(t, env.svc.LeaveRoom(ctx, code, ident("second")))

	_, err = env.svc.JoinRoom(ctx, code, ident("late"))
	assert.ErrorIs(t, err, sharedErrors.ErrRoomLocked)
}

func TestJoinRoom_NormalizesCode(t *testing.T) {
	env := newTestEnv(t, nil)
	code := env.lobby(t, "host")

	room, err := env.svc.JoinRoom(context.Background(), "  "+code+" ", ident("guest"))
	require.NoError(t, err)
	assert.Equal(t, code, room.Code)

	_, err = env.svc.JoinRoom(context.Background(), strings.ToLower(code), ident("other"))
	assert.NoError(t, err)
	assert.Len(t, env.snapshot(t, code).Players, 3)
}

func TestJoinRoom_ConcurrentRespectsCapacity(t *testing.T) {
	env := newTestEnv(t, func(c *config.RoomConfig) { c.MaxPlayers = 4 })
	ctx := context.Background()
	code := env.lobby(t, "host")

	const joiners = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	joined, full := 0, 0
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.JoinRoom(ctx, code, ident(fmt.Sprintf("p%02d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, sharedErrors.ErrRoomFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, joined)
	assert.Equal(t, joiners-3, full)
	assert.Len(t, env.snapshot(t, code).Players, 4)
}

func TestLeaveRoom(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	t.Run("guest leaves lobby", func(t *testing.T) {
		code := env.lobby(t, "host", "guest")
		require.NoError(t, env.svc.LeaveRoom(ctx, code, ident("guest")))
		snap := env.snapshot(t, code)
		require.True(t, snap.Exists())
		require.Len(t, snap.Players, 1)
		assert.Equal(t, "host", snap.Players[0].UID)

		assert.ErrorIs(t, env.svc.LeaveRoom(ctx, code, ident("guest")), sharedErrors.ErrNotInRoom)
	})

	t.Run("host leaves lobby", func(t *testing.T) {
		code := env.lobby(t, "host", "guest")

		obsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		rooms, err := env.svc.ObserveRoom(obsCtx, code)
		require.NoError(t, err)
		require.NotNil(t, <-rooms)

		require.NoError(t, env.svc.LeaveRoom(ctx, code, ident("host")))
		snap := env.snapshot(t, code)
		assert.False(t, snap.Exists())
		assert.Empty(t, snap.Players)

		select {
		case room := <-rooms:
			assert.Nil(t, room)
		case <-time.After(5 * time.Second):
			t.Fatal("observer did not see the room disappear")
		}

		assert.ErrorIs(t, env.svc.LeaveRoom(ctx, code, ident("guest")), sharedErrors.ErrRoomNotFound)
	})

	t.Run("leaving a running match keeps the record", func(t *testing.T) {
		code := env.started(t, "host", "guest")
		before := env.snapshot(t, code)
		require.NoError(t, env.svc.LeaveRoom(ctx, code, ident("guest")))
		require.NoError(t, env.svc.LeaveRoom(ctx, code, ident("host")))
		after := env.snapshot(t, code)
		assert.Equal(t, before.Room.Version, after.Room.Version)
		assert.Len(t, after.Players, 2)
	})
}

func TestSetDuration(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.lobby(t, "host", "guest")

	_, err := env.svc.SetDuration(ctx, code, ident("guest"), 90)
	assert.ErrorIs(t, err, sharedErrors.ErrNotAuthorized)

	_, err = env.svc.SetDuration(ctx, code, ident("host"), 5)
	assert.ErrorIs(t, err, sharedErrors.ErrInvalidParams)
	_, err = env.svc.SetDuration(ctx, code, ident("host"), 601)
	assert.ErrorIs(t, err, sharedErrors.ErrInvalidParams)

	room, err := env.svc.SetDuration(ctx, code, ident("host"), 90)
	require.NoError(t, err)
	assert.Equal(t, 90, room.DurationSec)
	assert.Equal(t, 90, env.snapshot(t, code).Room.DurationSec)

	_, err = env.svc.StartMatch(ctx, code, ident("host"))
	require.NoError(t, err)
	_, err = env.svc.SetDuration(ctx, code, ident("host"), 120)
	assert.ErrorIs(t, err, sharedErrors.ErrRoomLocked)
	assert.Equal(t, 90, env.snapshot(t, code).Room.DurationSec)
}

func TestStartMatch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code := env.lobby(t, "host")
	_, err := env.svc.StartMatch(ctx, code, ident("host"))
	assert.ErrorIs(t, err, sharedErrors.ErrInsufficientPlayers)

	_, err = env.svc.JoinRoom(ctx, code, ident("guest"))
	require.NoError(t, err)
	_, err = env.svc.StartMatch(ctx, code, ident("guest"))
	assert.ErrorIs(t, err, sharedErrors.ErrNotAuthorized)

	room, err := env.svc.StartMatch(ctx, code, ident("host"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, room.Status)
	assert.True(t, room.Locked)
	require.NotNil(t, room.Seed)
	require.NotNil(t, room.StartedAt)
	assert.True(t, env.clock.Now().Equal(*room.StartedAt))
	assert.Equal(t, 2, room.PlayerCount)
	assert.Equal(t, 0, room.FinishedCount)
	assert.Nil(t, room.EndedReason)

	stored := env.snapshot(t, code).Room
	assert.Equal(t, *room.Seed, *stored.Seed)

	// 重试对已开始的房间无效
	_, err = env.svc.StartMatch(ctx, code, ident("host"))
	assert.ErrorIs(t, err, sharedErrors.ErrRoomLocked)
	again := env.snapshot(t, code).Room
	assert.Equal(t, *stored.Seed, *again.Seed)
	assert.Equal(t, stored.Version, again.Version)
}

func TestFinishMatch_AllFinished(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.started(t, "host", "guest")

	env.clock.Advance(60 * time.Second)
	res, err := env.svc.FinishMatch(ctx, code, ident("guest"), &model.Progress{Score: 50, Attempts: 6, Correct: 5}, FinishTimeout)
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.True(t, res.Counted)
	assert.False(t, res.Ended)
	assert.Equal(t, 1, res.Room.FinishedCount)
	require.NotNil(t, res.Player)
	assert.Equal(t, 83.33, res.Player.Accuracy)
	require.NotNil(t, res.Player.FinishedAt)

	res, err = env.svc.FinishMatch(ctx, code, ident("host"), &model.Progress{Score: 40, Attempts: 4, Correct: 4}, FinishTimeout)
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.True(t, res.Ended)

	room := env.snapshot(t, code).Room
	assert.Equal(t, model.StatusEnded, room.Status)
	require.NotNil(t, room.EndedReason)
	assert.Equal(t, model.ReasonAllFinished, *room.EndedReason)
	require.NotNil(t, room.EndedAt)
	assert.Equal(t, 2, room.FinishedCount)

	// 重复结束只合并成绩
	res, err = env.svc.FinishMatch(ctx, code, ident("guest"), &model.Progress{Score: 60, Attempts: 7, Correct: 6}, FinishTimeout)
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.False(t, res.Counted)
	assert.False(t, res.Ended)

	snap := env.snapshot(t, code)
	assert.Equal(t, 2, snap.Room.FinishedCount)
	guest, _ := snap.Player("guest")
	assert.Equal(t, 60, guest.Score)

	results, err := env.svc.GetResults(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, results.Standings.Winner)
	assert.Equal(t, "guest", results.Standings.Winner.UID)
}

func TestFinishMatch_ConcurrentFinishersEndOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	uids := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	code := env.started(t, uids[0], uids[1:]...)

	events, err := env.svc.Events(ctx, code)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan *FinishResult, len(uids))
	for i, uid := range uids {
		wg.Add(1)
		go func(i int, uid string) {
			defer wg.Done()
			res, err := env.svc.FinishMatch(ctx, code, ident(uid), &model.Progress{Score: i * 10, Attempts: i, Correct: i}, FinishTimeout)
			if !assert.NoError(t, err) {
				return
			}
			results <- res
		}(i, uid)
	}
	wg.Wait()
	close(results)

	ended, counted := 0, 0
	for res := range results {
		if res.Ended {
			ended++
		}
		if res.Counted {
			counted++
		}
	}
	assert.Equal(t, 1, ended)
	assert.Equal(t, len(uids), counted)

	room := env.snapshot(t, code).Room
	assert.Equal(t, model.StatusEnded, room.Status)
	assert.Equal(t, len(uids), room.FinishedCount)
	assert.Equal(t, model.ReasonAllFinished, *room.EndedReason)

	endedEvents := 0
	timeout := time.After(5 * time.Second)
	for endedEvents == 0 {
		select {
		case ev := <-events:
			if ev.Type == EventMatchEnded {
				endedEvents++
				require.NotNil(t, ev.Reason)
				assert.Equal(t, model.ReasonAllFinished, *ev.Reason)
			}
		case <-timeout:
			t.Fatal("no match_ended event")
		}
	}
}

func TestAbandonMatch_HostOverrideWins(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.started(t, "host", "a", "b")

	_, err := env.svc.FinishMatch(ctx, code, ident("a"), &model.Progress{Score: 10, Attempts: 1, Correct: 1}, FinishTimeout)
	require.NoError(t, err)

	_, err = env.svc.AbandonMatch(ctx, code, ident("a"), &model.Progress{})
	assert.ErrorIs(t, err, sharedErrors.ErrNotAuthorized)

	room, err := env.svc.AbandonMatch(ctx, code, ident("host"), &model.Progress{Score: 20, Attempts: 3, Correct: 2})
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnded, room.Status)
	assert.Equal(t, model.ReasonHostLeft, *room.EndedReason)
	assert.True(t, room.Locked)
	assert.Equal(t, 1, room.FinishedCount)

	host, _ := env.snapshot(t, code).Player("host")
	assert.Equal(t, 20, host.Score)
	assert.NotNil(t, host.FinishedAt)

	// 之后的完成不再计数，结束原因不变
	res, err := env.svc.FinishMatch(ctx, code, ident("b"), &model.Progress{Score: 30, Attempts: 3, Correct: 3}, FinishTimeout)
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.False(t, res.Counted)
	snap := env.snapshot(t, code)
	assert.Equal(t, model.ReasonHostLeft, *snap.Room.EndedReason)
	assert.Equal(t, 1, snap.Room.FinishedCount)
}

func TestAbandonMatch_OverwritesAllFinished(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.started(t, "host", "guest")

	for _, uid := range []string{"host", "guest"} {
		_, err := env.svc.FinishMatch(ctx, code, ident(uid), &model.Progress{}, FinishTimeout)
		require.NoError(t, err)
	}
	require.Equal(t, model.ReasonAllFinished, *env.snapshot(t, code).Room.EndedReason)

	// 强制结束不检查状态，会覆盖已有的结束原因
	room, err := env.svc.AbandonMatch(ctx, code, ident("host"), &model.Progress{})
	require.NoError(t, err)
	assert.Equal(t, model.ReasonHostLeft, *room.EndedReason)
}

func TestFinishMatch_HostExitAbandons(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.started(t, "host", "guest")

	res, err := env.svc.FinishMatch(ctx, code, ident("host"), &model.Progress{Score: 10, Attempts: 2, Correct: 1}, FinishExit)
	require.NoError(t, err)
	assert.True(t, res.Abandoned)
	assert.True(t, res.Recorded)
	assert.False(t, res.Counted)
	assert.Equal(t, model.StatusEnded, res.Room.Status)
	assert.Equal(t, model.ReasonHostLeft, *res.Room.EndedReason)

	// 非房主退出走普通计数路径
	env2 := newTestEnv(t, nil)
	code2 := env2.started(t, "host", "guest")
	res, err = env2.svc.FinishMatch(ctx, code2, ident("guest"), &model.Progress{}, FinishExit)
	require.NoError(t, err)
	assert.False(t, res.Abandoned)
	assert.True(t, res.Counted)
	assert.Equal(t, model.StatusInProgress, res.Room.Status)
}

func TestFinishMatch_EdgeCases(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.FinishMatch(ctx, "ABCDEF", ident("a"), &model.Progress{Attempts: 1, Correct: 2}, FinishTimeout)
	assert.ErrorIs(t, err, sharedErrors.ErrInvalidParams)
	_, err = env.svc.FinishMatch(ctx, "ABCDEF", ident("a"), &model.Progress{}, FinishReason("quit"))
	assert.ErrorIs(t, err, sharedErrors.ErrInvalidParams)

	// 房间不存在
	res, err := env.svc.FinishMatch(ctx, "ABCDEF", ident("a"), &model.Progress{}, FinishTimeout)
	require.NoError(t, err)
	assert.False(t, res.Recorded)
	assert.Nil(t, res.Room)

	code := env.started(t, "host", "guest")
	_, err = env.svc.FinishMatch(ctx, code, ident("stranger"), &model.Progress{}, FinishTimeout)
	assert.ErrorIs(t, err, sharedErrors.ErrNotInRoom)

	// 大厅阶段不能提前完成
	lobby := env.lobby(t, "h2", "g2")
	res, err = env.svc.FinishMatch(ctx, lobby, ident("g2"), &model.Progress{}, FinishTimeout)
	require.NoError(t, err)
	assert.False(t, res.Recorded)
	assert.False(t, res.Counted)
	g2, _ := env.snapshot(t, lobby).Player("g2")
	assert.Nil(t, g2.FinishedAt)
}

func TestReportAnswer(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code := env.lobby(t, "host", "guest")
	p, err := env.svc.ReportAnswer(ctx, code, ident("guest"), true)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Attempts)

	_, err = env.svc.StartMatch(ctx, code, ident("host"))
	require.NoError(t, err)

	p, err = env.svc.ReportAnswer(ctx, code, ident("guest"), true)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Score)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, 1, p.Correct)
	assert.Equal(t, 100.0, p.Accuracy)

	p, err = env.svc.ReportAnswer(ctx, code, ident("guest"), false)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Score)
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, 50.0, p.Accuracy)

	// 不带成绩结束时保留已上报的成绩
	_, err = env.svc.FinishMatch(ctx, code, ident("guest"), nil, FinishTimeout)
	require.NoError(t, err)
	p, err = env.svc.ReportAnswer(ctx, code, ident("guest"), true)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, 10, p.Score)
	assert.NotNil(t, p.FinishedAt)

	_, err = env.svc.ReportAnswer(ctx, code, ident("stranger"), true)
	assert.ErrorIs(t, err, sharedErrors.ErrNotInRoom)
}

func TestReportAnswerAt_Dedup(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.started(t, "host", "guest")

	p, err := env.svc.ReportAnswerAt(ctx, code, ident("guest"), true, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Attempts)
	version := env.snapshot(t, code).Room.Version

	// 同一题重复提交只记一次，也不写存储
	p, err = env.svc.ReportAnswerAt(ctx, code, ident("guest"), true, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, 10, p.Score)
	assert.Equal(t, version, env.snapshot(t, code).Room.Version)

	p, err = env.svc.ReportAnswerAt(ctx, code, ident("guest"), false, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, 1, p.Correct)

	_, err = env.svc.ReportAnswerAt(ctx, code, ident("guest"), true, -1)
	assert.ErrorIs(t, err, sharedErrors.ErrInvalidParams)
}

func TestAbandonMatch_LobbyClosesRoom(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.lobby(t, "host", "guest")

	_, err := env.svc.AbandonMatch(ctx, code, ident("guest"), nil)
	assert.ErrorIs(t, err, sharedErrors.ErrNotAuthorized)

	room, err := env.svc.AbandonMatch(ctx, code, ident("host"), nil)
	require.NoError(t, err)
	assert.Nil(t, room)

	snap := env.snapshot(t, code)
	assert.False(t, snap.Exists())
	assert.Empty(t, snap.Players)

	_, err = env.svc.JoinRoom(ctx, code, ident("late"))
	assert.ErrorIs(t, err, sharedErrors.ErrRoomNotFound)
}

func TestFinishMatch_HostExitAfterTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.started(t, "host", "a", "b")

	_, err := env.svc.FinishMatch(ctx, code, ident("host"), &model.Progress{Score: 30, Attempts: 4, Correct: 3}, FinishTimeout)
	require.NoError(t, err)

	// 房主已完成，之后退出只是离开结果页，不强制结束
	res, err := env.svc.FinishMatch(ctx, code, ident("host"), nil, FinishExit)
	require.NoError(t, err)
	assert.False(t, res.Abandoned)
	assert.False(t, res.Counted)
	assert.Equal(t, model.StatusInProgress, res.Room.Status)
	assert.Nil(t, res.Room.EndedReason)
	assert.Equal(t, 1, res.Room.FinishedCount)

	host, _ := env.snapshot(t, code).Player("host")
	assert.Equal(t, 30, host.Score)

	for _, uid := range []string{"a", "b"} {
		_, err = env.svc.FinishMatch(ctx, code, ident(uid), &model.Progress{}, FinishTimeout)
		require.NoError(t, err)
	}
	snap := env.snapshot(t, code)
	assert.Equal(t, model.StatusEnded, snap.Room.Status)
	assert.Equal(t, model.ReasonAllFinished, *snap.Room.EndedReason)
}

func TestTransact_ResultMatchesStore(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.lobby(t, "host", "guest")

	env.clock.Advance(time.Second)
	started, err := env.svc.StartMatch(ctx, code, ident("host"))
	require.NoError(t, err)
	snap := env.snapshot(t, code)
	assert.Equal(t, snap.Room.Version, started.Version)
	assert.True(t, snap.Room.UpdatedAt.Equal(started.UpdatedAt))

	// 比赛中离开不写存储
	require.NoError(t, env.svc.LeaveRoom(ctx, code, ident("guest")))
	assert.Equal(t, started.Version, env.snapshot(t, code).Room.Version)

	res, err := env.svc.FinishMatch(ctx, code, ident("guest"), nil, FinishTimeout)
	require.NoError(t, err)
	assert.Equal(t, started.Version+1, res.Room.Version)
	assert.Equal(t, env.snapshot(t, code).Room.Version, res.Room.Version)
}

func TestTransientStoreErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.lobby(t, "host")

	env.store.FailNext(errors.New("connection reset"))
	_, err := env.svc.JoinRoom(ctx, code, ident("guest"))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, sharedErrors.CodeTransientStore, sharedErrors.GetCode(err))

	env.store.FailNext(store.ErrConflict)
	_, err = env.svc.JoinRoom(ctx, code, ident("guest"))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, store.ErrConflict)

	// 校验失败不可重试
	_, err = env.svc.JoinRoom(ctx, "ZZZZZZ", ident("guest"))
	assert.False(t, IsRetryable(err))

	_, err = env.svc.JoinRoom(ctx, code, ident("guest"))
	assert.NoError(t, err)
}

func TestListPlayersAndObserveRoster(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	code := env.lobby(t, "host", "b", "a")

	players, err := env.svc.ListPlayers(ctx, code)
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, []string{"host", "b", "a"}, []string{players[0].UID, players[1].UID, players[2].UID})

	rosters, err := env.svc.ObserveRoster(ctx, code)
	require.NoError(t, err)
	assert.Len(t, <-rosters, 3)

	require.NoError(t, env.svc.LeaveRoom(ctx, code, ident("b")))
	select {
	case roster := <-rosters:
		assert.Len(t, roster, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("roster update not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-rosters:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	players, err = env.svc.ListPlayers(context.Background(), "ZZZZZZ")
	require.NoError(t, err)
	assert.Empty(t, players)
}

func TestNotifierReceivesLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	var got []EventType
	notifier := NotifierFunc(func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Type)
		return nil
	})
	env := newTestEnv(t, nil, WithNotifier(notifier))
	ctx := context.Background()

	code := env.started(t, "host", "guest")
	for _, uid := range []string{"host", "guest"} {
		_, err := env.svc.FinishMatch(ctx, code, ident(uid), &model.Progress{}, FinishTimeout)
		require.NoError(t, err)
	}
	closed := env.lobby(t, "h2")
	require.NoError(t, env.svc.LeaveRoom(ctx, closed, ident("h2")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventRosterChanged, // create
		EventRosterChanged, // join
		EventMatchStarted,
		EventMatchEnded,
		EventRosterChanged, // create h2
		EventClosed,
	}, got)
}
