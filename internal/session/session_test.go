package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.mathrush/internal/config"
	"sudooom.mathrush/internal/room"
	"sudooom.mathrush/internal/store/memstore"
	"sudooom.mathrush/shared/model"
)

type harness struct {
	svc   *room.Service
	store *memstore.Store
	clock *clockwork.FakeClock
	code  string
}

func newHarness(t *testing.T, guests ...string) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clock)
	t.Cleanup(func() { st.Close() })
	svc := room.NewService(st, config.Default().Room)

	ctx := context.Background()
	rm, err := svc.CreateRoom(ctx, who("host"))
	require.NoError(t, err)
	for _, uid := range guests {
		clock.Advance(time.Second)
		_, err := svc.JoinRoom(ctx, rm.Code, who(uid))
		require.NoError(t, err)
	}
	_, err = svc.SetDuration(ctx, rm.Code, who("host"), 15)
	require.NoError(t, err)
	return &harness{svc: svc, store: st, clock: clock, code: rm.Code}
}

func who(uid string) model.Identity {
	return model.Identity{UID: uid, DisplayName: "Player " + uid}
}

// running 运行中的会话及其收到的更新
type running struct {
	sess *Session
	mu   sync.Mutex
	seen []UpdateKind
	errc chan error
}

func (r *running) kinds() []UpdateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UpdateKind(nil), r.seen...)
}

func (h *harness) run(t *testing.T, uid string) *running {
	t.Helper()
	r := &running{
		sess: New(h.svc, h.code, who(uid), WithClock(h.clock)),
		errc: make(chan error, 1),
	}
	go func() {
		for u := range r.sess.Updates() {
			if u.Kind == UpdateTick {
				continue
			}
			r.mu.Lock()
			r.seen = append(r.seen, u.Kind)
			r.mu.Unlock()
		}
	}()
	go func() { r.errc <- r.sess.Run(context.Background()) }()
	return r
}

// advanceUntil 推进假时钟直到所有会话退出
func (h *harness) advanceUntil(t *testing.T, sessions ...*running) {
	t.Helper()
	pending := append([]*running(nil), sessions...)
	require.Eventually(t, func() bool {
		h.clock.Advance(500 * time.Millisecond)
		rest := pending[:0]
		for _, r := range pending {
			select {
			case err := <-r.errc:
				assert.NoError(t, err)
			default:
				rest = append(rest, r)
			}
		}
		pending = rest
		return len(pending) == 0
	}, 10*time.Second, 2*time.Millisecond)
}

func waitPhase(t *testing.T, r *running, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.sess.Status().Phase == phase
	}, 5*time.Second, 2*time.Millisecond)
}

func TestSession_PlaysUntilTimeout(t *testing.T) {
	h := newHarness(t, "guest")
	ctx := context.Background()

	host := h.run(t, "host")
	guest := h.run(t, "guest")

	_, err := h.svc.StartMatch(ctx, h.code, who("host"))
	require.NoError(t, err)
	waitPhase(t, host, PhasePlaying)
	waitPhase(t, guest, PhasePlaying)

	// 同一种子下两个客户端看到相同的题目
	hq := host.sess.Status().Question
	gq := guest.sess.Status().Question
	require.NotNil(t, hq)
	require.NotNil(t, gq)
	assert.Equal(t, *hq, *gq)

	correct, err := host.sess.Answer(ctx, hq.Answer)
	require.NoError(t, err)
	assert.True(t, correct)
	correct, err = host.sess.Answer(ctx, host.sess.Status().Question.Answer+1)
	require.NoError(t, err)
	assert.False(t, correct)

	st := host.sess.Status()
	assert.Equal(t, 3, st.Index)
	assert.Equal(t, model.Progress{Score: 10, Attempts: 2, Correct: 1}, st.Progress)

	h.advanceUntil(t, host, guest)

	snap, err := h.store.Snapshot(ctx, h.code)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnded, snap.Room.Status)
	assert.Equal(t, model.ReasonAllFinished, *snap.Room.EndedReason)
	assert.Equal(t, 2, snap.Room.FinishedCount)
	for _, p := range snap.Players {
		assert.NotNil(t, p.FinishedAt, p.UID)
	}

	for _, r := range []*running{host, guest} {
		st := r.sess.Status()
		assert.Equal(t, PhaseResults, st.Phase)
		require.NotNil(t, st.Standings)
		require.NotNil(t, st.Standings.Winner)
		assert.Equal(t, "host", st.Standings.Winner.UID)
		assert.Equal(t, 50.0, st.Standings.Winner.Accuracy)
	}

	require.Eventually(t, func() bool {
		k := guest.kinds()
		return len(k) > 0 && k[len(k)-1] == UpdateResults
	}, 5*time.Second, 2*time.Millisecond)
	assert.Contains(t, guest.kinds(), UpdateStarted)
	assert.Contains(t, guest.kinds(), UpdateFinished)

	_, err = host.sess.Answer(ctx, 1)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSession_HostExitEndsMatch(t *testing.T) {
	h := newHarness(t, "guest")
	ctx := context.Background()

	host := h.run(t, "host")
	guest := h.run(t, "guest")

	_, err := h.svc.StartMatch(ctx, h.code, who("host"))
	require.NoError(t, err)
	waitPhase(t, host, PhasePlaying)

	require.NoError(t, host.sess.Exit(ctx))
	h.advanceUntil(t, host, guest)

	snap, err := h.store.Snapshot(ctx, h.code)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonHostLeft, *snap.Room.EndedReason)
	assert.Equal(t, PhaseResults, guest.sess.Status().Phase)

	g, ok := snap.Player("guest")
	require.True(t, ok)
	assert.NotNil(t, g.FinishedAt)
}

func TestSession_HostLeavesLobby(t *testing.T) {
	h := newHarness(t, "guest")
	ctx := context.Background()

	host := h.run(t, "host")
	guest := h.run(t, "guest")
	for _, r := range []*running{host, guest} {
		require.Eventually(t, func() bool {
			return r.sess.Status().Room != nil
		}, 5*time.Second, 2*time.Millisecond)
	}

	_, err := guest.sess.Answer(ctx, 42)
	assert.ErrorIs(t, err, ErrNotPlaying)

	require.NoError(t, host.sess.Exit(ctx))
	h.advanceUntil(t, host, guest)

	assert.Equal(t, PhaseClosed, guest.sess.Status().Phase)
	snap, err := h.store.Snapshot(ctx, h.code)
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestSession_RetriesTransientFinish(t *testing.T) {
	h := newHarness(t, "guest")
	ctx := context.Background()

	guest := h.run(t, "guest")
	_, err := h.svc.StartMatch(ctx, h.code, who("host"))
	require.NoError(t, err)
	waitPhase(t, guest, PhasePlaying)

	// 超时后的第一次结束事务失败
	h.store.FailNext(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		h.clock.Advance(500 * time.Millisecond)
		return guest.sess.Status().Phase == PhaseFinished
	}, 10*time.Second, 2*time.Millisecond)

	snap, err := h.store.Snapshot(ctx, h.code)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Room.FinishedCount)
	assert.Equal(t, model.StatusInProgress, snap.Room.Status)

	_, err = h.svc.FinishMatch(ctx, h.code, who("host"), &model.Progress{}, room.FinishTimeout)
	require.NoError(t, err)
	h.advanceUntil(t, guest)
	assert.Equal(t, PhaseResults, guest.sess.Status().Phase)
}

func TestSession_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	s := New(h.svc, h.code, who("host"), WithClock(h.clock))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	go func() {
		for range s.Updates() {
		}
	}()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}
