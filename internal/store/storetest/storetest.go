// Package storetest 各存储后端共用的一致性测试
package storetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

// Factory 为每个子测试创建一个存储
type Factory func(t *testing.T) store.Store

// Run 执行全部一致性测试
func Run(t *testing.T, newStore Factory) {
	t.Run("AbsentRoom", func(t *testing.T) { testAbsentRoom(t, newStore(t)) })
	t.Run("CreateAndRead", func(t *testing.T) { testCreateAndRead(t, newStore(t)) })
	t.Run("CallbackErrorDiscardsWrites", func(t *testing.T) { testCallbackError(t, newStore(t)) })
	t.Run("VersionIncrements", func(t *testing.T) { testVersion(t, newStore(t)) })
	t.Run("PlayersOrderedAndLimited", func(t *testing.T) { testPlayersOrder(t, newStore(t)) })
	t.Run("DeletePlayer", func(t *testing.T) { testDeletePlayer(t, newStore(t)) })
	t.Run("DeleteRoom", func(t *testing.T) { testDeleteRoom(t, newStore(t)) })
	t.Run("ConcurrentTransactionsSerialize", func(t *testing.T) { testConcurrent(t, newStore(t)) })
	t.Run("SubscribeDeliversChanges", func(t *testing.T) { testSubscribe(t, newStore(t)) })
	t.Run("SubscribeClosesOnCancel", func(t *testing.T) { testSubscribeCancel(t, newStore(t)) })
}

// NewCode 生成测试用的唯一房间码，避免共享后端上的数据互相干扰
func NewCode() string {
	return "T" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:11])
}

func createRoom(t *testing.T, s store.Store, code string, uids ...string) {
	t.Helper()
	err := s.RunTransaction(context.Background(), code, func(tx store.Txn) error {
		now := tx.Now()
		tx.PutRoom(model.Room{
			Code:        code,
			HostUID:     uids[0],
			Status:      model.StatusLobby,
			MaxPlayers:  8,
			DurationSec: 60,
			CreatedAt:   now,
		})
		for i, uid := range uids {
			tx.PutPlayer(model.Player{
				UID:         uid,
				DisplayName: "player " + uid,
				IsHost:      i == 0,
				JoinedAt:    now.Add(time.Duration(i) * time.Millisecond),
			})
		}
		return nil
	})
	require.NoError(t, err)
}

func testAbsentRoom(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()

	snap, err := s.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	assert.Empty(t, snap.Players)

	err = s.RunTransaction(ctx, code, func(tx store.Txn) error {
		assert.Nil(t, tx.Room())
		assert.Nil(t, tx.Player("nobody"))
		assert.Empty(t, tx.Players())
		assert.False(t, tx.Now().IsZero())
		return nil
	})
	require.NoError(t, err)
}

func testCreateAndRead(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()
	createRoom(t, s, code, "host", "guest")

	snap, err := s.Snapshot(ctx, code)
	require.NoError(t, err)
	require.True(t, snap.Exists())
	assert.Equal(t, code, snap.Room.Code)
	assert.Equal(t, "host", snap.Room.HostUID)
	assert.Equal(t, model.StatusLobby, snap.Room.Status)
	assert.Nil(t, snap.Room.Seed)
	assert.Nil(t, snap.Room.StartedAt)
	assert.False(t, snap.Room.UpdatedAt.IsZero())
	require.Len(t, snap.Players, 2)
	assert.Equal(t, "host", snap.Players[0].UID)
	assert.True(t, snap.Players[0].IsHost)

	seed := uint32(12345)
	err = s.RunTransaction(ctx, code, func(tx store.Txn) error {
		room := tx.Room()
		require.NotNil(t, room)
		now := tx.Now()
		room.Seed = &seed
		room.StartedAt = &now
		room.Status = model.StatusInProgress
		tx.PutRoom(*room)
		return nil
	})
	require.NoError(t, err)

	snap, err = s.Snapshot(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, snap.Room.Seed)
	assert.Equal(t, seed, *snap.Room.Seed)
	require.NotNil(t, snap.Room.StartedAt)
	assert.Equal(t, model.StatusInProgress, snap.Room.Status)
}

func testCallbackError(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()
	createRoom(t, s, code, "host")

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, code, func(tx store.Txn) error {
		room := tx.Room()
		room.Locked = true
		tx.PutRoom(*room)
		tx.PutPlayer(model.Player{UID: "ghost", JoinedAt: tx.Now()})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap, err := s.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.False(t, snap.Room.Locked)
	_, found := snap.Player("ghost")
	assert.False(t, found)
}

func testVersion(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()
	createRoom(t, s, code, "host")

	before, err := s.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), before.Room.Version)

	// 只写玩家也会推进房间版本
	err = s.RunTransaction(ctx, code, func(tx store.Txn) error {
		p := tx.Player("host")
		p.Score = 10
		tx.PutPlayer(*p)
		return nil
	})
	require.NoError(t, err)

	// 只读事务不产生写入
	err = s.RunTransaction(ctx, code, func(tx store.Txn) error { return nil })
	require.NoError(t, err)

	after, err := s.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.Room.Version)
	p, ok := after.Player("host")
	require.True(t, ok)
	assert.Equal(t, 10, p.Score)
}

func testPlayersOrder(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()
	createRoom(t, s, code, "p1", "p2", "p3", "p4")

	players, err := s.Players(ctx, code, 0)
	require.NoError(t, err)
	require.Len(t, players, 4)
	for i, uid := range []string{"p1", "p2", "p3", "p4"} {
		assert.Equal(t, uid, players[i].UID)
	}

	players, err = s.Players(ctx, code, 2)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "p1", players[0].UID)
	assert.Equal(t, "p2", players[1].UID)
}

func testDeletePlayer(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()
	createRoom(t, s, code, "host", "guest")

	err := s.RunTransaction(ctx, code, func(tx store.Txn) error {
		tx.DeletePlayer("guest")
		assert.Nil(t, tx.Player("guest"))
		assert.Len(t, tx.Players(), 1)
		return nil
	})
	require.NoError(t, err)

	players, err := s.Players(ctx, code, 0)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "host", players[0].UID)
}

func testDeleteRoom(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()
	createRoom(t, s, code, "host", "guest")

	err := s.RunTransaction(ctx, code, func(tx store.Txn) error {
		tx.DeleteRoom()
		assert.Nil(t, tx.Room())
		assert.Empty(t, tx.Players())
		return nil
	})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	assert.Empty(t, snap.Players)

	// 同一个房间码可以重新创建
	createRoom(t, s, code, "other")
	snap, err = s.Snapshot(ctx, code)
	require.NoError(t, err)
	require.True(t, snap.Exists())
	assert.Equal(t, "other", snap.Room.HostUID)
	require.Len(t, snap.Players, 1)
}

func testConcurrent(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	code := NewCode()
	createRoom(t, s, code, "host")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunTransaction(ctx, code, func(tx store.Txn) error {
				room := tx.Room()
				room.FinishedCount++
				tx.PutRoom(*room)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := s.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, workers, snap.Room.FinishedCount)
	assert.Equal(t, int64(1+workers), snap.Room.Version)
}

// next 读取下一个满足条件的快照
func next(t *testing.T, ch <-chan store.Snapshot, cond func(store.Snapshot) bool) store.Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return store.Snapshot{}
		}
	}
}

func testSubscribe(t *testing.T, s store.Store) {
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	code := NewCode()

	ch, err := s.Subscribe(ctx, code)
	require.NoError(t, err)

	first := next(t, ch, func(store.Snapshot) bool { return true })
	assert.False(t, first.Exists())

	createRoom(t, s, code, "host")
	snap := next(t, ch, func(s store.Snapshot) bool { return s.Exists() })
	assert.Equal(t, "host", snap.Room.HostUID)

	err = s.RunTransaction(ctx, code, func(tx store.Txn) error {
		tx.PutPlayer(model.Player{UID: "guest", JoinedAt: tx.Now().Add(time.Second)})
		return nil
	})
	require.NoError(t, err)
	snap = next(t, ch, func(s store.Snapshot) bool { return len(s.Players) == 2 })
	assert.Equal(t, "guest", snap.Players[1].UID)

	err = s.RunTransaction(ctx, code, func(tx store.Txn) error {
		tx.DeleteRoom()
		return nil
	})
	require.NoError(t, err)
	snap = next(t, ch, func(s store.Snapshot) bool { return !s.Exists() })
	assert.Empty(t, snap.Players)
}

func testSubscribeCancel(t *testing.T, s store.Store) {
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	code := NewCode()

	ch, err := s.Subscribe(ctx, code)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
