// Package store 定义房间文档存储的抽象。
//
// 房间由一个房间文档和一组玩家子文档组成，所有修改都通过 RunTransaction
// 完成：读取当前状态、校验前置条件、写入新状态，整体原子提交。
// 订阅以"最新值"语义投递完整快照，中间状态可能被合并。
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"sudooom.mathrush/shared/model"
)

var (
	// ErrConflict 乐观事务重试耗尽
	ErrConflict = errors.New("store: transaction conflict, retries exhausted")

	// ErrClosed 存储已关闭
	ErrClosed = errors.New("store: closed")
)

// Snapshot 某一时刻的房间完整状态
type Snapshot struct {
	Code    string         `json:"code"`
	Room    *model.Room    `json:"room"`    // nil 表示房间不存在（未创建或已删除）
	Players []model.Player `json:"players"` // 按加入顺序
}

// Exists 房间文档是否存在
func (s Snapshot) Exists() bool {
	return s.Room != nil
}

// Player 按 UID 查找玩家
func (s Snapshot) Player(uid string) (model.Player, bool) {
	for _, p := range s.Players {
		if p.UID == uid {
			return p, true
		}
	}
	return model.Player{}, false
}

// Clone 深拷贝
func (s Snapshot) Clone() Snapshot {
	c := Snapshot{Code: s.Code, Room: s.Room.Clone()}
	if s.Players != nil {
		c.Players = make([]model.Player, len(s.Players))
		for i, p := range s.Players {
			c.Players[i] = p.Clone()
		}
	}
	return c
}

// Txn 事务内的读写视图。
// 读操作返回副本；写操作先缓存，回调成功返回后一次性提交。
type Txn interface {
	// Room 当前房间文档，不存在时返回 nil
	Room() *model.Room
	// Player 按 UID 读取玩家，不存在时返回 nil
	Player(uid string) *model.Player
	// Players 按加入顺序返回全部玩家
	Players() []model.Player
	// Now 存储分配的服务器时间，同一事务内不变
	Now() time.Time

	PutRoom(room model.Room)
	PutPlayer(p model.Player)
	DeletePlayer(uid string)
	// DeleteRoom 删除房间文档及全部玩家
	DeleteRoom()
	// Dirty 是否已有待提交的写操作
	Dirty() bool
	// Result 按当前写操作提交后的状态（含递增后的 Version）
	Result() Snapshot
}

// TxnFunc 事务回调，可能因冲突被重复执行，不能有外部副作用
type TxnFunc func(tx Txn) error

// Store 共享文档存储
type Store interface {
	// RunTransaction 对房间 code 执行原子读-改-写
	RunTransaction(ctx context.Context, code string, fn TxnFunc) error
	// Snapshot 读取房间当前状态
	Snapshot(ctx context.Context, code string) (Snapshot, error)
	// Players 按加入顺序列出玩家，limit <= 0 表示不限
	Players(ctx context.Context, code string, limit int) ([]model.Player, error)
	// Subscribe 订阅房间变更，先投递一次当前状态；ctx 取消后通道关闭
	Subscribe(ctx context.Context, code string) (<-chan Snapshot, error)
	// Now 服务器时间
	Now(ctx context.Context) (time.Time, error)
	Close() error
}

// SortPlayers 按加入时间排序，时间相同按 UID
func SortPlayers(players []model.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].UID < players[j].UID
	})
}

// Limit 截断玩家列表
func Limit(players []model.Player, limit int) []model.Player {
	if limit > 0 && len(players) > limit {
		return players[:limit]
	}
	return players
}

// Offer 以"最新值"语义投递：通道已满时丢弃旧值。
// 每个通道只能有一个发送方。
func Offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
