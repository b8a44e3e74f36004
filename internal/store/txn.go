package store

import (
	"time"

	"sudooom.mathrush/shared/model"
)

// Writes 一次事务需要落盘的写操作
type Writes struct {
	RoomDeleted bool           // 先删除房间文档及全部玩家
	Room        *model.Room    // 非 nil 时写入房间文档
	Put         []model.Player // 写入（覆盖）的玩家
	Delete      []string       // 删除的玩家 UID
}

// Buffer Txn 的通用实现，各后端读取状态后交给它，提交时取出 Writes
type Buffer struct {
	base        Snapshot
	now         time.Time
	room        *model.Room
	players     map[string]model.Player
	roomDirty   bool
	roomDeleted bool
	put         map[string]model.Player
	del         map[string]struct{}
}

var _ Txn = (*Buffer)(nil)

// NewBuffer 基于读到的状态创建事务视图
func NewBuffer(base Snapshot, now time.Time) *Buffer {
	b := &Buffer{
		base:    base,
		now:     now,
		room:    base.Room.Clone(),
		players: make(map[string]model.Player, len(base.Players)),
		put:     make(map[string]model.Player),
		del:     make(map[string]struct{}),
	}
	for _, p := range base.Players {
		b.players[p.UID] = p.Clone()
	}
	return b
}

func (b *Buffer) Room() *model.Room {
	return b.room.Clone()
}

func (b *Buffer) Player(uid string) *model.Player {
	p, ok := b.players[uid]
	if !ok {
		return nil
	}
	c := p.Clone()
	return &c
}

func (b *Buffer) Players() []model.Player {
	out := make([]model.Player, 0, len(b.players))
	for _, p := range b.players {
		out = append(out, p.Clone())
	}
	SortPlayers(out)
	return out
}

func (b *Buffer) Now() time.Time {
	return b.now
}

func (b *Buffer) PutRoom(room model.Room) {
	b.room = room.Clone()
	b.roomDirty = true
}

func (b *Buffer) PutPlayer(p model.Player) {
	p = p.Clone()
	b.players[p.UID] = p
	b.put[p.UID] = p
	delete(b.del, p.UID)
}

func (b *Buffer) DeletePlayer(uid string) {
	if _, ok := b.players[uid]; !ok {
		return
	}
	delete(b.players, uid)
	delete(b.put, uid)
	if _, stored := b.base.Player(uid); stored {
		b.del[uid] = struct{}{}
	}
}

func (b *Buffer) DeleteRoom() {
	b.room = nil
	b.roomDirty = false
	b.roomDeleted = true
	b.players = make(map[string]model.Player)
	b.put = make(map[string]model.Player)
	b.del = make(map[string]struct{})
}

// Dirty 是否有写操作
func (b *Buffer) Dirty() bool {
	return b.roomDirty || b.roomDeleted || len(b.put) > 0 || len(b.del) > 0
}

// Writes 汇总写操作。房间存在时每次提交都会写回房间文档，
// Version 加一，UpdatedAt 取事务时间。
func (b *Buffer) Writes() Writes {
	w := Writes{RoomDeleted: b.roomDeleted}
	if b.room != nil && b.Dirty() {
		room := b.room.Clone()
		var version int64
		if b.base.Room != nil {
			version = b.base.Room.Version
		}
		room.Version = version + 1
		room.UpdatedAt = b.now
		w.Room = room
	}
	for _, p := range b.put {
		w.Put = append(w.Put, p.Clone())
	}
	SortPlayers(w.Put)
	if !b.roomDeleted {
		for uid := range b.del {
			w.Delete = append(w.Delete, uid)
		}
	}
	return w
}

// Result 提交后的状态
func (b *Buffer) Result() Snapshot {
	s := Snapshot{Code: b.base.Code, Players: b.Players()}
	if w := b.Writes(); w.Room != nil {
		s.Room = w.Room
	} else {
		s.Room = b.room.Clone()
	}
	return s
}
