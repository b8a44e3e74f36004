// Package matchclock 由房间文档推导比赛倒计时
//
// 所有客户端共用同一个结束时刻 started_at + duration_sec，
// 剩余时间总是 end - now 现算，不维护本地递减计数。
package matchclock

import (
	"time"

	"sudooom.mathrush/shared/model"
)

// DefaultTolerance 结束时刻变化小于该值时不重新推导
const DefaultTolerance = 250 * time.Millisecond

// Anchor 一场比赛的结束时刻
type Anchor struct {
	Tolerance time.Duration

	end   time.Time
	valid bool
}

// NewAnchor 创建锚点，tolerance <= 0 时使用默认值
func NewAnchor(tolerance time.Duration) *Anchor {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Anchor{Tolerance: tolerance}
}

// Observe 根据房间快照更新结束时刻，返回是否发生了变化。
// started_at 尚未可见时以本地 now 作为开始时间。
func (a *Anchor) Observe(room *model.Room, now time.Time) bool {
	if room == nil {
		return false
	}
	start := now
	if room.StartedAt != nil {
		start = *room.StartedAt
	}
	end := start.Add(time.Duration(room.DurationSec) * time.Second)

	if a.valid {
		diff := end.Sub(a.end)
		if diff < 0 {
			diff = -diff
		}
		if diff <= a.Tolerance {
			return false
		}
	}
	a.end = end
	a.valid = true
	return true
}

// End 当前结束时刻
func (a *Anchor) End() (time.Time, bool) {
	return a.end, a.valid
}

// Remaining 剩余时间，不小于 0；尚未锚定时返回 0
func (a *Anchor) Remaining(now time.Time) time.Duration {
	if !a.valid {
		return 0
	}
	if d := a.end.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired 是否已到结束时刻
func (a *Anchor) Expired(now time.Time) bool {
	return a.valid && !now.Before(a.end)
}
