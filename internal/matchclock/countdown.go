package matchclock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval 倒计时刷新间隔
const DefaultTickInterval = 200 * time.Millisecond

// Tick 一次倒计时刷新
type Tick struct {
	Remaining time.Duration
	Expired   bool
}

// Countdown 按固定间隔从锚点重新计算剩余时间
type Countdown struct {
	clock    clockwork.Clock
	interval time.Duration
}

// NewCountdown 创建倒计时
func NewCountdown(clock clockwork.Clock, interval time.Duration) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Countdown{clock: clock, interval: interval}
}

// Now 当前时间
func (c *Countdown) Now() time.Time {
	return c.clock.Now()
}

// Ticker 新建一个按间隔触发的计时器，由调用方 Stop
func (c *Countdown) Ticker() clockwork.Ticker {
	return c.clock.NewTicker(c.interval)
}

// Run 每个间隔向 out 发送一次剩余时间，到期后发送最后一次并返回
func (c *Countdown) Run(ctx context.Context, anchor *Anchor, out chan<- Tick) {
	ticker := c.Ticker()
	defer ticker.Stop()

	for {
		now := c.clock.Now()
		tick := Tick{Remaining: anchor.Remaining(now), Expired: anchor.Expired(now)}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
		if tick.Expired {
			return
		}

		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return
		}
	}
}
