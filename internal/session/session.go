// Package session 单个玩家客户端的比赛循环
//
// Session 是单协程反应器：Run 所在的协程独占全部状态，
// 房间快照、倒计时与玩家指令都通过通道送入。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"sudooom.mathrush/internal/matchclock"
	"sudooom.mathrush/internal/question"
	"sudooom.mathrush/internal/ranking"
	"sudooom.mathrush/internal/room"
	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

var (
	// ErrNotPlaying 当前不在作答阶段
	ErrNotPlaying = errors.New("session: not playing")
	// ErrStopped 会话已结束
	ErrStopped = errors.New("session: stopped")
)

// Phase 会话阶段
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished" // 个人已完成，等待比赛结束
	PhaseResults  Phase = "results"
	PhaseClosed   Phase = "closed" // 房间被删除
)

// Status 会话状态快照
type Status struct {
	Phase     Phase              `json:"phase"`
	Code      string             `json:"code"`
	Room      *model.Room        `json:"room"`
	Question  *question.Question `json:"question"`
	Index     int                `json:"index"`
	Progress  model.Progress     `json:"progress"`
	Remaining time.Duration      `json:"remaining"`
	Standings *ranking.Standings `json:"standings"`
}

type commandKind int

const (
	cmdAnswer commandKind = iota
	cmdExit
)

type command struct {
	kind  commandKind
	value int
	reply chan result
}

type result struct {
	correct bool
	err     error
}

// Session 玩家会话
type Session struct {
	svc       *room.Service
	code      string
	who       model.Identity
	clock     clockwork.Clock
	tolerance time.Duration
	interval  time.Duration
	retries   int
	countdown *matchclock.Countdown

	cmds    chan command
	updates chan Update
	done    chan struct{}

	mu     sync.Mutex
	status Status

	logger *slog.Logger
}

// Option 会话配置项
type Option func(*Session)

// WithClock 替换时钟
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRetries 临时错误的最大重试次数
func WithRetries(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// New 创建会话，调用方需已加入房间
func New(svc *room.Service, code string, who model.Identity, opts ...Option) *Session {
	cfg := svc.Config()
	code = room.NormalizeCode(code)
	s := &Session{
		svc:       svc,
		code:      code,
		who:       who,
		clock:     clockwork.NewRealClock(),
		tolerance: cfg.ClockTolerance,
		interval:  cfg.TickInterval,
		retries:   3,
		cmds:      make(chan command),
		updates:   make(chan Update, 64),
		done:      make(chan struct{}),
		status:    Status{Phase: PhaseLobby, Code: code},
		logger:    slog.Default().With("component", "session", "code", code, "uid", who.UID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.countdown = matchclock.NewCountdown(s.clock, s.interval)
	return s
}

// Updates 会话产生的界面更新，Run 返回后关闭
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Status 当前状态
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.Question != nil {
		q := *st.Question
		st.Question = &q
	}
	st.Room = st.Room.Clone()
	return st
}

// Answer 提交当前题目的答案，返回是否正确
func (s *Session) Answer(ctx context.Context, value int) (bool, error) {
	res, err := s.send(ctx, command{kind: cmdAnswer, value: value})
	if err != nil {
		return false, err
	}
	return res.correct, res.err
}

// Exit 主动退出：大厅阶段离开房间，比赛中提前结束
func (s *Session) Exit(ctx context.Context) error {
	res, err := s.send(ctx, command{kind: cmdExit})
	if err != nil {
		return err
	}
	return res.err
}

func (s *Session) send(ctx context.Context, cmd command) (result, error) {
	cmd.reply = make(chan result, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return result{}, ErrStopped
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-s.done:
		return result{}, ErrStopped
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (s *Session) update(fn func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

// retry 对幂等操作的临时错误做有限次退避重试
func (s *Session) retry(ctx context.Context, op string, fn func() error) error {
	backoff := 100 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !room.IsRetryable(err) || attempt >= s.retries {
			return err
		}
		s.logger.Warn("Transient store error, retrying", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-s.clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

// reactor Run 协程独占的状态
type reactor struct {
	*Session
	tracker  *room.Tracker
	anchor   *matchclock.Anchor
	ticker   clockwork.Ticker
	gen      *question.Generator
	current  question.Question
	progress model.Progress
	room     *model.Room
	finished bool
}

// Run 运行会话直到出结果、房间关闭或 ctx 取消
func (s *Session) Run(ctx context.Context) error {
	defer close(s.updates)
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snaps, err := s.svc.Observe(ctx, s.code)
	if err != nil {
		return err
	}

	r := &reactor{
		Session: s,
		tracker: room.NewTracker(s.code),
		anchor:  matchclock.NewAnchor(s.tolerance),
	}
	defer r.stopTicker()

	for {
		var tickC <-chan time.Time
		if r.ticker != nil {
			tickC = r.ticker.Chan()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-snaps:
			if !ok {
				return ctx.Err()
			}
			done, err := r.onSnapshot(ctx, snap)
			if done || err != nil {
				return err
			}

		case <-tickC:
			if err := r.onTick(ctx); err != nil {
				return err
			}

		case cmd := <-s.cmds:
			done, res := r.onCommand(ctx, cmd)
			cmd.reply <- res
			if done {
				return nil
			}
		}
	}
}

func (r *reactor) emit(ctx context.Context, u Update) {
	if u.Kind == UpdateTick {
		select {
		case r.updates <- u:
		default:
		}
		return
	}
	select {
	case r.updates <- u:
	case <-ctx.Done():
	}
}

func (r *reactor) stopTicker() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *reactor) onSnapshot(ctx context.Context, snap store.Snapshot) (bool, error) {
	rm := snap.Room
	if rm == nil {
		// 房间被删除与比赛不可用同样处理，不重试
		r.stopTicker()
		r.update(func(st *Status) { st.Phase = PhaseClosed; st.Room = nil })
		r.emit(ctx, Update{Kind: UpdateClosed})
		r.logger.Info("Room closed")
		return true, nil
	}

	for _, ev := range r.tracker.Apply(snap) {
		if ev.Type == room.EventRosterChanged {
			r.emit(ctx, Update{Kind: UpdateRoster, Room: rm.Clone(), Players: snap.Players})
		}
	}

	r.room = rm
	r.update(func(st *Status) { st.Room = rm.Clone() })

	switch rm.Status {
	case model.StatusInProgress:
		r.begin(ctx, rm)
		if r.anchor.Observe(rm, r.clock.Now()) {
			end, _ := r.anchor.End()
			r.logger.Debug("Match end anchored", "end", end)
		}
		if r.ticker == nil && !r.finished {
			r.ticker = r.countdown.Ticker()
		}
		return false, nil

	case model.StatusEnded:
		r.begin(ctx, rm)
		return true, r.conclude(ctx)
	}
	return false, nil
}

// begin 第一次看到种子时初始化题目序列
func (r *reactor) begin(ctx context.Context, rm *model.Room) {
	if r.gen != nil || rm.Seed == nil {
		return
	}
	r.gen = question.New(*rm.Seed)
	r.current = r.gen.Next()
	q := r.current
	r.update(func(st *Status) {
		st.Phase = PhasePlaying
		st.Question = &q
		st.Index = r.gen.Index()
	})
	r.emit(ctx, Update{Kind: UpdateStarted, Room: rm.Clone()})
	if rm.Status == model.StatusInProgress {
		r.emit(ctx, Update{Kind: UpdateQuestion, Question: &q, Index: r.gen.Index()})
	}
	r.logger.Info("Match started", "seed", *rm.Seed, "durationSec", rm.DurationSec)
}

func (r *reactor) onTick(ctx context.Context) error {
	now := r.countdown.Now()
	remaining := r.anchor.Remaining(now)
	r.update(func(st *Status) { st.Remaining = remaining })
	r.emit(ctx, Update{Kind: UpdateTick, Remaining: remaining})

	if r.anchor.Expired(now) && !r.finished {
		return r.finish(ctx, room.FinishTimeout)
	}
	return nil
}

func (r *reactor) onCommand(ctx context.Context, cmd command) (bool, result) {
	switch cmd.kind {
	case cmdAnswer:
		correct, err := r.answer(ctx, cmd.value)
		return false, result{correct: correct, err: err}

	case cmdExit:
		if r.room == nil || r.room.Status == model.StatusLobby {
			err := r.retry(ctx, "leave", func() error {
				return r.svc.LeaveRoom(ctx, r.code, r.who)
			})
			if err != nil {
				return false, result{err: err}
			}
			r.update(func(st *Status) { st.Phase = PhaseClosed })
			r.emit(ctx, Update{Kind: UpdateClosed})
			return true, result{}
		}
		if r.finished || r.room.Status != model.StatusInProgress {
			return false, result{}
		}
		return false, result{err: r.finish(ctx, room.FinishExit)}
	}
	return false, result{err: ErrNotPlaying}
}

func (r *reactor) answer(ctx context.Context, value int) (bool, error) {
	if r.gen == nil || r.finished || r.room == nil || r.room.Status != model.StatusInProgress {
		return false, ErrNotPlaying
	}

	correct := r.current.Check(value)
	r.progress.Attempts++
	if correct {
		r.progress.Correct++
		r.progress.Score += r.svc.Config().PointsPerCorrect
	}

	err := r.retry(ctx, "answer", func() error {
		p, err := r.svc.ReportAnswerAt(ctx, r.code, r.who, correct, r.progress.Attempts)
		if err == nil && p.Attempts == r.progress.Attempts {
			r.progress = p.Progress()
		}
		return err
	})
	if err != nil {
		// 本地成绩仍然有效，结束时一并写入
		r.logger.Warn("Failed to report answer", "error", err)
	}

	answered := r.current
	r.current = r.gen.Next()
	next := r.current
	progress := r.progress
	r.update(func(st *Status) {
		st.Question = &next
		st.Index = r.gen.Index()
		st.Progress = progress
	})
	r.emit(ctx, Update{Kind: UpdateAnswered, Question: &answered, Correct: correct, Progress: progress})
	r.emit(ctx, Update{Kind: UpdateQuestion, Question: &next, Index: r.gen.Index()})
	return correct, nil
}

func (r *reactor) finish(ctx context.Context, reason room.FinishReason) error {
	var res *room.FinishResult
	err := r.retry(ctx, "finish", func() error {
		var err error
		progress := r.progress
		res, err = r.svc.FinishMatch(ctx, r.code, r.who, &progress, reason)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to finish match", "reason", reason, "error", err)
		return err
	}

	r.finished = true
	r.stopTicker()
	progress := r.progress
	r.update(func(st *Status) {
		st.Phase = PhaseFinished
		st.Progress = progress
	})
	r.emit(ctx, Update{Kind: UpdateFinished, Progress: progress, Room: res.Room.Clone()})
	r.logger.Info("Finished", "reason", reason, "counted", res.Counted, "ended", res.Ended, "abandoned", res.Abandoned)
	return nil
}

// conclude 比赛已结束：补写自己的成绩，读取名单并排名
func (r *reactor) conclude(ctx context.Context) error {
	r.stopTicker()
	if !r.finished && r.gen != nil {
		if err := r.finish(ctx, room.FinishTimeout); err != nil {
			return err
		}
	}

	var players []model.Player
	err := r.retry(ctx, "results", func() error {
		var err error
		players, err = r.svc.ListPlayers(ctx, r.code)
		return err
	})
	if err != nil {
		return err
	}

	standings := ranking.Compute(players)
	rm := r.room.Clone()
	r.update(func(st *Status) {
		st.Phase = PhaseResults
		st.Remaining = 0
		st.Standings = &standings
	})
	r.emit(ctx, Update{Kind: UpdateResults, Room: rm, Standings: &standings})

	reason := ""
	if rm.EndedReason != nil {
		reason = string(*rm.EndedReason)
	}
	r.logger.Info("Match ended", "reason", reason, "rank", standings.RankOf(r.who.UID))
	return nil
}
