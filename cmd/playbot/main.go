// playbot 模拟玩家：创建或加入房间，按设定的准确率自动答题，打印最终排名。
//
// 用法:
//
//	playbot -config configs/config.yaml -bots 3            # 创建房间，3 个机器人对战
//	playbot -code ABC123 -name Bob -accuracy 0.6           # 加入已有房间
//	playbot -code ABC123 -follow                           # 同时打印 NATS 上的房间事件
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sudooom.mathrush/internal/bootstrap"
	"sudooom.mathrush/internal/config"
	mathNats "sudooom.mathrush/internal/nats"
	"sudooom.mathrush/internal/question"
	"sudooom.mathrush/internal/room"
	"sudooom.mathrush/internal/session"
	"sudooom.mathrush/internal/store"
	"sudooom.mathrush/shared/model"
)

type botOptions struct {
	accuracy   float64
	think      time.Duration
	startAfter int
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	backendFlag := flag.String("backend", "", "override store.backend (redis|postgres|memory)")
	code := flag.String("code", "", "room code to join; empty creates a new room")
	name := flag.String("name", "bot", "display name prefix")
	bots := flag.Int("bots", 1, "number of bots to run in this process")
	accuracy := flag.Float64("accuracy", 0.8, "probability of answering correctly")
	think := flag.Duration("think", 800*time.Millisecond, "delay before each answer")
	startAfter := flag.Int("start-after", 0, "host starts once this many players joined (default: -bots)")
	duration := flag.Int("duration", 0, "match duration in seconds set by the host (0 keeps the room default)")
	follow := flag.Bool("follow", false, "log room lifecycle events received over NATS")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *backendFlag != "" {
		cfg.Store.Backend = *backendFlag
	}
	slog.SetDefault(bootstrap.NewLogger(os.Stderr, cfg.App.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, runOptions{
		code:     *code,
		name:     *name,
		bots:     *bots,
		duration: *duration,
		follow:   *follow,
		bot: botOptions{
			accuracy:   *accuracy,
			think:      *think,
			startAfter: *startAfter,
		},
	}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("playbot failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig 配置文件不存在时使用默认配置
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

type runOptions struct {
	code     string
	name     string
	bots     int
	duration int
	follow   bool
	bot      botOptions
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	backend, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc := room.NewService(backend.Store, cfg.Room)

	if opts.bots < 1 {
		opts.bots = 1
	}
	if opts.bot.startAfter <= 0 {
		opts.bot.startAfter = opts.bots
	}

	players := make([]model.Identity, opts.bots)
	for i := range players {
		players[i] = model.Identity{
			UID:         uuid.New().String(),
			DisplayName: fmt.Sprintf("%s-%d", opts.name, i+1),
		}
	}

	code := opts.code
	var host *model.Identity
	if code == "" {
		r, err := svc.CreateRoom(ctx, players[0])
		if err != nil {
			return err
		}
		code = r.Code
		host = &players[0]
		if opts.duration > 0 {
			if _, err := svc.SetDuration(ctx, code, players[0], opts.duration); err != nil {
				return err
			}
		}
		slog.Info("Room created", "code", code, "host", players[0].DisplayName)
		players = players[1:]
	}

	if opts.follow && cfg.NATS.Enabled {
		stop, err := followEvents(ctx, cfg, code)
		if err != nil {
			slog.Warn("Cannot follow NATS events", "error", err)
		} else {
			defer stop()
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	launch := func(who model.Identity, isHost bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := play(ctx, svc, code, who, isHost, opts.bot); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", who.DisplayName, err))
				mu.Unlock()
			}
		}()
	}

	if host != nil {
		launch(*host, true)
	}
	for _, who := range players {
		if _, err := svc.JoinRoom(ctx, code, who); err != nil {
			return fmt.Errorf("join %s: %w", code, err)
		}
		launch(who, false)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// play 驱动一个玩家会话直到出结果或房间关闭
func play(ctx context.Context, svc *room.Service, code string, who model.Identity, isHost bool, opts botOptions) error {
	logger := slog.Default().With("bot", who.DisplayName, "code", code)
	sess := session.New(svc, code, who)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	questions := make(chan question.Question, 1)
	go answerLoop(ctx, sess, questions, opts, logger)

	started := false
	for u := range sess.Updates() {
		switch u.Kind {
		case session.UpdateRoster:
			logger.Info("Roster changed", "players", len(u.Players))
			if isHost && !started && len(u.Players) >= opts.startAfter {
				if _, err := svc.StartMatch(ctx, code, who); err != nil {
					logger.Warn("Start failed", "error", err)
					continue
				}
				started = true
			}
		case session.UpdateStarted:
			logger.Info("Match started", "durationSec", u.Room.DurationSec)
		case session.UpdateQuestion:
			store.Offer(questions, *u.Question)
		case session.UpdateFinished:
			logger.Info("Finished", "score", u.Progress.Score, "attempts", u.Progress.Attempts, "correct", u.Progress.Correct)
		case session.UpdateResults:
			if isHost {
				printStandings(u.Standings)
			}
		case session.UpdateClosed:
			logger.Info("Room closed")
		}
	}

	cancel()
	err := <-runErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// answerLoop 每道题思考片刻后作答，按准确率决定是否答对
func answerLoop(ctx context.Context, sess *session.Session, questions <-chan question.Question, opts botOptions, logger *slog.Logger) {
	for {
		var q question.Question
		select {
		case <-ctx.Done():
			return
		case q = <-questions:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.think):
		}

		value := q.Answer
		if rand.Float64() >= opts.accuracy {
			value++
		}
		if _, err := sess.Answer(ctx, value); err != nil && !errors.Is(err, session.ErrNotPlaying) {
			logger.Debug("Answer rejected", "error", err)
		}
	}
}

func printStandings(st interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(st)
}

// followEvents 打印 NATS 上的房间事件
func followEvents(ctx context.Context, cfg *config.Config, code string) (func(), error) {
	client, err := mathNats.NewClient(cfg.NATS, "mathrush-playbot")
	if err != nil {
		return nil, err
	}

	sub := mathNats.NewEventSubscriber(client.Conn(), mathNats.EventHandlerFunc(func(_ context.Context, ev room.Event) {
		slog.Info("Room event", "type", ev.Type, "version", ev.Version)
	}), mathNats.SubscriberConfig{Code: code})
	if err := sub.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return func() {
		sub.Stop()
		client.Close()
	}, nil
}
