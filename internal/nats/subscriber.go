package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.mathrush/internal/room"
	sharedNats "sudooom.mathrush/shared/nats"
)

// EventHandler 房间事件处理器
type EventHandler interface {
	HandleRoomEvent(ctx context.Context, ev room.Event)
}

// EventHandlerFunc 函数形式的 EventHandler
type EventHandlerFunc func(ctx context.Context, ev room.Event)

// HandleRoomEvent 实现 EventHandler
func (f EventHandlerFunc) HandleRoomEvent(ctx context.Context, ev room.Event) { f(ctx, ev) }

// SubscriberConfig 订阅配置
type SubscriberConfig struct {
	Code       string // 为空时订阅全部房间
	BufferSize int    // 消息缓冲区大小
}

// EventSubscriber 房间事件订阅器。
// 单个 worker 顺序处理，保证同一房间的事件按发布顺序交付。
type EventSubscriber struct {
	nc           *nats.Conn
	handler      EventHandler
	logger       *slog.Logger
	subscription *nats.Subscription
	config       SubscriberConfig
	msgChan      chan *nats.Msg
	wg           sync.WaitGroup
	cancelFunc   context.CancelFunc
}

// NewEventSubscriber 创建事件订阅器
func NewEventSubscriber(nc *nats.Conn, handler EventHandler, config SubscriberConfig) *EventSubscriber {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}

	return &EventSubscriber{
		nc:      nc,
		handler: handler,
		logger:  slog.Default().With("component", "nats_subscriber"),
		config:  config,
	}
}

// Subject 订阅的 subject
func (s *EventSubscriber) Subject() string {
	if s.config.Code == "" {
		return sharedNats.SubjectAllRoomEvents
	}
	return sharedNats.BuildRoomEventsSubject(s.config.Code)
}

// Start 启动订阅
func (s *EventSubscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan *nats.Msg, s.config.BufferSize)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.wg.Add(1)
	go s.worker(workerCtx)

	subject := s.Subject()
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg:
		default:
			s.logger.Warn("Event buffer full, dropping message", "bufferSize", s.config.BufferSize)
		}
	})
	if err != nil {
		cancel()
		s.wg.Wait()
		return err
	}

	s.subscription = sub
	s.logger.Info("NATS subscriber started", "subject", subject)
	return nil
}

func (s *EventSubscriber) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.msgChan:
			s.handleMessage(ctx, msg.Data)
		}
	}
}

func (s *EventSubscriber) handleMessage(ctx context.Context, data []byte) {
	var ev room.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Error("Failed to unmarshal room event", "error", err)
		return
	}
	if ev.Type == "" || ev.Code == "" {
		s.logger.Warn("Ignoring malformed room event")
		return
	}
	s.handler.HandleRoomEvent(ctx, ev)
}

// Stop 停止订阅
func (s *EventSubscriber) Stop() {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe", "error", err)
		}
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("NATS subscriber stopped")
}
