package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.mathrush/internal/room"
	sharedNats "sudooom.mathrush/shared/nats"
)

// EventPublisher 把房间生命周期事件发布到 NATS，实现 room.Notifier
type EventPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

var _ room.Notifier = (*EventPublisher)(nil)

// NewEventPublisher 创建事件发布器
func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{
		nc:     nc,
		logger: slog.Default().With("component", "nats_publisher"),
	}
}

// Publish 发布到 mathrush.room.{code}.events
func (p *EventPublisher) Publish(ctx context.Context, ev room.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := sharedNats.BuildRoomEventsSubject(ev.Code)
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to marshal room event", "error", err)
		return err
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish room event", "code", ev.Code, "type", ev.Type, "error", err)
		return err
	}

	p.logger.Debug("Published room event", "subject", subject, "type", ev.Type, "version", ev.Version)
	return nil
}
