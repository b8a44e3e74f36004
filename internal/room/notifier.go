package room

import "context"

// Notifier 生命周期事件的下游（如消息总线）
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// NopNotifier 丢弃所有事件
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }

// NotifierFunc 函数适配器
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
