package queue

import (
	"context"

	"github.com/oseilabs/bundle-gateway/pkg/logger"
	"github.com/oseilabs/bundle-gateway/pkg/redis"
)

// Notifier wakes the worker as soon as new jobs land, instead of making
// enqueuers wait for the next poll tick. The API process publishes, the
// worker process subscribes; both sides survive redis being down because
// the poll ticker still drives the loop.
type Notifier struct {
	adapter redis.RedisAdapter
	channel string
}

func NewNotifier(adapter redis.RedisAdapter, channel string) *Notifier {
	return &Notifier{
		adapter: adapter,
		channel: channel,
	}
}

// Nudge signals that pending jobs may exist. Fire and forget.
func (n *Notifier) Nudge() {
	if n == nil || n.adapter == nil {
		return
	}
	if err := n.adapter.Publish(n.channel, "1"); err != nil {
		logger.Warn("queue nudge publish failed", "error", err)
	}
}

// Subscribe returns a channel that receives one signal per nudge. The
// channel is buffered at one: bursts collapse into a single wakeup.
func (n *Notifier) Subscribe(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	if n == nil || n.adapter == nil {
		return wake
	}

	sub := n.adapter.Subscribe(ctx, n.channel)
	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake
}
