// ABOUTME: Single-writer fan-out bus decoupling the stream consumer from subscriber pace.
// ABOUTME: Bounded per-subscriber buffers evict the oldest queued notification when full.

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the bounded queue per subscriber.
	subscriberBufferSize = 64
)

// subscriber is one registered event consumer with its bounded queue.
type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Bus fans conversation events out to subscribers. The conversation is the
// single writer; subscribers receive events in emission order. Late
// subscribers receive only events published after subscription — there is no
// replay; use the conversation's Snapshot to reconcile.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
	logger *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]*subscriber),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a consumer and returns its event channel and a
// subscription ID for later removal. The subscription is cleaned up
// automatically when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, subID
	}
	b.subs[subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return sub.ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subID]
	if !ok {
		return
	}
	delete(b.subs, subID)
	close(sub.ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Publish delivers an event to every subscriber. A full subscriber queue has
// its oldest undelivered notification evicted to make room, and the
// subscriber's drop counter — carried on every delivered event — is bumped.
// The publisher never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, sub := range b.subs {
		ev.Dropped = sub.dropped
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Queue full: evict the oldest notification, then retry once.
		select {
		case <-sub.ch:
			sub.dropped++
		default:
		}
		ev.Dropped = sub.dropped
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			b.logger.Debug("dropped event for slow subscriber",
				"sub_id", subID,
				"event_type", ev.Type.String(),
				"total_dropped", sub.dropped)
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, subID)
	}

	b.logger.Debug("bus closed")
}
