package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// historyLimit is the maximum number of events retained per channel for
// catch-up delivery. Late subscribers see at most this much of the tail.
const historyLimit = 200

// DefaultSubscriberBuffer is the delivery channel depth used when a
// subscriber does not choose its own.
const DefaultSubscriberBuffer = 256

// Delivery is one published event as seen by a bus subscriber.
type Delivery struct {
	Channel string
	Payload []byte
}

// Bus fans published events out to subscribers and retains a bounded
// per-channel history for catch-up. Publishing never blocks: a full
// subscriber buffer drops the event and bumps the drop counter.
//
// Per-channel ordering holds because each run publishes from a single
// goroutine and Publish completes its sends before returning.
type Bus struct {
	mu      sync.Mutex
	subs    map[int64]*subscriber
	nextID  int64
	history map[string][][]byte

	dropped atomic.Int64
	logger  *slog.Logger
}

type subscriber struct {
	id      int64
	channel string // "" matches every channel
	ch      chan Delivery
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[int64]*subscriber),
		history: make(map[string][][]byte),
		logger:  slog.Default().With("component", "event_bus"),
	}
}

// Publish appends payload to the channel's history and forwards it to
// every matching subscriber without blocking.
func (b *Bus) Publish(channel string, payload []byte) {
	b.mu.Lock()
	hist := append(b.history[channel], payload)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	b.history[channel] = hist

	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.channel == "" || s.channel == channel {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- Delivery{Channel: channel, Payload: payload}:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Subscriber buffer full, dropping event",
				"channel", channel, "subscriber_id", s.id)
		}
	}
}

// Subscribe registers for events on channel ("" for all channels) and
// returns the delivery channel plus a cancel function. The delivery
// channel is never closed; after cancel, no further sends arrive.
// buffer <= 0 uses DefaultSubscriberBuffer.
func (b *Bus) Subscribe(channel string, buffer int) (<-chan Delivery, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	s := &subscriber{channel: channel, ch: make(chan Delivery, buffer)}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		delete(b.subs, s.id)
		b.mu.Unlock()
	}
}

// Catchup returns the retained history for a channel, oldest first.
func (b *Bus) Catchup(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist := b.history[channel]
	out := make([][]byte, len(hist))
	copy(out, hist)
	return out
}

// Forget drops the retained history for a channel. Called when a run's
// artifacts age out.
func (b *Bus) Forget(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, channel)
}

// Dropped returns the number of events discarded because a subscriber
// could not keep up.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
