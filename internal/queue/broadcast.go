package queue

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Broadcaster fans queue results out to every subscriber. A subscriber that
// does not keep up loses results instead of stalling the workers.
type Broadcaster struct {
	buffer int
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[int]chan core.QueuedMailResult
	nextID int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer up to
// buffer results.
func NewBroadcaster(buffer int, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		buffer: buffer,
		logger: logger,
		subs:   make(map[int]chan core.QueuedMailResult),
	}
}

// Subscribe returns a result stream and a function that cancels it. The
// stream is closed when the broadcaster closes.
func (b *Broadcaster) Subscribe() (<-chan core.QueuedMailResult, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan core.QueuedMailResult, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers r to every subscriber.
func (b *Broadcaster) Publish(r core.QueuedMailResult) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- r:
		default:
			b.logger.Warn().Int("subscriber", id).Str("reference", r.Reference).Msg("subscriber full, dropping result")
		}
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
