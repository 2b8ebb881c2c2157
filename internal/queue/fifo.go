package queue

import (
	"context"
	"sync"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// fifo is an unbounded first-in first-out list of items. Closing it rejects
// new items while the remaining ones can still be popped. ready is a wake-up
// token and is never closed.
type fifo struct {
	mu     sync.Mutex
	items  []core.MailQueueItem
	closed bool
	ready  chan struct{}
}

func newFIFO() *fifo {
	return &fifo{ready: make(chan struct{}, 1)}
}

// signal must be called with mu held.
func (f *fifo) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *fifo) push(item core.MailQueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return core.ErrQueueClosed
	}
	f.items = append(f.items, item)
	f.signal()
	return nil
}

// pop blocks until an item is available. It returns false once the fifo is
// closed and empty, or when ctx is done.
func (f *fifo) pop(ctx context.Context) (core.MailQueueItem, bool) {
	for {
		f.mu.Lock()
		if len(f.items) > 0 {
			item := f.items[0]
			f.items[0] = core.MailQueueItem{}
			f.items = f.items[1:]
			if len(f.items) > 0 {
				f.signal()
			}
			f.mu.Unlock()
			return item, true
		}
		if f.closed {
			// Pass the wake-up on to the next blocked worker.
			f.signal()
			f.mu.Unlock()
			return core.MailQueueItem{}, false
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return core.MailQueueItem{}, false
		case <-f.ready:
		}
	}
}

func (f *fifo) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		f.signal()
	}
}

func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
