package update

import (
	"sync"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// Broadcaster fans Update snapshots out to subscribers. Slow subscribers
// miss events rather than block publishers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan *domain.Update
	nextID int
	buffer int
}

// NewBroadcaster creates a Broadcaster whose subscriber channels hold buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[int]chan *domain.Update), buffer: buffer}
}

// Subscribe returns a channel of Update snapshots and a function that
// unsubscribes and closes it.
func (b *Broadcaster) Subscribe() (<-chan *domain.Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *domain.Update, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends a snapshot of u to every subscriber. Nil-safe.
func (b *Broadcaster) Publish(u *domain.Update) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- u.Clone():
		default:
		}
	}
}
