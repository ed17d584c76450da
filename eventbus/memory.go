package eventbus

import (
	"context"
	"strings"
	"sync"
)

// MemoryBus is an in-process Bus used by unit tests.
type MemoryBus struct {
	mu        sync.Mutex
	published []Event
	subs      map[int]*memSub
	nextSub   int
}

type memSub struct {
	prefix RoutingKey
	ch     chan Event
}

// NewMemoryBus returns an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memSub)}
}

func (b *MemoryBus) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, evt)
	for _, s := range b.subs {
		if matchesPrefix(s.prefix, evt.Key) {
			select {
			case s.ch <- evt:
			default:
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, keyPrefix RoutingKey) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, 32)
	b.subs[id] = &memSub{prefix: keyPrefix, ch: ch}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return ch, cancel, nil
}

// Published returns every event published so far, for test assertions.
func (b *MemoryBus) Published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.published))
	copy(out, b.published)
	return out
}

func matchesPrefix(prefix, key RoutingKey) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i, p := range prefix {
		if p != key[i] {
			return false
		}
	}
	return true
}

func (k RoutingKey) String() string {
	return strings.Join(k, ".")
}
