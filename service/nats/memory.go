package nats

import (
	"context"
	"sync"
)

// subscriberBuffer is how many events a slow consumer may fall behind
// before further events for it are dropped.
const subscriberBuffer = 64

// MemoryBus is an in-process stand-in for JetStream. It satisfies both
// Publisher and the consumer side used by the HTTP stream, so a single
// server can stream transfer events without a NATS deployment. Every
// published event is also kept for inspection in tests.
type MemoryBus struct {
	mu           sync.RWMutex
	published    []*TransferEvent
	subscribers  map[*memorySubscriber]struct{}
	publishError error
	closed       bool
}

type memorySubscriber struct {
	wallet string
	events chan *TransferEvent
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[*memorySubscriber]struct{})}
}

// PublishTransferEvent records a copy of event and delivers it to every
// matching consumer. It returns the error set by SetPublishError, if any.
func (b *MemoryBus) PublishTransferEvent(ctx context.Context, event *TransferEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishError != nil {
		return b.publishError
	}

	cp := *event
	b.published = append(b.published, &cp)
	for sub := range b.subscribers {
		if sub.wallet != "" && sub.wallet != cp.WalletAddress {
			continue
		}
		ev := cp
		select {
		case sub.events <- &ev:
		default:
		}
	}
	return nil
}

// Consume delivers events published after the call for wallet (all wallets
// when empty) to handle until ctx is done.
func (b *MemoryBus) Consume(ctx context.Context, wallet string, handle func(*TransferEvent)) error {
	sub := &memorySubscriber{wallet: wallet, events: make(chan *TransferEvent, subscriberBuffer)}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}()

	for {
		select {
		case ev := <-sub.events:
			handle(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// Close marks the bus closed. Running consumers stop with their contexts.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (b *MemoryBus) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// SetPublishError makes subsequent publishes fail with err.
func (b *MemoryBus) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishError = err
}

// GetPublishedEvents returns every event published so far.
func (b *MemoryBus) GetPublishedEvents() []*TransferEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*TransferEvent, len(b.published))
	copy(out, b.published)
	return out
}

// GetPublishedEventsForWallet returns the events published for address.
func (b *MemoryBus) GetPublishedEventsForWallet(address string) []*TransferEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*TransferEvent
	for _, ev := range b.published {
		if ev.WalletAddress == address {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers returns the number of running consumers.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
