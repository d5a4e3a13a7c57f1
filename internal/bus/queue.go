package bus

import (
	"context"
	"sync"
	"time"
)

// InternalBus is the in-process backend. Published messages are buffered in
// a mutex-guarded FIFO queue and drained by the consumption loop, which wakes
// on publish instead of sleeping a full poll interval.
type InternalBus struct {
	dispatcher

	mu           sync.Mutex
	queue        []Message
	wake         chan struct{}
	pollInterval time.Duration
}

// NewInternalBus creates an in-process bus. A zero pollInterval uses
// DefaultPollInterval.
func NewInternalBus(pollInterval time.Duration) *InternalBus {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	b := &InternalBus{
		wake:         make(chan struct{}, 1),
		pollInterval: pollInterval,
	}
	b.init("internal", b.next)
	return b
}

// Publish enqueues msg. It fails only once the bus is closed.
func (b *InternalBus) Publish(msg Message) bool {
	if b.stopped() {
		logf("internal publish %s: bus closed", msg.RoutingKey())
		return false
	}
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Subscribe registers listener for (channel, dir), replacing any previous one.
func (b *InternalBus) Subscribe(channel string, dir Direction, listener Listener) bool {
	if listener == nil {
		return false
	}
	b.set(RoutingKey(channel, dir), listener)
	b.start()
	return true
}

// Unsubscribe removes the listener for (channel, dir). Later messages on the
// pair are dropped.
func (b *InternalBus) Unsubscribe(channel string, dir Direction) bool {
	b.remove(RoutingKey(channel, dir))
	return true
}

// Size returns the number of messages waiting to be consumed.
func (b *InternalBus) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops the consumption loop. Pending messages are discarded.
func (b *InternalBus) Close() error {
	b.stop()
	b.mu.Lock()
	b.queue = nil
	b.mu.Unlock()
	return nil
}

func (b *InternalBus) pop() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Message{}, false
	}
	msg := b.queue[0]
	b.queue[0] = Message{}
	b.queue = b.queue[1:]
	return msg, true
}

func (b *InternalBus) next(ctx context.Context) (Message, bool) {
	if msg, ok := b.pop(); ok {
		return msg, true
	}
	timer := time.NewTimer(b.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-b.wake:
	case <-timer.C:
	}
	return Message{}, false
}
