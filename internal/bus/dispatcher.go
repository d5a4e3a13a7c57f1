package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// source yields the next pending message, waiting a bounded time when none
// is available.
type source func(ctx context.Context) (Message, bool)

// dispatcher owns the listener registry and the single consumption loop that
// both backends share.
type dispatcher struct {
	name string
	next source

	mu        sync.Mutex
	listeners map[string]Listener

	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	started atomic.Bool
	done    chan struct{}
}

func (d *dispatcher) init(name string, next source) {
	d.name = name
	d.next = next
	d.listeners = make(map[string]Listener)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.done = make(chan struct{})
}

func (d *dispatcher) set(key string, listener Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[key] = listener
}

func (d *dispatcher) has(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.listeners[key]
	return ok
}

func (d *dispatcher) remove(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.listeners[key]; !ok {
		return false
	}
	delete(d.listeners, key)
	return true
}

func (d *dispatcher) lookup(key string) (Listener, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.listeners[key]
	return l, ok
}

// start launches the consumption loop once per bus.
func (d *dispatcher) start() {
	d.once.Do(func() {
		if d.ctx.Err() != nil {
			return
		}
		d.started.Store(true)
		go d.run()
	})
}

func (d *dispatcher) run() {
	defer close(d.done)
	for d.ctx.Err() == nil {
		msg, ok := d.next(d.ctx)
		if !ok {
			continue
		}
		listener, ok := d.lookup(msg.RoutingKey())
		if !ok {
			continue
		}
		d.invoke(listener, msg)
	}
}

func (d *dispatcher) invoke(listener Listener, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logf("%s listener for %s panicked: %v", d.name, msg.RoutingKey(), r)
		}
	}()
	listener(d.ctx, msg)
}

// stop cancels the loop and waits for it to exit.
func (d *dispatcher) stop() {
	d.cancel()
	if d.started.Load() {
		<-d.done
	}
}

func (d *dispatcher) stopped() bool {
	return d.ctx.Err() != nil
}

func logf(format string, args ...any) {
	log.Printf("[Bus] "+format, args...)
}
