// Package sessions tracks the live visitor connections of this process.
package sessions

import (
	"sync"
)

// Conn is a live connection that can receive messages.
type Conn interface {
	Send(v any) error
}

// Directory maps session keys to their live connection. A session has at
// most one connection; registering a new one replaces the previous.
type Directory struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{conns: make(map[string]Conn)}
}

// Register binds key to conn and returns the connection it replaced, if any.
func (d *Directory) Register(key string, conn Conn) Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.conns[key]
	d.conns[key] = conn
	return prev
}

// Lookup returns the live connection for key.
func (d *Directory) Lookup(key string) (Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[key]
	return c, ok
}

// Deliver sends msg to the connection registered for key. It returns false
// when there is no live connection or the send fails.
func (d *Directory) Deliver(key string, msg any) bool {
	conn, ok := d.Lookup(key)
	if !ok {
		return false
	}
	return conn.Send(msg) == nil
}

// Remove unbinds key. Removing an unknown key is a no-op.
func (d *Directory) Remove(key string) {
	d.mu.Lock()
	delete(d.conns, key)
	d.mu.Unlock()
}

// Release unbinds key only while conn still owns it, so a closing
// connection does not evict the one that replaced it.
func (d *Directory) Release(key string, conn Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.conns[key]; ok && cur == conn {
		delete(d.conns, key)
		return true
	}
	return false
}

// Len returns the number of live sessions.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
