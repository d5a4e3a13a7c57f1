package bus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUnreachableRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	b := NewRedisBus(client, time.Millisecond)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRedisBus_BrokerErrorsBecomeFalse(t *testing.T) {
	b := newUnreachableRedisBus(t)
	noop := func(ctx context.Context, msg Message) {}

	assert.False(t, Publish(b, "t1", ToStaff, "hi"))
	assert.False(t, b.Subscribe("t1", ToWidget, noop))
	assert.False(t, b.has(RoutingKey("t1", ToWidget)))
	assert.True(t, b.Unsubscribe("t1", ToWidget), "unsubscribing an unknown pair is a no-op")
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.True(t, isTimeout(&net.OpError{Op: "read", Err: timeoutErr{}}))
	assert.False(t, isTimeout(assert.AnError))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newMiniRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	b := NewRedisBus(client, 5*time.Millisecond)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

// subscribe registers listener and waits until the broker sees the channel.
func subscribe(t *testing.T, b *RedisBus, mr *miniredis.Miniredis, channel string, dir Direction, listener Listener) {
	t.Helper()
	require.True(t, b.Subscribe(channel, dir, listener))
	key := RoutingKey(channel, dir)
	require.Eventually(t, func() bool { return mr.PubSubNumSub(key)[key] == 1 }, time.Second, 5*time.Millisecond)
}

func TestRedisBus_Delivers(t *testing.T) {
	b, mr := newMiniRedisBus(t)
	rec := &recorder{}
	subscribe(t, b, mr, "t1", ToStaff, rec.listener)

	publish(t, b, "t1", ToStaff, "hello")

	require.Eventually(t, func() bool { return len(rec.values()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, rec.values())
	rec.mu.Lock()
	assert.Equal(t, []string{"1:t1"}, rec.keys)
	rec.mu.Unlock()
}

func TestRedisBus_RoutingIsolation(t *testing.T) {
	b, mr := newMiniRedisBus(t)
	c1, c2 := &recorder{}, &recorder{}
	subscribe(t, b, mr, "c1", ToStaff, c1.listener)
	subscribe(t, b, mr, "c2", ToStaff, c2.listener)

	publish(t, b, "c2", ToStaff, "for-c2")

	require.Eventually(t, func() bool { return len(c2.values()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c1.values())
}

func TestRedisBus_DirectionIsolation(t *testing.T) {
	b, mr := newMiniRedisBus(t)
	widget, staff := &recorder{}, &recorder{}
	subscribe(t, b, mr, "t1", ToWidget, widget.listener)
	subscribe(t, b, mr, "t1", ToStaff, staff.listener)

	publish(t, b, "t1", ToStaff, "to staff")

	require.Eventually(t, func() bool { return len(staff.values()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, widget.values())
}

func TestRedisBus_UnsubscribeIsEffective(t *testing.T) {
	b, mr := newMiniRedisBus(t)
	rec := &recorder{}
	subscribe(t, b, mr, "t1", ToWidget, rec.listener)

	assert.True(t, b.Unsubscribe("t1", ToWidget))
	assert.False(t, b.has(RoutingKey("t1", ToWidget)))
	require.Eventually(t, func() bool { return mr.PubSubNumSub("0:t1")["0:t1"] == 0 }, time.Second, 5*time.Millisecond)

	publish(t, b, "t1", ToWidget, "dropped")

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.values())
}

func TestRedisBus_SubscribeKeepsListener(t *testing.T) {
	b, mr := newMiniRedisBus(t)
	first, second := &recorder{}, &recorder{}
	subscribe(t, b, mr, "t1", ToStaff, first.listener)
	require.True(t, b.Subscribe("t1", ToStaff, second.listener))

	publish(t, b, "t1", ToStaff, "x")

	require.Eventually(t, func() bool { return len(first.values()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, second.values())
}

func TestRedisBus_DropsMismatchedRoutingKey(t *testing.T) {
	b, mr := newMiniRedisBus(t)
	rec := &recorder{}
	subscribe(t, b, mr, "c1", ToStaff, rec.listener)

	stray, err := NewMessage("c2", ToStaff, "stray")
	require.NoError(t, err)
	data, err := stray.Encode()
	require.NoError(t, err)
	mr.Publish(RoutingKey("c1", ToStaff), string(data))
	mr.Publish(RoutingKey("c1", ToStaff), "not json")
	publish(t, b, "c1", ToStaff, "ok")

	require.Eventually(t, func() bool { return len(rec.values()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"ok"}, rec.values())
}
