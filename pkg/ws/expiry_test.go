package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryQueueFiresInDeadlineOrder(t *testing.T) {
	q := NewExpiryQueue()
	defer q.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	record := func(key string) func() {
		return func() {
			mu.Lock()
			order = append(order, key)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		}
	}

	q.Schedule("late", 60*time.Millisecond, record("late"))
	q.Schedule("early", 10*time.Millisecond, record("early"))
	q.Schedule("middle", 30*time.Millisecond, record("middle"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers did not fire")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"early", "middle", "late"}, order)
	assert.Equal(t, 0, q.Len())
}

func TestExpiryHandleCancel(t *testing.T) {
	q := NewExpiryQueue()
	defer q.Stop()

	fired := make(chan struct{}, 1)
	h := q.Schedule("x", 20*time.Millisecond, func() { fired <- struct{}{} })
	assert.True(t, h.Pending())
	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	assert.False(t, h.Pending())

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestExpiryHandleZeroValue(t *testing.T) {
	var h ExpiryHandle
	assert.False(t, h.Cancel())
	assert.False(t, h.Pending())
}

func TestExpiryCallbackCanReschedule(t *testing.T) {
	q := NewExpiryQueue()
	defer q.Stop()

	second := make(chan struct{})
	q.Schedule("first", time.Millisecond, func() {
		q.Schedule("second", time.Millisecond, func() { close(second) })
	})

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("rescheduled timer did not fire")
	}
}

func TestExpiryQueueStop(t *testing.T) {
	q := NewExpiryQueue()
	fired := make(chan struct{}, 1)
	q.Schedule("x", 30*time.Millisecond, func() { fired <- struct{}{} })

	q.Stop()
	q.Stop()
	require.Equal(t, 0, q.Len())

	h := q.Schedule("after-stop", time.Millisecond, func() { fired <- struct{}{} })
	assert.False(t, h.Pending())

	select {
	case <-fired:
		t.Fatal("timer fired after stop")
	case <-time.After(80 * time.Millisecond):
	}
}
