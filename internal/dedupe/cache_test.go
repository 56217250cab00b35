// ABOUTME: Tests for the inbound event dedupe window
// ABOUTME: Uses a manual clock so expiry is checked without sleeping

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newWindow(ttl time.Duration, maxKeys int) (*Window, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := New(ttl, maxKeys)
	w.SetClock(clock.now)
	return w, clock
}

func TestWindow_FirstSightingIsNew(t *testing.T) {
	w, _ := newWindow(time.Minute, 10)
	assert.False(t, w.Seen("$event1"))
	assert.True(t, w.Seen("$event1"))
	assert.False(t, w.Seen("$event2"))
}

func TestWindow_Expiry(t *testing.T) {
	w, clock := newWindow(time.Minute, 10)
	w.Seen("$event1")

	clock.advance(59 * time.Second)
	assert.True(t, w.Seen("$event1"))

	clock.advance(time.Second)
	assert.False(t, w.Seen("$event1"), "key should be forgotten once the window passes")
}

func TestWindow_RepeatDoesNotExtend(t *testing.T) {
	w, clock := newWindow(time.Minute, 10)
	w.Seen("$event1")

	clock.advance(40 * time.Second)
	assert.True(t, w.Seen("$event1"))

	clock.advance(20 * time.Second)
	assert.False(t, w.Seen("$event1"))
}

func TestWindow_EvictsOldestAtCapacity(t *testing.T) {
	w, clock := newWindow(time.Hour, 3)
	for i := 1; i <= 3; i++ {
		w.Seen(fmt.Sprintf("$e%d", i))
		clock.advance(time.Second)
	}

	assert.False(t, w.Seen("$e4"))
	assert.Equal(t, 3, w.Len())

	assert.True(t, w.Seen("$e4"))
	assert.True(t, w.Seen("$e3"))
	assert.False(t, w.Seen("$e1"), "oldest key should have been evicted")
}

func TestWindow_LenPrunes(t *testing.T) {
	w, clock := newWindow(time.Minute, 10)
	w.Seen("$a")
	clock.advance(30 * time.Second)
	w.Seen("$b")

	assert.Equal(t, 2, w.Len())
	clock.advance(31 * time.Second)
	assert.Equal(t, 1, w.Len())
	clock.advance(time.Minute)
	assert.Equal(t, 0, w.Len())
}

func TestWindow_ConcurrentSingleWinner(t *testing.T) {
	w := New(time.Minute, 1000)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !w.Seen("$same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}
