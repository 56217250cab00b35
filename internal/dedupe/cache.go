// ABOUTME: Bounded, time-windowed set of recently handled inbound event ids
// ABOUTME: The operator front end uses it to drop redelivered chat events

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type seenAt struct {
	key  string
	when time.Time
}

// Window remembers keys for a fixed duration, holding at most maxKeys.
// Expired keys are pruned lazily on each call, oldest first.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // of seenAt, oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
}

// New creates a Window.
func New(ttl time.Duration, maxKeys int) *Window {
	if maxKeys < 1 {
		maxKeys = 1
	}
	return &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (w *Window) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
}

// Seen records key and reports whether it was already inside the window.
// A repeated key does not extend its own lifetime.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if _, ok := w.index[key]; ok {
		return true
	}

	if w.order.Len() >= w.maxKeys {
		w.removeLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(seenAt{key: key, when: now})
	return false
}

// Len returns the number of keys currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.order.Len()
}

func (w *Window) pruneLocked(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if now.Sub(front.Value.(seenAt).when) < w.ttl {
			return
		}
		w.removeLocked(front)
	}
}

func (w *Window) removeLocked(e *list.Element) {
	if e == nil {
		return
	}
	w.order.Remove(e)
	delete(w.index, e.Value.(seenAt).key)
}
