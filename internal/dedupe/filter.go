// ABOUTME: Bounded TTL filter that reports whether an event ID was already seen.
// ABOUTME: Expired entries are swept lazily on insert; the oldest entry is evicted at capacity.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultWindow   = 10 * time.Minute
	DefaultCapacity = 4096
)

type entry struct {
	id   string
	seen time.Time
}

// Filter is safe for concurrent use.
type Filter struct {
	mu       sync.Mutex
	index    map[string]*list.Element
	order    *list.List // oldest at front
	window   time.Duration
	capacity int
	now      func() time.Time
}

// New creates a Filter. Non-positive arguments fall back to the defaults.
func New(window time.Duration, capacity int) *Filter {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Filter{
		index:    make(map[string]*list.Element),
		order:    list.New(),
		window:   window,
		capacity: capacity,
		now:      time.Now,
	}
}

// Seen marks id and reports whether it had already been marked within the
// window. Empty IDs are never treated as duplicates.
func (f *Filter) Seen(id string) bool {
	if id == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.sweepLocked(now)

	if el, ok := f.index[id]; ok {
		// Still inside the window, since sweep dropped anything older.
		el.Value.(*entry).seen = now
		f.order.MoveToBack(el)
		return true
	}

	if f.order.Len() >= f.capacity {
		f.removeLocked(f.order.Front())
	}
	f.index[id] = f.order.PushBack(&entry{id: id, seen: now})
	return false
}

// Len returns the number of remembered IDs.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

// sweepLocked drops expired entries from the front. Refreshing an entry
// moves it to the back, so the list stays ordered by last sighting.
func (f *Filter) sweepLocked(now time.Time) {
	for el := f.order.Front(); el != nil; el = f.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < f.window {
			return
		}
		f.removeLocked(el)
	}
}

func (f *Filter) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	f.order.Remove(el)
	delete(f.index, el.Value.(*entry).id)
}
