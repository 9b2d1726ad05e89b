package realtime

import (
	"sync"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

// Deduplicator remembers which event ids were already applied in this tab.
// The set is bounded: past capacity it keeps only the most recently inserted
// ids.
type Deduplicator struct {
	mu       sync.Mutex
	capacity int
	keep     int
	order    []int64
	seen     map[int64]struct{}
}

func NewDeduplicator(capacity, keep int) *Deduplicator {
	if keep > capacity {
		keep = capacity
	}
	return &Deduplicator{
		capacity: capacity,
		keep:     keep,
		seen:     make(map[int64]struct{}),
	}
}

// FilterNew returns the events not seen before, in their original order,
// and marks them seen.
func (d *Deduplicator) FilterNew(events []model.Event) []model.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fresh []model.Event
	for _, ev := range events {
		if _, ok := d.seen[ev.EventID]; ok {
			continue
		}
		d.seen[ev.EventID] = struct{}{}
		d.order = append(d.order, ev.EventID)
		fresh = append(fresh, ev)
	}

	if len(d.order) > d.capacity {
		d.order = append([]int64(nil), d.order[len(d.order)-d.keep:]...)
		d.seen = make(map[int64]struct{}, len(d.order))
		for _, id := range d.order {
			d.seen[id] = struct{}{}
		}
	}
	return fresh
}

// Seen reports whether id has been applied.
func (d *Deduplicator) Seen(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
