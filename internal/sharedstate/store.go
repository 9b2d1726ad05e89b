// Package sharedstate provides the cross-tab key/value store used for queue
// identity, the resumption cursor, and the leader lease.
//
// Values are opaque strings. Writers are last-write-wins with no transactions;
// every value kept here must tolerate being clobbered by another tab.
package sharedstate

// Store is a synchronous key/value store visible to all tabs of an origin.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	// Watch registers fn to be called with the key after any change,
	// including changes made through this handle. The returned func cancels.
	Watch(fn func(key string)) (cancel func())
}

const watchBufferSize = 64

// watcher delivers change notifications on its own goroutine so a slow
// callback never blocks a writer.
type watcher struct {
	ch   chan string
	done chan struct{}
}

func newWatcher(fn func(key string)) *watcher {
	w := &watcher{
		ch:   make(chan string, watchBufferSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for key := range w.ch {
			fn(key)
		}
	}()
	return w
}

// notify drops the notification when the buffer is full; watchers re-read
// state on their own timers anyway.
func (w *watcher) notify(key string) {
	select {
	case w.ch <- key:
	default:
	}
}
