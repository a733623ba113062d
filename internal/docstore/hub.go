package docstore

import (
	"context"
	"sync"
)

// hub wakes live queries when a collection changes.
type hub struct {
	mu   sync.Mutex
	subs map[*listener]struct{}
}

type listener struct {
	collection string
	wake       chan struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*listener]struct{})}
}

func (h *hub) add(collection string) *listener {
	l := &listener{collection: collection, wake: make(chan struct{}, 1)}
	h.mu.Lock()
	h.subs[l] = struct{}{}
	h.mu.Unlock()
	return l
}

func (h *hub) remove(l *listener) {
	h.mu.Lock()
	delete(h.subs, l)
	h.mu.Unlock()
}

// notify wakes every listener of collection. Wakes coalesce: a listener that
// has not consumed the previous wake-up is not queued a second one.
func (h *hub) notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.subs {
		if l.collection != collection {
			continue
		}
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// pump evaluates fetch once up front and again after every wake-up, and
// delivers the results on sub.c. If a wake-up arrives while a snapshot is
// still undelivered, the pending snapshot is dropped and fetch re-run, so the
// consumer never receives a result older than the latest change it could see.
func pump(ctx context.Context, sub *Subscription, wake <-chan struct{}, fetch func(context.Context) Snapshot) {
	defer close(sub.done)
	defer close(sub.c)
	for {
		snap := fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case sub.c <- snap:
		case <-wake:
			continue
		case <-ctx.Done():
			return
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return
		}
	}
}
