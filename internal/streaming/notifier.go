package streaming

import (
	"sort"
	"sync"
)

const notifyQueueSize = 128

// notifier fans status and error events out to subscribers in order on its
// own goroutine, so callbacks never run on the event loop.
type notifier struct {
	mu        sync.Mutex
	nextID    int
	statusFns map[int]func(Status)
	errorFns  map[int]func(ErrorEvent)

	queue chan func()
	done  chan struct{}
}

func newNotifier() *notifier {
	return &notifier{
		statusFns: make(map[int]func(Status)),
		errorFns:  make(map[int]func(ErrorEvent)),
		queue:     make(chan func(), notifyQueueSize),
		done:      make(chan struct{}),
	}
}

func (n *notifier) start() {
	go func() {
		defer close(n.done)
		for fn := range n.queue {
			fn()
		}
	}()
}

// stop drains pending notifications and ends the goroutine
func (n *notifier) stop() {
	close(n.queue)
	<-n.done
}

func (n *notifier) subscribeStatus(fn func(Status)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.statusFns[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.statusFns, id)
	}
}

func (n *notifier) subscribeError(fn func(ErrorEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.errorFns[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.errorFns, id)
	}
}

func (n *notifier) publishStatus(s Status) {
	n.queue <- func() {
		for _, fn := range n.statusSubscribers() {
			fn(s)
		}
	}
}

func (n *notifier) publishError(e ErrorEvent) {
	n.queue <- func() {
		for _, fn := range n.errorSubscribers() {
			fn(e)
		}
	}
}

func (n *notifier) statusSubscribers() []func(Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := sortedIDs(n.statusFns)
	fns := make([]func(Status), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.statusFns[id])
	}
	return fns
}

func (n *notifier) errorSubscribers() []func(ErrorEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := sortedIDs(n.errorFns)
	fns := make([]func(ErrorEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.errorFns[id])
	}
	return fns
}

func sortedIDs[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
