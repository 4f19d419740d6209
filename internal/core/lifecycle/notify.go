package lifecycle

import "sync"

// notifier wakes waiters in this process when a test changes state. Polling
// stays authoritative; a missed wake only costs one poll interval.
type notifier struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

func newNotifier() *notifier {
	return &notifier{waiters: make(map[string]map[chan struct{}]struct{})}
}

func (n *notifier) subscribe(id string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	set, ok := n.waiters[id]
	if !ok {
		set = make(map[chan struct{}]struct{})
		n.waiters[id] = set
	}
	set[ch] = struct{}{}
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if set, ok := n.waiters[id]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(n.waiters, id)
			}
		}
	}
}

func (n *notifier) broadcast(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.waiters[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
