package docstore

import (
	"sync"
)

// hub fans snapshots out to the subscribers of each path. Every subscriber owns a goroutine
// and a one-slot mailbox, so publishing never blocks on a slow callback.
type hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	path    string
	fn      func(Snapshot)
	mu      sync.Mutex
	pending *Snapshot
	pushed  bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newHub() *hub {
	return &hub{watchers: make(map[string]map[*watcher]struct{})}
}

func (h *hub) add(path string, fn func(Snapshot)) *watcher {
	w := &watcher{
		path: path,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	if h.watchers[path] == nil {
		h.watchers[path] = make(map[*watcher]struct{})
	}
	h.watchers[path][w] = struct{}{}
	h.mu.Unlock()

	go w.run()
	return w
}

func (h *hub) remove(w *watcher) {
	h.mu.Lock()
	if set, ok := h.watchers[w.path]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watchers, w.path)
		}
	}
	h.mu.Unlock()
	w.stop()
}

// publish hands snap to every watcher of its path.
func (h *hub) publish(snap Snapshot) {
	h.mu.Lock()
	targets := make([]*watcher, 0, len(h.watchers[snap.Path]))
	for w := range h.watchers[snap.Path] {
		targets = append(targets, w)
	}
	h.mu.Unlock()

	for _, w := range targets {
		copied := snap
		copied.Data = Clone(snap.Data)
		w.push(copied)
	}
}

// paths lists every path with at least one watcher.
func (h *hub) paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.watchers))
	for p := range h.watchers {
		out = append(out, p)
	}
	return out
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*watcher
	for _, set := range h.watchers {
		for w := range set {
			all = append(all, w)
		}
	}
	h.watchers = make(map[string]map[*watcher]struct{})
	h.mu.Unlock()

	for _, w := range all {
		w.stop()
	}
}

func (w *watcher) push(snap Snapshot) {
	w.mu.Lock()
	w.pending = &snap
	w.pushed = true
	w.mu.Unlock()
	w.signal()
}

// pushInitial delivers the snapshot read at subscribe time unless a newer change already arrived.
func (w *watcher) pushInitial(snap Snapshot) {
	w.mu.Lock()
	if w.pushed {
		w.mu.Unlock()
		return
	}
	w.pending = &snap
	w.pushed = true
	w.mu.Unlock()
	w.signal()
}

func (w *watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
			w.mu.Lock()
			snap := w.pending
			w.pending = nil
			w.mu.Unlock()
			if snap == nil {
				continue
			}
			select {
			case <-w.done:
				return
			default:
			}
			w.fn(*snap)
		}
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}
