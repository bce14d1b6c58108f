package membership

import (
	"slices"
	"sync"

	"github.com/ryandielhenn/clocknet/pkg/wire"
)

// List is an agent's view of the other agents in the network: ordered,
// without duplicates, never containing the owner itself.
type List struct {
	mu    sync.RWMutex
	order []wire.Identity            // insertion order
	index map[wire.Identity]struct{} // membership
}

func New() *List {
	return &List{index: make(map[wire.Identity]struct{})}
}

// Add appends id if it is not already present.
func (l *List) Add(id wire.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[id]; ok {
		return false
	}
	l.index[id] = struct{}{}
	l.order = append(l.order, id)
	return true
}

func (l *List) Remove(id wire.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[id]; !ok {
		return false
	}
	delete(l.index, id)
	l.order = slices.DeleteFunc(l.order, func(m wire.Identity) bool { return m == id })
	return true
}

// Replace swaps the whole view, keeping the first occurrence of repeated ids.
func (l *List) Replace(ids []wire.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = l.order[:0]
	clear(l.index)
	for _, id := range ids {
		if _, ok := l.index[id]; ok {
			continue
		}
		l.index[id] = struct{}{}
		l.order = append(l.order, id)
	}
}

func (l *List) Contains(id wire.Identity) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Snapshot returns a copy in insertion order.
func (l *List) Snapshot() []wire.Identity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.order)
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = l.order[:0]
	clear(l.index)
}
