package events

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	ev   Event
	size int
}

// Journal is an in-memory activity log of events, capped by the byte size of
// their rendered lines. The oldest entries are evicted first; entries older
// than the retention are dropped on read. It replaces per-agent log files.
type Journal struct {
	mu        sync.RWMutex
	ll        *list.List // front = newest
	perAgent  map[string]int
	used      int
	cap       int
	retention time.Duration
	now       func() time.Time
}

// NewJournal keeps at most capacityBytes of rendered lines. A zero
// retention keeps entries until they are evicted by size.
func NewJournal(capacityBytes int, retention time.Duration) *Journal {
	return &Journal{
		ll:        list.New(),
		perAgent:  make(map[string]int),
		cap:       capacityBytes,
		retention: retention,
		now:       time.Now,
	}
}

func (j *Journal) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = j.now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	en := &entry{ev: e, size: len(e.Line())}
	j.ll.PushFront(en)
	j.used += en.size
	j.perAgent[e.Agent]++
	j.evictIfNeeded()
}

// Recent returns up to n events, oldest first. An empty agent matches every
// agent; n <= 0 means no limit.
func (j *Journal) Recent(agent string, n int) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.expire()

	var out []Event
	for el := j.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry).ev
		if agent != "" && e.Agent != agent {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) == n {
			break
		}
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out
}

// Lines is Recent rendered as activity log lines.
func (j *Journal) Lines(agent string, n int) []string {
	evs := j.Recent(agent, n)
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Line()
	}
	return out
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.ll.Len()
}

// Count returns the number of retained events reported by agent.
func (j *Journal) Count(agent string) int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.perAgent[agent]
}

func (j *Journal) evictIfNeeded() {
	for j.used > j.cap && j.ll.Back() != nil {
		j.removeElement(j.ll.Back())
	}
}

func (j *Journal) expire() {
	if j.retention <= 0 {
		return
	}
	cutoff := j.now().Add(-j.retention)
	for el := j.ll.Back(); el != nil; el = j.ll.Back() {
		if !el.Value.(*entry).ev.Time.Before(cutoff) {
			return
		}
		j.removeElement(el)
	}
}

func (j *Journal) removeElement(el *list.Element) {
	en := el.Value.(*entry)
	j.used -= en.size
	if j.perAgent[en.ev.Agent]--; j.perAgent[en.ev.Agent] <= 0 {
		delete(j.perAgent, en.ev.Agent)
	}
	j.ll.Remove(el)
}
