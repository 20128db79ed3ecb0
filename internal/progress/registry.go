package progress

import (
	"sort"
	"sync"
	"time"
)

const defaultRetain = 100

// Registry indexes trackers of concurrent and recent crawls by id.
type Registry struct {
	retain int
	now    func() time.Time

	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry keeps at most retain finished crawls (default 100).
func NewRegistry(retain int, now func() time.Time) *Registry {
	if retain <= 0 {
		retain = defaultRetain
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{retain: retain, now: now, trackers: make(map[string]*Tracker)}
}

// Start registers a new tracker for crawlID.
func (r *Registry) Start(crawlID string) *Tracker {
	t := NewTracker(crawlID, r.now)
	r.mu.Lock()
	r.trackers[crawlID] = t
	r.pruneLocked()
	r.mu.Unlock()
	return t
}

// Get returns the tracker for crawlID.
func (r *Registry) Get(crawlID string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[crawlID]
	return t, ok
}

// List returns snapshots of all known crawls, newest first.
func (r *Registry) List() []State {
	r.mu.RLock()
	out := make([]State, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// pruneLocked drops the oldest finished crawls beyond the retain limit.
func (r *Registry) pruneLocked() {
	var finished []State
	for _, t := range r.trackers {
		if s := t.Snapshot(); s.Done() {
			finished = append(finished, s)
		}
	}
	if len(finished) <= r.retain {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
	for _, s := range finished[:len(finished)-r.retain] {
		delete(r.trackers, s.CrawlID)
	}
}
