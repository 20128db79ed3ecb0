package progress

import (
	"sync"
	"time"
)

// Status is the lifecycle of a crawl run.
type Status string

// Crawl run states.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is a point-in-time copy of a crawl's progress.
type State struct {
	CrawlID          string     `json:"crawl_id"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CurrentPage      int        `json:"current_page"`
	PagesCrawled     int        `json:"pages_crawled"`
	EntriesFound     int        `json:"entries_found"`
	DocumentsSaved   int        `json:"documents_saved"`
	DocumentsSkipped int        `json:"documents_skipped"`
	DocumentsFailed  int        `json:"documents_failed"`
	JobsEnqueued     int        `json:"jobs_enqueued"`
	LastError        string     `json:"last_error,omitempty"`
}

// Done reports whether the run has finished.
func (s State) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Tracker owns the progress of one crawl. All methods are safe for concurrent use
// and no-ops on a nil receiver.
type Tracker struct {
	now func() time.Time

	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// NewTracker starts tracking a crawl.
func NewTracker(crawlID string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:   now,
		state: State{CrawlID: crawlID, Status: StatusRunning, StartedAt: now().UTC()},
		subs:  make(map[int]chan State),
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	if t == nil {
		return State{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe returns a channel that receives the latest state after every update and
// is closed when the crawl finishes or the returned func is called.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	if t == nil {
		close(ch)
		return ch, func() {}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Done() {
		ch <- t.state
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	ch <- t.state
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
}

// ListingPage implements crawler.ListingProgress.
func (t *Tracker) ListingPage(page int, _ string, entries int) {
	t.update(func(s *State) {
		s.CurrentPage = page
		s.PagesCrawled++
		s.EntriesFound += entries
	})
}

// DocumentSaved counts a persisted document.
func (t *Tracker) DocumentSaved() {
	t.update(func(s *State) { s.DocumentsSaved++ })
}

// DocumentSkipped counts a listing entry that produced no document.
func (t *Tracker) DocumentSkipped() {
	t.update(func(s *State) { s.DocumentsSkipped++ })
}

// DocumentFailed counts a per-document failure and remembers the error.
func (t *Tracker) DocumentFailed(err error) {
	t.update(func(s *State) {
		s.DocumentsFailed++
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

// JobEnqueued counts an extraction handed to the executor.
func (t *Tracker) JobEnqueued() {
	t.update(func(s *State) { s.JobsEnqueued++ })
}

// Finish marks the crawl completed, or failed when err is non-nil, and closes
// subscriptions. Later calls are ignored.
func (t *Tracker) Finish(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Done() {
		return
	}
	finished := t.now().UTC()
	t.state.FinishedAt = &finished
	t.state.Status = StatusCompleted
	if err != nil {
		t.state.Status = StatusFailed
		t.state.LastError = err.Error()
	}
	for id, ch := range t.subs {
		publish(ch, t.state)
		close(ch)
		delete(t.subs, id)
	}
}

func (t *Tracker) update(fn func(*State)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Done() {
		return
	}
	fn(&t.state)
	for _, ch := range t.subs {
		publish(ch, t.state)
	}
}

// publish replaces any unread state so slow readers only see the latest one.
func publish(ch chan State, s State) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
