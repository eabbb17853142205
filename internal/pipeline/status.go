package pipeline

import (
	"sync"
	"time"
)

// Stage names the pipeline's current phase.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageUniverse    Stage = "universe-discovery"
	StageRanking     Stage = "heat-ranking"
	StageMembers     Stage = "member-resolution"
	StageAggregation Stage = "aggregation"
	StageSeries      Stage = "series-fetch"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Status is a point-in-time view of a pipeline run. Completed and Failed
// count fetch targets within the current stage's orchestrator pass.
type Status struct {
	RunID      string    `json:"run_id"`
	Stage      Stage     `json:"stage"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Tracker holds the latest run status and fans updates out to subscribers.
// A subscriber that falls behind loses intermediate updates, never the
// latest one.
type Tracker struct {
	mu     sync.RWMutex
	status Status
	subs   map[int]chan Status
	nextID int
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		status: Status{Stage: StageIdle},
		subs:   make(map[int]chan Status),
	}
}

// Current returns the latest status.
func (t *Tracker) Current() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Set replaces the status and notifies subscribers. Sends happen under the
// lock so a concurrent Subscribe cancel cannot close a channel mid-send;
// they are non-blocking, so the lock is never held on a full channel.
func (t *Tracker) Set(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
	for _, ch := range t.subs {
		select {
		case ch <- status:
		default:
			// Slow subscriber, drop the update.
		}
	}
}

// Subscribe registers a status channel. The returned cancel function must
// be called exactly once when the subscriber goes away.
func (t *Tracker) Subscribe() (<-chan Status, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Status, 8)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existing, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}
