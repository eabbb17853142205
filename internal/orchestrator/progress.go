package orchestrator

import "sync"

// Snapshot is a point-in-time view of a run's progress.
type Snapshot struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Done reports whether every target has been accounted for.
func (s Snapshot) Done() bool {
	return s.Completed+s.Failed >= s.Total
}

// progressTracker counts target outcomes across chunk workers. All workers
// share one tracker; the change callback fires under the lock so snapshots
// reach the callback in counter order. The callback must not call back into
// the tracker.
type progressTracker struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	onChange  func(Snapshot)
}

func newProgressTracker(total int, onChange func(Snapshot)) *progressTracker {
	return &progressTracker{total: total, onChange: onChange}
}

func (p *progressTracker) markCompleted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	p.notify(p.snapshotLocked())
}

func (p *progressTracker) markFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	p.notify(p.snapshotLocked())
}

func (p *progressTracker) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *progressTracker) snapshotLocked() Snapshot {
	return Snapshot{Total: p.total, Completed: p.completed, Failed: p.failed}
}

func (p *progressTracker) notify(snap Snapshot) {
	if p.onChange != nil {
		p.onChange(snap)
	}
}
