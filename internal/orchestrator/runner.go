// Package orchestrator executes a batch of fetch targets across a bounded
// set of chunk workers. Each chunk borrows one proxy credential for its
// lifetime and rotates to a fresh credential when a target keeps failing.
package orchestrator

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wangqi/tailscan/internal/clients/eastmoney"
	"github.com/wangqi/tailscan/internal/proxy"
)

// minChunkSize keeps chunks from degenerating into per-target goroutines
// when the batch is small.
const minChunkSize = 5

// Target is one unit of fetch work. Key identifies it in logs and failure
// reports.
type Target struct {
	Key string
	Run func(ctx context.Context, cred proxy.Credential) error
}

// Failure records a target that exhausted its attempts.
type Failure struct {
	Key string `json:"key"`
	Err error  `json:"-"`
}

// Summary is the outcome of one batch run. A run with failures is still a
// usable run; callers decide how much loss they tolerate.
type Summary struct {
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Config tunes batch execution.
type Config struct {
	Concurrency int // upper bound on simultaneous chunk workers
	Attempts    int // attempts per target before it counts as failed
}

// Runner executes target batches against a credential pool.
type Runner struct {
	pool proxy.Pool
	cfg  Config
	log  zerolog.Logger
}

// NewRunner creates a batch runner. Zero config fields get defaults of
// 4 workers and 3 attempts.
func NewRunner(pool proxy.Pool, cfg Config, log zerolog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &Runner{
		pool: pool,
		cfg:  cfg,
		log:  log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes all targets and blocks until every chunk has finished.
// onProgress, when non-nil, is invoked after each target settles.
func (r *Runner) Run(ctx context.Context, targets []Target, onProgress func(Snapshot)) Summary {
	if len(targets) == 0 {
		return Summary{}
	}

	tracker := newProgressTracker(len(targets), onProgress)
	chunks := chunkTargets(targets, r.cfg.Concurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []Failure
	)

	for i, chunk := range chunks {
		wg.Add(1)
		go func(idx int, chunk []Target) {
			defer wg.Done()
			chunkFailures := r.runChunk(ctx, idx, chunk, tracker)
			if len(chunkFailures) > 0 {
				mu.Lock()
				failures = append(failures, chunkFailures...)
				mu.Unlock()
			}
		}(i, chunk)
	}
	wg.Wait()

	snap := tracker.snapshot()
	summary := Summary{
		Total:     snap.Total,
		Completed: snap.Completed,
		Failed:    snap.Failed,
		Failures:  failures,
	}

	r.log.Info().
		Int("total", summary.Total).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Msg("Batch run finished")
	return summary
}

// runChunk walks one chunk's targets sequentially on a borrowed credential.
// Losing the credential pool mid-chunk abandons the remaining targets.
func (r *Runner) runChunk(ctx context.Context, idx int, chunk []Target, tracker *progressTracker) []Failure {
	log := r.log.With().Int("chunk", idx).Logger()

	cred, err := r.acquireCredential(ctx, log)
	if err != nil {
		log.Error().Err(err).Int("targets", len(chunk)).Msg("No credential for chunk, abandoning")
		failures := make([]Failure, 0, len(chunk))
		for _, target := range chunk {
			tracker.markFailed()
			failures = append(failures, Failure{Key: target.Key, Err: err})
		}
		return failures
	}

	var failures []Failure
	for _, target := range chunk {
		if ctx.Err() != nil {
			tracker.markFailed()
			failures = append(failures, Failure{Key: target.Key, Err: ctx.Err()})
			continue
		}

		if err := r.runTarget(ctx, target, &cred, log); err != nil {
			tracker.markFailed()
			failures = append(failures, Failure{Key: target.Key, Err: err})
			log.Warn().Err(err).Str("target", target.Key).Msg("Target exhausted attempts")
			continue
		}
		tracker.markCompleted()
	}
	return failures
}

// acquireCredential asks the pool up to the configured attempt count before
// giving up on the chunk. Issuer hiccups are usually momentary; a chunk is
// too much work to forfeit on the first one.
func (r *Runner) acquireCredential(ctx context.Context, log zerolog.Logger) (proxy.Credential, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return proxy.Credential{}, err
		}
		cred, err := r.pool.Acquire(ctx)
		if err == nil {
			return cred, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt).Msg("Credential acquisition failed")
	}
	return proxy.Credential{}, lastErr
}

// runTarget attempts one target up to the configured attempt count. A
// transient failure swaps the chunk's credential before the next attempt;
// empty and parse failures are final on the first occurrence.
func (r *Runner) runTarget(ctx context.Context, target Target, cred *proxy.Credential, log zerolog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		lastErr = target.Run(ctx, *cred)
		if lastErr == nil {
			return nil
		}
		if !eastmoney.IsTransient(lastErr) {
			return lastErr
		}

		log.Debug().
			Err(lastErr).
			Str("target", target.Key).
			Int("attempt", attempt).
			Msg("Transient failure, rotating credential")

		if fresh, err := r.pool.Acquire(ctx); err == nil {
			*cred = fresh
		}
	}
	return lastErr
}

// chunkTargets splits targets into at most concurrency chunks of
// max(minChunkSize, ceil(n/concurrency)) targets each.
func chunkTargets(targets []Target, concurrency int) [][]Target {
	size := int(math.Ceil(float64(len(targets)) / float64(concurrency)))
	if size < minChunkSize {
		size = minChunkSize
	}

	chunks := make([][]Target, 0, concurrency)
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		chunks = append(chunks, targets[start:end])
	}
	return chunks
}
