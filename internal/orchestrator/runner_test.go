package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangqi/tailscan/internal/clients/eastmoney"
	"github.com/wangqi/tailscan/internal/proxy"
)

// countingPool hands out numbered credentials and counts acquisitions.
type countingPool struct {
	acquired atomic.Int64
}

func (p *countingPool) Acquire(ctx context.Context) (proxy.Credential, error) {
	n := p.acquired.Add(1)
	return proxy.Credential{Address: fmt.Sprintf("proxy-%d", n)}, nil
}

// brokenPool never yields a credential.
type brokenPool struct {
	acquired atomic.Int64
}

func (p *brokenPool) Acquire(ctx context.Context) (proxy.Credential, error) {
	p.acquired.Add(1)
	return proxy.Credential{}, fmt.Errorf("issuer down: %w", proxy.ErrUnavailable)
}

// flakyPool fails the first failures acquisitions, then issues credentials.
type flakyPool struct {
	failures int64
	acquired atomic.Int64
}

func (p *flakyPool) Acquire(ctx context.Context) (proxy.Credential, error) {
	n := p.acquired.Add(1)
	if n <= p.failures {
		return proxy.Credential{}, fmt.Errorf("issuer down: %w", proxy.ErrUnavailable)
	}
	return proxy.Credential{Address: fmt.Sprintf("proxy-%d", n)}, nil
}

func transient(target string) error {
	return &eastmoney.FetchError{
		Kind:   eastmoney.KindTransient,
		Target: target,
		Err:    errors.New("connection reset"),
	}
}

func TestRunStuckTargetExhaustsThreeAttempts(t *testing.T) {
	pool := &countingPool{}
	runner := NewRunner(pool, Config{Concurrency: 3, Attempts: 3}, zerolog.Nop())

	var mu sync.Mutex
	attempts := make(map[string]int)

	targets := make([]Target, 10)
	for i := range targets {
		key := fmt.Sprintf("target-%d", i+1)
		targets[i] = Target{
			Key: key,
			Run: func(ctx context.Context, cred proxy.Credential) error {
				mu.Lock()
				attempts[key]++
				mu.Unlock()
				if key == "target-5" {
					return transient(key)
				}
				return nil
			},
		}
	}

	summary := runner.Run(context.Background(), targets, nil)

	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 9, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "target-5", summary.Failures[0].Key)

	assert.Equal(t, 3, attempts["target-5"])
	for i := 1; i <= 10; i++ {
		if i == 5 {
			continue
		}
		assert.Equal(t, 1, attempts[fmt.Sprintf("target-%d", i)])
	}
}

func TestRunRotatesCredentialOnTransientFailure(t *testing.T) {
	pool := &countingPool{}
	runner := NewRunner(pool, Config{Concurrency: 1, Attempts: 3}, zerolog.Nop())

	var seen []string
	targets := []Target{{
		Key: "flaky",
		Run: func(ctx context.Context, cred proxy.Credential) error {
			seen = append(seen, cred.Address)
			return transient("flaky")
		},
	}}

	runner.Run(context.Background(), targets, nil)

	require.Len(t, seen, 3)
	assert.NotEqual(t, seen[0], seen[1])
	assert.NotEqual(t, seen[1], seen[2])
}

func TestRunNonTransientFailureIsFinal(t *testing.T) {
	pool := &countingPool{}
	runner := NewRunner(pool, Config{Concurrency: 1, Attempts: 3}, zerolog.Nop())

	calls := 0
	targets := []Target{{
		Key: "empty",
		Run: func(ctx context.Context, cred proxy.Credential) error {
			calls++
			return &eastmoney.FetchError{Kind: eastmoney.KindEmpty, Target: "empty"}
		},
	}}

	summary := runner.Run(context.Background(), targets, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunAbandonsChunkWithoutCredential(t *testing.T) {
	pool := &brokenPool{}
	runner := NewRunner(pool, Config{Concurrency: 2, Attempts: 3}, zerolog.Nop())

	ran := false
	targets := []Target{
		{Key: "a", Run: func(ctx context.Context, cred proxy.Credential) error { ran = true; return nil }},
		{Key: "b", Run: func(ctx context.Context, cred proxy.Credential) error { ran = true; return nil }},
	}

	summary := runner.Run(context.Background(), targets, nil)

	assert.False(t, ran)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Completed)
	assert.Len(t, summary.Failures, 2)

	// The issuer gets the full attempt budget before the chunk is given up.
	assert.Equal(t, int64(3), pool.acquired.Load())
}

func TestRunRidesOutIssuerHiccup(t *testing.T) {
	pool := &flakyPool{failures: 2}
	runner := NewRunner(pool, Config{Concurrency: 1, Attempts: 3}, zerolog.Nop())

	targets := []Target{
		{Key: "a", Run: func(ctx context.Context, cred proxy.Credential) error { return nil }},
		{Key: "b", Run: func(ctx context.Context, cred proxy.Credential) error { return nil }},
	}

	summary := runner.Run(context.Background(), targets, nil)

	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(3), pool.acquired.Load())
}

func TestRunProgressReachesTotal(t *testing.T) {
	pool := &countingPool{}
	runner := NewRunner(pool, Config{Concurrency: 4, Attempts: 1}, zerolog.Nop())

	targets := make([]Target, 23)
	for i := range targets {
		targets[i] = Target{
			Key: fmt.Sprintf("t%d", i),
			Run: func(ctx context.Context, cred proxy.Credential) error { return nil },
		}
	}

	var mu sync.Mutex
	var last Snapshot
	ordered := true
	summary := runner.Run(context.Background(), targets, func(snap Snapshot) {
		mu.Lock()
		if snap.Completed+snap.Failed <= last.Completed+last.Failed {
			ordered = false
		}
		last = snap
		mu.Unlock()
	})

	assert.Equal(t, 23, summary.Completed)
	assert.True(t, last.Done())
	assert.Equal(t, 23, last.Completed+last.Failed)
	// Snapshots are delivered in counter order, each one target further along.
	assert.True(t, ordered)
}

func TestChunkTargets(t *testing.T) {
	targets := make([]Target, 10)

	t.Run("respects minimum chunk size", func(t *testing.T) {
		chunks := chunkTargets(targets, 10)
		// ceil(10/10)=1 rounds up to the minimum of 5.
		require.Len(t, chunks, 2)
		assert.Len(t, chunks[0], 5)
		assert.Len(t, chunks[1], 5)
	})

	t.Run("balances across workers", func(t *testing.T) {
		big := make([]Target, 100)
		chunks := chunkTargets(big, 4)
		require.Len(t, chunks, 4)
		for _, c := range chunks {
			assert.Len(t, c, 25)
		}
	})

	t.Run("single short chunk", func(t *testing.T) {
		small := make([]Target, 3)
		chunks := chunkTargets(small, 4)
		require.Len(t, chunks, 1)
		assert.Len(t, chunks[0], 3)
	})
}
