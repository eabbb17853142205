// Package pipeline drives the ingestion stage sequence: discover the sector
// universe, rank sectors by heat, resolve members for the top sectors,
// filter and merge the member set, then fetch every member's daily and
// intraday series. Each stage consults the freshness policy so a warm rerun
// only touches what went stale.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wangqi/tailscan/internal/clients/eastmoney"
	"github.com/wangqi/tailscan/internal/domain"
	"github.com/wangqi/tailscan/internal/freshness"
	"github.com/wangqi/tailscan/internal/orchestrator"
	"github.com/wangqi/tailscan/internal/proxy"
	"github.com/wangqi/tailscan/internal/scoring"
	"github.com/wangqi/tailscan/internal/snapshot"
)

// mergedMembersKey is the snapshot key holding the filtered, deduplicated
// member set across all selected sectors.
const mergedMembersKey = "merged"

// ErrRunInProgress is returned when a run is requested while another is
// still executing.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Config tunes a pipeline instance.
type Config struct {
	TopN              int
	Concurrency       int
	SeriesConcurrency int
	Attempts          int
	Blocklist         []string
}

// Pipeline wires the upstream client, snapshot store, freshness policy and
// orchestrator into the stage sequence.
type Pipeline struct {
	client  *eastmoney.Client
	store   *snapshot.Store
	policy  *freshness.Policy
	pool    proxy.Pool
	cfg     Config
	tracker *Tracker
	log     zerolog.Logger
	now     func() time.Time

	runMu    sync.Mutex
	statusMu sync.Mutex // guards the run's Status fields across stage workers
}

// New creates a pipeline. Zero config fields get defaults of top 10 sectors,
// 10 member workers and 25 series workers.
func New(client *eastmoney.Client, store *snapshot.Store, policy *freshness.Policy, pool proxy.Pool, cfg Config, tracker *Tracker, log zerolog.Logger) *Pipeline {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.SeriesConcurrency <= 0 {
		cfg.SeriesConcurrency = 25
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &Pipeline{
		client:  client,
		store:   store,
		policy:  policy,
		pool:    pool,
		cfg:     cfg,
		tracker: tracker,
		log:     log.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
	}
}

// Run executes the full stage sequence. Target-level fetch failures are
// tolerated and reflected in the status counts; a stage producing no usable
// output is fatal to the run.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.runMu.TryLock() {
		return ErrRunInProgress
	}
	defer p.runMu.Unlock()

	runID := uuid.NewString()
	log := p.log.With().Str("run_id", runID).Logger()
	status := Status{RunID: runID, StartedAt: p.now()}

	fail := func(stage Stage, err error) error {
		status.Stage = StageFailed
		status.Error = err.Error()
		status.FinishedAt = p.now()
		p.tracker.Set(status)
		log.Error().Err(err).Str("stage", string(stage)).Msg("Pipeline run failed")
		return err
	}

	log.Info().Int("top_n", p.cfg.TopN).Msg("Pipeline run starting")

	status.Stage = StageUniverse
	p.tracker.Set(status)
	sectors, err := p.discoverUniverse(ctx)
	if err != nil {
		return fail(StageUniverse, err)
	}

	status.Stage = StageRanking
	p.tracker.Set(status)
	top, err := p.rankSectors(sectors)
	if err != nil {
		return fail(StageRanking, err)
	}

	status.Stage = StageMembers
	p.tracker.Set(status)
	if err := p.resolveMembers(ctx, top, &status); err != nil {
		return fail(StageMembers, err)
	}

	status.Stage = StageAggregation
	p.tracker.Set(status)
	members, err := p.aggregateMembers(top)
	if err != nil {
		return fail(StageAggregation, err)
	}

	status.Stage = StageSeries
	p.tracker.Set(status)
	p.fetchSeries(ctx, members, &status)

	status.Stage = StageDone
	status.FinishedAt = p.now()
	p.tracker.Set(status)

	log.Info().
		Int("sectors", len(top)).
		Int("members", len(members)).
		Int("completed", status.Completed).
		Int("failed", status.Failed).
		Msg("Pipeline run finished")
	return nil
}

// discoverUniverse returns a fresh or acceptably-cached sector universe.
// Zero sectors is fatal: every later stage depends on this output.
func (p *Pipeline) discoverUniverse(ctx context.Context) ([]domain.Sector, error) {
	last, _ := p.store.LastModified(snapshot.KindSectors, "universe")
	if !p.policy.NeedsRefresh(last, p.now()) {
		if sectors, _, ok := p.store.LoadSectors(); ok && len(sectors) > 0 {
			p.log.Debug().Int("sectors", len(sectors)).Msg("Sector universe cache still fresh")
			return sectors, nil
		}
	}

	var sectors []domain.Sector
	summary := p.newRunner(1).Run(ctx, []orchestrator.Target{{
		Key: "sector-universe",
		Run: func(ctx context.Context, cred proxy.Credential) error {
			fetched, err := p.client.FetchSectors(ctx, cred)
			if err != nil {
				return err
			}
			sectors = fetched
			return nil
		},
	}}, nil)

	if summary.Failed > 0 || len(sectors) == 0 {
		// The stale cache still beats aborting when upstream is down.
		if cached, _, ok := p.store.LoadSectors(); ok && len(cached) > 0 {
			p.log.Warn().Msg("Universe fetch failed, falling back to stale cache")
			return cached, nil
		}
		return nil, fmt.Errorf("universe discovery produced no sectors")
	}

	if err := p.store.SaveSectors(sectors, p.now()); err != nil {
		p.log.Warn().Err(err).Msg("Failed to persist sector universe")
	}
	return sectors, nil
}

// rankSectors computes heat scores and selects the top N. The ranked list
// is cached with its own coarse TTL, separate from the per-entity policy.
func (p *Pipeline) rankSectors(sectors []domain.Sector) ([]domain.SectorScore, error) {
	if cached, written, ok := p.store.LoadRanking(); ok && !p.policy.RankingStale(written, p.now()) && len(cached) > 0 {
		p.log.Debug().Msg("Sector ranking cache still fresh")
		return cached, nil
	}

	top := scoring.TopSectors(sectors, p.cfg.TopN)
	if len(top) == 0 {
		return nil, fmt.Errorf("heat ranking selected no sectors")
	}
	if err := p.store.SaveRanking(top, p.now()); err != nil {
		p.log.Warn().Err(err).Msg("Failed to persist sector ranking")
	}
	return top, nil
}

// resolveMembers fetches the member list for every selected sector whose
// snapshot is not from today.
func (p *Pipeline) resolveMembers(ctx context.Context, top []domain.SectorScore, status *Status) error {
	targets := make([]orchestrator.Target, 0, len(top))
	for _, score := range top {
		sectorID := score.SectorID
		last, _ := p.store.LastModified(snapshot.KindMembers, sectorID)
		if !p.policy.NeedsRefreshDaily(last, p.now()) {
			continue
		}
		targets = append(targets, orchestrator.Target{
			Key: "members:" + sectorID,
			Run: func(ctx context.Context, cred proxy.Credential) error {
				members, err := p.client.FetchMembers(ctx, sectorID, cred)
				if err != nil {
					return err
				}
				return p.store.SaveMembers(sectorID, members, p.now())
			},
		})
	}
	if len(targets) == 0 {
		return nil
	}

	concurrency := p.cfg.Concurrency
	if len(top) < concurrency {
		concurrency = len(top)
	}
	summary := p.newRunner(concurrency).Run(ctx, targets, p.progressFn(status))
	if summary.Completed == 0 {
		return fmt.Errorf("member resolution failed for all %d sectors", summary.Total)
	}
	return nil
}

// aggregateMembers merges the selected sectors' member lists, applies the
// blocklist, deduplicates and persists the merged set.
func (p *Pipeline) aggregateMembers(top []domain.SectorScore) ([]domain.Member, error) {
	var all []domain.Member
	for _, score := range top {
		members, _, ok := p.store.LoadMembers(score.SectorID)
		if !ok {
			continue
		}
		all = append(all, members...)
	}

	merged := FilterMembers(all, p.cfg.Blocklist)
	if len(merged) == 0 {
		return nil, fmt.Errorf("aggregation produced no tradable members")
	}
	if err := p.store.SaveMembers(mergedMembersKey, merged, p.now()); err != nil {
		p.log.Warn().Err(err).Msg("Failed to persist merged member set")
	}

	p.log.Info().Int("raw", len(all)).Int("merged", len(merged)).Msg("Aggregated member set")
	return merged, nil
}

// fetchSeries runs the daily and intraday passes concurrently; the two
// write disjoint snapshot keys.
func (p *Pipeline) fetchSeries(ctx context.Context, members []domain.Member, status *Status) {
	var wg sync.WaitGroup

	run := func(kind snapshot.Kind, fetch func(context.Context, domain.Member, proxy.Credential) error) {
		defer wg.Done()

		targets := make([]orchestrator.Target, 0, len(members))
		for _, m := range members {
			member := m
			last, _ := p.store.LastModified(kind, member.Code)
			if !p.policy.NeedsRefresh(last, p.now()) {
				continue
			}
			targets = append(targets, orchestrator.Target{
				Key: string(kind) + ":" + member.Code,
				Run: func(ctx context.Context, cred proxy.Credential) error {
					return fetch(ctx, member, cred)
				},
			})
		}
		if len(targets) == 0 {
			return
		}
		p.newRunner(p.cfg.SeriesConcurrency).Run(ctx, targets, p.progressFn(status))
	}

	wg.Add(2)
	go run(snapshot.KindDaily, func(ctx context.Context, m domain.Member, cred proxy.Credential) error {
		bars, err := p.client.FetchDaily(ctx, m, cred)
		if err != nil {
			return err
		}
		return p.store.SaveDaily(m.Code, bars, p.now())
	})
	go run(snapshot.KindIntraday, func(ctx context.Context, m domain.Member, cred proxy.Credential) error {
		points, err := p.client.FetchIntraday(ctx, m, cred)
		if err != nil {
			return err
		}
		return p.store.SaveIntraday(m.Code, points, p.now())
	})
	wg.Wait()
}

func (p *Pipeline) newRunner(concurrency int) *orchestrator.Runner {
	return orchestrator.NewRunner(p.pool, orchestrator.Config{
		Concurrency: concurrency,
		Attempts:    p.cfg.Attempts,
	}, p.log)
}

// progressFn folds orchestrator progress into the run status. The two
// series passes share one status, so counts accumulate rather than replace.
func (p *Pipeline) progressFn(status *Status) func(orchestrator.Snapshot) {
	var prev orchestrator.Snapshot
	return func(snap orchestrator.Snapshot) {
		p.statusMu.Lock()
		status.Completed += snap.Completed - prev.Completed
		status.Failed += snap.Failed - prev.Failed
		status.Total += snap.Total - prev.Total
		prev = snap
		current := *status
		p.statusMu.Unlock()
		p.tracker.Set(current)
	}
}
