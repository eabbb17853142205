package pipeline

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/wangqi/tailscan/internal/config"
	"github.com/wangqi/tailscan/internal/domain"
	"github.com/wangqi/tailscan/internal/scoring"
	"github.com/wangqi/tailscan/internal/snapshot"
)

// CandidateService scores the merged member set against the persisted daily
// series and serves the ranked candidate list.
type CandidateService struct {
	store  *snapshot.Store
	params config.StrategyParams
	log    zerolog.Logger
	now    func() time.Time
}

// NewCandidateService creates a candidate service using the given strategy
// parameters.
func NewCandidateService(store *snapshot.Store, params config.StrategyParams, log zerolog.Logger) *CandidateService {
	return &CandidateService{
		store:  store,
		params: params,
		log:    log.With().Str("component", "candidates").Logger(),
		now:    time.Now,
	}
}

// TopCandidates scores every merged member and returns the n best by
// follow-through score, ties broken by ascending code. Members with missing
// or short history are skipped, not errors.
func (s *CandidateService) TopCandidates(n int) []domain.Candidate {
	members, _, ok := s.store.LoadMembers(mergedMembersKey)
	if !ok {
		s.log.Warn().Msg("No merged member snapshot, run the pipeline first")
		return nil
	}

	at := s.now()
	candidates := make([]domain.Candidate, 0, len(members))
	skipped := 0

	for _, m := range members {
		bars, _, ok := s.store.LoadDaily(m.Code)
		if !ok {
			skipped++
			continue
		}

		features, err := scoring.ExtractFeatures(bars, s.params.Params)
		if err != nil {
			skipped++
			continue
		}

		risk := scoring.RiskScore(features, at)
		if !scoring.PassesSelection(features, risk, s.params.Params) {
			continue
		}

		score := scoring.FollowThroughScore(features, bars, s.params.Params)
		candidates = append(candidates, domain.Candidate{
			Code:          m.Code,
			Name:          m.Name,
			SectorID:      m.SectorID,
			Close:         features.Close,
			PctChg:        features.PctChg,
			VolumeRatio:   features.VolumeRatio,
			PositionRatio: features.PositionRatio,
			Score:         score,
			ScoreTier:     scoring.ScoreTier(score),
			RiskScore:     risk,
			RiskLevel:     scoring.RiskLevel(risk, s.params.ModerateRiskThreshold, s.params.HighRiskThreshold),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Code < candidates[j].Code
	})

	if skipped > 0 {
		s.log.Debug().Int("skipped", skipped).Int("selected", len(candidates)).Msg("Candidate scan finished")
	}

	if n > 0 && n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}
