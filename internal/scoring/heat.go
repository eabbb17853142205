// Package scoring computes the sector heat ranking and the per-instrument
// follow-through and risk scores. Everything here is a pure function of its
// inputs so the same snapshot always produces the same ranking.
package scoring

import (
	"math"
	"sort"

	"github.com/wangqi/tailscan/internal/domain"
)

// Heat component weights. The four components are clamped to [0,100]
// independently before weighting.
const (
	heatWeightPrice     = 0.4
	heatWeightFlow      = 0.3
	heatWeightActivity  = 0.2
	heatWeightTechnical = 0.1
)

// hundredMillion converts CNY amounts to the 亿 unit the formulas expect.
const hundredMillion = 1e8

// amplitudeScale normalizes the raw upstream amplitude indicator.
const amplitudeScale = 1e6

// Heat tier labels by total score.
const (
	TierHot  = "hot"
	TierWarm = "warm"
	TierMild = "mild"
	TierCool = "cool"
	TierCold = "cold"
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// HeatScore computes the weighted heat composite for one sector. Missing
// upstream fields arrive as zero and score as zero signal, never as an error.
func HeatScore(s domain.Sector) domain.SectorScore {
	price := clamp((s.ChangePct+10)*5, 0, 100)
	flow := clamp(s.CapitalFlow/hundredMillion*2+50, 0, 100)
	activity := clamp(math.Log10(math.Abs(s.TurnoverAmount/hundredMillion)+1)*20, 0, 100)
	technical := clamp(math.Abs(s.Amplitude/amplitudeScale)*5, 0, 100)

	total := heatWeightPrice*price +
		heatWeightFlow*flow +
		heatWeightActivity*activity +
		heatWeightTechnical*technical

	return domain.SectorScore{
		SectorID: s.ID,
		Name:     s.Name,
		Components: map[string]float64{
			"price":     price,
			"flow":      flow,
			"activity":  activity,
			"technical": technical,
		},
		Total: total,
		Tier:  HeatTier(total),
	}
}

// HeatTier maps a total heat score to its tier label.
func HeatTier(total float64) string {
	switch {
	case total >= 80:
		return TierHot
	case total >= 60:
		return TierWarm
	case total >= 40:
		return TierMild
	case total >= 20:
		return TierCool
	default:
		return TierCold
	}
}

// RankSectors scores every sector and returns them ordered by descending
// total. Equal totals order by ascending sector ID so the ranking is stable
// under floating-point noise.
func RankSectors(sectors []domain.Sector) []domain.SectorScore {
	scores := make([]domain.SectorScore, 0, len(sectors))
	for _, s := range sectors {
		scores = append(scores, HeatScore(s))
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].SectorID < scores[j].SectorID
	})
	return scores
}

// TopSectors returns the n highest-ranked sectors, or all of them when
// fewer exist.
func TopSectors(sectors []domain.Sector, n int) []domain.SectorScore {
	ranked := RankSectors(sectors)
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
