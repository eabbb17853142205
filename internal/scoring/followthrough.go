package scoring

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/wangqi/tailscan/internal/domain"
)

// smallBodyThreshold separates doji-like candles from normal bodies, in
// absolute price units.
const smallBodyThreshold = 0.5

// smallBodyUpperShadowCap is the absolute upper-shadow ceiling applied to
// small-body candles during selection.
const smallBodyUpperShadowCap = 2.0

// Params tunes instrument selection and scoring.
type Params struct {
	MinPctChg           float64 `yaml:"min_pct_chg"`
	MaxPctChg           float64 `yaml:"max_pct_chg"`
	MinVolumeRatio      float64 `yaml:"min_volume_ratio"`
	MaxVolumeRatio      float64 `yaml:"max_volume_ratio"`
	MaxPositionRatio    float64 `yaml:"max_position_ratio"`
	MaxUpperShadowRatio float64 `yaml:"max_upper_shadow_ratio"`

	PriceWeight     float64 `yaml:"price_weight"`
	VolumeWeight    float64 `yaml:"volume_weight"`
	TechnicalWeight float64 `yaml:"technical_weight"`
	PositionWeight  float64 `yaml:"position_weight"`

	RiskCeiling float64 `yaml:"risk_ceiling"`

	LookbackDays   int `yaml:"lookback_days"`
	VolumeMAPeriod int `yaml:"volume_ma_period"`
}

// DefaultParams returns the balanced parameter set.
func DefaultParams() Params {
	return Params{
		MinPctChg:           1.0,
		MaxPctChg:           6.0,
		MinVolumeRatio:      1.1,
		MaxVolumeRatio:      3.0,
		MaxPositionRatio:    0.85,
		MaxUpperShadowRatio: 0.5,
		PriceWeight:         0.25,
		VolumeWeight:        0.25,
		TechnicalWeight:     0.25,
		PositionWeight:      0.25,
		RiskCeiling:         80,
		LookbackDays:        20,
		VolumeMAPeriod:      10,
	}
}

// Features are the candle-derived signals driving selection and scoring.
type Features struct {
	PctChg        float64
	Close         float64
	VolumeRatio   float64
	PositionRatio float64
	UpperShadow   float64
	LowerShadow   float64
	BodyLength    float64
}

// ExtractFeatures derives today's signals from a daily bar sequence sorted
// by ascending date. It needs at least max(LookbackDays, VolumeMAPeriod)
// bars of history.
func ExtractFeatures(bars []domain.Bar, p Params) (Features, error) {
	need := p.LookbackDays
	if p.VolumeMAPeriod > need {
		need = p.VolumeMAPeriod
	}
	if len(bars) < need {
		return Features{}, fmt.Errorf("need %d bars, have %d", need, len(bars))
	}

	today := bars[len(bars)-1]

	volumes := make([]float64, p.VolumeMAPeriod)
	for i := 0; i < p.VolumeMAPeriod; i++ {
		volumes[i] = bars[len(bars)-p.VolumeMAPeriod+i].Volume
	}
	avgVolume := stat.Mean(volumes, nil)

	volumeRatio := 0.0
	if avgVolume > 0 {
		volumeRatio = today.Volume / avgVolume
	}

	highN, lowN := bars[len(bars)-p.LookbackDays].High, bars[len(bars)-p.LookbackDays].Low
	for _, bar := range bars[len(bars)-p.LookbackDays:] {
		if bar.High > highN {
			highN = bar.High
		}
		if bar.Low < lowN {
			lowN = bar.Low
		}
	}
	positionRatio := 0.0
	if highN > lowN {
		positionRatio = (today.Close - lowN) / (highN - lowN)
	}

	maxOC, minOC := today.Open, today.Open
	if today.Close > maxOC {
		maxOC = today.Close
	}
	if today.Close < minOC {
		minOC = today.Close
	}

	body := today.Close - today.Open
	if body < 0 {
		body = -body
	}

	return Features{
		PctChg:        today.PctChg,
		Close:         today.Close,
		VolumeRatio:   volumeRatio,
		PositionRatio: positionRatio,
		UpperShadow:   today.High - maxOC,
		LowerShadow:   minOC - today.Low,
		BodyLength:    body,
	}, nil
}

// FollowThroughScore estimates next-session continuation on a 0-100 scale.
// Bars must be sorted by ascending date.
func FollowThroughScore(f Features, bars []domain.Bar, p Params) float64 {
	score := 0.0

	switch {
	case f.PctChg >= 2.0 && f.PctChg <= 4.0:
		score += 25 * p.PriceWeight
	case f.PctChg >= 1.0 && f.PctChg < 2.0:
		score += 20 * p.PriceWeight
	case f.PctChg > 4.0 && f.PctChg <= 6.0:
		score += 15 * p.PriceWeight
	}

	switch {
	case f.VolumeRatio >= 1.5 && f.VolumeRatio <= 2.5:
		score += 25 * p.VolumeWeight
	case f.VolumeRatio >= 1.2 && f.VolumeRatio < 1.5:
		score += 20 * p.VolumeWeight
	case f.VolumeRatio > 2.5 && f.VolumeRatio <= 3.0:
		score += 15 * p.VolumeWeight
	default:
		score += 10 * p.VolumeWeight
	}

	if f.BodyLength > 0 {
		shadowRatio := f.LowerShadow / f.BodyLength
		switch {
		case shadowRatio >= 0.8:
			score += 25 * p.TechnicalWeight
		case shadowRatio >= 0.5:
			score += 20 * p.TechnicalWeight
		case shadowRatio >= 0.2:
			score += 15 * p.TechnicalWeight
		default:
			score += 10 * p.TechnicalWeight
		}
	} else {
		// Doji: no body to ratio against, reward any lower support.
		if f.LowerShadow >= 0 {
			score += 20 * p.TechnicalWeight
		} else {
			score += 15 * p.TechnicalWeight
		}
	}

	switch {
	case f.PositionRatio <= 0.4:
		score += 20 * p.PositionWeight
	case f.PositionRatio <= 0.6:
		score += 15 * p.PositionWeight
	case f.PositionRatio <= 0.8:
		score += 10 * p.PositionWeight
	default:
		score += 5 * p.PositionWeight
	}

	score += maSlopeBonus(bars)

	if score > 100 {
		score = 100
	}
	return score
}

// maSlopeBonus rewards a rising 3-session moving average: +5 when the MA3
// gained more than 1% over the last three sessions, +3 for any gain.
func maSlopeBonus(bars []domain.Bar) float64 {
	if len(bars) < 6 {
		return 0
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	ma3 := talib.Sma(closes, 3)
	current := ma3[len(ma3)-1]
	prior := ma3[len(ma3)-4]
	if prior == 0 {
		return 0
	}

	slope := (current - prior) / prior * 100
	switch {
	case slope > 1:
		return 5
	case slope > 0:
		return 3
	default:
		return 0
	}
}

// ScoreTier maps a follow-through score to a coarse confidence label.
func ScoreTier(score float64) string {
	switch {
	case score >= 75:
		return "high"
	case score >= 65:
		return "medium"
	case score >= 50:
		return "low"
	default:
		return "weak"
	}
}

// PassesSelection applies the hard gates. Risk is evaluated separately and
// compared against the ceiling here so the gate set stays in one place.
func PassesSelection(f Features, riskScore float64, p Params) bool {
	if f.PctChg < p.MinPctChg || f.PctChg > p.MaxPctChg {
		return false
	}
	if f.VolumeRatio < p.MinVolumeRatio || f.VolumeRatio > p.MaxVolumeRatio {
		return false
	}

	if f.BodyLength <= smallBodyThreshold {
		if f.UpperShadow > smallBodyUpperShadowCap {
			return false
		}
	} else {
		if f.LowerShadow < f.UpperShadow*0.8 {
			return false
		}
		if f.UpperShadow > f.BodyLength*p.MaxUpperShadowRatio {
			return false
		}
	}

	if f.PositionRatio > p.MaxPositionRatio {
		return false
	}
	if riskScore > p.RiskCeiling {
		return false
	}
	return true
}
