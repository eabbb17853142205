package scoring

import "time"

// Risk level labels.
const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
	RiskExtreme  = "extreme"
)

// RiskScore sums independent penalty buckets to a 0-100 score, higher is
// riskier. The evaluation time is injected so a score computed for a given
// snapshot is reproducible regardless of when it is recomputed.
func RiskScore(f Features, at time.Time) float64 {
	risk := 0.0

	switch {
	case f.PositionRatio > 0.8:
		risk += 30
	case f.PositionRatio > 0.6:
		risk += 15
	}

	switch {
	case f.VolumeRatio > 3.0:
		risk += 25
	case f.VolumeRatio > 2.5:
		risk += 10
	case f.VolumeRatio < 1.1:
		risk += 10
	}

	if f.BodyLength > 0 {
		if f.UpperShadow > f.BodyLength*0.5 {
			risk += 15
		}
		if f.LowerShadow < f.BodyLength*0.1 {
			risk += 10
		}
	}

	// Entries held into a Friday close carry weekend gap exposure.
	switch at.Weekday() {
	case time.Friday:
		risk += 10
	case time.Saturday, time.Sunday:
		risk += 20
	}

	if risk > 100 {
		risk = 100
	}
	return risk
}

// RiskLevel maps a risk score to its label using the given band thresholds.
func RiskLevel(score, moderate, high float64) string {
	switch {
	case score >= 80:
		return RiskExtreme
	case score >= high:
		return RiskHigh
	case score >= moderate:
		return RiskModerate
	default:
		return RiskLow
	}
}
