// Package domain contains the core data types shared across the ingestion
// pipeline and the scoring engine. The domain layer is pure: no network,
// no storage, no logging.
package domain

import "time"

// Sector is one concept board row from the universe listing.
// Identity is the board ID; a re-fetch fully supersedes the previous row.
type Sector struct {
	ID             string  `json:"id" msgpack:"id"`
	Name           string  `json:"name" msgpack:"name"`
	ChangePct      float64 `json:"change_pct" msgpack:"change_pct"`
	CapitalFlow    float64 `json:"capital_flow" msgpack:"capital_flow"`       // main-capital net inflow, CNY
	TurnoverAmount float64 `json:"turnover_amount" msgpack:"turnover_amount"` // traded amount, CNY
	Amplitude      float64 `json:"amplitude" msgpack:"amplitude"`             // raw amplitude indicator
	UpdatedAt      int64   `json:"updated_at,omitempty" msgpack:"updated_at"` // upstream-reported unix timestamp
}

// Member is one instrument inside a sector's member listing.
type Member struct {
	Code       string  `json:"code" msgpack:"code"`
	Name       string  `json:"name" msgpack:"name"`
	SectorID   string  `json:"sector_id" msgpack:"sector_id"`
	ChangePct  float64 `json:"change_pct" msgpack:"change_pct"`
	MarketCode int     `json:"market_code" msgpack:"market_code"` // exchange prefix: 0 Shenzhen, 1 Shanghai
}

// SecID returns the upstream security identifier ("1.600000" style).
// Shanghai codes start with 6, everything else maps to the Shenzhen prefix.
func (m Member) SecID() string {
	if len(m.Code) > 0 && m.Code[0] == '6' {
		return "1." + m.Code
	}
	return "0." + m.Code
}

// Bar is one daily candle for an instrument.
// Sequences are sorted by ascending date and hold no duplicate dates.
type Bar struct {
	Code         string    `json:"code" msgpack:"code"`
	Date         time.Time `json:"date" msgpack:"date"`
	Open         float64   `json:"open" msgpack:"open"`
	High         float64   `json:"high" msgpack:"high"`
	Low          float64   `json:"low" msgpack:"low"`
	Close        float64   `json:"close" msgpack:"close"`
	Volume       float64   `json:"volume" msgpack:"volume"`
	Amount       float64   `json:"amount" msgpack:"amount"`
	Amplitude    float64   `json:"amplitude" msgpack:"amplitude"`
	PctChg       float64   `json:"pct_chg" msgpack:"pct_chg"`
	TurnoverRate float64   `json:"turnover_rate" msgpack:"turnover_rate"`
}

// TrendPoint is one intraday (minute) sample for an instrument.
type TrendPoint struct {
	Code      string    `json:"code" msgpack:"code"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Price     float64   `json:"price" msgpack:"price"`
	AvgPrice  float64   `json:"avg_price" msgpack:"avg_price"`
	Volume    float64   `json:"volume" msgpack:"volume"`
	Amount    float64   `json:"amount" msgpack:"amount"`
}

// SectorScore is the heat-score view over one Sector. It is recomputed on
// every scoring pass and never treated as authoritative state.
type SectorScore struct {
	SectorID   string             `json:"sector_id" msgpack:"sector_id"`
	Name       string             `json:"name" msgpack:"name"`
	Components map[string]float64 `json:"components" msgpack:"components"`
	Total      float64            `json:"total" msgpack:"total"`
	Tier       string             `json:"tier" msgpack:"tier"`
}

// Candidate is one selected instrument with its follow-through and risk scores.
type Candidate struct {
	Code          string             `json:"code"`
	Name          string             `json:"name"`
	SectorID      string             `json:"sector_id"`
	Close         float64            `json:"close"`
	PctChg        float64            `json:"pct_chg"`
	VolumeRatio   float64            `json:"volume_ratio"`
	PositionRatio float64            `json:"position_ratio"`
	Score         float64            `json:"score"`
	ScoreTier     string             `json:"score_tier"`
	RiskScore     float64            `json:"risk_score"`
	RiskLevel     string             `json:"risk_level"`
	Components    map[string]float64 `json:"components,omitempty"`
}
