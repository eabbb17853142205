package eastmoney

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wangqi/tailscan/internal/domain"
)

// flexFloat tolerates the upstream habit of sending "-" or an empty string
// where a number is missing. Missing values decode to zero; scoring treats
// zero as the neutral default rather than propagating nulls.
type flexFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `"-"` || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(v)
	return nil
}

// listEnvelope is the shared shape of the paginated list endpoints:
// {"data": {"total": N, "rows": [...]}}.
type listEnvelope struct {
	Data struct {
		Total int               `json:"total"`
		Rows  []json.RawMessage `json:"rows"`
	} `json:"data"`
}

// seriesEnvelope is the shape of the kline and trend endpoints, which return
// the full series as comma-separated strings.
type seriesEnvelope struct {
	Data struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
		Trends []string `json:"trends"`
	} `json:"data"`
}

// sectorRow is one universe listing row in upstream field naming.
type sectorRow struct {
	ID             string    `json:"f12"`
	Name           string    `json:"f14"`
	ChangePct      flexFloat `json:"f3"`
	CapitalFlow    flexFloat `json:"f62"`
	TurnoverAmount flexFloat `json:"f66"`
	Amplitude      flexFloat `json:"f78"`
	UpdatedAt      int64     `json:"f124"`
}

func (r sectorRow) toDomain() (domain.Sector, error) {
	if r.ID == "" {
		return domain.Sector{}, fmt.Errorf("sector row missing id")
	}
	return domain.Sector{
		ID:             r.ID,
		Name:           r.Name,
		ChangePct:      float64(r.ChangePct),
		CapitalFlow:    float64(r.CapitalFlow),
		TurnoverAmount: float64(r.TurnoverAmount),
		Amplitude:      float64(r.Amplitude),
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// memberRow is one sector-members listing row.
type memberRow struct {
	Code       string    `json:"f12"`
	Name       string    `json:"f14"`
	ChangePct  flexFloat `json:"f3"`
	MarketCode int       `json:"f13"`
}

func (r memberRow) toDomain(sectorID string) (domain.Member, error) {
	if r.Code == "" {
		return domain.Member{}, fmt.Errorf("member row missing code")
	}
	return domain.Member{
		Code:       r.Code,
		Name:       r.Name,
		SectorID:   sectorID,
		ChangePct:  float64(r.ChangePct),
		MarketCode: r.MarketCode,
	}, nil
}

// stripCallback removes a "json(...)" JSONP wrapper when present. Some list
// endpoints are only served wrapped.
func stripCallback(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if !bytes.HasPrefix(trimmed, []byte("json(")) {
		return trimmed
	}
	trimmed = bytes.TrimPrefix(trimmed, []byte("json("))
	trimmed = bytes.TrimSuffix(trimmed, []byte(");"))
	trimmed = bytes.TrimSuffix(trimmed, []byte(")"))
	return trimmed
}

// parseKline converts one comma-separated candle row:
// date,open,close,high,low,volume,amount,amplitude,pct_chg,chg,turnover_rate
func parseKline(code, line string) (domain.Bar, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 11 {
		return domain.Bar{}, fmt.Errorf("kline row has %d fields, want 11", len(parts))
	}

	date, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("bad kline date %q: %w", parts[0], err)
	}

	nums := make([]float64, 0, 10)
	for _, p := range parts[1:11] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("bad kline field %q: %w", p, err)
		}
		nums = append(nums, v)
	}

	return domain.Bar{
		Code:         code,
		Date:         date,
		Open:         nums[0],
		Close:        nums[1],
		High:         nums[2],
		Low:          nums[3],
		Volume:       nums[4],
		Amount:       nums[5],
		Amplitude:    nums[6],
		PctChg:       nums[7],
		TurnoverRate: nums[9],
	}, nil
}

// parseTrend converts one comma-separated intraday row:
// time,open,close,high,low,volume,amount,avg_price
func parseTrend(code string, loc *time.Location, line string) (domain.TrendPoint, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 8 {
		return domain.TrendPoint{}, fmt.Errorf("trend row has %d fields, want 8", len(parts))
	}

	ts, err := time.ParseInLocation("2006-01-02 15:04", parts[0], loc)
	if err != nil {
		return domain.TrendPoint{}, fmt.Errorf("bad trend timestamp %q: %w", parts[0], err)
	}

	price, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return domain.TrendPoint{}, fmt.Errorf("bad trend price %q: %w", parts[2], err)
	}
	volume, err := strconv.ParseFloat(parts[5], 64)
	if err != nil {
		return domain.TrendPoint{}, fmt.Errorf("bad trend volume %q: %w", parts[5], err)
	}
	amount, err := strconv.ParseFloat(parts[6], 64)
	if err != nil {
		return domain.TrendPoint{}, fmt.Errorf("bad trend amount %q: %w", parts[6], err)
	}
	avg, err := strconv.ParseFloat(parts[7], 64)
	if err != nil {
		return domain.TrendPoint{}, fmt.Errorf("bad trend avg price %q: %w", parts[7], err)
	}

	return domain.TrendPoint{
		Code:      code,
		Timestamp: ts,
		Price:     price,
		AvgPrice:  avg,
		Volume:    volume,
		Amount:    amount,
	}, nil
}
