package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangqi/tailscan/internal/clients/eastmoney"
	"github.com/wangqi/tailscan/internal/config"
	"github.com/wangqi/tailscan/internal/database"
	"github.com/wangqi/tailscan/internal/freshness"
	"github.com/wangqi/tailscan/internal/market"
	"github.com/wangqi/tailscan/internal/proxy"
	"github.com/wangqi/tailscan/internal/snapshot"
)

// fakeUpstream serves a two-sector universe whose members carry enough
// daily history for scoring. 600519 gets the textbook setup candle.
type fakeUpstream struct {
	requests atomic.Int64
}

func (f *fakeUpstream) handler() http.Handler {
	members := map[string][]string{
		"BK0001": {
			`{"f12":"600519","f14":"贵州茅台","f3":3.0,"f13":1}`,
			`{"f12":"000002","f14":"ST大集","f3":2.0,"f13":0}`,
		},
		"BK0002": {
			`{"f12":"600519","f14":"贵州茅台","f3":3.0,"f13":1}`,
			`{"f12":"000001","f14":"平安银行","f3":0.2,"f13":0}`,
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)

		switch r.URL.Path {
		case "/api/qt/clist/get":
			fs := r.URL.Query().Get("fs")
			if strings.HasPrefix(fs, "b:") {
				rows := members[strings.TrimPrefix(fs, "b:")]
				fmt.Fprintf(w, `{"data":{"total":%d,"rows":[%s]}}`, len(rows), strings.Join(rows, ","))
				return
			}
			fmt.Fprint(w, `{"data":{"total":2,"rows":[
				{"f12":"BK0001","f14":"半导体","f3":5.0,"f62":2000000000},
				{"f12":"BK0002","f14":"白酒","f3":1.0,"f62":500000000}
			]}}`)

		case "/api/qt/stock/kline/get":
			withSetup := r.URL.Query().Get("secid") == "1.600519"
			fmt.Fprintf(w, `{"data":{"code":"x","klines":[%s]}}`, strings.Join(testKlines(withSetup), ","))

		case "/api/qt/stock/trends2/get":
			fmt.Fprint(w, `{"data":{"code":"x","trends":["2026-08-24 14:35,11.9,12.0,12.0,11.9,120,1440,11.95"]}}`)

		default:
			http.NotFound(w, r)
		}
	})
}

// testKlines returns 24 flat bars, then either the ideal setup candle or
// one more flat bar.
func testKlines(withSetup bool) []string {
	lines := make([]string, 0, 25)
	day := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24; i++ {
		d := day.AddDate(0, 0, i)
		lines = append(lines, fmt.Sprintf(`"%s,10,10,19,9,100,1000,2.0,0.0,0.0,0.5"`, d.Format("2006-01-02")))
	}
	if withSetup {
		lines = append(lines, `"2026-08-24,11,12,12.2,10.1,225,2700,21,3.0,0.35,0.5"`)
	} else {
		lines = append(lines, `"2026-08-24,10,10,19,9,100,1000,2.0,0.0,0.0,0.5"`)
	}
	return lines
}

func newTestPipeline(t *testing.T, upstream *fakeUpstream) (*Pipeline, *snapshot.Store, *Tracker, func() time.Time) {
	t.Helper()

	ts := httptest.NewServer(upstream.handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "index.db"),
		Profile: database.ProfileCache,
		Name:    "snapshot-index",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := snapshot.NewStore(filepath.Join(dir, "snapshots"), db, zerolog.Nop())
	require.NoError(t, err)

	clock := market.NewClock(market.WeekdayCalendar{})
	policy := freshness.NewPolicy(clock)

	client := eastmoney.NewClient(eastmoney.Config{
		ListBaseURL: ts.URL,
		HistBaseURL: ts.URL,
		PageSize:    100,
		Timeout:     2 * time.Second,
	}, zerolog.Nop())

	// Monday 2026-08-24 16:00 Shanghai: after the close, snapshots written
	// now are final for the day.
	fixedNow := func() time.Time {
		return time.Date(2026, 8, 24, 16, 0, 0, 0, clock.Location())
	}

	tracker := NewTracker()
	pipe := New(client, store, policy, proxy.Static{}, Config{
		TopN:      2,
		Blocklist: []string{"*ST", "ST", "退市", "N"},
	}, tracker, zerolog.Nop())
	pipe.now = fixedNow

	return pipe, store, tracker, fixedNow
}

func TestPipelineRunEndToEnd(t *testing.T) {
	upstream := &fakeUpstream{}
	pipe, store, tracker, _ := newTestPipeline(t, upstream)

	require.NoError(t, pipe.Run(context.Background()))

	status := tracker.Current()
	assert.Equal(t, StageDone, status.Stage)
	assert.Equal(t, 0, status.Failed)
	assert.NotEmpty(t, status.RunID)

	// Blocked ST name dropped, 600519 deduplicated across sectors.
	merged, _, ok := store.LoadMembers("merged")
	require.True(t, ok)
	require.Len(t, merged, 2)
	assert.Equal(t, "600519", merged[0].Code)
	assert.Equal(t, "000001", merged[1].Code)

	ranking, _, ok := store.LoadRanking()
	require.True(t, ok)
	require.Len(t, ranking, 2)
	assert.Equal(t, "BK0001", ranking[0].SectorID)

	bars, _, ok := store.LoadDaily("600519")
	require.True(t, ok)
	assert.Len(t, bars, 25)

	points, _, ok := store.LoadIntraday("000001")
	require.True(t, ok)
	assert.Len(t, points, 1)
}

func TestPipelineWarmRerunFetchesNothing(t *testing.T) {
	upstream := &fakeUpstream{}
	pipe, _, _, _ := newTestPipeline(t, upstream)

	require.NoError(t, pipe.Run(context.Background()))
	cold := upstream.requests.Load()
	require.Greater(t, cold, int64(0))

	require.NoError(t, pipe.Run(context.Background()))
	assert.Equal(t, cold, upstream.requests.Load(), "warm rerun must hit the upstream zero times")
}

func TestPipelineRejectsConcurrentRun(t *testing.T) {
	upstream := &fakeUpstream{}
	pipe, _, _, _ := newTestPipeline(t, upstream)

	pipe.runMu.Lock()
	defer pipe.runMu.Unlock()

	err := pipe.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestCandidateServiceSelectsSetupCandle(t *testing.T) {
	upstream := &fakeUpstream{}
	pipe, store, _, fixedNow := newTestPipeline(t, upstream)
	require.NoError(t, pipe.Run(context.Background()))

	params, err := config.PresetParams(config.PresetBalanced)
	require.NoError(t, err)

	svc := NewCandidateService(store, params, zerolog.Nop())
	svc.now = fixedNow

	candidates := svc.TopCandidates(10)

	// 600519 carries the setup candle; 000001 fails the pct gate (+0% day).
	require.Len(t, candidates, 1)
	got := candidates[0]
	assert.Equal(t, "600519", got.Code)
	assert.InDelta(t, 3.0, got.PctChg, 1e-9)
	assert.InDelta(t, 2.0, got.VolumeRatio, 1e-9)
	assert.InDelta(t, 28.75, got.Score, 1e-9)
	assert.Equal(t, "weak", got.ScoreTier)
	assert.Equal(t, "low", got.RiskLevel)
}
