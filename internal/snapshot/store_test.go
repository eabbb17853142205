package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangqi/tailscan/internal/database"
	"github.com/wangqi/tailscan/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "index.db"),
		Profile: database.ProfileCache,
		Name:    "snapshot-index",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(filepath.Join(dir, "snapshots"), db, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestSectorsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	written := time.Date(2026, 8, 24, 15, 5, 0, 0, time.UTC)

	sectors := []domain.Sector{
		{ID: "BK0001", Name: "半导体", ChangePct: 3.2, CapitalFlow: 1.5e9},
		{ID: "BK0002", Name: "白酒", ChangePct: -1.1},
	}
	require.NoError(t, store.SaveSectors(sectors, written))

	got, lastModified, ok := store.LoadSectors()
	require.True(t, ok)
	assert.Equal(t, sectors, got)
	assert.Equal(t, written.Unix(), lastModified.Unix())
}

func TestLoadMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, _, ok := store.LoadDaily("600519")
	assert.False(t, ok)

	_, ok = store.LastModified(KindDaily, "600519")
	assert.False(t, ok)
}

func TestLoadCorruptPayloadIsCacheMiss(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	bars := []domain.Bar{{Code: "600519", Close: 1500}}
	require.NoError(t, store.SaveDaily("600519", bars, now))

	path := store.payloadPath(KindDaily, "600519")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack"), 0644))

	_, _, ok := store.LoadDaily("600519")
	assert.False(t, ok)
}

func TestLoadDeletedPayloadIsCacheMiss(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	members := []domain.Member{{Code: "000001", Name: "平安银行", SectorID: "BK0001"}}
	require.NoError(t, store.SaveMembers("BK0001", members, now))
	require.NoError(t, os.Remove(store.payloadPath(KindMembers, "BK0001")))

	_, _, ok := store.LoadMembers("BK0001")
	assert.False(t, ok)
}

func TestSaveOverwritesAndBumpsTimestamp(t *testing.T) {
	store := newTestStore(t)
	first := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)

	require.NoError(t, store.SaveDaily("600519", []domain.Bar{{Code: "600519", Close: 1500}}, first))
	require.NoError(t, store.SaveDaily("600519", []domain.Bar{{Code: "600519", Close: 1510}}, second))

	bars, lastModified, ok := store.LoadDaily("600519")
	require.True(t, ok)
	require.Len(t, bars, 1)
	assert.Equal(t, 1510.0, bars[0].Close)
	assert.Equal(t, second.Unix(), lastModified.Unix())
}

func TestRankingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	scores := []domain.SectorScore{
		{SectorID: "BK0001", Total: 72.5, Tier: "warm", Components: map[string]float64{"price": 80}},
	}
	require.NoError(t, store.SaveRanking(scores, now))

	got, _, ok := store.LoadRanking()
	require.True(t, ok)
	assert.Equal(t, scores, got)
}

func TestKindsAreDisjoint(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.SaveDaily("600519", []domain.Bar{{Code: "600519"}}, now))

	// The same key under another kind stays independent.
	_, _, ok := store.LoadIntraday("600519")
	assert.False(t, ok)

	require.NoError(t, store.SaveIntraday("600519", []domain.TrendPoint{{Code: "600519"}}, now))
	points, _, ok := store.LoadIntraday("600519")
	require.True(t, ok)
	assert.Len(t, points, 1)
}
