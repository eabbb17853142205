// Package snapshot persists fetched market data as msgpack payload files
// with a SQLite index tracking each payload's last write time. The index
// is what the freshness policy consults; the payload files are what the
// scoring pipeline reads back.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wangqi/tailscan/internal/database"
	"github.com/wangqi/tailscan/internal/domain"
)

// Kind partitions snapshot keys by payload type.
type Kind string

const (
	KindSectors  Kind = "sectors"
	KindMembers  Kind = "members"
	KindDaily    Kind = "daily"
	KindIntraday Kind = "intraday"
	KindRanking  Kind = "ranking"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    kind          TEXT NOT NULL,
    key           TEXT NOT NULL,
    path          TEXT NOT NULL,
    size_bytes    INTEGER NOT NULL DEFAULT 0,
    written_at    INTEGER NOT NULL,
    PRIMARY KEY (kind, key)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_kind ON snapshots(kind);
`

// Store reads and writes msgpack snapshots under a base directory.
type Store struct {
	dir string
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a snapshot store rooted at dir and applies the index
// schema.
func NewStore(dir string, db *database.DB, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		return nil, fmt.Errorf("failed to apply snapshot index schema: %w", err)
	}
	return &Store{
		dir: dir,
		db:  db,
		log: log.With().Str("component", "snapshot-store").Logger(),
	}, nil
}

// Dir returns the base directory holding payload files.
func (s *Store) Dir() string {
	return s.dir
}

// LastModified returns the index write time for a key. The zero time with
// ok=false means the key has never been written.
func (s *Store) LastModified(kind Kind, key string) (time.Time, bool) {
	var unix int64
	err := s.db.QueryRow(
		`SELECT written_at FROM snapshots WHERE kind = ? AND key = ?`,
		string(kind), key,
	).Scan(&unix)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}

// save marshals the payload and upserts the index row. The file write and
// the index update are not atomic together; a crash between them makes the
// key look stale, which only triggers a refetch.
func (s *Store) save(kind Kind, key string, payload interface{}, now time.Time) error {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s/%s: %w", kind, key, err)
	}

	path := s.payloadPath(kind, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot subdirectory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot %s/%s: %w", kind, key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO snapshots (kind, key, path, size_bytes, written_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kind, key) DO UPDATE SET
		     path = excluded.path,
		     size_bytes = excluded.size_bytes,
		     written_at = excluded.written_at`,
		string(kind), key, path, len(data), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to index snapshot %s/%s: %w", kind, key, err)
	}

	s.log.Debug().Str("kind", string(kind)).Str("key", key).Int("bytes", len(data)).Msg("Snapshot written")
	return nil
}

// load reads a payload back. Any failure (missing file, unreadable,
// undecodable) reports ok=false rather than an error; a lost snapshot is
// indistinguishable from a never-written one and gets refetched the same
// way.
func (s *Store) load(kind Kind, key string, out interface{}) (time.Time, bool) {
	written, ok := s.LastModified(kind, key)
	if !ok {
		return time.Time{}, false
	}

	data, err := os.ReadFile(s.payloadPath(kind, key))
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Str("key", key).Msg("Snapshot payload missing, treating as absent")
		return time.Time{}, false
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Str("key", key).Msg("Snapshot payload corrupt, treating as absent")
		return time.Time{}, false
	}
	return written, true
}

func (s *Store) payloadPath(kind Kind, key string) string {
	return filepath.Join(s.dir, string(kind), key+".msgpack")
}

// SaveSectors persists the sector universe under a single well-known key.
func (s *Store) SaveSectors(sectors []domain.Sector, now time.Time) error {
	return s.save(KindSectors, "universe", sectors, now)
}

// LoadSectors reads the sector universe back.
func (s *Store) LoadSectors() ([]domain.Sector, time.Time, bool) {
	var sectors []domain.Sector
	written, ok := s.load(KindSectors, "universe", &sectors)
	return sectors, written, ok
}

// SaveMembers persists one sector's member list.
func (s *Store) SaveMembers(sectorID string, members []domain.Member, now time.Time) error {
	return s.save(KindMembers, sectorID, members, now)
}

// LoadMembers reads one sector's member list back.
func (s *Store) LoadMembers(sectorID string) ([]domain.Member, time.Time, bool) {
	var members []domain.Member
	written, ok := s.load(KindMembers, sectorID, &members)
	return members, written, ok
}

// SaveDaily persists one instrument's daily candles.
func (s *Store) SaveDaily(code string, bars []domain.Bar, now time.Time) error {
	return s.save(KindDaily, code, bars, now)
}

// LoadDaily reads one instrument's daily candles back.
func (s *Store) LoadDaily(code string) ([]domain.Bar, time.Time, bool) {
	var bars []domain.Bar
	written, ok := s.load(KindDaily, code, &bars)
	return bars, written, ok
}

// SaveIntraday persists one instrument's minute trend samples.
func (s *Store) SaveIntraday(code string, points []domain.TrendPoint, now time.Time) error {
	return s.save(KindIntraday, code, points, now)
}

// LoadIntraday reads one instrument's minute trend samples back.
func (s *Store) LoadIntraday(code string) ([]domain.TrendPoint, time.Time, bool) {
	var points []domain.TrendPoint
	written, ok := s.load(KindIntraday, code, &points)
	return points, written, ok
}

// SaveRanking persists the coarse sector heat ranking.
func (s *Store) SaveRanking(scores []domain.SectorScore, now time.Time) error {
	return s.save(KindRanking, "top", scores, now)
}

// LoadRanking reads the coarse sector heat ranking back.
func (s *Store) LoadRanking() ([]domain.SectorScore, time.Time, bool) {
	var scores []domain.SectorScore
	written, ok := s.load(KindRanking, "top", &scores)
	return scores, written, ok
}
