package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wangqi/tailscan/internal/pipeline"
)

const (
	afternoonRunTimeout = 20 * time.Minute
	backupTimeout       = 10 * time.Minute
)

// AfternoonScanJob runs the full ingestion pipeline during the late
// afternoon session window. Register it with AddTradingDay so holidays
// are skipped.
type AfternoonScanJob struct {
	pipeline *pipeline.Pipeline
	log      zerolog.Logger
}

// NewAfternoonScanJob creates the scheduled scan job.
func NewAfternoonScanJob(p *pipeline.Pipeline, log zerolog.Logger) *AfternoonScanJob {
	return &AfternoonScanJob{
		pipeline: p,
		log:      log.With().Str("job", "afternoon-scan").Logger(),
	}
}

// Name implements Job.
func (j *AfternoonScanJob) Name() string { return "afternoon-scan" }

// Timeout implements Job.
func (j *AfternoonScanJob) Timeout() time.Duration { return afternoonRunTimeout }

// Run implements Job.
func (j *AfternoonScanJob) Run(ctx context.Context) error {
	return j.pipeline.Run(ctx)
}

// Backuper archives the snapshot directory to remote storage.
type Backuper interface {
	Backup(ctx context.Context) error
}

// BackupJob pushes a snapshot archive after the close.
type BackupJob struct {
	backuper Backuper
	log      zerolog.Logger
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(b Backuper, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backuper: b,
		log:      log.With().Str("job", "snapshot-backup").Logger(),
	}
}

// Name implements Job.
func (j *BackupJob) Name() string { return "snapshot-backup" }

// Timeout implements Job.
func (j *BackupJob) Timeout() time.Duration { return backupTimeout }

// Run implements Job.
func (j *BackupJob) Run(ctx context.Context) error {
	return j.backuper.Backup(ctx)
}
