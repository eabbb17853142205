package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangqi/tailscan/internal/market"
)

// closedCalendar reports every day as a non-trading day.
type closedCalendar struct{}

func (closedCalendar) IsSession(date time.Time) (bool, error) { return false, nil }

type recordingJob struct {
	runs        int
	hadDeadline bool
	err         error
}

func (j *recordingJob) Name() string           { return "recording" }
func (j *recordingJob) Timeout() time.Duration { return time.Minute }
func (j *recordingJob) Run(ctx context.Context) error {
	j.runs++
	_, j.hadDeadline = ctx.Deadline()
	return j.err
}

func newTestScheduler(cal market.Calendar) *Scheduler {
	s := New(market.NewClock(cal), zerolog.Nop())
	// Monday 2026-08-24, an ordinary weekday.
	s.now = func() time.Time {
		return time.Date(2026, 8, 24, 14, 35, 0, 0, time.UTC)
	}
	return s
}

func TestExecuteSkipsNonTradingDay(t *testing.T) {
	s := newTestScheduler(closedCalendar{})
	job := &recordingJob{}

	s.execute(job, true)
	assert.Equal(t, 0, job.runs)
}

func TestExecuteRunsOnTradingDay(t *testing.T) {
	s := newTestScheduler(market.WeekdayCalendar{})
	job := &recordingJob{}

	s.execute(job, true)
	require.Equal(t, 1, job.runs)
	assert.True(t, job.hadDeadline)
}

func TestExecuteUngatedJobIgnoresCalendar(t *testing.T) {
	s := newTestScheduler(closedCalendar{})
	job := &recordingJob{}

	s.execute(job, false)
	assert.Equal(t, 1, job.runs)
}

func TestRunNowBypassesGate(t *testing.T) {
	s := newTestScheduler(closedCalendar{})
	job := &recordingJob{}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)
	assert.True(t, job.hadDeadline)
}

func TestAddRejectsBadSchedule(t *testing.T) {
	s := newTestScheduler(market.WeekdayCalendar{})
	assert.Error(t, s.Add("not a schedule", &recordingJob{}))
	assert.NoError(t, s.AddTradingDay("0 35 14 * * MON-FRI", &recordingJob{}))
}
