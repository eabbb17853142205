// Package freshness decides whether a cached snapshot is still usable.
//
// Two policies coexist intentionally. The fine policy tracks the trading day
// minute by minute and drives every per-entity fetch decision. The coarse
// policy only governs the ranked-sector cache: it widens to a four hour
// window outside active sessions so sector rankings stay stable after the
// close instead of being rescored on every request.
package freshness

import (
	"time"

	"github.com/wangqi/tailscan/internal/market"
)

// Policy is the fine-grained, session-aware freshness rule.
type Policy struct {
	clock *market.Clock
}

// NewPolicy creates a freshness policy bound to a session clock.
func NewPolicy(clock *market.Clock) *Policy {
	return &Policy{clock: clock}
}

// NeedsRefresh reports whether a snapshot with the given last-modified time
// must be refetched at time now. A zero lastModified means the entity has
// never been fetched.
//
// Rules, in order:
//   - never fetched: refresh
//   - non-trading day: refresh only when the snapshot is not from today
//   - morning or afternoon session: always refresh
//   - snapshot not from today: refresh
//   - lunch break: refresh unless the snapshot itself was written during
//     the break (stops refetch storms between 11:30 and 13:00)
//   - past the close: refresh unless the snapshot was written after the
//     close boundary
func (p *Policy) NeedsRefresh(lastModified, now time.Time) bool {
	if lastModified.IsZero() {
		return true
	}

	loc := p.clock.Location()
	now = now.In(loc)
	lastModified = lastModified.In(loc)
	session := p.clock.SessionAt(now)

	if session == market.NonTradingDay {
		return !sameDate(lastModified, now)
	}

	if session == market.MorningSession || session == market.AfternoonSession {
		return true
	}

	if !sameDate(lastModified, now) {
		return true
	}

	if session == market.LunchBreak {
		start, end := p.clock.LunchWindow(now)
		inWindow := !lastModified.Before(start) && !lastModified.After(end)
		return !inWindow
	}

	if session == market.AfterHours {
		close := p.clock.CloseTime(now)
		refreshed := !lastModified.Before(close) && !lastModified.After(now)
		return !refreshed
	}

	// PreOpen with a same-day snapshot: nothing new can have happened yet.
	return false
}

// NeedsRefreshDaily is the simple daily-grain rule: refresh when the
// snapshot is missing or not from today. Used for sector member lists,
// which only need one fetch per trading day.
func (p *Policy) NeedsRefreshDaily(lastModified, now time.Time) bool {
	if lastModified.IsZero() {
		return true
	}
	loc := p.clock.Location()
	return !sameDate(lastModified.In(loc), now.In(loc))
}

// Coarse cache windows for the ranked-sector snapshot.
const (
	activeRankingTTL = 30 * time.Minute
	closedRankingTTL = 4 * time.Hour
)

// RankingTTL returns the validity window for the ranked-sector cache at the
// given moment: 30 minutes while the market day is in progress, 4 hours
// otherwise.
func (p *Policy) RankingTTL(now time.Time) time.Duration {
	if p.clock.SessionAt(now).Active() {
		return activeRankingTTL
	}
	return closedRankingTTL
}

// RankingStale reports whether the ranked-sector cache has outlived its
// session-dependent window.
func (p *Policy) RankingStale(lastModified, now time.Time) bool {
	if lastModified.IsZero() {
		return true
	}
	return now.Sub(lastModified) > p.RankingTTL(now)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
