// Package market provides trading-calendar session state for the Shanghai /
// Shenzhen exchanges. Session boundaries follow the mainland A-share day:
// 09:30-11:30 morning session, 11:30-13:00 lunch break, 13:00-15:00 afternoon
// session.
package market

import "time"

// Session is the trading-calendar phase of a given moment.
type Session int

const (
	// NonTradingDay means the calendar says no session happens today.
	NonTradingDay Session = iota
	// PreOpen is a trading day before 09:30.
	PreOpen
	// MorningSession is 09:30-11:30.
	MorningSession
	// LunchBreak is 11:30-13:00.
	LunchBreak
	// AfternoonSession is 13:00-15:00.
	AfternoonSession
	// AfterHours is a trading day past 15:00.
	AfterHours
)

// String returns a human-readable name for the session.
func (s Session) String() string {
	switch s {
	case NonTradingDay:
		return "NonTradingDay"
	case PreOpen:
		return "PreOpen"
	case MorningSession:
		return "MorningSession"
	case LunchBreak:
		return "LunchBreak"
	case AfternoonSession:
		return "AfternoonSession"
	case AfterHours:
		return "AfterHours"
	default:
		return "Unknown"
	}
}

// Active reports whether the market day is still in progress (morning session,
// lunch break or afternoon session). Used by the coarse ranking cache.
func (s Session) Active() bool {
	return s == MorningSession || s == LunchBreak || s == AfternoonSession
}

// Session boundary minutes-of-day.
const (
	openMinute      = 9*60 + 30  // 09:30
	lunchMinute     = 11*60 + 30 // 11:30
	afternoonMinute = 13 * 60    // 13:00
	closeMinute     = 15 * 60    // 15:00
)

// Clock maps wall-clock time to a Session using a trading calendar.
type Clock struct {
	calendar Calendar
	location *time.Location
}

// NewClock creates a session clock for the given calendar. A nil calendar
// falls back to plain weekday checks.
func NewClock(calendar Calendar) *Clock {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// CST has no DST; a fixed offset is equivalent.
		loc = time.FixedZone("CST", 8*3600)
	}
	if calendar == nil {
		calendar = WeekdayCalendar{}
	}
	return &Clock{calendar: calendar, location: loc}
}

// Location returns the exchange timezone.
func (c *Clock) Location() *time.Location {
	return c.location
}

// SessionAt returns the session state for the given moment.
func (c *Clock) SessionAt(t time.Time) Session {
	local := t.In(c.location)
	if !c.IsTradingDay(local) {
		return NonTradingDay
	}

	minute := local.Hour()*60 + local.Minute()
	switch {
	case minute < openMinute:
		return PreOpen
	case minute < lunchMinute:
		return MorningSession
	case minute < afternoonMinute:
		return LunchBreak
	case minute < closeMinute:
		return AfternoonSession
	default:
		return AfterHours
	}
}

// IsTradingDay reports whether the calendar has a session on t's date.
// Calendar failures degrade to the weekday rule and never propagate.
func (c *Clock) IsTradingDay(t time.Time) bool {
	local := t.In(c.location)

	ok, err := c.calendar.IsSession(local)
	if err != nil {
		return isWeekday(local)
	}
	return ok
}

// CloseTime returns the afternoon close boundary (15:00) for t's date.
func (c *Clock) CloseTime(t time.Time) time.Time {
	local := t.In(c.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 15, 0, 0, 0, c.location)
}

// LunchWindow returns the lunch-break boundaries for t's date.
func (c *Clock) LunchWindow(t time.Time) (start, end time.Time) {
	local := t.In(c.location)
	start = time.Date(local.Year(), local.Month(), local.Day(), 11, 30, 0, 0, c.location)
	end = time.Date(local.Year(), local.Month(), local.Day(), 13, 0, 0, 0, c.location)
	return start, end
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
