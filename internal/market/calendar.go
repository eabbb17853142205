package market

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Calendar answers whether a given date has a trading session.
// Implementations may consult an external calendar source; errors make the
// Clock fall back to plain weekday checks.
type Calendar interface {
	IsSession(date time.Time) (bool, error)
}

// WeekdayCalendar treats every Monday-Friday as a trading day.
// It is the fallback when no holiday data is available.
type WeekdayCalendar struct{}

// IsSession implements Calendar.
func (WeekdayCalendar) IsSession(date time.Time) (bool, error) {
	return isWeekday(date), nil
}

// HolidayCalendar is a weekday calendar minus an explicit closure list.
// Closure dates come from a plain text file, one YYYY-MM-DD per line
// (comments start with '#'). The file is re-read lazily per year lookup
// and cached.
type HolidayCalendar struct {
	path string

	mu       sync.Mutex
	loaded   bool
	closures map[string]struct{} // keyed by YYYY-MM-DD
}

// NewHolidayCalendar creates a calendar backed by a closure-list file.
func NewHolidayCalendar(path string) *HolidayCalendar {
	return &HolidayCalendar{path: path}
}

// IsSession implements Calendar. A missing or unreadable closure file is an
// error so the caller can degrade to the weekday rule.
func (c *HolidayCalendar) IsSession(date time.Time) (bool, error) {
	if !isWeekday(date) {
		return false, nil
	}

	closures, err := c.closureSet()
	if err != nil {
		return false, err
	}

	_, closed := closures[date.Format("2006-01-02")]
	return !closed, nil
}

func (c *HolidayCalendar) closureSet() (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.closures, nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open closure list: %w", err)
	}
	defer f.Close()

	closures := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := time.Parse("2006-01-02", line); err != nil {
			return nil, fmt.Errorf("bad closure date %q: %w", line, err)
		}
		closures[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read closure list: %w", err)
	}

	c.closures = closures
	c.loaded = true
	return c.closures, nil
}
