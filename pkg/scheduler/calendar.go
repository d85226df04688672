package scheduler

import "time"

// Calendar is a predicate on instants that masks out otherwise-eligible
// fire times. Triggers consult their named calendar (resolved by the job
// store) when computing fire times.
type Calendar interface {
	// IsTimeIncluded reports whether firing is allowed at t.
	IsTimeIncluded(t time.Time) bool
	// NextIncludedTime returns the start (midnight) of the first included
	// day after the day containing t, or the zero time when the scan finds
	// none.
	NextIncludedTime(t time.Time) time.Time
}

// WeeklyCalendar excludes whole days of the week.
type WeeklyCalendar struct {
	excluded [7]bool
}

// NewWeeklyCalendar excludes the given weekdays.
func NewWeeklyCalendar(excluded ...time.Weekday) *WeeklyCalendar {
	c := &WeeklyCalendar{}
	for _, d := range excluded {
		c.excluded[d] = true
	}
	return c
}

func (c *WeeklyCalendar) IsTimeIncluded(t time.Time) bool {
	return !c.excluded[t.Weekday()]
}

func (c *WeeklyCalendar) NextIncludedTime(t time.Time) time.Time {
	// At most a week of excluded days; start of the next included day.
	next := t
	for i := 0; i < 8; i++ {
		if c.IsTimeIncluded(next) && next.After(t) {
			return next
		}
		y, m, d := next.Date()
		next = time.Date(y, m, d, 0, 0, 0, 0, next.Location()).AddDate(0, 0, 1)
	}
	return time.Time{}
}

// HolidayCalendar excludes specific dates, ignoring the time of day.
type HolidayCalendar struct {
	dates map[string]struct{}
}

func NewHolidayCalendar(dates ...time.Time) *HolidayCalendar {
	c := &HolidayCalendar{dates: make(map[string]struct{}, len(dates))}
	for _, d := range dates {
		c.dates[dayKey(d)] = struct{}{}
	}
	return c
}

// AddExcludedDate marks a date as a holiday.
func (c *HolidayCalendar) AddExcludedDate(d time.Time) {
	c.dates[dayKey(d)] = struct{}{}
}

func (c *HolidayCalendar) IsTimeIncluded(t time.Time) bool {
	_, excluded := c.dates[dayKey(t)]
	return !excluded
}

func (c *HolidayCalendar) NextIncludedTime(t time.Time) time.Time {
	next := t
	// Bounded walk; consecutive holidays are finite in practice but keep
	// a hard stop so a fully excluded calendar cannot spin.
	for i := 0; i < maxCalendarScanDays; i++ {
		if c.IsTimeIncluded(next) && next.After(t) {
			return next
		}
		y, m, d := next.Date()
		next = time.Date(y, m, d, 0, 0, 0, 0, next.Location()).AddDate(0, 0, 1)
	}
	return time.Time{}
}

// maxCalendarScanDays bounds holiday scans; five years of consecutive
// exclusions means the calendar is effectively empty.
const maxCalendarScanDays = 366 * 5

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
