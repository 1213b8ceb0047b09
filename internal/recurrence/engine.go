// Package recurrence expands a recurrence pattern and a base time range into
// the concrete occurrences of a booking. Expansion is a pure function of its
// inputs and always bounded.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/roombook/internal/timerange"
)

// Frequency represents supported recurrence intervals.
type Frequency string

const (
	// FrequencyNone indicates a single, non-repeating occurrence.
	FrequencyNone Frequency = "none"
	// FrequencyDaily repeats every Interval days.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly repeats on the selected weekdays every Interval weeks.
	FrequencyWeekly Frequency = "weekly"
	// FrequencyMonthly repeats on the base day-of-month every Interval months.
	FrequencyMonthly Frequency = "monthly"
)

var (
	// ErrInvalidFrequency indicates an unsupported frequency value.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidInterval indicates a non-positive repetition interval.
	ErrInvalidInterval = errors.New("recurrence: interval must be positive")
	// ErrUnboundedPattern indicates that neither an end date nor a count
	// bounds the series.
	ErrUnboundedPattern = errors.New("recurrence: pattern requires an end date or a count")
	// ErrAmbiguousBound indicates that both an end date and a count were set.
	ErrAmbiguousBound = errors.New("recurrence: end date and count are mutually exclusive")
	// ErrInvalidCount indicates a non-positive occurrence count.
	ErrInvalidCount = errors.New("recurrence: count must be positive")
)

// Pattern describes how a booking repeats. A pattern is immutable once
// attached to a booking: exactly one of EndDate or Count bounds the series
// for repeating frequencies.
type Pattern struct {
	Frequency Frequency
	Interval  int
	EndDate   *time.Time
	Count     *int
	// Weekdays selects the days produced by weekly patterns. When empty,
	// the base occurrence's weekday is used.
	Weekdays []time.Weekday
}

// Validate checks the structural invariants of the pattern.
func (p Pattern) Validate() error {
	switch p.Frequency {
	case FrequencyNone:
		return nil
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, p.Frequency)
	}

	if p.Interval <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, p.Interval)
	}
	if p.EndDate != nil && p.Count != nil {
		return ErrAmbiguousBound
	}
	if p.EndDate == nil && p.Count == nil {
		return ErrUnboundedPattern
	}
	if p.Count != nil && *p.Count <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, *p.Count)
	}
	return nil
}

// IsRepeating reports whether the pattern produces more than the base occurrence.
func (p Pattern) IsRepeating() bool {
	return p.Frequency != FrequencyNone && p.Frequency != ""
}

// Expand generates the ordered occurrence ranges for the base range under the
// pattern. Every occurrence keeps the base range's duration and wall-clock
// start time. Generation stops at the earlier of the pattern's own bound
// (EndDate, inclusive on the occurrence start, or Count) and maxOccurrences,
// a hard ceiling protecting against runaway series.
//
// Monthly expansion preserves the base day-of-month and skips months where
// that day does not exist (day 31 in a 30-day month produces no occurrence
// for that month, it does not roll to month end). Skipped months do not
// consume the count.
//
// Weekly expansion walks 7-day blocks anchored at the base date; within each
// included block the selected weekdays are produced in chronological order.
func Expand(base timerange.Range, pattern Pattern, maxOccurrences int) ([]timerange.Range, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	if maxOccurrences <= 0 {
		maxOccurrences = 1
	}

	if !pattern.IsRepeating() {
		return []timerange.Range{base}, nil
	}

	gen := &generator{
		base:    base,
		pattern: pattern,
		ceiling: maxOccurrences,
	}
	if pattern.Count != nil {
		gen.remaining = *pattern.Count
	} else {
		gen.remaining = -1
	}

	switch pattern.Frequency {
	case FrequencyDaily:
		gen.expandDaily()
	case FrequencyWeekly:
		gen.expandWeekly()
	case FrequencyMonthly:
		gen.expandMonthly()
	}

	return gen.out, nil
}

type generator struct {
	base      timerange.Range
	pattern   Pattern
	ceiling   int
	remaining int // occurrences left under Count; -1 when bounded by EndDate
	out       []timerange.Range
}

// emit appends an occurrence starting at the given instant. It returns false
// once any bound is reached and generation must stop.
func (g *generator) emit(start time.Time) bool {
	if len(g.out) >= g.ceiling {
		return false
	}
	if g.pattern.EndDate != nil && start.After(*g.pattern.EndDate) {
		return false
	}
	if g.remaining == 0 {
		return false
	}

	g.out = append(g.out, timerange.Range{Start: start, End: start.Add(g.base.Duration())})
	if g.remaining > 0 {
		g.remaining--
	}
	return true
}

// exhausted reports whether a bound has been reached without attempting an emit.
func (g *generator) exhausted() bool {
	return len(g.out) >= g.ceiling || g.remaining == 0
}

func (g *generator) expandDaily() {
	start := g.base.Start
	for g.emit(start) {
		start = addDays(start, g.pattern.Interval)
	}
}

func (g *generator) expandWeekly() {
	weekdays := make(map[time.Weekday]bool, len(g.pattern.Weekdays))
	for _, day := range g.pattern.Weekdays {
		weekdays[day] = true
	}
	if len(weekdays) == 0 {
		weekdays[g.base.Start.Weekday()] = true
	}

	// Walk day by day from the base date; a day belongs to 7-day block
	// floor(offset/7) and only blocks aligned to the interval are included.
	for offset := 0; !g.exhausted(); offset++ {
		day := addDays(g.base.Start, offset)
		if g.pattern.EndDate != nil && day.After(*g.pattern.EndDate) {
			return
		}
		if (offset/7)%g.pattern.Interval != 0 {
			// Skip to the start of the next candidate block.
			offset += 6 - offset%7
			continue
		}
		if !weekdays[day.Weekday()] {
			continue
		}
		if !g.emit(day) {
			return
		}
	}
}

func (g *generator) expandMonthly() {
	year, month, day := g.base.Start.Date()
	hour, minute, sec := g.base.Start.Clock()
	loc := g.base.Start.Location()

	for step := 0; !g.exhausted(); step += g.pattern.Interval {
		candidateMonth := time.Date(year, month, 1, 0, 0, 0, 0, loc).AddDate(0, step, 0)
		if day > daysInMonth(candidateMonth.Year(), candidateMonth.Month()) {
			// Day-of-month does not exist in this month; skip rather
			// than roll to month end.
			if g.pattern.EndDate != nil && candidateMonth.After(*g.pattern.EndDate) {
				return
			}
			continue
		}
		start := time.Date(candidateMonth.Year(), candidateMonth.Month(), day, hour, minute, sec, g.base.Start.Nanosecond(), loc)
		if g.pattern.EndDate != nil && start.After(*g.pattern.EndDate) {
			return
		}
		if !g.emit(start) {
			return
		}
	}
}

// addDays advances by calendar days, preserving the wall clock across DST
// transitions.
func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
