// Package timerange provides the half-open time interval arithmetic the
// booking engine is built on. A Range covers [Start, End); two ranges that
// merely touch at an endpoint do not overlap.
package timerange

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidRange indicates a range whose start is not strictly before its end.
var ErrInvalidRange = errors.New("timerange: start must be before end")

// Range is an immutable half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// New validates and constructs a Range.
func New(start, end time.Time) (Range, error) {
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate reports whether the range is well formed.
func (r Range) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: [%s, %s)", ErrInvalidRange, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Duration returns the length of the range.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Overlaps reports whether r and other share any instant. Touching endpoints
// do not count as overlap under half-open semantics.
func (r Range) Overlaps(other Range) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Contains reports whether inner lies entirely within r.
func (r Range) Contains(inner Range) bool {
	return !inner.Start.Before(r.Start) && !inner.End.After(r.End)
}

// ContainsInstant reports whether t falls inside the range.
func (r Range) ContainsInstant(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Equal reports whether both endpoints coincide.
func (r Range) Equal(other Range) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

// Subtract returns the parts of r not covered by other: zero, one, or two
// ranges, ordered by start.
func (r Range) Subtract(other Range) []Range {
	if !r.Overlaps(other) {
		return []Range{r}
	}

	out := make([]Range, 0, 2)
	if r.Start.Before(other.Start) {
		out = append(out, Range{Start: r.Start, End: other.Start})
	}
	if other.End.Before(r.End) {
		out = append(out, Range{Start: other.End, End: r.End})
	}
	return out
}

// Clip restricts r to the given bounds. The second return value is false when
// the two do not overlap at all.
func (r Range) Clip(bounds Range) (Range, bool) {
	if !r.Overlaps(bounds) {
		return Range{}, false
	}
	clipped := r
	if clipped.Start.Before(bounds.Start) {
		clipped.Start = bounds.Start
	}
	if clipped.End.After(bounds.End) {
		clipped.End = bounds.End
	}
	return clipped, true
}

// MergeSorted sorts the input by start and coalesces overlapping or adjacent
// ranges into a minimal, non-overlapping, ascending sequence. The input slice
// is not modified.
func MergeSorted(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]Range, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		// Adjacent ranges coalesce: [a,b) + [b,c) = [a,c).
		if !next.Start.After(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)
	return merged
}
