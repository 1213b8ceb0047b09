// Package scheduler contains the pure algorithms of the booking engine:
// conflict detection between occurrence sets and free/busy availability
// computation. Nothing here touches persistence or locks; callers supply the
// occurrence snapshots to operate on.
package scheduler

import (
	"sort"
	"time"

	"github.com/example/roombook/internal/timerange"
)

// Occurrence is one concrete scheduled instance of a booking.
type Occurrence struct {
	BookingID string
	Sequence  int
	Range     timerange.Range
}

// ConflictPair records one candidate occurrence overlapping one existing
// occurrence.
type ConflictPair struct {
	Candidate Occurrence
	Existing  Occurrence
}

// FindConflicts returns every pair of candidate and existing occurrences whose
// ranges overlap. Both inputs may arrive unsorted. The check runs as a sweep
// over the start-sorted union of both sequences, keeping an active set per
// side, so the cost is O((n+m) log(n+m)) plus the number of conflicts rather
// than a full pairwise scan. That matters once recurring bookings expand to
// dozens of occurrences.
//
// Occurrences sharing a booking ID are never reported against each other: a
// booking being rescheduled must not conflict with its own prior occurrences,
// even when the ranges are value-identical.
func FindConflicts(candidates, existing []Occurrence) []ConflictPair {
	if len(candidates) == 0 || len(existing) == 0 {
		return nil
	}

	type event struct {
		occ       Occurrence
		candidate bool
	}

	events := make([]event, 0, len(candidates)+len(existing))
	for _, c := range candidates {
		events = append(events, event{occ: c, candidate: true})
	}
	for _, e := range existing {
		events = append(events, event{occ: e})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].occ.Range.Start.Before(events[j].occ.Range.Start)
	})

	var conflicts []ConflictPair
	activeCandidates := newActiveSet()
	activeExisting := newActiveSet()

	for _, ev := range events {
		start := ev.occ.Range.Start
		activeCandidates.expire(start)
		activeExisting.expire(start)

		if ev.candidate {
			for _, e := range activeExisting.members {
				if e.BookingID != ev.occ.BookingID {
					conflicts = append(conflicts, ConflictPair{Candidate: ev.occ, Existing: e})
				}
			}
			activeCandidates.add(ev.occ)
		} else {
			for _, c := range activeCandidates.members {
				if c.BookingID != ev.occ.BookingID {
					conflicts = append(conflicts, ConflictPair{Candidate: c, Existing: ev.occ})
				}
			}
			activeExisting.add(ev.occ)
		}
	}
	return conflicts
}

// HasConflict reports whether any overlap exists without collecting pairs.
func HasConflict(candidates, existing []Occurrence) bool {
	return len(FindConflicts(candidates, existing)) > 0
}

// activeSet holds the occurrences whose ranges are still open at the sweep
// position, ordered by ascending end so expiry pops from the front.
type activeSet struct {
	members []Occurrence
}

func newActiveSet() *activeSet {
	return &activeSet{}
}

// expire drops members whose range has closed at or before the given instant.
// Half-open semantics: an occurrence ending exactly at the instant no longer
// overlaps it.
func (s *activeSet) expire(at time.Time) {
	keep := 0
	for keep < len(s.members) && !s.members[keep].Range.End.After(at) {
		keep++
	}
	if keep > 0 {
		s.members = s.members[keep:]
	}
}

func (s *activeSet) add(occ Occurrence) {
	idx := sort.Search(len(s.members), func(i int) bool {
		return s.members[i].Range.End.After(occ.Range.End)
	})
	s.members = append(s.members, Occurrence{})
	copy(s.members[idx+1:], s.members[idx:])
	s.members[idx] = occ
}
