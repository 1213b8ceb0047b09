// Package application orchestrates the booking lifecycle: admission under
// per-room serialization, conflict handling, optimistic concurrency, and
// lifecycle event emission.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/roombook/internal/events"
	"github.com/example/roombook/internal/persistence"
	"github.com/example/roombook/internal/recurrence"
	"github.com/example/roombook/internal/scheduler"
	"github.com/example/roombook/internal/timerange"
)

// BookingRepository captures the persistence interactions needed by the service.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	UpdateBooking(ctx context.Context, booking Booking, expectedVersion int64) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, filter BookingRepositoryFilter) ([]Booking, error)
	ListOccurrences(ctx context.Context, query OccurrenceQuery) ([]scheduler.Occurrence, error)
}

// BookingRepositoryFilter narrows queries issued to the booking repository.
type BookingRepositoryFilter struct {
	RoomID      string
	UserID      string
	States      []BookingState
	StartsAfter *time.Time
	EndsBefore  *time.Time
}

// OccurrenceQuery selects occurrence snapshots for conflict detection and
// availability computation.
type OccurrenceQuery struct {
	RoomID      string
	States      []BookingState
	WindowStart *time.Time
	WindowEnd   *time.Time
}

// RoomCatalog exposes room lookup operations.
type RoomCatalog interface {
	RoomExists(ctx context.Context, id string) (bool, error)
	ListRoomIDs(ctx context.Context) ([]string, error)
}

// EventPublisher accepts lifecycle events for asynchronous delivery.
type EventPublisher interface {
	Dispatch(event events.Event)
}

// BookingServiceConfig tunes service behavior; zero values fall back to
// conservative defaults.
type BookingServiceConfig struct {
	LockTimeout    time.Duration
	MaxOccurrences int
	CacheTTL       time.Duration
	CacheSize      int
}

// BookingService orchestrates validation, admission, and persistence for
// booking operations.
type BookingService struct {
	bookings       BookingRepository
	rooms          RoomCatalog
	publisher      EventPublisher
	locks          *roomLocks
	availability   *availabilityCache
	lockTimeout    time.Duration
	maxOccurrences int
	logger         *slog.Logger
	idGenerator    func() string
	now            func() time.Time
}

// NewBookingService wires dependencies for booking operations.
func NewBookingService(bookings BookingRepository, rooms RoomCatalog, publisher EventPublisher, cfg BookingServiceConfig, logger *slog.Logger, idGenerator func() string, now func() time.Time) *BookingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = 366
	}
	return &BookingService{
		bookings:       bookings,
		rooms:          rooms,
		publisher:      publisher,
		locks:          newRoomLocks(),
		availability:   newAvailabilityCache(cfg.CacheTTL, cfg.CacheSize, now),
		lockTimeout:    cfg.LockTimeout,
		maxOccurrences: cfg.MaxOccurrences,
		logger:         defaultLogger(logger),
		idGenerator:    idGenerator,
		now:            now,
	}
}

// CreateBooking admits a new booking. Under the room's lock it checks the
// candidate occurrences against all active bookings: conflicts without an
// override persist the booking as rejected, conflicts with an authorized
// override cancel the victims, and a clear room confirms the booking.
func (s *BookingService) CreateBooking(ctx context.Context, params CreateBookingParams) (BookingDecision, error) {
	if s == nil {
		return BookingDecision{}, fmt.Errorf("BookingService is nil")
	}
	input := params.Input
	principal := params.Principal

	if input.UserID == "" {
		input.UserID = principal.UserID
	}
	if input.UserID != principal.UserID && !principal.IsAdmin() {
		return BookingDecision{}, ErrUnauthorized
	}
	if params.Override && !principal.CanOverride() {
		return BookingDecision{}, ErrUnauthorized
	}

	pattern := normalizePattern(input.Recurrence)

	vErr := &ValidationError{}
	validateBookingCore(input, vErr)
	if err := pattern.Validate(); err != nil {
		vErr.add("recurrence", err.Error())
	}
	if vErr.HasErrors() {
		return BookingDecision{}, vErr
	}

	if err := s.ensureRoomExists(ctx, input.RoomID); err != nil {
		return BookingDecision{}, err
	}

	occurrences, err := s.expandOccurrences(input.Start, input.End, pattern)
	if err != nil {
		return BookingDecision{}, err
	}

	createdAt := s.now()
	booking := Booking{
		ID:          s.idGenerator(),
		RoomID:      input.RoomID,
		UserID:      input.UserID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Start:       input.Start,
		End:         input.End,
		Recurrence:  input.Recurrence,
		State:       StatePending,
		Version:     1,
		Occurrences: occurrences,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}

	logger := serviceLogger(ctx, s.logger, "booking", "create_booking",
		"booking_id", booking.ID, "room_id", booking.RoomID)

	release, err := s.locks.acquire(ctx, booking.RoomID, s.lockTimeout)
	if err != nil {
		logger.Warn("failed to acquire room lock", "error_kind", ErrorKind(err))
		return BookingDecision{}, err
	}
	defer release()

	conflicts, err := s.conflictsFor(ctx, booking)
	if err != nil {
		return BookingDecision{}, err
	}

	var superseded []string
	if len(conflicts) > 0 {
		if !params.Override {
			booking.State = StateRejected
			if err := s.persistCreate(ctx, logger, booking); err != nil {
				return BookingDecision{}, err
			}
			logger.Info("booking rejected", "conflicts", len(conflicts))
			s.publish(events.TypeRejected, booking)
			return BookingDecision{Booking: booking, Conflicts: conflicts}, nil
		}
		superseded, err = s.supersedeConflicts(ctx, logger, principal, booking.ID, conflicts)
		if err != nil {
			return BookingDecision{}, err
		}
	}

	booking.State = StateConfirmed
	if err := s.persistCreate(ctx, logger, booking); err != nil {
		return BookingDecision{}, err
	}

	s.availability.Invalidate(booking.RoomID)
	logger.Info("booking confirmed", "occurrences", len(booking.Occurrences), "superseded", len(superseded))
	s.publish(events.TypeConfirmed, booking)

	return BookingDecision{Booking: booking, Conflicts: conflicts, SupersededIDs: superseded}, nil
}

// RescheduleBooking moves an existing booking to a new time range and
// re-runs admission. When the new range conflicts and no override is
// requested, the stored booking is left untouched and the conflicts are
// returned for the caller to inspect.
func (s *BookingService) RescheduleBooking(ctx context.Context, params RescheduleBookingParams) (BookingDecision, error) {
	if s == nil {
		return BookingDecision{}, fmt.Errorf("BookingService is nil")
	}
	principal := params.Principal

	existing, err := s.bookings.GetBooking(ctx, params.BookingID)
	if err != nil {
		return BookingDecision{}, mapBookingRepoError(err)
	}

	if existing.UserID != principal.UserID && !principal.IsAdmin() {
		return BookingDecision{}, ErrUnauthorized
	}
	if params.Override && !principal.CanOverride() {
		return BookingDecision{}, ErrUnauthorized
	}
	if !existing.State.IsActive() {
		return BookingDecision{}, fmt.Errorf("%w: cannot reschedule a %s booking", ErrInvalidTransition, existing.State)
	}
	if existing.Version != params.ExpectedVersion {
		return BookingDecision{}, fmt.Errorf("%w: stored version %d, expected %d", ErrStaleBooking, existing.Version, params.ExpectedVersion)
	}

	pattern := normalizePattern(params.Recurrence)

	vErr := &ValidationError{}
	validateTimeRange(params.Start, params.End, vErr)
	if err := pattern.Validate(); err != nil {
		vErr.add("recurrence", err.Error())
	}
	if vErr.HasErrors() {
		return BookingDecision{}, vErr
	}

	occurrences, err := s.expandOccurrences(params.Start, params.End, pattern)
	if err != nil {
		return BookingDecision{}, err
	}

	updated := existing
	updated.Start = params.Start
	updated.End = params.End
	updated.Recurrence = params.Recurrence
	updated.Occurrences = occurrences
	updated.State = StateConfirmed
	updated.Version = existing.Version + 1
	updated.UpdatedAt = s.now()

	logger := serviceLogger(ctx, s.logger, "booking", "reschedule_booking",
		"booking_id", updated.ID, "room_id", updated.RoomID)

	release, err := s.locks.acquire(ctx, updated.RoomID, s.lockTimeout)
	if err != nil {
		logger.Warn("failed to acquire room lock", "error_kind", ErrorKind(err))
		return BookingDecision{}, err
	}
	defer release()

	conflicts, err := s.conflictsFor(ctx, updated)
	if err != nil {
		return BookingDecision{}, err
	}

	var superseded []string
	if len(conflicts) > 0 {
		if !params.Override {
			logger.Info("reschedule refused, conflicts remain", "conflicts", len(conflicts))
			return BookingDecision{Booking: existing, Conflicts: conflicts}, nil
		}
		superseded, err = s.supersedeConflicts(ctx, logger, principal, updated.ID, conflicts)
		if err != nil {
			return BookingDecision{}, err
		}
	}

	if err := s.persistUpdate(ctx, logger, updated, params.ExpectedVersion); err != nil {
		return BookingDecision{}, err
	}

	s.availability.Invalidate(updated.RoomID)
	logger.Info("booking rescheduled", "version", updated.Version, "superseded", len(superseded))
	s.publish(events.TypeConfirmed, updated)

	return BookingDecision{Booking: updated, Conflicts: conflicts, SupersededIDs: superseded}, nil
}

// CancelBooking withdraws a pending or confirmed booking. An ExpectedVersion
// of zero means "whatever is currently stored": the stored version is used,
// and a concurrent bump between read and write is absorbed by one retry.
func (s *BookingService) CancelBooking(ctx context.Context, params CancelBookingParams) (Booking, error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	principal := params.Principal

	logger := serviceLogger(ctx, s.logger, "booking", "cancel_booking",
		"booking_id", params.BookingID)

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.bookings.GetBooking(ctx, params.BookingID)
		if err != nil {
			return Booking{}, mapBookingRepoError(err)
		}

		if existing.UserID != principal.UserID && !principal.IsAdmin() {
			return Booking{}, ErrUnauthorized
		}
		if !existing.State.CanTransitionTo(StateCancelled) {
			return Booking{}, fmt.Errorf("%w: cannot cancel a %s booking", ErrInvalidTransition, existing.State)
		}

		expected := params.ExpectedVersion
		if expected == 0 {
			expected = existing.Version
		}

		now := s.now()
		updated := existing
		updated.State = StateCancelled
		updated.CancelReason = strings.TrimSpace(params.Reason)
		updated.CancelledBy = principal.UserID
		updated.CancelledAt = &now
		updated.Version = existing.Version + 1
		updated.UpdatedAt = now

		err = s.persistUpdate(ctx, logger, updated, expected)
		if err == nil {
			s.availability.Invalidate(updated.RoomID)
			logger.Info("booking cancelled", "version", updated.Version)
			s.publish(events.TypeCancelled, updated)
			return updated, nil
		}
		if params.ExpectedVersion == 0 && isStaleError(err) {
			continue
		}
		return Booking{}, err
	}
	return Booking{}, fmt.Errorf("%w: booking %s kept changing during cancel", ErrStaleBooking, params.BookingID)
}

// GetBooking retrieves a booking by ID.
func (s *BookingService) GetBooking(ctx context.Context, id string) (Booking, error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, mapBookingRepoError(err)
	}
	return booking, nil
}

// ListBookings enumerates bookings matching the filter, ordered by start.
func (s *BookingService) ListBookings(ctx context.Context, params ListBookingsParams) ([]Booking, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}

	bookings, err := s.bookings.ListBookings(ctx, BookingRepositoryFilter{
		RoomID:      params.RoomID,
		UserID:      params.UserID,
		States:      params.States,
		StartsAfter: params.StartsAfter,
		EndsBefore:  params.EndsBefore,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	ordered := make([]Booking, len(bookings))
	copy(ordered, bookings)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start.Equal(ordered[j].Start) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].Start.Before(ordered[j].Start)
	})
	return ordered, nil
}

// GetAvailability computes the free/busy partition of the window for one
// room. Results are cached until a booking in the room changes.
func (s *BookingService) GetAvailability(ctx context.Context, params AvailabilityParams) (scheduler.AvailabilityWindow, error) {
	if s == nil {
		return scheduler.AvailabilityWindow{}, fmt.Errorf("BookingService is nil")
	}

	vErr := &ValidationError{}
	if params.RoomID == "" {
		vErr.add("room_id", "room_id is required")
	}
	if err := params.Window.Validate(); err != nil {
		vErr.add("window", "window start must be before end")
	}
	if vErr.HasErrors() {
		return scheduler.AvailabilityWindow{}, vErr
	}

	if err := s.ensureRoomExists(ctx, params.RoomID); err != nil {
		return scheduler.AvailabilityWindow{}, err
	}

	if window, ok := s.availability.Get(params.RoomID, params.Window); ok {
		return window, nil
	}

	occurrences, err := s.bookings.ListOccurrences(ctx, OccurrenceQuery{
		RoomID:      params.RoomID,
		States:      activeStates(),
		WindowStart: &params.Window.Start,
		WindowEnd:   &params.Window.End,
	})
	if err != nil {
		return scheduler.AvailabilityWindow{}, err
	}

	window := scheduler.BuildAvailability(params.RoomID, params.Window, occurrences)
	s.availability.Store(params.RoomID, params.Window, window)
	return window, nil
}

// GetMultiRoomAvailability computes the free/busy partition of the window
// for several rooms at once, ordered by room ID. Empty RoomIDs covers the
// whole catalog. Rooms share nothing, so uncached rooms are partitioned in
// parallel.
func (s *BookingService) GetMultiRoomAvailability(ctx context.Context, params MultiRoomAvailabilityParams) ([]scheduler.AvailabilityWindow, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}

	vErr := &ValidationError{}
	if err := params.Window.Validate(); err != nil {
		vErr.add("window", "window start must be before end")
	}
	if len(params.RoomIDs) == 0 && s.rooms == nil {
		vErr.add("room_ids", "room_ids is required")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	roomIDs := uniqueSortedIDs(params.RoomIDs)
	if len(roomIDs) == 0 {
		ids, err := s.rooms.ListRoomIDs(ctx)
		if err != nil {
			return nil, err
		}
		roomIDs = uniqueSortedIDs(ids)
	} else {
		for _, roomID := range roomIDs {
			if err := s.ensureRoomExists(ctx, roomID); err != nil {
				return nil, err
			}
		}
	}
	if len(roomIDs) == 0 {
		return nil, nil
	}

	byRoom := make(map[string]scheduler.AvailabilityWindow, len(roomIDs))
	pending := make(map[string][]scheduler.Occurrence)
	for _, roomID := range roomIDs {
		if window, ok := s.availability.Get(roomID, params.Window); ok {
			byRoom[roomID] = window
			continue
		}
		occurrences, err := s.bookings.ListOccurrences(ctx, OccurrenceQuery{
			RoomID:      roomID,
			States:      activeStates(),
			WindowStart: &params.Window.Start,
			WindowEnd:   &params.Window.End,
		})
		if err != nil {
			return nil, err
		}
		pending[roomID] = occurrences
	}

	for _, window := range scheduler.BuildAvailabilityBatch(params.Window, pending) {
		s.availability.Store(window.RoomID, params.Window, window)
		byRoom[window.RoomID] = window
	}

	windows := make([]scheduler.AvailabilityWindow, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		windows = append(windows, byRoom[roomID])
	}
	return windows, nil
}

// ListConflicts reports every pair of overlapping occurrences among the
// room's active bookings within the window. An operator-facing report, so
// it requires the admin role.
func (s *BookingService) ListConflicts(ctx context.Context, params ConflictReportParams) ([]RoomConflict, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	if !params.Principal.IsAdmin() {
		return nil, ErrUnauthorized
	}

	vErr := &ValidationError{}
	if params.RoomID == "" {
		vErr.add("room_id", "room_id is required")
	}
	if err := params.Window.Validate(); err != nil {
		vErr.add("window", "window start must be before end")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}
	if err := s.ensureRoomExists(ctx, params.RoomID); err != nil {
		return nil, err
	}

	occurrences, err := s.bookings.ListOccurrences(ctx, OccurrenceQuery{
		RoomID:      params.RoomID,
		States:      activeStates(),
		WindowStart: &params.Window.Start,
		WindowEnd:   &params.Window.End,
	})
	if err != nil {
		return nil, err
	}

	pairs := scheduler.FindConflicts(occurrences, occurrences)
	if len(pairs) == 0 {
		return nil, nil
	}

	// Running the set against itself reports each overlap from both sides;
	// keep one canonical orientation per pair.
	type pairKey struct {
		firstID   string
		firstSeq  int
		secondID  string
		secondSeq int
	}
	seen := make(map[pairKey]struct{}, len(pairs)/2)
	conflicts := make([]RoomConflict, 0, len(pairs)/2)
	for _, pair := range pairs {
		first := toOccurrenceRef(pair.Candidate)
		second := toOccurrenceRef(pair.Existing)
		if second.BookingID < first.BookingID ||
			(second.BookingID == first.BookingID && second.Sequence < first.Sequence) {
			first, second = second, first
		}
		key := pairKey{first.BookingID, first.Sequence, second.BookingID, second.Sequence}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		conflicts = append(conflicts, RoomConflict{First: first, Second: second})
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if !conflicts[i].First.Start.Equal(conflicts[j].First.Start) {
			return conflicts[i].First.Start.Before(conflicts[j].First.Start)
		}
		if conflicts[i].First.BookingID != conflicts[j].First.BookingID {
			return conflicts[i].First.BookingID < conflicts[j].First.BookingID
		}
		return conflicts[i].Second.BookingID < conflicts[j].Second.BookingID
	})
	return conflicts, nil
}

// conflictsFor compares the booking's occurrences against every active
// occurrence in its room. Must be called while holding the room's lock.
func (s *BookingService) conflictsFor(ctx context.Context, booking Booking) ([]Conflict, error) {
	if len(booking.Occurrences) == 0 {
		return nil, nil
	}

	windowStart := booking.Occurrences[0].Start
	windowEnd := booking.Occurrences[0].End
	for _, occ := range booking.Occurrences[1:] {
		if occ.Start.Before(windowStart) {
			windowStart = occ.Start
		}
		if occ.End.After(windowEnd) {
			windowEnd = occ.End
		}
	}

	existing, err := s.bookings.ListOccurrences(ctx, OccurrenceQuery{
		RoomID:      booking.RoomID,
		States:      activeStates(),
		WindowStart: &windowStart,
		WindowEnd:   &windowEnd,
	})
	if err != nil {
		return nil, err
	}

	pairs := scheduler.FindConflicts(toSchedulerOccurrences(booking), existing)
	if len(pairs) == 0 {
		return nil, nil
	}

	type conflictKey struct {
		bookingID string
		sequence  int
	}
	seen := make(map[conflictKey]struct{}, len(pairs))
	conflicts := make([]Conflict, 0, len(pairs))
	for _, pair := range pairs {
		key := conflictKey{pair.Existing.BookingID, pair.Existing.Sequence}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		conflicts = append(conflicts, Conflict{
			BookingID: pair.Existing.BookingID,
			Sequence:  pair.Existing.Sequence,
			Start:     pair.Existing.Range.Start,
			End:       pair.Existing.Range.End,
		})
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Start.Equal(conflicts[j].Start) {
			return conflicts[i].BookingID < conflicts[j].BookingID
		}
		return conflicts[i].Start.Before(conflicts[j].Start)
	})
	return conflicts, nil
}

// supersedeConflicts cancels the bookings behind the given conflicts on
// behalf of an override. Must be called while holding the room's lock.
func (s *BookingService) supersedeConflicts(ctx context.Context, logger *slog.Logger, principal Principal, winnerID string, conflicts []Conflict) ([]string, error) {
	ids := make([]string, 0, len(conflicts))
	seen := make(map[string]struct{}, len(conflicts))
	for _, conflict := range conflicts {
		if _, ok := seen[conflict.BookingID]; ok {
			continue
		}
		seen[conflict.BookingID] = struct{}{}
		ids = append(ids, conflict.BookingID)
	}
	sort.Strings(ids)

	superseded := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := s.supersedeOne(ctx, principal, winnerID, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		logger.Info("booking superseded", "victim_id", id)
		superseded = append(superseded, id)
	}
	return superseded, nil
}

// supersedeOne cancels a single victim, retrying once when a concurrent
// cancel bumped its version between read and write.
func (s *BookingService) supersedeOne(ctx context.Context, principal Principal, winnerID, victimID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		victim, err := s.bookings.GetBooking(ctx, victimID)
		if err != nil {
			return mapBookingRepoError(err)
		}
		if !victim.State.IsActive() {
			return nil
		}

		now := s.now()
		expected := victim.Version
		victim.State = StateCancelled
		victim.CancelReason = "superseded by booking " + winnerID
		victim.CancelledBy = principal.UserID
		victim.CancelledAt = &now
		victim.Version = expected + 1
		victim.UpdatedAt = now

		err = s.bookings.UpdateBooking(ctx, victim, expected)
		if err == nil {
			s.publish(events.TypeSuperseded, victim)
			return nil
		}
		if isStaleError(err) {
			continue
		}
		return mapBookingRepoError(err)
	}
	return fmt.Errorf("%w: booking %s kept changing during override", ErrStaleBooking, victimID)
}

// persistCreate writes the booking, retrying once on transient failures.
// Admission already decided the outcome, so giving up on a hiccup would
// discard a decision made under the room lock.
func (s *BookingService) persistCreate(ctx context.Context, logger *slog.Logger, booking Booking) error {
	err := s.bookings.CreateBooking(ctx, booking)
	if err == nil || !isRetryable(ctx, err) {
		return mapBookingRepoError(err)
	}
	logger.Warn("booking write failed, retrying once", "error", err)
	return mapBookingRepoError(s.bookings.CreateBooking(ctx, booking))
}

// persistUpdate writes the booking with an optimistic version check,
// retrying once on transient failures.
func (s *BookingService) persistUpdate(ctx context.Context, logger *slog.Logger, booking Booking, expectedVersion int64) error {
	err := s.bookings.UpdateBooking(ctx, booking, expectedVersion)
	if err == nil || !isRetryable(ctx, err) {
		return mapBookingRepoError(err)
	}
	logger.Warn("booking write failed, retrying once", "error", err)
	return mapBookingRepoError(s.bookings.UpdateBooking(ctx, booking, expectedVersion))
}

func (s *BookingService) ensureRoomExists(ctx context.Context, roomID string) error {
	if s.rooms == nil {
		return nil
	}
	exists, err := s.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	vErr := &ValidationError{}
	vErr.add("room_id", "room does not exist")
	return vErr
}

func (s *BookingService) expandOccurrences(start, end time.Time, pattern recurrence.Pattern) ([]Occurrence, error) {
	base, err := timerange.New(start, end)
	if err != nil {
		vErr := &ValidationError{}
		vErr.add("time", "start must be before end")
		return nil, vErr
	}

	ranges, err := recurrence.Expand(base, pattern, s.maxOccurrences)
	if err != nil {
		vErr := &ValidationError{}
		vErr.add("recurrence", err.Error())
		return nil, vErr
	}

	occurrences := make([]Occurrence, len(ranges))
	for i, r := range ranges {
		occurrences[i] = Occurrence{Sequence: i, Start: r.Start, End: r.End}
	}
	return occurrences, nil
}

func (s *BookingService) publish(eventType events.Type, booking Booking) {
	if s.publisher == nil {
		return
	}
	s.publisher.Dispatch(events.Event{
		Type:       eventType,
		BookingID:  booking.ID,
		RoomID:     booking.RoomID,
		UserID:     booking.UserID,
		Version:    booking.Version,
		OccurredAt: s.now(),
	})
}

func toOccurrenceRef(occ scheduler.Occurrence) OccurrenceRef {
	return OccurrenceRef{
		BookingID: occ.BookingID,
		Sequence:  occ.Sequence,
		Start:     occ.Range.Start,
		End:       occ.Range.End,
	}
}

func uniqueSortedIDs(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func toSchedulerOccurrences(booking Booking) []scheduler.Occurrence {
	out := make([]scheduler.Occurrence, len(booking.Occurrences))
	for i, occ := range booking.Occurrences {
		out[i] = scheduler.Occurrence{
			BookingID: booking.ID,
			Sequence:  occ.Sequence,
			Range:     timerange.Range{Start: occ.Start, End: occ.End},
		}
	}
	return out
}

func normalizePattern(pattern *recurrence.Pattern) recurrence.Pattern {
	if pattern == nil {
		return recurrence.Pattern{Frequency: recurrence.FrequencyNone}
	}
	return *pattern
}

func validateBookingCore(input BookingInput, vErr *ValidationError) {
	if input.RoomID == "" {
		vErr.add("room_id", "room_id is required")
	}
	if input.UserID == "" {
		vErr.add("user_id", "user_id is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	validateTimeRange(input.Start, input.End, vErr)
}

func validateTimeRange(start, end time.Time, vErr *ValidationError) {
	if start.IsZero() {
		vErr.add("start", "start is required")
	}
	if end.IsZero() {
		vErr.add("end", "end is required")
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		vErr.add("time", "start must be before end")
	}
}

func isStaleError(err error) bool {
	return errors.Is(err, ErrStaleBooking) || errors.Is(err, persistence.ErrStaleVersion)
}

// isRetryable reports whether a persistence failure is worth a second
// attempt. Deterministic failures and cancelled contexts are not.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound),
		errors.Is(err, persistence.ErrStaleVersion),
		errors.Is(err, persistence.ErrDuplicate),
		errors.Is(err, persistence.ErrConstraintViolation),
		errors.Is(err, persistence.ErrForeignKeyViolation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStaleBooking):
		return false
	}
	var vErr *ValidationError
	return !errors.As(err, &vErr)
}

func mapBookingRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrStaleBooking) {
		return err
	}
	if errors.Is(err, persistence.ErrStaleVersion) {
		return fmt.Errorf("%w: %s", ErrStaleBooking, err)
	}
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		vErr := &ValidationError{}
		vErr.add("room_id", "room does not exist")
		return vErr
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("time", "start must be before end")
		return vErr
	}
	return err
}
