package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/roombook/internal/application"
	"github.com/example/roombook/internal/recurrence"
	"github.com/example/roombook/internal/timerange"
)

type bookingService interface {
	CreateBooking(ctx context.Context, params application.CreateBookingParams) (application.BookingDecision, error)
	RescheduleBooking(ctx context.Context, params application.RescheduleBookingParams) (application.BookingDecision, error)
	CancelBooking(ctx context.Context, params application.CancelBookingParams) (application.Booking, error)
	GetBooking(ctx context.Context, id string) (application.Booking, error)
	ListBookings(ctx context.Context, params application.ListBookingsParams) ([]application.Booking, error)
	ListConflicts(ctx context.Context, params application.ConflictReportParams) ([]application.RoomConflict, error)
}

type BookingHandler struct {
	service   bookingService
	responder responder
}

func NewBookingHandler(service bookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{service: service, responder: newResponder(logger)}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	pattern, err := req.Recurrence.toPattern()
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	decision, err := h.service.CreateBooking(r.Context(), application.CreateBookingParams{
		Principal: principal,
		Input: application.BookingInput{
			RoomID:      strings.TrimSpace(req.RoomID),
			UserID:      strings.TrimSpace(req.UserID),
			Title:       req.Title,
			Description: req.Description,
			Start:       parseTime(req.Start),
			End:         parseTime(req.End),
			Recurrence:  pattern,
		},
		Override: req.Override,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if decision.Booking.State == application.StateRejected {
		status = http.StatusConflict
	}
	h.responder.writeJSON(r.Context(), w, status, toDecisionResponse(decision))
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	pattern, err := req.Recurrence.toPattern()
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	decision, err := h.service.RescheduleBooking(r.Context(), application.RescheduleBookingParams{
		Principal:       principal,
		BookingID:       bookingID,
		ExpectedVersion: req.ExpectedVersion,
		Start:           parseTime(req.Start),
		End:             parseTime(req.End),
		Recurrence:      pattern,
		Override:        req.Override,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if len(decision.Conflicts) > 0 && len(decision.SupersededIDs) == 0 {
		status = http.StatusConflict
	}
	h.responder.writeJSON(r.Context(), w, status, toDecisionResponse(decision))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	// Version zero lets the service cancel against whatever is stored.
	var version int64
	if raw := r.URL.Query().Get("expected_version"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidVersion)
			return
		}
		version = parsed
	}

	principal, _ := PrincipalFromContext(r.Context())

	booking, err := h.service.CancelBooking(r.Context(), application.CancelBookingParams{
		Principal:       principal,
		BookingID:       bookingID,
		ExpectedVersion: version,
		Reason:          r.URL.Query().Get("reason"),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	booking, err := h.service.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	bookings, err := h.service.ListBookings(r.Context(), buildListParams(r.URL.Query(), principal))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listBookingsResponse{Bookings: toBookingDTOs(bookings)})
}

// Conflicts serves the operator report of overlapping active occurrences
// within one room and window.
func (h *BookingHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	start := parseTime(r.URL.Query().Get("start"))
	end := parseTime(r.URL.Query().Get("end"))
	if start.IsZero() || end.IsZero() {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTimeWindow)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	conflicts, err := h.service.ListConflicts(r.Context(), application.ConflictReportParams{
		Principal: principal,
		RoomID:    strings.TrimSpace(r.URL.Query().Get("room_id")),
		Window:    timerange.Range{Start: start, End: end},
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, conflictReportResponse{Conflicts: toRoomConflictDTOs(conflicts)})
}

type bookingRequest struct {
	RoomID      string         `json:"room_id"`
	UserID      string         `json:"user_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	Recurrence  *recurrenceDTO `json:"recurrence"`
	Override    bool           `json:"override"`
}

type rescheduleRequest struct {
	Start           string         `json:"start"`
	End             string         `json:"end"`
	Recurrence      *recurrenceDTO `json:"recurrence"`
	ExpectedVersion int64          `json:"expected_version"`
	Override        bool           `json:"override"`
}

type recurrenceDTO struct {
	Frequency string   `json:"frequency"`
	Interval  int      `json:"interval"`
	EndDate   string   `json:"end_date,omitempty"`
	Count     *int     `json:"count,omitempty"`
	Weekdays  []string `json:"weekdays,omitempty"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (d *recurrenceDTO) toPattern() (*recurrence.Pattern, error) {
	if d == nil {
		return nil, nil
	}

	pattern := &recurrence.Pattern{
		Frequency: recurrence.Frequency(strings.ToLower(strings.TrimSpace(d.Frequency))),
		Interval:  d.Interval,
		Count:     d.Count,
	}
	if d.EndDate != "" {
		ts := parseTime(d.EndDate)
		if ts.IsZero() {
			return nil, errBadRequestBody
		}
		pattern.EndDate = &ts
	}
	for _, name := range d.Weekdays {
		weekday, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, errBadRequestBody
		}
		pattern.Weekdays = append(pattern.Weekdays, weekday)
	}
	return pattern, nil
}

func toRecurrenceDTO(pattern *recurrence.Pattern) *recurrenceDTO {
	if pattern == nil {
		return nil
	}
	dto := &recurrenceDTO{
		Frequency: string(pattern.Frequency),
		Interval:  pattern.Interval,
		Count:     pattern.Count,
	}
	if pattern.EndDate != nil {
		dto.EndDate = pattern.EndDate.UTC().Format(time.RFC3339)
	}
	for _, weekday := range pattern.Weekdays {
		dto.Weekdays = append(dto.Weekdays, strings.ToLower(weekday.String()))
	}
	return dto
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

type bookingResponse struct {
	Booking bookingDTO `json:"booking"`
}

type decisionResponse struct {
	Booking       bookingDTO    `json:"booking"`
	Conflicts     []conflictDTO `json:"conflicts,omitempty"`
	SupersededIDs []string      `json:"superseded_ids,omitempty"`
}

type listBookingsResponse struct {
	Bookings []bookingDTO `json:"bookings"`
}

type bookingDTO struct {
	ID           string          `json:"id"`
	RoomID       string          `json:"room_id"`
	UserID       string          `json:"user_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Start        string          `json:"start"`
	End          string          `json:"end"`
	State        string          `json:"state"`
	Version      int64           `json:"version"`
	Recurrence   *recurrenceDTO  `json:"recurrence,omitempty"`
	Occurrences  []occurrenceDTO `json:"occurrences,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CancelledBy  string          `json:"cancelled_by,omitempty"`
	CancelledAt  string          `json:"cancelled_at,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

type occurrenceDTO struct {
	Sequence int    `json:"sequence"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type conflictDTO struct {
	BookingID string `json:"booking_id"`
	Sequence  int    `json:"sequence"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type conflictReportResponse struct {
	Conflicts []roomConflictDTO `json:"conflicts"`
}

type roomConflictDTO struct {
	First  conflictDTO `json:"first"`
	Second conflictDTO `json:"second"`
}

func toRoomConflictDTOs(conflicts []application.RoomConflict) []roomConflictDTO {
	if len(conflicts) == 0 {
		return nil
	}
	out := make([]roomConflictDTO, 0, len(conflicts))
	for _, conflict := range conflicts {
		out = append(out, roomConflictDTO{
			First:  toConflictRefDTO(conflict.First),
			Second: toConflictRefDTO(conflict.Second),
		})
	}
	return out
}

func toConflictRefDTO(ref application.OccurrenceRef) conflictDTO {
	return conflictDTO{
		BookingID: ref.BookingID,
		Sequence:  ref.Sequence,
		Start:     formatTime(ref.Start),
		End:       formatTime(ref.End),
	}
}

func toBookingDTO(booking application.Booking) bookingDTO {
	dto := bookingDTO{
		ID:           booking.ID,
		RoomID:       booking.RoomID,
		UserID:       booking.UserID,
		Title:        booking.Title,
		Description:  booking.Description,
		Start:        formatTime(booking.Start),
		End:          formatTime(booking.End),
		State:        string(booking.State),
		Version:      booking.Version,
		Recurrence:   toRecurrenceDTO(booking.Recurrence),
		CancelReason: booking.CancelReason,
		CancelledBy:  booking.CancelledBy,
		CreatedAt:    formatTime(booking.CreatedAt),
		UpdatedAt:    formatTime(booking.UpdatedAt),
	}
	if booking.CancelledAt != nil {
		dto.CancelledAt = formatTime(*booking.CancelledAt)
	}
	for _, occ := range booking.Occurrences {
		dto.Occurrences = append(dto.Occurrences, occurrenceDTO{
			Sequence: occ.Sequence,
			Start:    formatTime(occ.Start),
			End:      formatTime(occ.End),
		})
	}
	return dto
}

func toBookingDTOs(bookings []application.Booking) []bookingDTO {
	if len(bookings) == 0 {
		return nil
	}
	out := make([]bookingDTO, 0, len(bookings))
	for _, booking := range bookings {
		out = append(out, toBookingDTO(booking))
	}
	return out
}

func toDecisionResponse(decision application.BookingDecision) decisionResponse {
	out := decisionResponse{
		Booking:       toBookingDTO(decision.Booking),
		SupersededIDs: decision.SupersededIDs,
	}
	for _, conflict := range decision.Conflicts {
		out.Conflicts = append(out.Conflicts, conflictDTO{
			BookingID: conflict.BookingID,
			Sequence:  conflict.Sequence,
			Start:     formatTime(conflict.Start),
			End:       formatTime(conflict.End),
		})
	}
	return out
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}

func buildListParams(values url.Values, principal application.Principal) application.ListBookingsParams {
	params := application.ListBookingsParams{
		Principal: principal,
		RoomID:    strings.TrimSpace(values.Get("room_id")),
		UserID:    strings.TrimSpace(values.Get("user_id")),
	}

	for _, state := range strings.Split(values.Get("state"), ",") {
		if trimmed := strings.TrimSpace(state); trimmed != "" {
			params.States = append(params.States, application.BookingState(trimmed))
		}
	}

	if after := parseTime(values.Get("starts_after")); !after.IsZero() {
		params.StartsAfter = &after
	}
	if before := parseTime(values.Get("ends_before")); !before.IsZero() {
		params.EndsBefore = &before
	}

	return params
}
