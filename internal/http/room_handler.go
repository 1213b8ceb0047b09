package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/roombook/internal/application"
	"github.com/example/roombook/internal/scheduler"
	"github.com/example/roombook/internal/timerange"
)

type roomService interface {
	CreateRoom(ctx context.Context, params application.CreateRoomParams) (application.Room, error)
	GetRoom(ctx context.Context, id string) (application.Room, error)
	ListRooms(ctx context.Context) ([]application.Room, error)
}

type availabilityService interface {
	GetAvailability(ctx context.Context, params application.AvailabilityParams) (scheduler.AvailabilityWindow, error)
	GetMultiRoomAvailability(ctx context.Context, params application.MultiRoomAvailabilityParams) ([]scheduler.AvailabilityWindow, error)
}

type RoomHandler struct {
	rooms        roomService
	availability availabilityService
	responder    responder
}

func NewRoomHandler(rooms roomService, availability availabilityService, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, availability: availability, responder: newResponder(logger)}
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.rooms == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	room, err := h.rooms.CreateRoom(r.Context(), application.CreateRoomParams{
		Principal: principal,
		Input: application.RoomInput{
			Name:     req.Name,
			Location: req.Location,
			Capacity: req.Capacity,
		},
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, roomResponse{Room: toRoomDTO(room)})
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.rooms == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := RoomIDFromContext(r.Context())
	if !ok || strings.TrimSpace(roomID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	room, err := h.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, roomResponse{Room: toRoomDTO(room)})
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.rooms == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	rooms, err := h.rooms.ListRooms(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listRoomsResponse{Rooms: toRoomDTOs(rooms)})
}

// Availability serves GET /rooms/{id}/availability with an RFC 3339
// start/end query window.
func (h *RoomHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availability == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := RoomIDFromContext(r.Context())
	if !ok || strings.TrimSpace(roomID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	start := parseTime(r.URL.Query().Get("start"))
	end := parseTime(r.URL.Query().Get("end"))
	if start.IsZero() || end.IsZero() {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTimeWindow)
		return
	}

	window, err := h.availability.GetAvailability(r.Context(), application.AvailabilityParams{
		RoomID: roomID,
		Window: timerange.Range{Start: start, End: end},
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAvailabilityDTO(window))
}

// MultiAvailability serves GET /rooms/availability. The optional room_ids
// query parameter is a comma separated list; omitting it scans every room.
func (h *RoomHandler) MultiAvailability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availability == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	start := parseTime(r.URL.Query().Get("start"))
	end := parseTime(r.URL.Query().Get("end"))
	if start.IsZero() || end.IsZero() {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTimeWindow)
		return
	}

	var roomIDs []string
	if raw := r.URL.Query().Get("room_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				roomIDs = append(roomIDs, id)
			}
		}
	}

	windows, err := h.availability.GetMultiRoomAvailability(r.Context(), application.MultiRoomAvailabilityParams{
		RoomIDs: roomIDs,
		Window:  timerange.Range{Start: start, End: end},
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]availabilityDTO, 0, len(windows))
	for _, window := range windows {
		dtos = append(dtos, toAvailabilityDTO(window))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, availabilityBatchResponse{Windows: dtos})
}

type roomRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Capacity int    `json:"capacity"`
}

type roomResponse struct {
	Room roomDTO `json:"room"`
}

type listRoomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type roomDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Capacity  int    `json:"capacity"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toRoomDTO(room application.Room) roomDTO {
	return roomDTO{
		ID:        room.ID,
		Name:      room.Name,
		Location:  room.Location,
		Capacity:  room.Capacity,
		CreatedAt: formatTime(room.CreatedAt),
		UpdatedAt: formatTime(room.UpdatedAt),
	}
}

func toRoomDTOs(rooms []application.Room) []roomDTO {
	if len(rooms) == 0 {
		return nil
	}
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, toRoomDTO(room))
	}
	return out
}

type availabilityBatchResponse struct {
	Windows []availabilityDTO `json:"windows"`
}

type availabilityDTO struct {
	RoomID string    `json:"room_id"`
	Query  spanDTO   `json:"query"`
	Busy   []spanDTO `json:"busy"`
	Free   []spanDTO `json:"free"`
}

type spanDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toAvailabilityDTO(window scheduler.AvailabilityWindow) availabilityDTO {
	dto := availabilityDTO{
		RoomID: window.RoomID,
		Query:  spanDTO{Start: formatTime(window.Query.Start), End: formatTime(window.Query.End)},
		Busy:   make([]spanDTO, 0, len(window.Busy)),
		Free:   make([]spanDTO, 0, len(window.Free)),
	}
	for _, span := range window.Busy {
		dto.Busy = append(dto.Busy, spanDTO{Start: formatTime(span.Start), End: formatTime(span.End)})
	}
	for _, span := range window.Free {
		dto.Free = append(dto.Free, spanDTO{Start: formatTime(span.Start), End: formatTime(span.End)})
	}
	return dto
}
