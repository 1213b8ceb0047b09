package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/roombook/internal/application"
	"github.com/example/roombook/internal/config"
	"github.com/example/roombook/internal/events"
	httptransport "github.com/example/roombook/internal/http"
	"github.com/example/roombook/internal/persistence"
	"github.com/example/roombook/internal/persistence/sqlite"
	"github.com/example/roombook/internal/recurrence"
	"github.com/example/roombook/internal/scheduler"
	"github.com/example/roombook/internal/timerange"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	sink, err := newEventSink(cfg, logger)
	if err != nil {
		logger.Error("failed to connect event sink", "error", err)
		os.Exit(1)
	}
	dispatcher := events.NewDispatcher(sink, 64, logger)
	defer func() {
		if cerr := dispatcher.Close(); cerr != nil {
			logger.Error("failed to close event dispatcher", "error", cerr)
		}
	}()

	idGenerator := uuid.NewString
	now := time.Now

	bookingRepo := newBookingRepositoryAdapter(storage.Bookings)
	roomRepo := newRoomRepositoryAdapter(storage.Rooms)

	bookingService := application.NewBookingService(bookingRepo, storage.Rooms, dispatcher, application.BookingServiceConfig{
		LockTimeout:    cfg.LockTimeout,
		MaxOccurrences: cfg.MaxOccurrences,
		CacheTTL:       cfg.AvailabilityCacheTTL,
		CacheSize:      cfg.AvailabilityCacheSize,
	}, logger, idGenerator, now)
	roomService := application.NewRoomService(roomRepo, idGenerator, now, logger)

	bookingHandler := httptransport.NewBookingHandler(bookingService, logger)
	roomHandler := httptransport.NewRoomHandler(roomService, bookingService, logger)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Bookings: bookingHandler,
		Rooms:    roomHandler,
		Health:   storage.Ping,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequireActor(logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func newEventSink(cfg config.Config, logger *slog.Logger) (events.Sink, error) {
	if cfg.AMQPURL == "" {
		logger.Info("no AMQP endpoint configured, logging booking events only")
		return events.NewLogSink(logger), nil
	}
	return events.NewAMQPSink(cfg.AMQPURL, cfg.EventQueue)
}

type bookingRepositoryAdapter struct {
	repo persistence.BookingRepository
}

func newBookingRepositoryAdapter(repo persistence.BookingRepository) *bookingRepositoryAdapter {
	return &bookingRepositoryAdapter{repo: repo}
}

func (a *bookingRepositoryAdapter) CreateBooking(ctx context.Context, booking application.Booking) error {
	return a.repo.CreateBooking(ctx, toPersistenceBooking(booking))
}

func (a *bookingRepositoryAdapter) UpdateBooking(ctx context.Context, booking application.Booking, expectedVersion int64) error {
	return a.repo.UpdateBooking(ctx, toPersistenceBooking(booking), expectedVersion)
}

func (a *bookingRepositoryAdapter) GetBooking(ctx context.Context, id string) (application.Booking, error) {
	stored, err := a.repo.GetBooking(ctx, id)
	if err != nil {
		return application.Booking{}, err
	}
	return toApplicationBooking(stored), nil
}

func (a *bookingRepositoryAdapter) ListBookings(ctx context.Context, filter application.BookingRepositoryFilter) ([]application.Booking, error) {
	models, err := a.repo.ListBookings(ctx, persistence.BookingFilter{
		RoomID:      filter.RoomID,
		UserID:      filter.UserID,
		States:      toStateStrings(filter.States),
		StartsAfter: filter.StartsAfter,
		EndsBefore:  filter.EndsBefore,
	})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	bookings := make([]application.Booking, 0, len(models))
	for _, model := range models {
		bookings = append(bookings, toApplicationBooking(model))
	}
	return bookings, nil
}

func (a *bookingRepositoryAdapter) ListOccurrences(ctx context.Context, query application.OccurrenceQuery) ([]scheduler.Occurrence, error) {
	models, err := a.repo.ListOccurrences(ctx, persistence.OccurrenceFilter{
		RoomID:      query.RoomID,
		States:      toStateStrings(query.States),
		WindowStart: query.WindowStart,
		WindowEnd:   query.WindowEnd,
	})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	occurrences := make([]scheduler.Occurrence, 0, len(models))
	for _, model := range models {
		occurrences = append(occurrences, scheduler.Occurrence{
			BookingID: model.BookingID,
			Sequence:  model.Sequence,
			Range:     timerange.Range{Start: model.Start, End: model.End},
		})
	}
	return occurrences, nil
}

type roomRepositoryAdapter struct {
	repo persistence.RoomRepository
}

func newRoomRepositoryAdapter(repo persistence.RoomRepository) *roomRepositoryAdapter {
	return &roomRepositoryAdapter{repo: repo}
}

func (a *roomRepositoryAdapter) CreateRoom(ctx context.Context, room application.Room) error {
	return a.repo.CreateRoom(ctx, persistence.Room{
		ID:        room.ID,
		Name:      room.Name,
		Location:  room.Location,
		Capacity:  room.Capacity,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	})
}

func (a *roomRepositoryAdapter) GetRoom(ctx context.Context, id string) (application.Room, error) {
	stored, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return application.Room{}, err
	}
	return toApplicationRoom(stored), nil
}

func (a *roomRepositoryAdapter) ListRooms(ctx context.Context) ([]application.Room, error) {
	models, err := a.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	rooms := make([]application.Room, 0, len(models))
	for _, model := range models {
		rooms = append(rooms, toApplicationRoom(model))
	}
	return rooms, nil
}

func toApplicationRoom(model persistence.Room) application.Room {
	return application.Room{
		ID:        model.ID,
		Name:      model.Name,
		Location:  model.Location,
		Capacity:  model.Capacity,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func toPersistenceBooking(booking application.Booking) persistence.Booking {
	model := persistence.Booking{
		ID:           booking.ID,
		RoomID:       booking.RoomID,
		UserID:       booking.UserID,
		Title:        booking.Title,
		Description:  optionalString(booking.Description),
		Start:        booking.Start,
		End:          booking.End,
		State:        string(booking.State),
		Version:      booking.Version,
		Recurrence:   toPersistenceRecurrence(booking.Recurrence),
		CancelReason: optionalString(booking.CancelReason),
		CancelledBy:  optionalString(booking.CancelledBy),
		CancelledAt:  cloneTime(booking.CancelledAt),
		CreatedAt:    booking.CreatedAt,
		UpdatedAt:    booking.UpdatedAt,
	}
	for _, occ := range booking.Occurrences {
		model.Occurrences = append(model.Occurrences, persistence.Occurrence{
			BookingID: booking.ID,
			Sequence:  occ.Sequence,
			Start:     occ.Start,
			End:       occ.End,
		})
	}
	return model
}

func toApplicationBooking(model persistence.Booking) application.Booking {
	booking := application.Booking{
		ID:           model.ID,
		RoomID:       model.RoomID,
		UserID:       model.UserID,
		Title:        model.Title,
		Description:  stringValue(model.Description),
		Start:        model.Start,
		End:          model.End,
		Recurrence:   toApplicationRecurrence(model.Recurrence),
		State:        application.BookingState(model.State),
		Version:      model.Version,
		CancelReason: stringValue(model.CancelReason),
		CancelledBy:  stringValue(model.CancelledBy),
		CancelledAt:  cloneTime(model.CancelledAt),
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
	for _, occ := range model.Occurrences {
		booking.Occurrences = append(booking.Occurrences, application.Occurrence{
			Sequence: occ.Sequence,
			Start:    occ.Start,
			End:      occ.End,
		})
	}
	return booking
}

func toPersistenceRecurrence(pattern *recurrence.Pattern) *persistence.RecurrenceRule {
	if pattern == nil || pattern.Frequency == recurrence.FrequencyNone {
		return nil
	}
	return &persistence.RecurrenceRule{
		Frequency: string(pattern.Frequency),
		Interval:  pattern.Interval,
		EndDate:   cloneTime(pattern.EndDate),
		Count:     cloneInt(pattern.Count),
		Weekdays:  append([]time.Weekday(nil), pattern.Weekdays...),
	}
}

func toApplicationRecurrence(rule *persistence.RecurrenceRule) *recurrence.Pattern {
	if rule == nil {
		return nil
	}
	return &recurrence.Pattern{
		Frequency: recurrence.Frequency(rule.Frequency),
		Interval:  rule.Interval,
		EndDate:   cloneTime(rule.EndDate),
		Count:     cloneInt(rule.Count),
		Weekdays:  append([]time.Weekday(nil), rule.Weekdays...),
	}
}

func toStateStrings(states []application.BookingState) []string {
	if len(states) == 0 {
		return nil
	}
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, string(state))
	}
	return out
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	clone := value
	return &clone
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
