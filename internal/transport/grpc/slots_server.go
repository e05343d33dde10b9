package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"slotbook/internal/availability"
	"slotbook/internal/domain"
	"slotbook/internal/service/booking"
	"slotbook/internal/store"
)

type SlotsServer struct {
	slots    slotQuerier
	bookings bookingService
	refresh  refreshEnqueuer
	log      *slog.Logger
}

type slotQuerier interface {
	Query(ctx context.Context, q availability.Query) (availability.Result, error)
}

type bookingService interface {
	Book(ctx context.Context, in booking.BookInput) (booking.Result, error)
	Cancel(ctx context.Context, in booking.CancelInput) (domain.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Booking, error)
}

type refreshEnqueuer interface {
	EnqueueRefresh(ctx context.Context, groupID string) (string, error)
}

func NewSlotsServer(slots slotQuerier, bookings bookingService, refresh refreshEnqueuer, log *slog.Logger) *SlotsServer {
	if log == nil {
		log = slog.Default()
	}
	return &SlotsServer{
		slots:    slots,
		bookings: bookings,
		refresh:  refresh,
		log:      log.With(slog.String("component", "grpc.slots")),
	}
}

func (s *SlotsServer) QuerySlots(ctx context.Context, req *QuerySlotsRequest) (*QuerySlotsResponse, error) {
	log := s.log.With(slog.String("rpc", "QuerySlots"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	subject, err := parseSubject(req.SubjectKind, req.SubjectID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_subject"))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("subject", subject.String()))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.slots.Query(ctx, availability.Query{
		Subject:           subject,
		DurationID:        req.DurationID,
		Date:              date,
		TZOffsetMinutes:   req.RequesterTZOffsetMinutes,
		RescheduleToken:   req.RescheduleToken,
		EventToken:        req.EventToken,
		ReferenceMetadata: req.ReferenceMetadata,
	})
	if err != nil {
		return nil, statusFromError(log.With(slog.String("subject", subject.String())), "slot query failed", err)
	}

	log.Debug(
		"slots queried",
		slog.String("subject", subject.String()),
		slog.String("date", domain.FormatDate(res.Date)),
		slog.Int("count", len(res.Slots)),
		slog.Bool("invalid_date", res.IsInvalidDate),
		slog.Bool("from_cache", res.FromCache),
	)
	return toQuerySlotsResponse(res, req.RequesterTZOffsetMinutes), nil
}

func (s *SlotsServer) Book(ctx context.Context, req *BookRequest) (*BookResponse, error) {
	log := s.log.With(slog.String("rpc", "Book"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.StartTime == nil || req.EndTime == nil {
		log.Warn("invalid request", slog.String("reason", "missing_times"), slog.String("subject_id", req.SubjectID))
		return nil, status.Error(codes.InvalidArgument, "start_time and end_time are required")
	}
	var date time.Time
	if req.Date != "" {
		d, err := domain.ParseDate(req.Date)
		if err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("subject_id", req.SubjectID))
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		date = d
	}

	key := req.IdempotencyKey
	if key == "" {
		key = idempotencyKey(ctx)
	}

	res, err := s.bookings.Book(ctx, booking.BookInput{
		Subject:           domain.Subject{Kind: domain.SubjectKind(req.SubjectKind), ID: req.SubjectID},
		DurationID:        req.DurationID,
		Date:              date,
		StartTime:         *req.StartTime,
		EndTime:           *req.EndTime,
		Visitor:           booking.Visitor{Name: req.Visitor.Name, Email: req.Visitor.Email},
		ReferenceMetadata: req.ReferenceMetadata,
		RescheduleToken:   req.RescheduleToken,
		EventToken:        req.EventToken,
		IdempotencyKey:    key,
	})
	if err != nil {
		return nil, statusFromError(log.With(
			slog.String("subject_kind", req.SubjectKind),
			slog.String("subject_id", req.SubjectID),
			slog.Time("start_time", *req.StartTime),
			slog.Time("end_time", *req.EndTime),
		), "booking failed", err)
	}

	log.Info(
		"booking committed",
		slog.String("booking_id", res.Booking.ID.String()),
		slog.String("subject", res.Booking.Subject().String()),
		slog.Time("start_time", res.Booking.StartTime),
		slog.Bool("replayed", res.Replayed),
	)
	return toBookResponse(res), nil
}

func (s *SlotsServer) Cancel(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	log := s.log.With(slog.String("rpc", "Cancel"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	b, err := s.bookings.Cancel(ctx, booking.CancelInput{EventToken: req.EventToken, RescheduleToken: req.RescheduleToken})
	if err != nil {
		return nil, statusFromError(log, "booking cancel failed", err)
	}

	log.Info("booking cancelled", slog.String("booking_id", b.ID.String()), slog.String("subject", b.Subject().String()))
	return &CancelResponse{Booking: toBooking(b)}, nil
}

func (s *SlotsServer) GetBooking(ctx context.Context, req *GetBookingRequest) (*GetBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "GetBooking"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.BookingID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "booking_id must be a UUID")
	}

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, statusFromError(log.With(slog.String("booking_id", id.String())), "booking lookup failed", err)
	}
	return &GetBookingResponse{Booking: toBooking(b)}, nil
}

func (s *SlotsServer) RefreshGroup(ctx context.Context, req *RefreshGroupRequest) (*RefreshGroupResponse, error) {
	log := s.log.With(slog.String("rpc", "RefreshGroup"))

	if req == nil || strings.TrimSpace(req.GroupID) == "" {
		log.Warn("invalid request", slog.String("reason", "missing_group_id"))
		return nil, status.Error(codes.InvalidArgument, "group_id is required")
	}
	if s.refresh == nil {
		return nil, status.Error(codes.Unimplemented, "refresh queue is not configured")
	}

	taskID, err := s.refresh.EnqueueRefresh(ctx, strings.TrimSpace(req.GroupID))
	if err != nil {
		log.Error("refresh enqueue failed", slog.Any("err", err), slog.String("group_id", req.GroupID))
		return nil, status.Error(codes.Unavailable, "refresh queue unavailable")
	}

	log.Info("refresh queued", slog.String("group_id", req.GroupID), slog.String("task_id", taskID))
	return &RefreshGroupResponse{TaskID: taskID}, nil
}

func parseSubject(kind, id string) (domain.Subject, error) {
	k := domain.SubjectKind(strings.TrimSpace(kind))
	if k != domain.SubjectUser && k != domain.SubjectGroup {
		return domain.Subject{}, errors.New("subject_kind must be user or group")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Subject{}, errors.New("subject_id is required")
	}
	return domain.Subject{Kind: k, ID: id}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// statusFromError logs err at the level its kind deserves and returns the matching status.
func statusFromError(log *slog.Logger, msg string, err error) error {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, domain.ErrDurationNotFound):
		log.Info(msg, slog.Any("err", err))
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrNotFound):
		log.Info(msg, slog.Any("err", err))
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrSlotConflict):
		log.Info(msg, slog.Any("err", err))
		return status.Error(codes.FailedPrecondition, "That time is no longer available. Pick a different slot.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info(msg, slog.Any("err", err))
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different booking. Try again.")
	case errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrInvalidRescheduleToken),
		errors.Is(err, domain.ErrEmptyGroupMembership):
		log.Info(msg, slog.Any("err", err))
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrSourceUnavailable):
		log.Warn(msg, slog.Any("err", err))
		return status.Error(codes.Unavailable, "calendar source unavailable")
	case errors.Is(err, domain.ErrNoAvailabilityInRange):
		log.Info(msg, slog.Any("err", err))
		return status.Error(codes.OutOfRange, err.Error())
	}
	log.Error(msg, slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}
