package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"slotbook/internal/availability"
	"slotbook/internal/domain"
	"slotbook/internal/service/booking"
	"slotbook/internal/store"
)

type slotQuerier interface {
	Query(ctx context.Context, q availability.Query) (availability.Result, error)
}

type bookingService interface {
	Book(ctx context.Context, in booking.BookInput) (booking.Result, error)
	Cancel(ctx context.Context, in booking.CancelInput) (domain.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	Invite(ctx context.Context, id uuid.UUID) ([]byte, error)
}

type refreshEnqueuer interface {
	EnqueueRefresh(ctx context.Context, groupID string) (string, error)
}

type Handler struct {
	slots    slotQuerier
	bookings bookingService
	refresh  refreshEnqueuer
	log      *slog.Logger
}

func NewHandler(slots slotQuerier, bookings bookingService, refresh refreshEnqueuer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		slots:    slots,
		bookings: bookings,
		refresh:  refresh,
		log:      log.With(slog.String("component", "http.bookings")),
	}
}

func (h *Handler) QuerySlots(c *gin.Context) {
	var params QuerySlotsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query", "details": err.Error()})
		return
	}
	date, err := domain.ParseDate(params.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var metadata map[string]any
	if params.ReferenceMetadata != "" {
		if err := json.Unmarshal([]byte(params.ReferenceMetadata), &metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_metadata must be a JSON object"})
			return
		}
	}

	res, err := h.slots.Query(c.Request.Context(), availability.Query{
		Subject:           domain.Subject{Kind: domain.SubjectKind(params.SubjectKind), ID: strings.TrimSpace(params.SubjectID)},
		DurationID:        params.DurationID,
		Date:              date,
		TZOffsetMinutes:   params.TZOffsetMinutes,
		RescheduleToken:   params.RescheduleToken,
		EventToken:        params.EventToken,
		ReferenceMetadata: metadata,
	})
	if err != nil {
		h.writeError(c, "slot query failed", err)
		return
	}

	c.JSON(http.StatusOK, NewQuerySlotsResponse(res, params.TZOffsetMinutes))
}

func (h *Handler) Book(c *gin.Context) {
	var body BookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	var date time.Time
	if body.Date != "" {
		d, err := domain.ParseDate(body.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date = d
	}

	key := body.IdempotencyKey
	if key == "" {
		key = idempotencyKey(c)
	}

	res, err := h.bookings.Book(c.Request.Context(), booking.BookInput{
		Subject:           domain.Subject{Kind: domain.SubjectKind(body.SubjectKind), ID: body.SubjectID},
		DurationID:        body.DurationID,
		Date:              date,
		StartTime:         body.StartTime,
		EndTime:           body.EndTime,
		Visitor:           booking.Visitor{Name: body.Visitor.Name, Email: body.Visitor.Email},
		ReferenceMetadata: body.ReferenceMetadata,
		RescheduleToken:   body.RescheduleToken,
		EventToken:        body.EventToken,
		IdempotencyKey:    key,
	})
	if err != nil {
		h.writeError(c, "booking failed", err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	c.JSON(code, NewBookResponse(res))
}

func (h *Handler) GetBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	b, err := h.bookings.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "booking lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, NewBookingResponse(b))
}

func (h *Handler) Invite(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	body, err := h.bookings.Invite(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "invite render failed", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="invite.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8; method=REQUEST", body)
}

func (h *Handler) Cancel(c *gin.Context) {
	if _, ok := bookingID(c); !ok {
		return
	}
	var body CancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	b, err := h.bookings.Cancel(c.Request.Context(), booking.CancelInput{
		EventToken:      c.Param("id"),
		RescheduleToken: body.RescheduleToken,
	})
	if err != nil {
		h.writeError(c, "booking cancel failed", err)
		return
	}
	c.JSON(http.StatusOK, NewBookingResponse(b))
}

func (h *Handler) RefreshGroup(c *gin.Context) {
	groupID := strings.TrimSpace(c.Param("id"))
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group id is required"})
		return
	}
	if h.refresh == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "refresh queue is not configured"})
		return
	}

	taskID, err := h.refresh.EnqueueRefresh(c.Request.Context(), groupID)
	if err != nil {
		h.log.Error("refresh enqueue failed", slog.Any("err", err), slog.String("group_id", groupID))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func bookingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func idempotencyKey(c *gin.Context) string {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = c.GetHeader("X-Idempotency-Key")
	}
	return strings.TrimSpace(key)
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	code, public := statusFor(err)
	switch {
	case code == http.StatusServiceUnavailable:
		h.log.Warn(msg, slog.Any("err", err), slog.String("path", c.FullPath()))
	case code >= http.StatusInternalServerError:
		h.log.Error(msg, slog.Any("err", err), slog.String("path", c.FullPath()))
	default:
		h.log.Info(msg, slog.Any("err", err), slog.String("path", c.FullPath()))
	}
	c.JSON(code, gin.H{"error": public})
}

func statusFor(err error) (int, string) {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Error()
	case errors.Is(err, domain.ErrDurationNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrSlotConflict):
		return http.StatusConflict, domain.ErrSlotConflict.Error()
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency key was already used for a different booking"
	case errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrInvalidRescheduleToken),
		errors.Is(err, domain.ErrEmptyGroupMembership),
		errors.Is(err, domain.ErrNoAvailabilityInRange):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrSourceUnavailable):
		return http.StatusServiceUnavailable, domain.ErrSourceUnavailable.Error()
	}
	return http.StatusInternalServerError, "internal error"
}
