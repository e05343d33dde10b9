package http

import (
	"time"

	"slotbook/internal/availability"
	"slotbook/internal/domain"
	"slotbook/internal/service/booking"
)

type QuerySlotsParams struct {
	SubjectKind       string `form:"subject_kind" binding:"required,oneof=user group"`
	SubjectID         string `form:"subject_id" binding:"required"`
	Date              string `form:"date" binding:"required"`
	TZOffsetMinutes   int    `form:"tz_offset" binding:"min=-840,max=840"`
	DurationID        string `form:"duration_id"`
	RescheduleToken   string `form:"reschedule_token"`
	EventToken        string `form:"event_token"`
	ReferenceMetadata string `form:"reference_metadata"`
}

type SlotResponse struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DisplayStart string    `json:"display_start"`
	DisplayEnd   string    `json:"display_end"`
}

type QuerySlotsResponse struct {
	SubjectKind   string         `json:"subject_kind"`
	SubjectID     string         `json:"subject_id"`
	DurationID    string         `json:"duration_id"`
	Date          string         `json:"date"`
	ValidStart    string         `json:"valid_start_date"`
	ValidEnd      *string        `json:"valid_end_date"`
	AvailableDays []string       `json:"available_days"`
	IsInvalidDate bool           `json:"is_invalid_date"`
	NextValidDate *string        `json:"next_valid_date"`
	PrevValidDate *string        `json:"prev_valid_date"`
	Slots         []SlotResponse `json:"slots"`
	ComputedAt    time.Time      `json:"computed_at"`
	FromCache     bool           `json:"from_cache"`
}

type VisitorBody struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"required,email"`
}

type BookBody struct {
	SubjectKind       string         `json:"subject_kind" binding:"required,oneof=user group"`
	SubjectID         string         `json:"subject_id" binding:"required"`
	DurationID        string         `json:"duration_id"`
	Date              string         `json:"date"`
	TZOffsetMinutes   int            `json:"tz_offset"`
	StartTime         time.Time      `json:"start_time" binding:"required"`
	EndTime           time.Time      `json:"end_time" binding:"required"`
	Visitor           VisitorBody    `json:"visitor"`
	ReferenceMetadata map[string]any `json:"reference_metadata"`
	RescheduleToken   string         `json:"reschedule_token"`
	EventToken        string         `json:"event_token"`
	IdempotencyKey    string         `json:"idempotency_key"`
}

type CancelBody struct {
	RescheduleToken string `json:"reschedule_token" binding:"required"`
}

type BookingResponse struct {
	ID                string         `json:"id"`
	SubjectKind       string         `json:"subject_kind"`
	SubjectID         string         `json:"subject_id"`
	Participants      []string       `json:"participants"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	Status            string         `json:"status"`
	Summary           string         `json:"summary"`
	VisitorName       string         `json:"visitor_name"`
	VisitorEmail      string         `json:"visitor_email"`
	MeetingProvider   string         `json:"meeting_provider"`
	MeetLink          string         `json:"meet_link,omitempty"`
	ReferenceMetadata map[string]any `json:"reference_metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

type BookResponse struct {
	Booking         BookingResponse `json:"booking"`
	EventID         string          `json:"event_id"`
	MeetingProvider string          `json:"meeting_provider"`
	MeetLink        string          `json:"meet_link,omitempty"`
	RescheduleURL   string          `json:"reschedule_url"`
	RescheduleToken string          `json:"reschedule_token"`
	StatusMessage   string          `json:"status_message"`
}

func NewQuerySlotsResponse(res availability.Result, tzOffsetMinutes int) QuerySlotsResponse {
	display := time.FixedZone("requester", tzOffsetMinutes*60)

	days := make([]string, len(res.AvailableDays))
	for i, d := range res.AvailableDays {
		days[i] = d.String()
	}
	slots := make([]SlotResponse, len(res.Slots))
	for i, s := range res.Slots {
		slots[i] = SlotResponse{
			StartTime:    s.Start.UTC(),
			EndTime:      s.End.UTC(),
			DisplayStart: s.Start.In(display).Format(time.RFC3339),
			DisplayEnd:   s.End.In(display).Format(time.RFC3339),
		}
	}

	return QuerySlotsResponse{
		SubjectKind:   string(res.Subject.Kind),
		SubjectID:     res.Subject.ID,
		DurationID:    res.Duration.ID,
		Date:          domain.FormatDate(res.Date),
		ValidStart:    domain.FormatDate(res.ValidStart),
		ValidEnd:      optionalDate(res.ValidEnd),
		AvailableDays: days,
		IsInvalidDate: res.IsInvalidDate,
		NextValidDate: optionalDate(res.NextValidDate),
		PrevValidDate: optionalDate(res.PrevValidDate),
		Slots:         slots,
		ComputedAt:    res.ComputedAt.UTC(),
		FromCache:     res.FromCache,
	}
}

func optionalDate(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := domain.FormatDate(*d)
	return &s
}

func NewBookingResponse(b domain.Booking) BookingResponse {
	return BookingResponse{
		ID:                b.ID.String(),
		SubjectKind:       string(b.SubjectKind),
		SubjectID:         b.SubjectID,
		Participants:      b.Participants,
		StartTime:         b.StartTime.UTC(),
		EndTime:           b.EndTime.UTC(),
		Status:            string(b.Status),
		Summary:           b.Summary,
		VisitorName:       b.VisitorName,
		VisitorEmail:      b.VisitorEmail,
		MeetingProvider:   string(b.MeetingProvider),
		MeetLink:          b.MeetLink,
		ReferenceMetadata: b.ReferenceMetadata,
		CreatedAt:         b.CreatedAt.UTC(),
	}
}

func NewBookResponse(res booking.Result) BookResponse {
	return BookResponse{
		Booking:         NewBookingResponse(res.Booking),
		EventID:         res.EventID,
		MeetingProvider: string(res.MeetingProvider),
		MeetLink:        res.MeetLink,
		RescheduleURL:   res.RescheduleURL,
		RescheduleToken: res.RescheduleToken,
		StatusMessage:   res.StatusMessage,
	}
}
