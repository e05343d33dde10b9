package grpc

import (
	"time"

	"slotbook/internal/availability"
	"slotbook/internal/domain"
	"slotbook/internal/service/booking"
)

type QuerySlotsRequest struct {
	SubjectKind              string         `json:"subject_kind"`
	SubjectID                string         `json:"subject_id"`
	Date                     string         `json:"date"`
	RequesterTZOffsetMinutes int            `json:"requester_tz_offset_minutes"`
	DurationID               string         `json:"duration_id,omitempty"`
	RescheduleToken          string         `json:"reschedule_token,omitempty"`
	EventToken               string         `json:"event_token,omitempty"`
	ReferenceMetadata        map[string]any `json:"reference_metadata,omitempty"`
}

type Slot struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DisplayStart string    `json:"display_start"`
	DisplayEnd   string    `json:"display_end"`
}

type QuerySlotsResponse struct {
	SubjectKind   string    `json:"subject_kind"`
	SubjectID     string    `json:"subject_id"`
	DurationID    string    `json:"duration_id"`
	Date          string    `json:"date"`
	ValidStart    string    `json:"valid_start_date"`
	ValidEnd      string    `json:"valid_end_date,omitempty"`
	AvailableDays []string  `json:"available_days"`
	IsInvalidDate bool      `json:"is_invalid_date"`
	NextValidDate string    `json:"next_valid_date,omitempty"`
	PrevValidDate string    `json:"prev_valid_date,omitempty"`
	Slots         []Slot    `json:"slots"`
	ComputedAt    time.Time `json:"computed_at"`
	FromCache     bool      `json:"from_cache"`
}

type Visitor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type BookRequest struct {
	SubjectKind       string         `json:"subject_kind"`
	SubjectID         string         `json:"subject_id"`
	DurationID        string         `json:"duration_id,omitempty"`
	Date              string         `json:"date,omitempty"`
	TZOffsetMinutes   int            `json:"tz_offset_minutes"`
	StartTime         *time.Time     `json:"start_time"`
	EndTime           *time.Time     `json:"end_time"`
	Visitor           Visitor        `json:"visitor"`
	ReferenceMetadata map[string]any `json:"reference_metadata,omitempty"`
	RescheduleToken   string         `json:"reschedule_token,omitempty"`
	EventToken        string         `json:"event_token,omitempty"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty"`
}

type Booking struct {
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
	PreviousBookingID string         `json:"previous_booking_id,omitempty"`
	RescheduledToID   string         `json:"rescheduled_to_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

type BookResponse struct {
	Booking         Booking `json:"booking"`
	EventID         string  `json:"event_id"`
	MeetingProvider string  `json:"meeting_provider"`
	MeetLink        string  `json:"meet_link,omitempty"`
	RescheduleURL   string  `json:"reschedule_url"`
	RescheduleToken string  `json:"reschedule_token"`
	StatusMessage   string  `json:"status_message"`
	Replayed        bool    `json:"replayed"`
}

type CancelRequest struct {
	EventToken      string `json:"event_token"`
	RescheduleToken string `json:"reschedule_token"`
}

type CancelResponse struct {
	Booking Booking `json:"booking"`
}

type GetBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type GetBookingResponse struct {
	Booking Booking `json:"booking"`
}

type RefreshGroupRequest struct {
	GroupID string `json:"group_id"`
}

type RefreshGroupResponse struct {
	TaskID string `json:"task_id"`
}

func toQuerySlotsResponse(res availability.Result, tzOffsetMinutes int) *QuerySlotsResponse {
	display := time.FixedZone("requester", tzOffsetMinutes*60)

	days := make([]string, 0, len(res.AvailableDays))
	for _, d := range res.AvailableDays {
		days = append(days, d.String())
	}

	slots := make([]Slot, 0, len(res.Slots))
	for _, s := range res.Slots {
		slots = append(slots, Slot{
			StartTime:    s.Start.UTC(),
			EndTime:      s.End.UTC(),
			DisplayStart: s.Start.In(display).Format(time.RFC3339),
			DisplayEnd:   s.End.In(display).Format(time.RFC3339),
		})
	}

	return &QuerySlotsResponse{
		SubjectKind:   string(res.Subject.Kind),
		SubjectID:     res.Subject.ID,
		DurationID:    res.Duration.ID,
		Date:          domain.FormatDate(res.Date),
		ValidStart:    domain.FormatDate(res.ValidStart),
		ValidEnd:      formatOptionalDate(res.ValidEnd),
		AvailableDays: days,
		IsInvalidDate: res.IsInvalidDate,
		NextValidDate: formatOptionalDate(res.NextValidDate),
		PrevValidDate: formatOptionalDate(res.PrevValidDate),
		Slots:         slots,
		ComputedAt:    res.ComputedAt.UTC(),
		FromCache:     res.FromCache,
	}
}

func formatOptionalDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return domain.FormatDate(*d)
}

func toBooking(b domain.Booking) Booking {
	out := Booking{
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
	if b.PreviousBookingID != nil {
		out.PreviousBookingID = b.PreviousBookingID.String()
	}
	if b.RescheduledToID != nil {
		out.RescheduledToID = b.RescheduledToID.String()
	}
	return out
}

func toBookResponse(res booking.Result) *BookResponse {
	return &BookResponse{
		Booking:         toBooking(res.Booking),
		EventID:         res.EventID,
		MeetingProvider: string(res.MeetingProvider),
		MeetLink:        res.MeetLink,
		RescheduleURL:   res.RescheduleURL,
		RescheduleToken: res.RescheduleToken,
		StatusMessage:   res.StatusMessage,
		Replayed:        res.Replayed,
	}
}
