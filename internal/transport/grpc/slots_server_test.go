package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"slotbook/internal/availability"
	"slotbook/internal/domain"
	"slotbook/internal/service/booking"
	"slotbook/internal/store"
)

type fakeSlots struct {
	queryFn func(ctx context.Context, q availability.Query) (availability.Result, error)
}

func (f *fakeSlots) Query(ctx context.Context, q availability.Query) (availability.Result, error) {
	if f.queryFn == nil {
		panic("Query not configured")
	}
	return f.queryFn(ctx, q)
}

type fakeBookings struct {
	bookFn   func(ctx context.Context, in booking.BookInput) (booking.Result, error)
	cancelFn func(ctx context.Context, in booking.CancelInput) (domain.Booking, error)
	getFn    func(ctx context.Context, id uuid.UUID) (domain.Booking, error)
}

func (f *fakeBookings) Book(ctx context.Context, in booking.BookInput) (booking.Result, error) {
	if f.bookFn == nil {
		panic("Book not configured")
	}
	return f.bookFn(ctx, in)
}

func (f *fakeBookings) Cancel(ctx context.Context, in booking.CancelInput) (domain.Booking, error) {
	if f.cancelFn == nil {
		panic("Cancel not configured")
	}
	return f.cancelFn(ctx, in)
}

func (f *fakeBookings) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if f.getFn == nil {
		panic("Get not configured")
	}
	return f.getFn(ctx, id)
}

type fakeRefresh struct {
	enqueueFn func(ctx context.Context, groupID string) (string, error)
}

func (f *fakeRefresh) EnqueueRefresh(ctx context.Context, groupID string) (string, error) {
	if f.enqueueFn == nil {
		panic("EnqueueRefresh not configured")
	}
	return f.enqueueFn(ctx, groupID)
}

func bookRequest() *BookRequest {
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	return &BookRequest{
		SubjectKind: "user",
		SubjectID:   "u1",
		StartTime:   &start,
		EndTime:     &end,
		Visitor:     Visitor{Name: "Ada", Email: "ada@example.com"},
	}
}

func TestIdempotencyKey_ReadsHeadersAndTrims(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "  abc  "))
	if got := idempotencyKey(ctx); got != "abc" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "abc")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-idempotency-key", "xyz"))
	if got := idempotencyKey(ctx); got != "xyz" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "xyz")
	}
}

func TestQuerySlots_RejectsBadSubjectAndDate(t *testing.T) {
	srv := NewSlotsServer(&fakeSlots{}, &fakeBookings{}, nil, slog.Default())

	tests := []struct {
		name string
		req  *QuerySlotsRequest
	}{
		{name: "nil", req: nil},
		{name: "kind", req: &QuerySlotsRequest{SubjectKind: "team", SubjectID: "x", Date: "2026-01-05"}},
		{name: "id", req: &QuerySlotsRequest{SubjectKind: "user", Date: "2026-01-05"}},
		{name: "date", req: &QuerySlotsRequest{SubjectKind: "user", SubjectID: "u1", Date: "05/01/2026"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.QuerySlots(context.Background(), tt.req)
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
			}
		})
	}
}

func TestQuerySlots_RendersDisplayTimesInRequesterOffset(t *testing.T) {
	start := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	next := domain.Date(2026, 1, 6)

	var got availability.Query
	srv := NewSlotsServer(&fakeSlots{
		queryFn: func(ctx context.Context, q availability.Query) (availability.Result, error) {
			got = q
			return availability.Result{
				Subject:       q.Subject,
				Duration:      domain.DurationOption{ID: "d30"},
				Date:          q.Date,
				ValidStart:    domain.Date(2026, 1, 1),
				AvailableDays: []domain.Weekday{1, 2},
				NextValidDate: &next,
				Slots:         []domain.Slot{domain.NewInterval(start, start.Add(30*time.Minute))},
			}, nil
		},
	}, &fakeBookings{}, nil, slog.Default())

	resp, err := srv.QuerySlots(context.Background(), &QuerySlotsRequest{
		SubjectKind:              "user",
		SubjectID:                "u1",
		Date:                     "2026-01-05",
		RequesterTZOffsetMinutes: -300,
		DurationID:               "d30",
	})
	if err != nil {
		t.Fatalf("QuerySlots error: %v", err)
	}
	if got.Subject != (domain.Subject{Kind: domain.SubjectUser, ID: "u1"}) || got.DurationID != "d30" || got.TZOffsetMinutes != -300 {
		t.Fatalf("query = %+v", got)
	}
	if len(resp.Slots) != 1 {
		t.Fatalf("slots = %d, want 1", len(resp.Slots))
	}
	if resp.Slots[0].DisplayStart != "2026-01-05T09:00:00-05:00" {
		t.Fatalf("display_start = %q", resp.Slots[0].DisplayStart)
	}
	if resp.NextValidDate != "2026-01-06" || resp.PrevValidDate != "" || resp.ValidStart != "2026-01-01" {
		t.Fatalf("dates = %q/%q/%q", resp.ValidStart, resp.NextValidDate, resp.PrevValidDate)
	}
	if len(resp.AvailableDays) != 2 {
		t.Fatalf("available_days = %v", resp.AvailableDays)
	}
}

func TestBook_RejectsMissingTimes(t *testing.T) {
	srv := NewSlotsServer(&fakeSlots{}, &fakeBookings{}, nil, slog.Default())

	_, err := srv.Book(context.Background(), &BookRequest{SubjectKind: "user", SubjectID: "u1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestBook_PassesIdempotencyKeyToService(t *testing.T) {
	var gotKey string

	srv := NewSlotsServer(&fakeSlots{}, &fakeBookings{
		bookFn: func(ctx context.Context, in booking.BookInput) (booking.Result, error) {
			gotKey = in.IdempotencyKey
			return booking.Result{Booking: domain.Booking{ID: uuid.MustParse("00000000-0000-0000-0000-000000000010")}}, nil
		},
	}, nil, slog.Default())

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "k1"))
	if _, err := srv.Book(ctx, bookRequest()); err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if gotKey != "k1" {
		t.Fatalf("idempotency_key = %q, want %q", gotKey, "k1")
	}

	req := bookRequest()
	req.IdempotencyKey = "body"
	if _, err := srv.Book(ctx, req); err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if gotKey != "body" {
		t.Fatalf("idempotency_key = %q, want %q", gotKey, "body")
	}
}

func TestBook_MapsErrors(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{err: &booking.ValidationError{}, want: codes.InvalidArgument},
		{err: domain.ErrDurationNotFound, want: codes.NotFound},
		{err: fmt.Errorf("template: %w", store.ErrNotFound), want: codes.NotFound},
		{err: domain.ErrSlotConflict, want: codes.FailedPrecondition},
		{err: store.ErrIdempotencyConflict, want: codes.FailedPrecondition},
		{err: domain.ErrInvalidDateRange, want: codes.FailedPrecondition},
		{err: domain.ErrInvalidRescheduleToken, want: codes.FailedPrecondition},
		{err: domain.ErrEmptyGroupMembership, want: codes.FailedPrecondition},
		{err: &domain.SourceUnavailableError{ParticipantID: "u1", Source: "google", Err: errors.New("timeout")}, want: codes.Unavailable},
		{err: domain.ErrNoAvailabilityInRange, want: codes.OutOfRange},
		{err: errors.New("boom"), want: codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv := NewSlotsServer(&fakeSlots{}, &fakeBookings{
				bookFn: func(ctx context.Context, in booking.BookInput) (booking.Result, error) {
					return booking.Result{}, tt.err
				},
			}, nil, slog.Default())

			_, err := srv.Book(context.Background(), bookRequest())
			if status.Code(err) != tt.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tt.want)
			}
		})
	}
}

func TestGetBooking_RejectsInvalidUUID(t *testing.T) {
	srv := NewSlotsServer(&fakeSlots{}, &fakeBookings{}, nil, slog.Default())

	_, err := srv.GetBooking(context.Background(), &GetBookingRequest{BookingID: "not-a-uuid"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestCancel_MapsInvalidToken(t *testing.T) {
	srv := NewSlotsServer(&fakeSlots{}, &fakeBookings{
		cancelFn: func(ctx context.Context, in booking.CancelInput) (domain.Booking, error) {
			return domain.Booking{}, domain.ErrInvalidRescheduleToken
		},
	}, nil, slog.Default())

	_, err := srv.Cancel(context.Background(), &CancelRequest{EventToken: "x", RescheduleToken: "y"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.FailedPrecondition)
	}
}

func TestRefreshGroup(t *testing.T) {
	var got string
	srv := NewSlotsServer(&fakeSlots{}, &fakeBookings{}, &fakeRefresh{
		enqueueFn: func(ctx context.Context, groupID string) (string, error) {
			got = groupID
			return "task-1", nil
		},
	}, slog.Default())

	resp, err := srv.RefreshGroup(context.Background(), &RefreshGroupRequest{GroupID: " g1 "})
	if err != nil {
		t.Fatalf("RefreshGroup error: %v", err)
	}
	if got != "g1" || resp.TaskID != "task-1" {
		t.Fatalf("group = %q task = %q", got, resp.TaskID)
	}

	if _, err := srv.RefreshGroup(context.Background(), &RefreshGroupRequest{}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}

	unconfigured := NewSlotsServer(&fakeSlots{}, &fakeBookings{}, nil, slog.Default())
	if _, err := unconfigured.RefreshGroup(context.Background(), &RefreshGroupRequest{GroupID: "g1"}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.Unimplemented)
	}
}

func TestSlotsService_JSONCodecRoundTrip(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterSlotsServiceServer(server, NewSlotsServer(&fakeSlots{}, &fakeBookings{
		bookFn: func(ctx context.Context, in booking.BookInput) (booking.Result, error) {
			return booking.Result{
				Booking: domain.Booking{
					ID:          uuid.MustParse("00000000-0000-0000-0000-000000000011"),
					SubjectKind: in.Subject.Kind,
					SubjectID:   in.Subject.ID,
					StartTime:   in.StartTime,
					EndTime:     in.EndTime,
					Status:      domain.BookingStatusActive,
				},
				RescheduleToken: "tok",
				StatusMessage:   "booking confirmed",
			}, nil
		},
	}, nil, slog.Default()))
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewSlotsServiceClient(conn)
	resp, err := client.Book(ctx, bookRequest())
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if resp.Booking.ID != "00000000-0000-0000-0000-000000000011" || resp.RescheduleToken != "tok" || resp.StatusMessage != "booking confirmed" {
		t.Fatalf("response = %+v", resp)
	}
	if !resp.Booking.StartTime.Equal(*bookRequest().StartTime) {
		t.Fatalf("start_time = %s", resp.Booking.StartTime)
	}

	_, err = client.GetBooking(ctx, &GetBookingRequest{BookingID: "bad"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}
