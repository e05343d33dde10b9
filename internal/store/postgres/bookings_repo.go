package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"slotbook/internal/domain"
	"slotbook/internal/store"
)

const noOverlapConstraint = "booking_participants_no_overlap"

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) ListActiveBookings(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	return listActiveBookings(ctx, r.db, participantIDs, windowStart, windowEnd)
}

func (r *BookingRepo) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, r.db, id)
}

// InParticipantsTransaction takes one advisory lock per participant, in sorted order so two
// overlapping sets cannot deadlock, and holds them until fn's transaction ends.
func (r *BookingRepo) InParticipantsTransaction(ctx context.Context, participantIDs []string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	ids := lockOrder(participantIDs)
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, id := range ids {
			if err := lockParticipant(ctx, tx, id); err != nil {
				return err
			}
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockOrder(participantIDs []string) []string {
	seen := make(map[string]struct{}, len(participantIDs))
	out := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func lockParticipant(ctx context.Context, tx bun.Tx, participantID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "participant:"+participantID).Exec(ctx)
	return err
}

func listActiveBookings(ctx context.Context, db bun.IDB, participantIDs []string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.BookingStatusActive).
		Where("participants && ?", pgdialect.Array(participantIDs)).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func getBooking(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := db.NewSelect().Model(&b).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.Booking{}, notFound(err)
	}
	return b, nil
}

func (r bookingTx) ListActiveBookings(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	return listActiveBookings(ctx, r.tx, participantIDs, windowStart, windowEnd)
}

func (r bookingTx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, r.tx, id)
}

func (r bookingTx) FindActiveByVisitor(ctx context.Context, subject domain.Subject, visitorEmail string) (domain.Booking, error) {
	var b domain.Booking
	err := r.tx.NewSelect().
		Model(&b).
		Where("subject_kind = ?", subject.Kind).
		Where("subject_id = ?", subject.ID).
		Where("status = ?", domain.BookingStatusActive).
		Where("lower(visitor_email) = lower(?)", visitorEmail).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, notFound(err)
	}
	return b, nil
}

// CreateBooking inserts the booking and its participant rows under a savepoint, so a constraint
// violation leaves the enclosing transaction usable.
func (r bookingTx) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.EventRefs == nil {
		b.EventRefs = []domain.EventRef{}
	}
	if _, err := r.tx.ExecContext(ctx, "SAVEPOINT create_booking"); err != nil {
		return domain.Booking{}, err
	}

	err := r.insertBooking(ctx, &b)
	if err == nil {
		_, err = r.tx.ExecContext(ctx, "RELEASE SAVEPOINT create_booking")
		if err != nil {
			return domain.Booking{}, err
		}
		return b, nil
	}

	if _, rbErr := r.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT create_booking"); rbErr != nil {
		return domain.Booking{}, errors.Join(err, rbErr)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return domain.Booking{}, err
	}
	switch {
	case pgErr.Code == pgerrcode.ExclusionViolation && pgErr.ConstraintName == noOverlapConstraint:
		return domain.Booking{}, store.ErrConflict
	case pgErr.Code == pgerrcode.UniqueViolation:
		existing, selectErr := getBooking(ctx, r.tx, b.ID)
		if selectErr != nil {
			return domain.Booking{}, store.ErrIdempotencyConflict
		}
		if existing.Subject() != b.Subject() || !existing.Interval().Equal(b.Interval()) {
			return domain.Booking{}, store.ErrIdempotencyConflict
		}
		return existing, nil
	}
	return domain.Booking{}, err
}

func (r bookingTx) insertBooking(ctx context.Context, b *domain.Booking) error {
	if _, err := r.tx.NewInsert().Model(b).Exec(ctx); err != nil {
		return err
	}

	rows := make([]domain.BookingParticipant, 0, len(b.Participants))
	for _, p := range b.Participants {
		rows = append(rows, domain.BookingParticipant{
			BookingID:     b.ID,
			ParticipantID: p,
			StartTime:     b.StartTime,
			EndTime:       b.EndTime,
			Active:        b.Status == domain.BookingStatusActive,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := r.tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

// UpdateBookingStatus also releases the participants' time when the booking stops being active.
func (r bookingTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus, rescheduledTo *uuid.UUID) error {
	q := r.tx.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if rescheduledTo != nil {
		q = q.Set("rescheduled_to_id = ?", *rescheduledTo)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}

	_, err = r.tx.NewUpdate().
		Model((*domain.BookingParticipant)(nil)).
		Set("active = ?", status == domain.BookingStatusActive).
		Where("booking_id = ?", id).
		Exec(ctx)
	return err
}
