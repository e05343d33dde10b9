package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotbook/internal/domain"
	"slotbook/internal/store"
)

func TestPostgresIntegration_BookingOverlapIdempotencyAndRelease(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("SLOTBOOK_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("SLOTBOOK_TEST_DATABASE_URL not set")
	}

	db, err := Open(context.Background(), databaseURL, PoolConfig{MaxOpenConns: 1}, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "slotbook_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}

		c := bookingTx{tx: tx}
		start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
		end := start.Add(30 * time.Minute)

		newBooking := func(id string, participants []string, s, e time.Time) domain.Booking {
			return domain.Booking{
				ID:              uuid.MustParse(id),
				SubjectKind:     domain.SubjectGroup,
				SubjectID:       "g1",
				Participants:    participants,
				StartTime:       s,
				EndTime:         e,
				Status:          domain.BookingStatusActive,
				RescheduleToken: uuid.NewString(),
				MeetingProvider: domain.MeetingProviderNone,
				Summary:         "Meet: Ada <> Team (30 minutes)",
				VisitorName:     "Ada",
				VisitorEmail:    "Ada@Example.com",
			}
		}

		b1, err := c.CreateBooking(ctx, newBooking("00000000-0000-0000-0000-000000000901", []string{"u1", "u2"}, start, end))
		if err != nil {
			return err
		}

		rows, err := c.ListActiveBookings(ctx, []string{"u2"}, start.Add(-time.Minute), end.Add(time.Minute))
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].ID != b1.ID {
			return fmt.Errorf("active bookings = %v, want [%s]", rows, b1.ID)
		}

		found, err := c.FindActiveByVisitor(ctx, b1.Subject(), "ada@example.com")
		if err != nil {
			return fmt.Errorf("FindActiveByVisitor: %w", err)
		}
		if found.ID != b1.ID {
			return fmt.Errorf("visitor booking = %s, want %s", found.ID, b1.ID)
		}

		// u2 overlaps; the transaction stays usable afterwards.
		_, err = c.CreateBooking(ctx, newBooking("00000000-0000-0000-0000-000000000902", []string{"u2", "u3"}, start.Add(15*time.Minute), end.Add(15*time.Minute)))
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}

		if _, err := c.CreateBooking(ctx, newBooking("00000000-0000-0000-0000-000000000903", []string{"u3"}, start, end)); err != nil {
			return fmt.Errorf("disjoint participant: %w", err)
		}

		again, err := c.CreateBooking(ctx, newBooking("00000000-0000-0000-0000-000000000901", []string{"u1", "u2"}, start, end))
		if err != nil {
			return fmt.Errorf("idempotent insert: %w", err)
		}
		if again.ID != b1.ID || again.RescheduleToken != b1.RescheduleToken {
			return fmt.Errorf("idempotent insert returned %s/%s, want stored booking", again.ID, again.RescheduleToken)
		}

		_, err = c.CreateBooking(ctx, newBooking("00000000-0000-0000-0000-000000000901", []string{"u1", "u2"}, end, end.Add(30*time.Minute)))
		if !errors.Is(err, store.ErrIdempotencyConflict) {
			return fmt.Errorf("idempotency err = %v, want %v", err, store.ErrIdempotencyConflict)
		}

		// Rescheduling releases the old time before the new booking takes it.
		movedID := uuid.MustParse("00000000-0000-0000-0000-000000000904")
		if err := c.UpdateBookingStatus(ctx, b1.ID, domain.BookingStatusRescheduled, &movedID); err != nil {
			return err
		}
		if _, err := c.CreateBooking(ctx, newBooking(movedID.String(), []string{"u1", "u2"}, start, end)); err != nil {
			return fmt.Errorf("reschedule into released time: %w", err)
		}

		old, err := c.GetBooking(ctx, b1.ID)
		if err != nil {
			return err
		}
		if old.Status != domain.BookingStatusRescheduled || old.RescheduledToID == nil || *old.RescheduledToID != movedID {
			return fmt.Errorf("old booking = %s/%v", old.Status, old.RescheduledToID)
		}

		if err := c.UpdateBookingStatus(ctx, uuid.New(), domain.BookingStatusCancelled, nil); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("missing booking err = %v, want %v", err, store.ErrNotFound)
		}
		if _, err := c.GetBooking(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("GetBooking err = %v, want %v", err, store.ErrNotFound)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		stmts := splitSQLStatements(upSQL)
		for _, stmt := range stmts {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
