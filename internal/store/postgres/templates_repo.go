package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotbook/internal/domain"
	"slotbook/internal/store"
)

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

type TemplateRepo struct {
	db *bun.DB
}

func NewTemplateRepo(db *bun.DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

func (r *TemplateRepo) GetTemplate(ctx context.Context, ownerID string) (domain.AvailabilityTemplate, error) {
	var t domain.AvailabilityTemplate
	err := r.db.NewSelect().Model(&t).Where("owner_id = ?", ownerID).Limit(1).Scan(ctx)
	if err != nil {
		return domain.AvailabilityTemplate{}, notFound(err)
	}
	return t, nil
}

func (r *TemplateRepo) GetDuration(ctx context.Context, id string) (domain.DurationOption, error) {
	var d domain.DurationOption
	err := r.db.NewSelect().Model(&d).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.DurationOption{}, notFound(err)
	}
	return d, nil
}

func (r *TemplateRepo) ListDurations(ctx context.Context, ownerID string) ([]domain.DurationOption, error) {
	var rows []domain.DurationOption
	err := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type GroupRepo struct {
	db *bun.DB
}

func NewGroupRepo(db *bun.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

func (r *GroupRepo) GetGroup(ctx context.Context, id string) (domain.AppointmentGroup, error) {
	var g domain.AppointmentGroup
	err := r.db.NewSelect().Model(&g).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.AppointmentGroup{}, notFound(err)
	}
	return g, nil
}

func (r *GroupRepo) ListGroupIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.NewSelect().
		Model((*domain.AppointmentGroup)(nil)).
		Column("id").
		OrderExpr("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type LinkRepo struct {
	db *bun.DB
}

func NewLinkRepo(db *bun.DB) *LinkRepo {
	return &LinkRepo{db: db}
}

// ListLinks returns the primary link first.
func (r *LinkRepo) ListLinks(ctx context.Context, participantID string) ([]domain.CalendarLink, error) {
	var rows []domain.CalendarLink
	err := r.db.NewSelect().
		Model(&rows).
		Where("participant_id = ?", participantID).
		OrderExpr("is_primary DESC, created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *LinkRepo) GetLink(ctx context.Context, id uuid.UUID) (domain.CalendarLink, error) {
	var l domain.CalendarLink
	err := r.db.NewSelect().Model(&l).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.CalendarLink{}, notFound(err)
	}
	return l, nil
}
