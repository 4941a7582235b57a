// Package earnings owns the per-technician balance. Every mutation is one
// conditional UPDATE scoped to a single technician, so concurrent releases
// and payouts serialize on the row and no balance can go negative.
package earnings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fixora-backend/pkg/db/models"
)

// ErrInsufficientBalance is returned when a conditional update matched no row.
var ErrInsufficientBalance = errors.New("insufficient ledger balance")

// Repository manages earnings_ledgers and ledger_events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, technicianID uuid.UUID) (*models.EarningsLedger, error)
	Credit(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error
	Reserve(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error
	ReleaseReservation(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error
	DebitReserved(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error
	AppendEvent(ctx context.Context, event *models.LedgerEvent) error
	ListEvents(ctx context.Context, technicianID uuid.UUID) ([]models.LedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Get returns the ledger row, or a zero ledger when the technician has never
// been credited.
func (r *repository) Get(ctx context.Context, technicianID uuid.UUID) (*models.EarningsLedger, error) {
	var ledger models.EarningsLedger
	err := r.db.WithContext(ctx).Where("technician_id = ?", technicianID).First(&ledger).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.EarningsLedger{TechnicianID: technicianID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

// Credit adds amount to both total and pending, creating the row on first use.
func (r *repository) Credit(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error {
	if amountCents <= 0 {
		return errors.New("credit amount must be positive")
	}
	row := models.EarningsLedger{
		TechnicianID:       technicianID,
		TotalEarningsCents: amountCents,
		PendingPayoutCents: amountCents,
		Version:            1,
		CreatedAt:          at,
		UpdatedAt:          at,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "technician_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_earnings_cents": gorm.Expr("earnings_ledgers.total_earnings_cents + excluded.total_earnings_cents"),
			"pending_payout_cents": gorm.Expr("earnings_ledgers.pending_payout_cents + excluded.pending_payout_cents"),
			"version":              gorm.Expr("earnings_ledgers.version + 1"),
			"updated_at":           at,
		}),
	}).Create(&row).Error
}

// Reserve holds amount for an in-flight payout when the unreserved pending
// balance covers it.
func (r *repository) Reserve(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error {
	return r.conditionalUpdate(ctx, technicianID,
		"pending_payout_cents - reserved_payout_cents >= ?", amountCents,
		map[string]any{
			"reserved_payout_cents": gorm.Expr("reserved_payout_cents + ?", amountCents),
		}, at)
}

func (r *repository) ReleaseReservation(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error {
	return r.conditionalUpdate(ctx, technicianID,
		"reserved_payout_cents >= ?", amountCents,
		map[string]any{
			"reserved_payout_cents": gorm.Expr("reserved_payout_cents - ?", amountCents),
		}, at)
}

// DebitReserved consumes a reservation once the gateway confirmed the transfer.
func (r *repository) DebitReserved(ctx context.Context, technicianID uuid.UUID, amountCents int64, at time.Time) error {
	return r.conditionalUpdate(ctx, technicianID,
		"reserved_payout_cents >= ?", amountCents,
		map[string]any{
			"total_earnings_cents":  gorm.Expr("total_earnings_cents - ?", amountCents),
			"pending_payout_cents":  gorm.Expr("pending_payout_cents - ?", amountCents),
			"reserved_payout_cents": gorm.Expr("reserved_payout_cents - ?", amountCents),
		}, at)
}

func (r *repository) conditionalUpdate(ctx context.Context, technicianID uuid.UUID, guard string, amountCents int64, updates map[string]any, at time.Time) error {
	if amountCents <= 0 {
		return errors.New("ledger amount must be positive")
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = at
	res := r.db.WithContext(ctx).
		Model(&models.EarningsLedger{}).
		Where("technician_id = ?", technicianID).
		Where(guard, amountCents).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, technicianID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Where("technician_id = ?", technicianID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
