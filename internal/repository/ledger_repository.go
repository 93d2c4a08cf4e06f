package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/repository/common"
)

type LedgerRepository struct {
	q sqlx.ExtContext
}

func NewLedgerRepository(q sqlx.ExtContext) *LedgerRepository {
	return &LedgerRepository{q: q}
}

func (r *LedgerRepository) Append(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	ok, err := common.Affected(r.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, project_id, payout_id, kind, amount, currency, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, reference) WHERE reference IS NOT NULL DO NOTHING
	`, e.ID, e.ProjectID, e.PayoutID, string(e.Kind), e.Amount, e.Currency, e.Reference))
	if err != nil {
		return false, fmt.Errorf("append ledger entry: %w", err)
	}
	return ok, nil
}

func (r *LedgerRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := sqlx.SelectContext(ctx, r.q, &entries, `
		SELECT * FROM ledger_entries WHERE project_id = $1 ORDER BY created_at, id
	`, projectID)
	return entries, err
}

func (r *LedgerRepository) SumByKind(ctx context.Context, projectID uuid.UUID, kind valueobject.LedgerKind) (int64, error) {
	var sum int64
	err := sqlx.GetContext(ctx, r.q, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE project_id = $1 AND kind = $2
	`, projectID, string(kind))
	return sum, err
}
