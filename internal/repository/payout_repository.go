package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/repository/common"
)

type PayoutRepository struct {
	q sqlx.ExtContext
}

func NewPayoutRepository(q sqlx.ExtContext) *PayoutRepository {
	return &PayoutRepository{q: q}
}

func (r *PayoutRepository) Ensure(ctx context.Context, rec *models.PayoutRecord) (*models.PayoutRecord, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = valueobject.PayoutStatusPending
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO payout_records (id, project_id, provider, recipient_id, amount, currency,
			idempotency_key, external_transfer_id, status, reversal_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, rec.ID, rec.ProjectID, rec.Provider, rec.RecipientID, rec.Amount, rec.Currency,
		rec.IdempotencyKey, rec.ExternalTransferID, string(rec.Status), rec.ReversalOf)
	created, err := common.Affected(res, err)
	if err != nil {
		return nil, false, fmt.Errorf("ensure payout record: %w", err)
	}
	stored, err := common.GetByField[models.PayoutRecord](ctx, r.q, "payout_records", "idempotency_key", rec.IdempotencyKey, domainrepo.ErrNotFound)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRecord, error) {
	return common.GetByID[models.PayoutRecord](ctx, r.q, "payout_records", id, domainrepo.ErrNotFound)
}

func (r *PayoutRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*models.PayoutRecord, error) {
	var rec models.PayoutRecord
	err := sqlx.GetContext(ctx, r.q, &rec, `
		SELECT * FROM payout_records
		WHERE provider = $1 AND external_transfer_id = $2 AND reversal_of IS NULL
	`, provider, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainrepo.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PayoutRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.PayoutRecord, error) {
	var records []models.PayoutRecord
	err := sqlx.SelectContext(ctx, r.q, &records, `
		SELECT * FROM payout_records WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	return records, err
}

func (r *PayoutRepository) SetExternalID(ctx context.Context, id uuid.UUID, externalID string, raw json.RawMessage) (bool, error) {
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE payout_records
		SET external_transfer_id = $2, raw_provider_response = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND external_transfer_id IS NULL
	`, id, externalID, nullableJSON(raw)))
}

func (r *PayoutRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to valueobject.PayoutStatus, from []valueobject.PayoutStatus, errMsg *string, raw json.RawMessage) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE payout_records
		SET status = $2,
			error_message = COALESCE($4, error_message),
			raw_provider_response = COALESCE($5, raw_provider_response),
			completed_at = CASE WHEN $2 = 'completed' THEN COALESCE(completed_at, NOW()) ELSE completed_at END,
			failed_at = CASE WHEN $2 = 'failed' THEN NOW() ELSE failed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), pq.Array(allowed), errMsg, nullableJSON(raw)))
}

func (r *PayoutRepository) ListUnsubmitted(ctx context.Context, olderThan time.Time, limit int) ([]models.PayoutRecord, error) {
	var records []models.PayoutRecord
	err := sqlx.SelectContext(ctx, r.q, &records, `
		SELECT * FROM payout_records
		WHERE status = 'pending' AND external_transfer_id IS NULL AND reversal_of IS NULL
		  AND updated_at < $1
		ORDER BY created_at LIMIT $2
	`, olderThan, limit)
	return records, err
}

func (r *PayoutRepository) ListInFlight(ctx context.Context, olderThan time.Time, limit int) ([]models.PayoutRecord, error) {
	var records []models.PayoutRecord
	err := sqlx.SelectContext(ctx, r.q, &records, `
		SELECT * FROM payout_records
		WHERE status IN ('pending', 'processing') AND external_transfer_id IS NOT NULL
		  AND reversal_of IS NULL AND updated_at < $1
		ORDER BY updated_at LIMIT $2
	`, olderThan, limit)
	return records, err
}

// nullableJSON превращает пустой payload в NULL, чтобы не затирать сохранённый ответ.
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

type PayoutAccountRepository struct {
	q sqlx.ExtContext
}

func NewPayoutAccountRepository(q sqlx.ExtContext) *PayoutAccountRepository {
	return &PayoutAccountRepository{q: q}
}

func (r *PayoutAccountRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	return common.GetByField[models.PayoutAccount](ctx, r.q, "payout_accounts", "user_id", userID, domainrepo.ErrNotFound)
}
