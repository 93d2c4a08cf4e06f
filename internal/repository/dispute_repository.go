package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/repository/common"
)

type DisputeRepository struct {
	q sqlx.ExtContext
}

func NewDisputeRepository(q sqlx.ExtContext) *DisputeRepository {
	return &DisputeRepository{q: q}
}

func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (project_id, raised_by, against, reason, description, evidence_urls, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	if d.EvidenceURLs == nil {
		d.EvidenceURLs = pq.StringArray{}
	}
	err := r.q.QueryRowxContext(ctx, query,
		d.ProjectID, d.RaisedBy, d.Against, d.Reason, d.Description, d.EvidenceURLs, d.Status,
	).Scan(&d.ID, &d.CreatedAt)
	if common.IsUniqueViolation(err) {
		return domainrepo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.q, "disputes", id, domainrepo.ErrNotFound)
}

func (r *DisputeRepository) GetLatestByProject(ctx context.Context, projectID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := sqlx.GetContext(ctx, r.q, &d, `
		SELECT * FROM disputes WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1
	`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainrepo.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepository) HasResolved(ctx context.Context, projectID uuid.UUID) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM disputes
			WHERE project_id = $1 AND status IN ('resolved_refund', 'resolved_release', 'resolved_split')
		)
	`, projectID)
	return exists, err
}

func (r *DisputeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := sqlx.SelectContext(ctx, r.q, &disputes, `
		SELECT * FROM disputes
		WHERE raised_by = $1 OR against = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return disputes, err
}

func (r *DisputeRepository) SetCounterResponse(ctx context.Context, id, responder uuid.UUID, text string, evidence []string) (bool, error) {
	if evidence == nil {
		evidence = []string{}
	}
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE disputes
		SET counter_response = $3, counter_evidence = $4, status = 'under_review'
		WHERE id = $1 AND against = $2 AND status = 'open' AND counter_response IS NULL
	`, id, responder, text, pq.Array(evidence)))
}

func (r *DisputeRepository) LockOutcome(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, splitPercent *int, notes *string) (bool, error) {
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE disputes
		SET pending_outcome = $2, split_percent = $3,
			resolution_notes = COALESCE($4, resolution_notes), status = 'under_review'
		WHERE id = $1 AND status IN ('open', 'under_review')
		  AND (pending_outcome IS NULL
			OR (pending_outcome = $2 AND split_percent IS NOT DISTINCT FROM $3))
	`, id, string(outcome), splitPercent, notes))
}

func (r *DisputeRepository) Finalize(ctx context.Context, id uuid.UUID, status valueobject.DisputeStatus) (bool, error) {
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE disputes SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status = 'under_review'
	`, id, string(status)))
}

func (r *DisputeRepository) EnsureLeg(ctx context.Context, leg *models.DisputeLeg) (*models.DisputeLeg, error) {
	var out models.DisputeLeg
	// DO UPDATE без изменений нужен, чтобы RETURNING вернул существующую строку.
	err := sqlx.GetContext(ctx, r.q, &out, `
		INSERT INTO dispute_legs (dispute_id, kind, amount, currency, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, 'requested')
		ON CONFLICT (idempotency_key) DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
		RETURNING *
	`, leg.DisputeID, string(leg.Kind), leg.Amount, leg.Currency, leg.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("ensure dispute leg: %w", err)
	}
	return &out, nil
}

func (r *DisputeRepository) ListLegs(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeLeg, error) {
	var legs []models.DisputeLeg
	err := sqlx.SelectContext(ctx, r.q, &legs, `
		SELECT * FROM dispute_legs WHERE dispute_id = $1 ORDER BY kind
	`, disputeID)
	return legs, err
}

func (r *DisputeRepository) UpdateLeg(ctx context.Context, legID uuid.UUID, status valueobject.LegStatus, externalID, errMsg *string) error {
	// Принятую ногу нельзя откатить обратно в failed.
	_, err := r.q.ExecContext(ctx, `
		UPDATE dispute_legs
		SET status = $2, external_id = COALESCE($3, external_id), error = $4,
			attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status <> 'accepted'
	`, legID, string(status), externalID, errMsg)
	return err
}
