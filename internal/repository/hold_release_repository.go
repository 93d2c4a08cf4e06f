package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/gig-escrow/internal/models"
)

type HoldReleaseRepository struct {
	q sqlx.ExtContext
}

func NewHoldReleaseRepository(q sqlx.ExtContext) *HoldReleaseRepository {
	return &HoldReleaseRepository{q: q}
}

func (r *HoldReleaseRepository) Schedule(ctx context.Context, rel *models.HoldRelease) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO hold_releases (intent_id, idempotency_key, subject, subject_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (intent_id) DO NOTHING
	`, rel.IntentID, rel.IdempotencyKey, rel.Subject, rel.SubjectID)
	if err != nil {
		return fmt.Errorf("schedule hold release: %w", err)
	}
	return nil
}

func (r *HoldReleaseRepository) MarkReleased(ctx context.Context, intentID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE hold_releases
		SET released_at = NOW(), attempts = attempts + 1, last_error = NULL, updated_at = NOW()
		WHERE intent_id = $1 AND released_at IS NULL
	`, intentID)
	return err
}

func (r *HoldReleaseRepository) RecordFailure(ctx context.Context, intentID, errMsg string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE hold_releases
		SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE intent_id = $1 AND released_at IS NULL
	`, intentID, errMsg)
	return err
}

func (r *HoldReleaseRepository) ListPending(ctx context.Context, maxAttempts, limit int) ([]models.HoldRelease, error) {
	var rels []models.HoldRelease
	err := sqlx.SelectContext(ctx, r.q, &rels, `
		SELECT * FROM hold_releases
		WHERE released_at IS NULL AND attempts < $1
		ORDER BY created_at LIMIT $2
	`, maxAttempts, limit)
	return rels, err
}
