package repository

import (
	"context"
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

type ProjectRepository struct {
	q sqlx.ExtContext
}

func NewProjectRepository(q sqlx.ExtContext) *ProjectRepository {
	return &ProjectRepository{q: q}
}

func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (id, gig_id, poster_user_id, provider_user_id, agreed_amount, currency,
			platform_fee_amount, provider_payout_amount, status, payment_intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.q.QueryRowxContext(ctx, query,
		p.ID, p.GigID, p.PosterUserID, p.ProviderUserID, p.AgreedAmount, p.Currency,
		p.PlatformFeeAmount, p.ProviderPayoutAmount, p.Status, p.PaymentIntentID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if common.IsUniqueViolation(err) {
		return domainrepo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return common.GetByID[models.Project](ctx, r.q, "projects", id, domainrepo.ErrNotFound)
}

func (r *ProjectRepository) GetByPaymentIntent(ctx context.Context, intentID string) (*models.Project, error) {
	return common.GetByField[models.Project](ctx, r.q, "projects", "payment_intent_id", intentID, domainrepo.ErrNotFound)
}

func (r *ProjectRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Project, error) {
	var projects []models.Project
	err := sqlx.SelectContext(ctx, r.q, &projects, `
		SELECT * FROM projects
		WHERE poster_user_id = $1 OR provider_user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return projects, err
}

func (r *ProjectRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to valueobject.ProjectStatus, from []valueobject.ProjectStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE projects
		SET status = $2,
			completed_at = CASE WHEN $2 = 'completed' THEN COALESCE(completed_at, NOW()) ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), pq.Array(allowed)))
}

func (r *ProjectRepository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) (bool, error) {
	ok, err := common.Affected(r.q.ExecContext(ctx, `
		UPDATE projects SET payment_intent_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment'
		  AND (payment_intent_id IS NULL OR payment_intent_id = $2)
	`, id, intentID))
	if common.IsUniqueViolation(err) {
		return false, domainrepo.ErrDuplicate
	}
	return ok, err
}

func (r *ProjectRepository) ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]models.Project, error) {
	var projects []models.Project
	err := sqlx.SelectContext(ctx, r.q, &projects, `
		SELECT * FROM projects
		WHERE status = 'pending_payment' AND created_at < $1
		ORDER BY created_at LIMIT $2
	`, cutoff, limit)
	return projects, err
}
