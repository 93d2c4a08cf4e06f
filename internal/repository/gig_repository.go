package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/repository/common"
)

// invitationBatchSize - сколько приглашений вставляется одним запросом.
const invitationBatchSize = 200

type GigRepository struct {
	q sqlx.ExtContext
}

func NewGigRepository(q sqlx.ExtContext) *GigRepository {
	return &GigRepository{q: q}
}

func (r *GigRepository) Create(ctx context.Context, g *models.GigPost) error {
	query := `
		INSERT INTO gig_posts (id, requester_id, skill_required, description, payment_amount,
			payment_currency, date_needed, expires_at, status, preauth_intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return r.q.QueryRowxContext(ctx, query,
		g.ID, g.RequesterID, g.SkillRequired, g.Description, g.PaymentAmount,
		g.PaymentCurrency, g.DateNeeded, g.ExpiresAt, g.Status, g.PreauthIntentID,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *GigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GigPost, error) {
	return common.GetByID[models.GigPost](ctx, r.q, "gig_posts", id, domainrepo.ErrNotFound)
}

func (r *GigRepository) MarkFilled(ctx context.Context, gigID, responseID uuid.UUID) (bool, error) {
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE gig_posts
		SET status = 'filled', selected_response_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, gigID, responseID))
}

func (r *GigRepository) Cancel(ctx context.Context, gigID uuid.UUID) (bool, error) {
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE gig_posts SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, gigID))
}

func (r *GigRepository) MarkExpired(ctx context.Context, gigID uuid.UUID, now time.Time) (bool, error) {
	return common.Affected(r.q.ExecContext(ctx, `
		UPDATE gig_posts g SET status = 'expired', updated_at = NOW()
		WHERE g.id = $1 AND g.status = 'open' AND g.expires_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM gig_responses gr WHERE gr.gig_id = g.id AND gr.status = 'accepted'
		  )
	`, gigID, now))
}

func (r *GigRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.GigPost, error) {
	var gigs []models.GigPost
	err := sqlx.SelectContext(ctx, r.q, &gigs, `
		SELECT g.* FROM gig_posts g
		WHERE g.status = 'open' AND g.expires_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM gig_responses gr WHERE gr.gig_id = g.id AND gr.status = 'accepted'
		  )
		ORDER BY g.expires_at
		LIMIT $2
	`, now, limit)
	return gigs, err
}

func (r *GigRepository) CreateInvitations(ctx context.Context, gigID uuid.UUID, providerIDs []uuid.UUID) (int, error) {
	bi := common.NewBatchInserter(r.q,
		`INSERT INTO gig_responses (gig_id, provider_id, status)`,
		`ON CONFLICT (gig_id, provider_id) DO NOTHING`,
		3, invitationBatchSize)

	for _, providerID := range providerIDs {
		if err := bi.Add(ctx, gigID, providerID, valueobject.ResponseStatusPending); err != nil {
			return int(bi.Inserted()), err
		}
	}
	if err := bi.Flush(ctx); err != nil {
		return int(bi.Inserted()), err
	}
	return int(bi.Inserted()), nil
}

func (r *GigRepository) InsertResponse(ctx context.Context, resp *models.GigResponse) error {
	query := `
		INSERT INTO gig_responses (gig_id, provider_id, status, message, responded_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE EXISTS (SELECT 1 FROM gig_posts WHERE id = $1 AND status = 'open')
		RETURNING id, responded_at, created_at
	`
	err := r.q.QueryRowxContext(ctx, query, resp.GigID, resp.ProviderID, resp.Status, resp.Message).
		Scan(&resp.ID, &resp.RespondedAt, &resp.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domainrepo.ErrNotFound
	case common.IsUniqueViolation(err):
		return domainrepo.ErrDuplicate
	case err != nil:
		return fmt.Errorf("insert gig response: %w", err)
	}
	return nil
}

func (r *GigRepository) DecideResponse(ctx context.Context, gigID, providerID uuid.UUID, status valueobject.ResponseStatus, message *string) (*models.GigResponse, error) {
	var resp models.GigResponse
	err := sqlx.GetContext(ctx, r.q, &resp, `
		UPDATE gig_responses gr
		SET status = $3, message = $4, responded_at = NOW()
		WHERE gr.gig_id = $1 AND gr.provider_id = $2 AND gr.status = 'pending'
		  AND EXISTS (SELECT 1 FROM gig_posts g WHERE g.id = gr.gig_id AND g.status = 'open')
		RETURNING gr.*
	`, gigID, providerID, status, message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("decide gig response: %w", err)
	}
	return &resp, nil
}

func (r *GigRepository) GetResponse(ctx context.Context, id uuid.UUID) (*models.GigResponse, error) {
	return common.GetByID[models.GigResponse](ctx, r.q, "gig_responses", id, domainrepo.ErrNotFound)
}

func (r *GigRepository) ListResponses(ctx context.Context, gigID uuid.UUID) ([]models.GigResponse, error) {
	var responses []models.GigResponse
	err := sqlx.SelectContext(ctx, r.q, &responses, `
		SELECT * FROM gig_responses WHERE gig_id = $1 ORDER BY responded_at NULLS LAST, created_at
	`, gigID)
	return responses, err
}

func (r *GigRepository) ExpirePendingResponses(ctx context.Context, gigID uuid.UUID) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE gig_responses SET status = 'expired' WHERE gig_id = $1 AND status = 'pending'
	`, gigID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ProviderDirectory ищет исполнителей по таблице навыков.
type ProviderDirectory struct {
	q sqlx.ExtContext
}

func NewProviderDirectory(q sqlx.ExtContext) *ProviderDirectory {
	return &ProviderDirectory{q: q}
}

func (d *ProviderDirectory) EligibleProviders(ctx context.Context, skill string, exclude uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := sqlx.SelectContext(ctx, d.q, &ids, `
		SELECT DISTINCT user_id FROM provider_skills
		WHERE lower(skill) = lower($1) AND user_id <> $2
		LIMIT $3
	`, skill, exclude, limit)
	return ids, err
}
