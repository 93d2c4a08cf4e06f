package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
)

type GigRepository interface {
	Create(ctx context.Context, gig *models.GigPost) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GigPost, error)
	// MarkFilled - единственная условная запись open -> filled.
	MarkFilled(ctx context.Context, gigID, responseID uuid.UUID) (bool, error)
	Cancel(ctx context.Context, gigID uuid.UUID) (bool, error)
	// MarkExpired переводит гиг в expired, только если он открыт, просрочен и без принятых откликов.
	MarkExpired(ctx context.Context, gigID uuid.UUID, now time.Time) (bool, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.GigPost, error)

	CreateInvitations(ctx context.Context, gigID uuid.UUID, providerIDs []uuid.UUID) (int, error)
	InsertResponse(ctx context.Context, resp *models.GigResponse) error
	// DecideResponse обновляет приглашение pending -> decision, пока гиг открыт.
	DecideResponse(ctx context.Context, gigID, providerID uuid.UUID, status valueobject.ResponseStatus, message *string) (*models.GigResponse, error)
	GetResponse(ctx context.Context, id uuid.UUID) (*models.GigResponse, error)
	ListResponses(ctx context.Context, gigID uuid.UUID) ([]models.GigResponse, error)
	ExpirePendingResponses(ctx context.Context, gigID uuid.UUID) (int64, error)
}

// ProviderDirectory - источник исполнителей, подходящих под гиг.
type ProviderDirectory interface {
	EligibleProviders(ctx context.Context, skill string, exclude uuid.UUID, limit int) ([]uuid.UUID, error)
}
