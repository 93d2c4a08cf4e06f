package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
)

type DisputeRepository interface {
	// Create возвращает ErrDuplicate, если по проекту уже есть активный спор.
	Create(ctx context.Context, dispute *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetLatestByProject(ctx context.Context, projectID uuid.UUID) (*models.Dispute, error)
	HasResolved(ctx context.Context, projectID uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
	SetCounterResponse(ctx context.Context, id, responder uuid.UUID, text string, evidence []string) (bool, error)
	// LockOutcome фиксирует исход решения; повтор с тем же исходом проходит.
	LockOutcome(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, splitPercent *int, notes *string) (bool, error)
	Finalize(ctx context.Context, id uuid.UUID, status valueobject.DisputeStatus) (bool, error)

	EnsureLeg(ctx context.Context, leg *models.DisputeLeg) (*models.DisputeLeg, error)
	ListLegs(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeLeg, error)
	UpdateLeg(ctx context.Context, legID uuid.UUID, status valueobject.LegStatus, externalID, errMsg *string) error
}
