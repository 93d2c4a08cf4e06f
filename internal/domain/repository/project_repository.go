package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
)

type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*models.Project, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Project, error)
	// TransitionStatus выполняет UPDATE ... WHERE status = ANY(from) и сообщает, была ли запись.
	TransitionStatus(ctx context.Context, id uuid.UUID, to valueobject.ProjectStatus, from []valueobject.ProjectStatus) (bool, error)
	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) (bool, error)
	ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]models.Project, error)
}
