package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
)

type PayoutRepository interface {
	// Ensure вставляет запись по ключу идемпотентности или возвращает существующую.
	Ensure(ctx context.Context, rec *models.PayoutRecord) (*models.PayoutRecord, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRecord, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*models.PayoutRecord, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.PayoutRecord, error)
	SetExternalID(ctx context.Context, id uuid.UUID, externalID string, raw json.RawMessage) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to valueobject.PayoutStatus, from []valueobject.PayoutStatus, errMsg *string, raw json.RawMessage) (bool, error)
	ListUnsubmitted(ctx context.Context, olderThan time.Time, limit int) ([]models.PayoutRecord, error)
	ListInFlight(ctx context.Context, olderThan time.Time, limit int) ([]models.PayoutRecord, error)
}

type PayoutAccountRepository interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
}
