package repository

import (
	"context"

	"github.com/ignatzorin/gig-escrow/internal/models"
)

type HoldReleaseRepository interface {
	// Schedule не дублирует запись для того же намерения.
	Schedule(ctx context.Context, rel *models.HoldRelease) error
	MarkReleased(ctx context.Context, intentID string) error
	RecordFailure(ctx context.Context, intentID, errMsg string) error
	ListPending(ctx context.Context, maxAttempts, limit int) ([]models.HoldRelease, error)
}
