package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/models"
)

const (
	holdReleaseMaxAttempts = 20
	holdReleaseBatchSize   = 100
)

// HoldReleaser снимает холды на картах. Сначала запись в hold_releases
// внутри транзакции закрытия, затем отмена намерения. Неудачная отмена
// остаётся в очереди и повторяется с тем же ключом.
type HoldReleaser struct {
	store  domainrepo.Store
	escrow EscrowGateway
}

func NewHoldReleaser(store domainrepo.Store, escrowGw EscrowGateway) *HoldReleaser {
	return &HoldReleaser{store: store, escrow: escrowGw}
}

// Schedule ставит снятие холда в очередь в транзакции tx.
func (h *HoldReleaser) Schedule(ctx context.Context, tx domainrepo.Store, subject string, subjectID uuid.UUID, intentID, idempotencyKey string) (*models.HoldRelease, error) {
	rel := &models.HoldRelease{
		IntentID:       intentID,
		IdempotencyKey: idempotencyKey,
		Subject:        subject,
		SubjectID:      subjectID,
	}
	if err := tx.HoldReleases().Schedule(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// Release отменяет намерение. Результат фиксируется в очереди, ошибка шлюза
// только логируется: запись подберёт RetryPending.
func (h *HoldReleaser) Release(ctx context.Context, rel *models.HoldRelease) bool {
	if rel == nil || h.escrow == nil {
		return false
	}
	entry := logger.Log.WithFields(logrus.Fields{
		"intent_id":  rel.IntentID,
		"subject":    rel.Subject,
		"subject_id": rel.SubjectID,
	})
	if _, err := h.escrow.Cancel(ctx, rel.IntentID, rel.IdempotencyKey); err != nil {
		entry.WithError(err).Warn("не удалось снять холд, повторим позже")
		if recErr := h.store.HoldReleases().RecordFailure(ctx, rel.IntentID, err.Error()); recErr != nil {
			entry.WithError(recErr).Error("не удалось записать ошибку снятия холда")
		}
		return false
	}
	if err := h.store.HoldReleases().MarkReleased(ctx, rel.IntentID); err != nil {
		entry.WithError(err).Error("холд снят, но запись не обновлена")
		return true
	}
	entry.Info("холд снят")
	return true
}

// RetryPending повторяет неподтверждённые снятия холдов. Возвращает число снятых.
func (h *HoldReleaser) RetryPending(ctx context.Context) (int, error) {
	pending, err := h.store.HoldReleases().ListPending(ctx, holdReleaseMaxAttempts, holdReleaseBatchSize)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range pending {
		if h.Release(ctx, &pending[i]) {
			released++
		}
	}
	if released > 0 {
		logger.Log.WithField("count", released).Info("отложенные холды сняты")
	}
	return released, nil
}
