package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/gateway"
	"github.com/ignatzorin/gig-escrow/internal/gateway/escrow"
	"github.com/ignatzorin/gig-escrow/internal/gateway/payout"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// EscrowGateway - команды процессинга карт, которые нужны сервисам.
type EscrowGateway interface {
	CreateHold(ctx context.Context, req escrow.HoldRequest) (*escrow.Intent, error)
	Capture(ctx context.Context, intentID, idempotencyKey string) (*escrow.Intent, error)
	Cancel(ctx context.Context, intentID, idempotencyKey string) (*escrow.Intent, error)
	Refund(ctx context.Context, req escrow.RefundRequest) (*escrow.Refund, error)
}

// PayoutGateway - команды провайдера выплат.
type PayoutGateway interface {
	CreateTransfer(ctx context.Context, req payout.TransferRequest) (*payout.Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (*payout.Transfer, error)
}

// Notifier - внешний канал уведомлений пользователей.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any) error
}

// Ключи идемпотентности. Формат постоянный: повтор всегда идёт с тем же ключом.
func holdKey(projectID uuid.UUID) string    { return fmt.Sprintf("project:%s:hold", projectID) }
func captureKey(projectID uuid.UUID) string { return fmt.Sprintf("project:%s:capture", projectID) }
func cancelKey(projectID uuid.UUID) string  { return fmt.Sprintf("project:%s:cancel", projectID) }
func releaseKey(projectID uuid.UUID) string { return fmt.Sprintf("project:%s:release", projectID) }
func gigPreauthKey(gigID uuid.UUID) string  { return fmt.Sprintf("gig:%s:preauth", gigID) }
func gigReleaseKey(gigID uuid.UUID) string  { return fmt.Sprintf("gig:%s:release", gigID) }
func reversalKey(payoutID uuid.UUID) string { return fmt.Sprintf("payout:%s:reversal", payoutID) }
func disputeLegKey(disputeID uuid.UUID, kind string) string {
	return fmt.Sprintf("dispute:%s:%s", disputeID, kind)
}

// notFound подменяет ошибку хранилища доменной ошибкой.
func notFound(err error, domainErr *apperror.AppError) error {
	if errors.Is(err, domainrepo.ErrNotFound) {
		return domainErr
	}
	return err
}

// paymentFailure переводит ошибку шлюза в ответ пользователю. Неизвестный
// исход означает "платёж обрабатывается", явный отказ "попробуйте ещё раз".
func paymentFailure(err error) error {
	if apperror.IsValidation(err) {
		return err
	}
	if gateway.IsUnknownOutcome(err) {
		return apperror.Wrap(err, apperror.ErrCodePaymentPending, apperror.ErrPaymentPending.Message)
	}
	return apperror.Wrap(err, apperror.ErrCodeExternalGateway, apperror.ErrPaymentFailed.Message)
}

// notification - уведомление, которое отправляется после коммита транзакции.
type notification struct {
	userID uuid.UUID
	event  string
	data   any
}

type notifications []notification

func (n *notifications) add(userID uuid.UUID, event string, data any) {
	*n = append(*n, notification{userID: userID, event: event, data: data})
}

func (n notifications) send(ctx context.Context, notifier Notifier) {
	if notifier == nil {
		return
	}
	for _, item := range n {
		if err := notifier.Notify(ctx, item.userID, item.event, item.data); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"event":   item.event,
				"user_id": item.userID,
			}).WithError(err).Warn("уведомление не доставлено")
		}
	}
}

// clock - источник времени, подменяемый в тестах.
type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
