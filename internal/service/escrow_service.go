package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/gateway/escrow"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

const intentSucceeded = "succeeded"

// PaymentSession - данные для подтверждения оплаты на клиенте.
type PaymentSession struct {
	ProjectID    uuid.UUID `json:"project_id"`
	IntentID     string    `json:"payment_intent_id"`
	Status       string    `json:"status,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
}

// EscrowService - удержание, списание и возврат денег заказчика.
type EscrowService struct {
	store    domainrepo.Store
	escrow   EscrowGateway
	holds    *HoldReleaser
	ledger   *LedgerService
	notifier Notifier
	sm       ProjectStateMachine
}

func NewEscrowService(store domainrepo.Store, escrowGw EscrowGateway, ledger *LedgerService, notifier Notifier) *EscrowService {
	return &EscrowService{
		store:    store,
		escrow:   escrowGw,
		holds:    NewHoldReleaser(store, escrowGw),
		ledger:   ledger,
		notifier: notifier,
	}
}

// StartPayment ставит холд на сумму проекта. Повторный вызов возвращает то же намерение.
func (s *EscrowService) StartPayment(ctx context.Context, projectID, posterID uuid.UUID) (*PaymentSession, error) {
	project, err := s.posterProject(ctx, projectID, posterID)
	if err != nil {
		return nil, err
	}
	if project.Status != valueobject.ProjectStatusPendingPayment {
		return nil, apperror.New(apperror.ErrCodeConflict, "проект уже оплачен или закрыт")
	}

	session := &PaymentSession{
		ProjectID: project.ID,
		Amount:    valueobject.FormatMinor(project.AgreedAmount, project.Currency),
		Currency:  project.Currency,
	}
	// Холд поставлен ещё при публикации гига.
	if project.PaymentIntentID != nil && *project.PaymentIntentID != "" {
		session.IntentID = *project.PaymentIntentID
		return session, nil
	}

	intent, err := s.escrow.CreateHold(ctx, escrow.HoldRequest{
		Amount:   project.AgreedAmount,
		Currency: project.Currency,
		Metadata: map[string]string{
			"project_id": project.ID.String(),
		},
		IdempotencyKey: holdKey(project.ID),
	})
	if err != nil {
		return nil, paymentFailure(err)
	}

	stored, err := s.store.Projects().SetPaymentIntent(ctx, project.ID, intent.ID)
	if err != nil {
		return nil, err
	}
	if !stored {
		return nil, apperror.New(apperror.ErrCodeConflict, "проект уже оплачен или закрыт")
	}

	logger.Log.WithFields(logrus.Fields{
		"project_id": project.ID,
		"intent_id":  intent.ID,
	}).Info("холд по проекту создан")

	session.IntentID = intent.ID
	session.Status = intent.Status
	session.ClientSecret = intent.ClientSecret
	return session, nil
}

// Capture списывает удержанные деньги. Проект становится escrowed, только
// если процессинг сразу подтвердил списание, иначе ждём вебхук.
func (s *EscrowService) Capture(ctx context.Context, projectID, posterID uuid.UUID) (*models.Project, error) {
	project, err := s.posterProject(ctx, projectID, posterID)
	if err != nil {
		return nil, err
	}
	if project.Status == valueobject.ProjectStatusEscrowed {
		return project, nil
	}
	if project.Status != valueobject.ProjectStatusPendingPayment {
		return nil, apperror.New(apperror.ErrCodeConflict, "проект не ожидает оплаты")
	}
	if project.PaymentIntentID == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "оплата по проекту не начата")
	}

	intent, err := s.escrow.Capture(ctx, *project.PaymentIntentID, captureKey(project.ID))
	if err != nil {
		return nil, paymentFailure(err)
	}
	if intent.Status != intentSucceeded {
		return nil, apperror.ErrPaymentPending
	}

	var applied bool
	err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		applied, err = s.MarkEscrowed(ctx, tx, project, intent.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.notifyEscrowed(ctx, project)
	}
	return s.store.Projects().GetByID(ctx, project.ID)
}

// MarkEscrowed переводит проект в escrowed и пишет холд в журнал.
// Повтор для уже оплаченного проекта ничего не делает.
func (s *EscrowService) MarkEscrowed(ctx context.Context, tx domainrepo.Store, project *models.Project, intentID string) (bool, error) {
	applied, err := s.sm.Apply(ctx, tx.Projects(), project.ID, valueobject.ProjectStatusEscrowed)
	if err != nil || !applied {
		return applied, err
	}
	return true, s.ledger.RecordHold(ctx, tx, project, project.AgreedAmount, intentID)
}

func (s *EscrowService) notifyEscrowed(ctx context.Context, project *models.Project) {
	var out notifications
	payload := map[string]any{
		"project_id": project.ID,
		"amount":     valueobject.FormatMinor(project.AgreedAmount, project.Currency),
		"currency":   project.Currency,
	}
	out.add(project.ProviderUserID, models.EventProjectEscrowed, payload)
	out.add(project.PosterUserID, models.EventProjectEscrowed, payload)
	out.send(ctx, s.notifier)
}

// Refund возвращает заказчику часть или всё удержанное.
func (s *EscrowService) Refund(ctx context.Context, project *models.Project, amount int64, reason, idempotencyKey string) (*escrow.Refund, error) {
	if project.PaymentIntentID == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "по проекту нет платежа для возврата")
	}
	return s.escrow.Refund(ctx, escrow.RefundRequest{
		IntentID:       *project.PaymentIntentID,
		Amount:         amount,
		HoldAmount:     project.AgreedAmount,
		Currency:       project.Currency,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
}

// ScheduleRelease ставит отмену намерения проекта в очередь в транзакции tx.
// Без намерения возвращает nil.
func (s *EscrowService) ScheduleRelease(ctx context.Context, tx domainrepo.Store, project *models.Project) (*models.HoldRelease, error) {
	if project.PaymentIntentID == nil {
		return nil, nil
	}
	return s.holds.Schedule(ctx, tx, models.HoldSubjectProject, project.ID, *project.PaymentIntentID, cancelKey(project.ID))
}

// ReleaseHold отменяет намерение после коммита. Неудача остаётся в очереди.
func (s *EscrowService) ReleaseHold(ctx context.Context, rel *models.HoldRelease) {
	s.holds.Release(ctx, rel)
}

// ExpirePendingPayments отменяет проекты, которые не оплатили до cutoff.
func (s *EscrowService) ExpirePendingPayments(ctx context.Context, cutoff time.Time) (int, error) {
	projects, err := s.store.Projects().ListStalePendingPayment(ctx, cutoff, expireBatchSize)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range projects {
		project := &projects[i]
		var (
			applied bool
			release *models.HoldRelease
		)
		err := s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
			ok, err := s.sm.TransitionFrom(ctx, tx.Projects(), project.ID,
				valueobject.ProjectStatusCancelled, []valueobject.ProjectStatus{valueobject.ProjectStatusPendingPayment})
			if err != nil || !ok {
				return err
			}
			applied = true
			release, err = s.ScheduleRelease(ctx, tx, project)
			return err
		})
		if err != nil {
			logger.Log.WithField("project_id", project.ID).WithError(err).Warn("не удалось отменить неоплаченный проект")
			continue
		}
		if !applied {
			continue
		}
		cancelled++
		s.ReleaseHold(ctx, release)
	}
	if cancelled > 0 {
		logger.Log.WithField("count", cancelled).Info("неоплаченные проекты отменены")
	}
	return cancelled, nil
}

func (s *EscrowService) posterProject(ctx context.Context, projectID, posterID uuid.UUID) (*models.Project, error) {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}
	if project.PosterUserID != posterID {
		return nil, apperror.ErrForbidden
	}
	return project, nil
}
