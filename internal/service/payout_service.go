package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/gateway/payout"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

const payoutBatchSize = 100

// PayoutService ведёт переводы исполнителям. Статус completed выставляется
// только по вебхуку или опросу провайдера, не по ответу на создание.
type PayoutService struct {
	store  domainrepo.Store
	payout PayoutGateway
	ledger *LedgerService
}

func NewPayoutService(store domainrepo.Store, payoutGw PayoutGateway, ledger *LedgerService) *PayoutService {
	return &PayoutService{store: store, payout: payoutGw, ledger: ledger}
}

// Ensure создаёт запись о выплате по ключу или возвращает существующую.
func (s *PayoutService) Ensure(ctx context.Context, tx domainrepo.Store, project *models.Project, amount int64, key string) (*models.PayoutRecord, error) {
	rec, _, err := tx.Payouts().Ensure(ctx, &models.PayoutRecord{
		ProjectID:      project.ID,
		Provider:       models.ProviderPayout,
		RecipientID:    project.ProviderUserID,
		Amount:         amount,
		Currency:       project.Currency,
		IdempotencyKey: key,
		Status:         valueobject.PayoutStatusPending,
	})
	return rec, err
}

// CreateTransfer - запись pending по ключу и отправка перевода провайдеру.
func (s *PayoutService) CreateTransfer(ctx context.Context, project *models.Project, amount int64, key string) (*models.PayoutRecord, error) {
	var rec *models.PayoutRecord
	err := s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		var err error
		rec, err = s.Ensure(ctx, tx, project, amount, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, rec)
}

// Submit отправляет перевод, если у записи ещё нет внешнего id.
func (s *PayoutService) Submit(ctx context.Context, rec *models.PayoutRecord) (*models.PayoutRecord, error) {
	if rec.ExternalTransferID != nil {
		return rec, nil
	}
	account, err := s.store.PayoutAccounts().GetByUser(ctx, rec.RecipientID)
	if err != nil {
		return rec, notFound(err, apperror.New(apperror.ErrCodeValidation, "у исполнителя нет реквизитов для выплаты"))
	}

	transfer, err := s.payout.CreateTransfer(ctx, payout.TransferRequest{
		ProjectID:          rec.ProjectID.String(),
		RecipientAccountID: account.RecipientAccountID,
		Amount:             rec.Amount,
		Currency:           rec.Currency,
		IdempotencyKey:     rec.IdempotencyKey,
	})
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"payout_id":  rec.ID,
			"project_id": rec.ProjectID,
		}).WithError(err).Warn("перевод исполнителю не создан")
		return rec, err
	}

	externalID := string(transfer.ID)
	if _, err := s.store.Payouts().SetExternalID(ctx, rec.ID, externalID, transfer.Raw); err != nil {
		return rec, err
	}
	rec.ExternalTransferID = &externalID

	logger.Log.WithFields(logrus.Fields{
		"payout_id":   rec.ID,
		"transfer_id": externalID,
		"state":       transfer.Status,
	}).Info("перевод исполнителю создан")

	status, _ := valueobject.PayoutStatusFromTransferState(transfer.Status)
	if status == valueobject.PayoutStatusCompleted {
		status = valueobject.PayoutStatusProcessing
	}
	err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		_, err := s.ApplyStatus(ctx, tx, rec, status, transfer.Raw)
		return err
	})
	if err != nil {
		return rec, err
	}
	return s.store.Payouts().GetByID(ctx, rec.ID)
}

// ApplyStatus применяет статус провайдера по частичному порядку. Откат
// выплаченного перевода не меняет исходную запись: добавляется новая с
// reversal_of и сторно в журнале. У выплаты не больше одного сторно.
func (s *PayoutService) ApplyStatus(ctx context.Context, tx domainrepo.Store, rec *models.PayoutRecord, to valueobject.PayoutStatus, raw json.RawMessage) (bool, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"payout_id": rec.ID,
		"from":      rec.Status,
		"to":        to,
	})
	if rec.Status == to {
		return false, nil
	}

	if rec.Status.IsRegression(to) {
		reversal, created, err := tx.Payouts().Ensure(ctx, &models.PayoutRecord{
			ProjectID:          rec.ProjectID,
			Provider:           rec.Provider,
			RecipientID:        rec.RecipientID,
			Amount:             rec.Amount,
			Currency:           rec.Currency,
			IdempotencyKey:     reversalKey(rec.ID),
			ExternalTransferID: rec.ExternalTransferID,
			Status:             to,
			ReversalOf:         &rec.ID,
		})
		if err != nil {
			return false, err
		}
		if !created {
			log.WithField("reversal_status", reversal.Status).Info("откат выплаты уже записан")
			return false, nil
		}
		project, err := tx.Projects().GetByID(ctx, rec.ProjectID)
		if err != nil {
			return false, notFound(err, apperror.ErrProjectNotFound)
		}
		if err := s.ledger.RecordPayoutReversal(ctx, tx, project, rec, reversal); err != nil {
			return false, err
		}
		log.Warn("выплаченный перевод откатан провайдером")
		return true, nil
	}

	if !rec.Status.CanTransitionTo(to) {
		log.Info("переход выплаты проигнорирован")
		return false, nil
	}

	from := make([]valueobject.PayoutStatus, 0, 2)
	for _, p := range to.Predecessors() {
		if !p.IsRegression(to) {
			from = append(from, p)
		}
	}
	var errMsg *string
	if to == valueobject.PayoutStatusFailed || to == valueobject.PayoutStatusCancelled {
		msg := "перевод отклонён провайдером: " + string(to)
		errMsg = &msg
	}
	applied, err := tx.Payouts().TransitionStatus(ctx, rec.ID, to, from, errMsg, raw)
	if err != nil {
		return false, err
	}
	if applied {
		log.Info("статус выплаты изменён")
		rec.Status = to
	}
	return applied, nil
}

// ResubmitPending повторяет отправку переводов, которые не дошли до провайдера.
func (s *PayoutService) ResubmitPending(ctx context.Context, olderThan time.Time) (int, error) {
	records, err := s.store.Payouts().ListUnsubmitted(ctx, olderThan, payoutBatchSize)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for i := range records {
		if _, err := s.Submit(ctx, &records[i]); err != nil {
			continue
		}
		submitted++
	}
	return submitted, nil
}

// PollStale опрашивает провайдера по переводам, по которым давно не было вебхука.
func (s *PayoutService) PollStale(ctx context.Context, olderThan time.Time) (int, error) {
	records, err := s.store.Payouts().ListInFlight(ctx, olderThan, payoutBatchSize)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range records {
		rec := &records[i]
		transfer, err := s.payout.GetTransfer(ctx, *rec.ExternalTransferID)
		if err != nil {
			logger.Log.WithField("payout_id", rec.ID).WithError(err).Warn("не удалось получить статус перевода")
			continue
		}
		status, known := valueobject.PayoutStatusFromTransferState(transfer.Status)
		if !known {
			logger.Log.WithFields(logrus.Fields{"payout_id": rec.ID, "state": transfer.Status}).Warn("неизвестное состояние перевода")
		}
		var applied bool
		err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
			applied, err = s.ApplyStatus(ctx, tx, rec, status, transfer.Raw)
			return err
		})
		if err != nil {
			logger.Log.WithField("payout_id", rec.ID).WithError(err).Error("не удалось применить статус перевода")
			continue
		}
		if applied {
			changed++
		}
	}
	return changed, nil
}

// ListByProject - выплаты по проекту для сторон сделки и оператора.
func (s *PayoutService) ListByProject(ctx context.Context, projectID, userID uuid.UUID, isAdmin bool) ([]models.PayoutRecord, error) {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}
	if !isAdmin && !project.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return s.store.Payouts().ListByProject(ctx, projectID)
}
