package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// LedgerService пишет движения денег по проекту. Каждая запись имеет
// reference, поэтому повторная запись того же факта не дублируется.
type LedgerService struct {
	store domainrepo.Store
}

func NewLedgerService(store domainrepo.Store) *LedgerService {
	return &LedgerService{store: store}
}

func (s *LedgerService) append(ctx context.Context, tx domainrepo.Store, project *models.Project, kind valueobject.LedgerKind, amount int64, reference string, payoutID *uuid.UUID) error {
	if amount <= 0 {
		return nil
	}
	ref := reference
	entry := &models.LedgerEntry{
		ProjectID: project.ID,
		PayoutID:  payoutID,
		Kind:      kind,
		Amount:    amount,
		Currency:  project.Currency,
		Reference: &ref,
	}
	created, err := tx.Ledger().Append(ctx, entry)
	if err != nil {
		return err
	}
	if created {
		logger.Log.WithFields(logrus.Fields{
			"project_id": project.ID,
			"kind":       kind,
			"amount":     amount,
		}).Info("запись в журнале движения денег")
	}
	return nil
}

// RecordHold - деньги заказчика удерживаются на эскроу.
func (s *LedgerService) RecordHold(ctx context.Context, tx domainrepo.Store, project *models.Project, amount int64, intentID string) error {
	return s.append(ctx, tx, project, valueobject.LedgerKindEscrowHold, amount, "hold:"+intentID, nil)
}

// RecordRefundTotal приводит сумму возвратов в журнале к накопленной сумме,
// которую сообщил процессинг. Возвращает дописанную разницу.
func (s *LedgerService) RecordRefundTotal(ctx context.Context, tx domainrepo.Store, project *models.Project, cumulative int64, eventID string) (int64, error) {
	recorded, err := tx.Ledger().SumByKind(ctx, project.ID, valueobject.LedgerKindEscrowRefund)
	if err != nil {
		return 0, err
	}
	delta := cumulative - recorded
	if delta <= 0 {
		return 0, nil
	}
	return delta, s.append(ctx, tx, project, valueobject.LedgerKindEscrowRefund, delta, "refund:"+eventID, nil)
}

// RecordRelease - комиссия платформы и начисление исполнителю при выплате.
func (s *LedgerService) RecordRelease(ctx context.Context, tx domainrepo.Store, project *models.Project, rec *models.PayoutRecord, fee int64, reference string) error {
	if err := s.append(ctx, tx, project, valueobject.LedgerKindPlatformFee, fee, reference+":fee", nil); err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return s.append(ctx, tx, project, valueobject.LedgerKindPayoutAccrual, rec.Amount, reference+":accrual", &rec.ID)
}

// ReverseAccrual сторнирует непогашенное начисление исполнителю после полного возврата.
func (s *LedgerService) ReverseAccrual(ctx context.Context, tx domainrepo.Store, project *models.Project) error {
	accrued, err := tx.Ledger().SumByKind(ctx, project.ID, valueobject.LedgerKindPayoutAccrual)
	if err != nil {
		return err
	}
	reversed, err := tx.Ledger().SumByKind(ctx, project.ID, valueobject.LedgerKindPayoutReversal)
	if err != nil {
		return err
	}
	return s.append(ctx, tx, project, valueobject.LedgerKindPayoutReversal, accrued-reversed,
		fmt.Sprintf("refund:%s:accrual", project.ID), nil)
}

// RecordPayoutReversal - откат уже выплаченного перевода (bounce, chargeback).
func (s *LedgerService) RecordPayoutReversal(ctx context.Context, tx domainrepo.Store, project *models.Project, original, reversal *models.PayoutRecord) error {
	return s.append(ctx, tx, project, valueobject.LedgerKindPayoutReversal, original.Amount,
		reversalKey(original.ID), &reversal.ID)
}

// List возвращает журнал проекта стороне сделки или оператору.
func (s *LedgerService) List(ctx context.Context, projectID, userID uuid.UUID, isAdmin bool) ([]models.LedgerEntry, error) {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}
	if !isAdmin && !project.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return s.store.Ledger().ListByProject(ctx, projectID)
}
