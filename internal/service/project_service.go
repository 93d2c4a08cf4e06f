package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// ProjectService - чтение проектов и подтверждение выполнения работы.
type ProjectService struct {
	store   domainrepo.Store
	payouts *PayoutService
	ledger  *LedgerService
	sm      ProjectStateMachine
}

func NewProjectService(store domainrepo.Store, payouts *PayoutService, ledger *LedgerService) *ProjectService {
	return &ProjectService{store: store, payouts: payouts, ledger: ledger}
}

func (s *ProjectService) Get(ctx context.Context, projectID, userID uuid.UUID, isAdmin bool) (*models.Project, error) {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}
	if !isAdmin && !project.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return project, nil
}

func (s *ProjectService) ListMine(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Projects().ListByUser(ctx, userID, limit, offset)
}

// ConfirmCompletion - заказчик принимает работу. Проект закрывается, в журнал
// пишутся комиссия и начисление, затем перевод уходит провайдеру выплат.
// Если перевод не создан, запись остаётся pending и её повторит планировщик.
func (s *ProjectService) ConfirmCompletion(ctx context.Context, projectID, posterID uuid.UUID) (*models.PayoutRecord, error) {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}
	if project.PosterUserID != posterID {
		return nil, apperror.ErrForbidden
	}
	if _, err := s.store.PayoutAccounts().GetByUser(ctx, project.ProviderUserID); err != nil {
		return nil, notFound(err, apperror.New(apperror.ErrCodeValidation, "исполнитель ещё не указал реквизиты для выплаты"))
	}

	var rec *models.PayoutRecord
	err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		_, err := s.sm.TransitionFrom(ctx, tx.Projects(), project.ID, valueobject.ProjectStatusCompleted,
			[]valueobject.ProjectStatus{valueobject.ProjectStatusEscrowed})
		if err != nil {
			return err
		}
		if project.ProviderPayoutAmount > 0 {
			rec, err = s.payouts.Ensure(ctx, tx, project, project.ProviderPayoutAmount, releaseKey(project.ID))
			if err != nil {
				return err
			}
		}
		return s.ledger.RecordRelease(ctx, tx, project, rec, project.PlatformFeeAmount, "release:"+project.ID.String())
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"project_id": project.ID,
		"payout":     valueobject.FormatMinor(project.ProviderPayoutAmount, project.Currency),
		"fee":        valueobject.FormatMinor(project.PlatformFeeAmount, project.Currency),
	}).Info("работа по проекту принята")

	if rec == nil {
		return nil, nil
	}
	submitted, err := s.payouts.Submit(ctx, rec)
	if err != nil {
		if apperror.IsValidation(err) {
			return submitted, err
		}
		return submitted, apperror.Wrap(err, apperror.ErrCodePaymentPending, apperror.ErrPaymentPending.Message)
	}
	return submitted, nil
}
