package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/metrics"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

type RaiseDisputeInput struct {
	Reason       string
	Description  string
	EvidenceURLs []string
}

type ResolveDisputeInput struct {
	Outcome      string
	SplitPercent *int
	Notes        *string
}

// DisputeService - жизненный цикл спора: открытие, ответ второй стороны и
// решение оператора с возвратом и/или выплатой.
type DisputeService struct {
	store    domainrepo.Store
	escrow   *EscrowService
	payouts  *PayoutService
	ledger   *LedgerService
	notifier Notifier
	fees     valueobject.FeePolicy
	sm       ProjectStateMachine
}

func NewDisputeService(store domainrepo.Store, escrowSvc *EscrowService, payouts *PayoutService, ledger *LedgerService, notifier Notifier, fees valueobject.FeePolicy) *DisputeService {
	return &DisputeService{
		store:    store,
		escrow:   escrowSvc,
		payouts:  payouts,
		ledger:   ledger,
		notifier: notifier,
		fees:     fees,
	}
}

func (s *DisputeService) Raise(ctx context.Context, projectID, raiserID uuid.UUID, input RaiseDisputeInput) (*models.Dispute, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "укажите причину спора")
	}
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}
	if !project.IsParticipant(raiserID) {
		return nil, apperror.ErrForbidden
	}
	resolved, err := s.store.Disputes().HasResolved(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if resolved {
		return nil, apperror.ErrDisputeFinal
	}
	if project.Status != valueobject.ProjectStatusEscrowed {
		return nil, apperror.New(apperror.ErrCodeConflict, "спор можно открыть только по оплаченному проекту")
	}

	dispute := &models.Dispute{
		ProjectID:    project.ID,
		RaisedBy:     raiserID,
		Against:      project.Counterparty(raiserID),
		Reason:       reason,
		Description:  strings.TrimSpace(input.Description),
		EvidenceURLs: pq.StringArray(input.EvidenceURLs),
		Status:       valueobject.DisputeStatusOpen,
	}
	err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		if _, err := s.sm.TransitionFrom(ctx, tx.Projects(), project.ID, valueobject.ProjectStatusDisputed,
			[]valueobject.ProjectStatus{valueobject.ProjectStatusEscrowed}); err != nil {
			return err
		}
		if err := tx.Disputes().Create(ctx, dispute); err != nil {
			if errors.Is(err, domainrepo.ErrDuplicate) {
				return apperror.New(apperror.ErrCodeConflict, "по проекту уже открыт спор")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"dispute_id": dispute.ID,
		"project_id": project.ID,
		"raised_by":  raiserID,
	}).Info("открыт спор")

	var out notifications
	out.add(dispute.Against, models.EventDisputeRaised, map[string]any{
		"dispute_id": dispute.ID,
		"project_id": project.ID,
		"reason":     dispute.Reason,
	})
	out.send(ctx, s.notifier)
	return dispute, nil
}

func (s *DisputeService) Respond(ctx context.Context, disputeID, responderID uuid.UUID, counterResponse string, evidence []string) (*models.Dispute, error) {
	text := strings.TrimSpace(counterResponse)
	if text == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "ответ не может быть пустым")
	}
	dispute, err := s.store.Disputes().GetByID(ctx, disputeID)
	if err != nil {
		return nil, notFound(err, apperror.ErrDisputeNotFound)
	}
	if dispute.Status.IsResolved() {
		return nil, apperror.ErrDisputeFinal
	}
	if dispute.Against != responderID {
		return nil, apperror.ErrForbidden
	}
	if evidence == nil {
		evidence = []string{}
	}
	ok, err := s.store.Disputes().SetCounterResponse(ctx, dispute.ID, responderID, text, evidence)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.New(apperror.ErrCodeConflict, "ответ по спору уже дан")
	}
	return s.store.Disputes().GetByID(ctx, dispute.ID)
}

// legPlan - сумма операции по решению спора.
type legPlan struct {
	kind   valueobject.LegKind
	amount int64
}

// Resolve выполняет решение оператора. Спор и проект закрываются только
// когда все операции приняты шлюзами. Иначе спор остаётся under_review,
// а повторный вызов повторяет неуспешные операции с теми же ключами.
func (s *DisputeService) Resolve(ctx context.Context, disputeID uuid.UUID, isAdmin bool, input ResolveDisputeInput) (*models.Dispute, error) {
	if !isAdmin {
		return nil, apperror.ErrForbidden
	}
	outcome, err := valueobject.NewDisputeOutcome(input.Outcome)
	if err != nil {
		return nil, err
	}
	if outcome != valueobject.DisputeOutcomeSplit && input.SplitPercent != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "split_percent указывается только для split")
	}

	dispute, err := s.store.Disputes().GetByID(ctx, disputeID)
	if err != nil {
		return nil, notFound(err, apperror.ErrDisputeNotFound)
	}
	if dispute.Status.IsResolved() {
		return nil, apperror.ErrDisputeFinal
	}
	project, err := s.store.Projects().GetByID(ctx, dispute.ProjectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}

	plan, fee, err := s.plan(project, outcome, input.SplitPercent)
	if err != nil {
		return nil, err
	}

	locked, err := s.store.Disputes().LockOutcome(ctx, dispute.ID, outcome, input.SplitPercent, input.Notes)
	if err != nil {
		return nil, err
	}
	if !locked {
		current, err := s.store.Disputes().GetByID(ctx, dispute.ID)
		if err != nil {
			return nil, err
		}
		if current.Status.IsResolved() {
			return nil, apperror.ErrDisputeFinal
		}
		return nil, apperror.New(apperror.ErrCodeConflict, "по спору уже выполняется другое решение")
	}

	// Исход зафиксирован: операции и их результаты доводятся до конца,
	// даже если клиент уже отключился.
	ctx = context.WithoutCancel(ctx)

	legs := make([]*models.DisputeLeg, 0, len(plan))
	for _, p := range plan {
		leg, err := s.store.Disputes().EnsureLeg(ctx, &models.DisputeLeg{
			DisputeID:      dispute.ID,
			Kind:           p.kind,
			Amount:         p.amount,
			Currency:       project.Currency,
			IdempotencyKey: disputeLegKey(dispute.ID, string(p.kind)),
		})
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}

	// Ошибка одной операции не отменяет другую.
	var g errgroup.Group
	for _, leg := range legs {
		if leg.Status == valueobject.LegStatusAccepted {
			continue
		}
		leg := leg
		g.Go(func() error {
			return s.runLeg(ctx, project, leg)
		})
	}
	if err := g.Wait(); err != nil {
		current, getErr := s.store.Disputes().GetByID(ctx, dispute.ID)
		if getErr != nil {
			current = dispute
		}
		return current, apperror.Wrap(err, apperror.ErrCodeExternalGateway,
			"решение по спору выполнено не полностью, повторите попытку")
	}

	finalized := false
	err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		ok, err := tx.Disputes().Finalize(ctx, dispute.ID, outcome.ResolvedStatus())
		if err != nil || !ok {
			return err
		}
		finalized = true
		if _, err := s.sm.Transition(ctx, tx.Projects(), project.ID, outcome.ProjectStatus()); err != nil {
			return err
		}
		for _, p := range plan {
			if p.kind != valueobject.LegKindPayout {
				continue
			}
			rec, err := s.payouts.Ensure(ctx, tx, project, p.amount, disputeLegKey(dispute.ID, string(p.kind)))
			if err != nil {
				return err
			}
			return s.ledger.RecordRelease(ctx, tx, project, rec, fee, "dispute:"+dispute.ID.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolved, err := s.store.Disputes().GetByID(ctx, dispute.ID)
	if err != nil {
		return nil, err
	}
	if !finalized {
		return resolved, nil
	}

	logger.Log.WithFields(logrus.Fields{
		"dispute_id": dispute.ID,
		"project_id": project.ID,
		"outcome":    outcome,
	}).Info("спор разрешён")

	var out notifications
	payload := map[string]any{
		"dispute_id": dispute.ID,
		"project_id": project.ID,
		"outcome":    outcome,
		"status":     resolved.Status,
	}
	out.add(project.PosterUserID, models.EventDisputeResolved, payload)
	out.add(project.ProviderUserID, models.EventDisputeResolved, payload)
	out.send(ctx, s.notifier)
	return resolved, nil
}

// plan считает суммы операций. Нулевые операции не выполняются.
func (s *DisputeService) plan(project *models.Project, outcome valueobject.DisputeOutcome, splitPercent *int) ([]legPlan, int64, error) {
	var refund, payout, fee int64
	switch outcome {
	case valueobject.DisputeOutcomeRefund:
		refund = project.AgreedAmount
	case valueobject.DisputeOutcomeRelease:
		payout, fee = project.ProviderPayoutAmount, project.PlatformFeeAmount
	case valueobject.DisputeOutcomeSplit:
		if splitPercent == nil {
			return nil, 0, apperror.New(apperror.ErrCodeValidation, "для split нужен split_percent")
		}
		var err error
		refund, payout, fee, err = s.fees.SplitShare(project.AgreedAmount, *splitPercent)
		if err != nil {
			return nil, 0, err
		}
	}

	plan := make([]legPlan, 0, 2)
	if refund > 0 {
		plan = append(plan, legPlan{kind: valueobject.LegKindRefund, amount: refund})
	}
	if payout > 0 {
		plan = append(plan, legPlan{kind: valueobject.LegKindPayout, amount: payout})
	}
	return plan, fee, nil
}

// runLeg выполняет одну операцию и сохраняет её результат.
func (s *DisputeService) runLeg(ctx context.Context, project *models.Project, leg *models.DisputeLeg) error {
	var (
		externalID string
		err        error
	)
	switch leg.Kind {
	case valueobject.LegKindRefund:
		externalID, err = s.refundLeg(ctx, project, leg)
	case valueobject.LegKindPayout:
		externalID, err = s.payoutLeg(ctx, project, leg)
	}

	log := logger.Log.WithFields(logrus.Fields{
		"dispute_id": leg.DisputeID,
		"leg":        leg.Kind,
		"amount":     valueobject.FormatMinor(leg.Amount, leg.Currency),
	})
	if err != nil {
		msg := err.Error()
		if updErr := s.store.Disputes().UpdateLeg(ctx, leg.ID, valueobject.LegStatusFailed, nil, &msg); updErr != nil {
			log.WithError(updErr).Error("не удалось сохранить результат операции спора")
		}
		metrics.IncrementDisputeLegFailure(string(leg.Kind))
		log.WithError(err).Warn("операция по спору не выполнена")
		return err
	}
	if err := s.store.Disputes().UpdateLeg(ctx, leg.ID, valueobject.LegStatusAccepted, &externalID, nil); err != nil {
		return err
	}
	log.WithField("external_id", externalID).Info("операция по спору принята шлюзом")
	return nil
}

func (s *DisputeService) refundLeg(ctx context.Context, project *models.Project, leg *models.DisputeLeg) (string, error) {
	refund, err := s.escrow.Refund(ctx, project, leg.Amount, "dispute", leg.IdempotencyKey)
	if err != nil {
		return "", err
	}
	return refund.ID, nil
}

func (s *DisputeService) payoutLeg(ctx context.Context, project *models.Project, leg *models.DisputeLeg) (string, error) {
	rec, err := s.payouts.CreateTransfer(ctx, project, leg.Amount, leg.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if rec.ExternalTransferID == nil {
		return "", apperror.New(apperror.ErrCodeExternalGateway, "провайдер выплат не принял перевод")
	}
	return *rec.ExternalTransferID, nil
}

// GetByProject - последний спор по проекту.
func (s *DisputeService) GetByProject(ctx context.Context, projectID, userID uuid.UUID, isAdmin bool) (*models.Dispute, error) {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, apperror.ErrProjectNotFound)
	}
	if !isAdmin && !project.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	dispute, err := s.store.Disputes().GetLatestByProject(ctx, project.ID)
	if err != nil {
		return nil, notFound(err, apperror.ErrDisputeNotFound)
	}
	return dispute, nil
}

func (s *DisputeService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Disputes().ListByUser(ctx, userID, limit, offset)
}

// Legs - операции по решению спора для оператора.
func (s *DisputeService) Legs(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeLeg, error) {
	return s.store.Disputes().ListLegs(ctx, disputeID)
}
