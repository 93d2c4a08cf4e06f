package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/gateway/escrow"
	"github.com/ignatzorin/gig-escrow/internal/goroutine"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

const (
	defaultBroadcastLimit = 50
	expireBatchSize       = 100
)

// PostGigInput - данные нового срочного заказа.
type PostGigInput struct {
	SkillRequired string
	Description   string
	Amount        string
	Currency      string
	DateNeeded    time.Time
	ExpiresAt     time.Time
	// Preauthorize - сразу поставить холд на карту заказчика.
	Preauthorize bool
}

// GigService - рассылка срочных заказов и выбор исполнителя.
type GigService struct {
	store          domainrepo.Store
	escrow         EscrowGateway
	holds          *HoldReleaser
	notifier       Notifier
	fees           valueobject.FeePolicy
	defaultCurr    string
	broadcastLimit int
	clock          clock
	async          func(func())
}

func NewGigService(store domainrepo.Store, escrowGw EscrowGateway, notifier Notifier, fees valueobject.FeePolicy, defaultCurrency string) *GigService {
	return &GigService{
		store:          store,
		escrow:         escrowGw,
		holds:          NewHoldReleaser(store, escrowGw),
		notifier:       notifier,
		fees:           fees,
		defaultCurr:    defaultCurrency,
		broadcastLimit: defaultBroadcastLimit,
		async:          goroutine.SafeGo,
	}
}

func (s *GigService) PostGig(ctx context.Context, requesterID uuid.UUID, input PostGigInput) (*models.GigPost, error) {
	skill := strings.TrimSpace(input.SkillRequired)
	if skill == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "не указан требуемый навык")
	}
	currency := input.Currency
	if currency == "" {
		currency = s.defaultCurr
	}
	money, err := valueobject.ParseMoney(input.Amount, currency)
	if err != nil {
		return nil, err
	}
	if !money.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма оплаты должна быть положительной")
	}
	now := s.clock.now()
	if !input.ExpiresAt.After(now) {
		return nil, apperror.New(apperror.ErrCodeValidation, "срок отклика должен быть в будущем")
	}
	dateNeeded := input.DateNeeded
	if dateNeeded.IsZero() {
		dateNeeded = input.ExpiresAt
	}

	gig := &models.GigPost{
		ID:              uuid.New(),
		RequesterID:     requesterID,
		SkillRequired:   skill,
		Description:     strings.TrimSpace(input.Description),
		PaymentAmount:   money.Amount,
		PaymentCurrency: money.Currency,
		DateNeeded:      dateNeeded,
		ExpiresAt:       input.ExpiresAt,
		Status:          valueobject.GigStatusOpen,
	}

	if input.Preauthorize && s.escrow != nil {
		intent, err := s.escrow.CreateHold(ctx, escrow.HoldRequest{
			Amount:         money.Amount,
			Currency:       money.Currency,
			Metadata:       map[string]string{"gig_id": gig.ID.String()},
			IdempotencyKey: gigPreauthKey(gig.ID),
		})
		if err != nil {
			return nil, paymentFailure(err)
		}
		gig.PreauthIntentID = &intent.ID
	}

	if err := s.store.Gigs().Create(ctx, gig); err != nil {
		if gig.PreauthIntentID != nil {
			s.releasePreauth(context.WithoutCancel(ctx), gig)
		}
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"gig_id": gig.ID,
		"skill":  gig.SkillRequired,
		"amount": money.String(),
	}).Info("гиг опубликован")

	posted := *gig
	bctx := context.WithoutCancel(ctx)
	s.async(func() {
		if err := s.Broadcast(bctx, &posted); err != nil {
			logger.Log.WithField("gig_id", posted.ID).WithError(err).Error("рассылка гига не выполнена")
		}
	})
	return gig, nil
}

// Broadcast приглашает подходящих исполнителей и отправляет им уведомления.
func (s *GigService) Broadcast(ctx context.Context, gig *models.GigPost) error {
	providers, err := s.store.Providers().EligibleProviders(ctx, gig.SkillRequired, gig.RequesterID, s.broadcastLimit)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		logger.Log.WithField("gig_id", gig.ID).Info("нет исполнителей с нужным навыком")
		return nil
	}
	invited, err := s.store.Gigs().CreateInvitations(ctx, gig.ID, providers)
	if err != nil {
		return err
	}

	var out notifications
	payload := gigPayload(gig)
	for _, providerID := range providers {
		out.add(providerID, models.EventGigBroadcast, payload)
	}
	out.send(ctx, s.notifier)

	logger.Log.WithFields(logrus.Fields{"gig_id": gig.ID, "invited": invited}).Info("гиг разослан исполнителям")
	return nil
}

func (s *GigService) Respond(ctx context.Context, gigID, providerID uuid.UUID, decision string, message *string) (*models.GigResponse, error) {
	status, err := valueobject.NewResponseDecision(decision)
	if err != nil {
		return nil, err
	}
	gig, err := s.store.Gigs().GetByID(ctx, gigID)
	if err != nil {
		return nil, notFound(err, apperror.ErrGigNotFound)
	}
	if gig.Status != valueobject.GigStatusOpen {
		return nil, apperror.ErrGigNotFound
	}
	if gig.RequesterID == providerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя откликнуться на собственный гиг")
	}

	resp, err := s.store.Gigs().DecideResponse(ctx, gigID, providerID, status, message)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, domainrepo.ErrNotFound) {
		return nil, err
	}

	// Приглашения не было или на него уже ответили.
	resp = &models.GigResponse{
		GigID:      gigID,
		ProviderID: providerID,
		Status:     status,
		Message:    message,
	}
	switch err := s.store.Gigs().InsertResponse(ctx, resp); {
	case errors.Is(err, domainrepo.ErrDuplicate):
		return nil, apperror.ErrAlreadyResponded
	case errors.Is(err, domainrepo.ErrNotFound):
		return nil, apperror.ErrGigNotFound
	case err != nil:
		return nil, err
	}
	return resp, nil
}

// SelectProvider закрепляет гиг за исполнителем и создаёт проект. Из
// конкурирующих выборов побеждает ровно один.
func (s *GigService) SelectProvider(ctx context.Context, gigID, responseID, requesterID uuid.UUID) (*models.Project, error) {
	gig, err := s.store.Gigs().GetByID(ctx, gigID)
	if err != nil {
		return nil, notFound(err, apperror.ErrGigNotFound)
	}
	if gig.RequesterID != requesterID {
		return nil, apperror.ErrForbidden
	}
	resp, err := s.store.Gigs().GetResponse(ctx, responseID)
	if err != nil {
		return nil, notFound(err, apperror.ErrResponseNotFound)
	}
	if resp.GigID != gig.ID {
		return nil, apperror.ErrResponseNotFound
	}
	if resp.Status != valueobject.ResponseStatusAccepted {
		return nil, apperror.New(apperror.ErrCodeValidation, "исполнитель не принял этот гиг")
	}

	fee, payout := s.fees.Split(gig.PaymentAmount)
	project := &models.Project{
		GigID:                &gig.ID,
		PosterUserID:         gig.RequesterID,
		ProviderUserID:       resp.ProviderID,
		AgreedAmount:         gig.PaymentAmount,
		Currency:             gig.PaymentCurrency,
		PlatformFeeAmount:    fee,
		ProviderPayoutAmount: payout,
		Status:               valueobject.ProjectStatusPendingPayment,
		PaymentIntentID:      gig.PreauthIntentID,
	}

	err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		filled, err := tx.Gigs().MarkFilled(ctx, gig.ID, resp.ID)
		if err != nil {
			return err
		}
		if !filled {
			current, err := tx.Gigs().GetByID(ctx, gig.ID)
			if err != nil {
				return notFound(err, apperror.ErrGigNotFound)
			}
			if current.Status == valueobject.GigStatusFilled {
				return apperror.ErrGigAlreadyFilled
			}
			return apperror.New(apperror.ErrCodeConflict, "гиг уже не принимает выбор исполнителя")
		}
		if err := tx.Projects().Create(ctx, project); err != nil {
			if errors.Is(err, domainrepo.ErrDuplicate) {
				return apperror.ErrGigAlreadyFilled
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"gig_id":      gig.ID,
		"project_id":  project.ID,
		"provider_id": resp.ProviderID,
	}).Info("исполнитель выбран")

	var out notifications
	out.add(resp.ProviderID, models.EventGigProviderSelected, map[string]any{
		"gig_id":     gig.ID,
		"project_id": project.ID,
		"amount":     valueobject.FormatMinor(project.ProviderPayoutAmount, project.Currency),
		"currency":   project.Currency,
	})
	out.send(ctx, s.notifier)
	return project, nil
}

func (s *GigService) CancelGig(ctx context.Context, gigID, requesterID uuid.UUID) (*models.GigPost, error) {
	gig, err := s.store.Gigs().GetByID(ctx, gigID)
	if err != nil {
		return nil, notFound(err, apperror.ErrGigNotFound)
	}
	if gig.RequesterID != requesterID {
		return nil, apperror.ErrForbidden
	}
	if gig.Status == valueobject.GigStatusCancelled {
		return gig, nil
	}

	var release *models.HoldRelease
	err = s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		cancelled, err := tx.Gigs().Cancel(ctx, gig.ID)
		if err != nil {
			return err
		}
		if !cancelled {
			return apperror.New(apperror.ErrCodeConflict, "гиг уже закрыт")
		}
		if _, err = tx.Gigs().ExpirePendingResponses(ctx, gig.ID); err != nil {
			return err
		}
		release, err = s.schedulePreauthRelease(ctx, tx, gig)
		return err
	})
	if err != nil {
		return nil, err
	}
	gig.Status = valueobject.GigStatusCancelled
	s.holds.Release(ctx, release)
	return gig, nil
}

// ExpireStale закрывает просроченные гиги без принятых откликов. Возвращает
// число закрытых гигов.
func (s *GigService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	gigs, err := s.store.Gigs().ListExpirable(ctx, now, expireBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range gigs {
		gig := &gigs[i]
		var (
			applied bool
			release *models.HoldRelease
		)
		err := s.store.WithinTx(ctx, func(tx domainrepo.Store) error {
			ok, err := tx.Gigs().MarkExpired(ctx, gig.ID, now)
			if err != nil || !ok {
				return err
			}
			applied = true
			if _, err = tx.Gigs().ExpirePendingResponses(ctx, gig.ID); err != nil {
				return err
			}
			release, err = s.schedulePreauthRelease(ctx, tx, gig)
			return err
		})
		if err != nil {
			logger.Log.WithField("gig_id", gig.ID).WithError(err).Error("не удалось закрыть просроченный гиг")
			continue
		}
		if !applied {
			continue
		}
		expired++
		s.holds.Release(ctx, release)
	}
	if expired > 0 {
		logger.Log.WithField("count", expired).Info("просроченные гиги закрыты")
	}
	return expired, nil
}

func (s *GigService) GetGig(ctx context.Context, gigID uuid.UUID) (*models.GigPost, error) {
	gig, err := s.store.Gigs().GetByID(ctx, gigID)
	if err != nil {
		return nil, notFound(err, apperror.ErrGigNotFound)
	}
	return gig, nil
}

func (s *GigService) ListResponses(ctx context.Context, gigID, requesterID uuid.UUID) ([]models.GigResponse, error) {
	gig, err := s.GetGig(ctx, gigID)
	if err != nil {
		return nil, err
	}
	if gig.RequesterID != requesterID {
		return nil, apperror.ErrForbidden
	}
	return s.store.Gigs().ListResponses(ctx, gigID)
}

// schedulePreauthRelease ставит снятие холда гига в очередь. Без холда возвращает nil.
func (s *GigService) schedulePreauthRelease(ctx context.Context, tx domainrepo.Store, gig *models.GigPost) (*models.HoldRelease, error) {
	if gig.PreauthIntentID == nil {
		return nil, nil
	}
	return s.holds.Schedule(ctx, tx, models.HoldSubjectGig, gig.ID, *gig.PreauthIntentID, gigReleaseKey(gig.ID))
}

// releasePreauth снимает холд гига вне транзакции закрытия.
func (s *GigService) releasePreauth(ctx context.Context, gig *models.GigPost) {
	release, err := s.schedulePreauthRelease(ctx, s.store, gig)
	if err != nil {
		logger.Log.WithField("gig_id", gig.ID).WithError(err).Error("не удалось поставить снятие холда в очередь")
	}
	if release == nil {
		release = &models.HoldRelease{
			IntentID:       *gig.PreauthIntentID,
			IdempotencyKey: gigReleaseKey(gig.ID),
			Subject:        models.HoldSubjectGig,
			SubjectID:      gig.ID,
		}
	}
	s.holds.Release(ctx, release)
}

func gigPayload(gig *models.GigPost) map[string]any {
	return map[string]any{
		"gig_id":      gig.ID,
		"skill":       gig.SkillRequired,
		"description": gig.Description,
		"amount":      valueobject.FormatMinor(gig.PaymentAmount, gig.PaymentCurrency),
		"currency":    gig.PaymentCurrency,
		"date_needed": gig.DateNeeded,
		"expires_at":  gig.ExpiresAt,
	}
}
