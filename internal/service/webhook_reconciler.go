package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/metrics"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/webhook"
)

type WebhookResult string

const (
	WebhookPing      WebhookResult = "ping"
	WebhookProcessed WebhookResult = "processed"
	WebhookDuplicate WebhookResult = "duplicate"
	WebhookFailed    WebhookResult = "failed"
)

const (
	defaultWebhookMaxAttempts = 10
	webhookRetryBatch         = 50
)

// errUnknownResource - событие пришло раньше, чем мы создали запись о ресурсе.
var errUnknownResource = errors.New("resource for webhook event not found")

// WebhookSecrets - секреты подписи входящих вебхуков.
type WebhookSecrets struct {
	Escrow          string
	EscrowTolerance time.Duration
	Payout          string
}

// WebhookReconciler применяет события провайдеров к проектам и выплатам.
// Каждое событие обрабатывается ровно один раз: первая запись транзакции -
// upsert в журнал событий, который блокирует строку.
type WebhookReconciler struct {
	store       domainrepo.Store
	escrow      *EscrowService
	payouts     *PayoutService
	ledger      *LedgerService
	secrets     WebhookSecrets
	sm          ProjectStateMachine
	clock       clock
	maxAttempts int
}

func NewWebhookReconciler(store domainrepo.Store, escrowSvc *EscrowService, payouts *PayoutService, ledger *LedgerService, secrets WebhookSecrets) *WebhookReconciler {
	if secrets.EscrowTolerance <= 0 {
		secrets.EscrowTolerance = webhook.DefaultTolerance
	}
	return &WebhookReconciler{
		store:       store,
		escrow:      escrowSvc,
		payouts:     payouts,
		ledger:      ledger,
		secrets:     secrets,
		maxAttempts: defaultWebhookMaxAttempts,
	}
}

// effects - то, что выполняется только после коммита.
type effects struct {
	notes notifications
	after []func(context.Context)
}

type applyFunc func(ctx context.Context, tx domainrepo.Store, fx *effects) error

// HandleEscrow обрабатывает событие процессинга карт. Ошибка возвращается
// только при неверной подписи, остальные сбои сохраняются для повтора.
func (r *WebhookReconciler) HandleEscrow(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if webhook.IsPing(body) {
		return WebhookPing, nil
	}
	if err := webhook.VerifyEscrow(body, signature, r.secrets.Escrow, r.secrets.EscrowTolerance, r.clock.now()); err != nil {
		metrics.IncrementWebhook(models.ProviderEscrow, "invalid_signature")
		return "", err
	}
	return r.handleEscrow(ctx, body), nil
}

// HandlePayout обрабатывает событие провайдера выплат.
func (r *WebhookReconciler) HandlePayout(ctx context.Context, body []byte, signature, deliveryID string) (WebhookResult, error) {
	if webhook.IsPing(body) {
		return WebhookPing, nil
	}
	if err := webhook.VerifyPayout(body, signature, r.secrets.Payout); err != nil {
		metrics.IncrementWebhook(models.ProviderPayout, "invalid_signature")
		return "", err
	}
	return r.handlePayout(ctx, body, deliveryID), nil
}

func (r *WebhookReconciler) handleEscrow(ctx context.Context, body []byte) WebhookResult {
	ev, err := webhook.ParseEscrowEvent(body)
	if err != nil {
		return r.fail(ctx, &models.WebhookEvent{
			ID:       eventKey(models.ProviderEscrow, "unparsed:"+hashBody(body)),
			Provider: models.ProviderEscrow,
			Payload:  domainrepo.RawPayload(body),
		}, err)
	}
	record := &models.WebhookEvent{
		ID:        eventKey(models.ProviderEscrow, ev.ID),
		Provider:  models.ProviderEscrow,
		EventType: ev.Type,
		Payload:   domainrepo.RawPayload(body),
	}
	return r.process(ctx, record, func(ctx context.Context, tx domainrepo.Store, fx *effects) error {
		return r.applyEscrow(ctx, tx, ev, fx)
	})
}

func (r *WebhookReconciler) handlePayout(ctx context.Context, body []byte, deliveryID string) WebhookResult {
	ev, err := webhook.ParsePayoutEvent(body, deliveryID)
	if err != nil {
		return r.fail(ctx, &models.WebhookEvent{
			ID:       eventKey(models.ProviderPayout, "unparsed:"+hashBody(body)),
			Provider: models.ProviderPayout,
			Payload:  domainrepo.RawPayload(body),
		}, err)
	}
	record := &models.WebhookEvent{
		ID:        eventKey(models.ProviderPayout, ev.EventID()),
		Provider:  models.ProviderPayout,
		EventType: ev.EventType,
		Payload:   domainrepo.RawPayload(body),
	}
	return r.process(ctx, record, func(ctx context.Context, tx domainrepo.Store, fx *effects) error {
		return r.applyPayout(ctx, tx, ev)
	})
}

func (r *WebhookReconciler) process(ctx context.Context, record *models.WebhookEvent, apply applyFunc) WebhookResult {
	fx := &effects{}
	duplicate := false
	err := r.store.WithinTx(ctx, func(tx domainrepo.Store) error {
		processed, err := tx.WebhookEvents().Begin(ctx, record)
		if err != nil {
			return err
		}
		if processed {
			duplicate = true
			return nil
		}
		if err := apply(ctx, tx, fx); err != nil {
			return err
		}
		return tx.WebhookEvents().MarkProcessed(ctx, record.ID)
	})
	if err != nil {
		return r.fail(ctx, record, err)
	}
	if duplicate {
		logger.Log.WithFields(logrus.Fields{"event_id": record.ID, "type": record.EventType}).Info("повторное событие вебхука пропущено")
		metrics.IncrementWebhook(record.Provider, string(WebhookDuplicate))
		return WebhookDuplicate
	}

	fx.notes.send(ctx, r.escrow.notifier)
	for _, fn := range fx.after {
		fn(ctx)
	}
	logger.Log.WithFields(logrus.Fields{"event_id": record.ID, "type": record.EventType}).Info("событие вебхука обработано")
	metrics.IncrementWebhook(record.Provider, string(WebhookProcessed))
	return WebhookProcessed
}

// fail сохраняет событие с ошибкой вне откатившейся транзакции.
func (r *WebhookReconciler) fail(ctx context.Context, record *models.WebhookEvent, cause error) WebhookResult {
	log := logger.Log.WithFields(logrus.Fields{
		"event_id": record.ID,
		"provider": record.Provider,
		"type":     record.EventType,
	})
	log.WithError(cause).Error("событие вебхука не обработано")
	if err := r.store.WebhookEvents().RecordFailure(ctx, record, cause.Error()); err != nil {
		log.WithError(err).Error("не удалось сохранить ошибку вебхука")
	}
	metrics.IncrementWebhook(record.Provider, string(WebhookFailed))
	return WebhookFailed
}

func (r *WebhookReconciler) applyEscrow(ctx context.Context, tx domainrepo.Store, ev *webhook.EscrowEvent, fx *effects) error {
	obj := ev.Data.Object
	switch ev.Type {
	case models.EscrowEventPaymentSucceeded, models.EscrowEventPaymentFailed,
		models.EscrowEventPaymentCanceled, models.EscrowEventChargeRefunded:
	default:
		logger.Log.WithField("type", ev.Type).Debug("событие процессинга не требует действий")
		return nil
	}

	project, err := tx.Projects().GetByPaymentIntent(ctx, obj.IntentID())
	if errors.Is(err, domainrepo.ErrNotFound) {
		// Холд гига, по которому ещё нет проекта.
		if obj.Metadata["gig_id"] != "" {
			return nil
		}
		return errUnknownResource
	}
	if err != nil {
		return err
	}

	switch ev.Type {
	case models.EscrowEventPaymentSucceeded:
		applied, err := r.escrow.MarkEscrowed(ctx, tx, project, obj.IntentID())
		if err != nil {
			return err
		}
		if applied {
			payload := map[string]any{
				"project_id": project.ID,
				"amount":     valueobject.FormatMinor(project.AgreedAmount, project.Currency),
				"currency":   project.Currency,
			}
			fx.notes.add(project.ProviderUserID, models.EventProjectEscrowed, payload)
			fx.notes.add(project.PosterUserID, models.EventProjectEscrowed, payload)
		}

	case models.EscrowEventPaymentFailed, models.EscrowEventPaymentCanceled:
		applied, err := r.sm.Apply(ctx, tx.Projects(), project.ID, valueobject.ProjectStatusCancelled)
		if err != nil {
			return err
		}
		if applied && ev.Type == models.EscrowEventPaymentFailed {
			release, err := r.escrow.ScheduleRelease(ctx, tx, project)
			if err != nil {
				return err
			}
			fx.after = append(fx.after, func(ctx context.Context) { r.escrow.ReleaseHold(ctx, release) })
		}

	case models.EscrowEventChargeRefunded:
		if _, err := r.ledger.RecordRefundTotal(ctx, tx, project, obj.AmountRefunded, ev.ID); err != nil {
			return err
		}
		if !obj.Refunded && obj.AmountRefunded < project.AgreedAmount {
			return nil
		}
		if _, err := r.sm.Apply(ctx, tx.Projects(), project.ID, valueobject.ProjectStatusRefunded); err != nil {
			return err
		}
		return r.ledger.ReverseAccrual(ctx, tx, project)
	}
	return nil
}

func (r *WebhookReconciler) applyPayout(ctx context.Context, tx domainrepo.Store, ev *webhook.PayoutEvent) error {
	switch ev.EventType {
	case models.PayoutEventStateChange:
	case models.PayoutEventActiveCases:
		// Payload уже сохранён в журнале событий.
		return nil
	default:
		logger.Log.WithField("type", ev.EventType).Debug("событие провайдера выплат не требует действий")
		return nil
	}

	rec, err := tx.Payouts().GetByExternalID(ctx, models.ProviderPayout, ev.TransferID())
	if errors.Is(err, domainrepo.ErrNotFound) {
		return errUnknownResource
	}
	if err != nil {
		return err
	}
	status, known := valueobject.PayoutStatusFromTransferState(ev.Data.CurrentState)
	if !known {
		logger.Log.WithFields(logrus.Fields{
			"payout_id": rec.ID,
			"state":     ev.Data.CurrentState,
		}).Warn("неизвестное состояние перевода, считаем processing")
	}
	_, err = r.payouts.ApplyStatus(ctx, tx, rec, status, nil)
	return err
}

// RetryFailed повторяет сохранённые события, которые не удалось применить.
// Подпись не проверяется повторно: событие уже было аутентифицировано.
func (r *WebhookReconciler) RetryFailed(ctx context.Context) (int, error) {
	events, err := r.store.WebhookEvents().ListFailed(ctx, r.maxAttempts, webhookRetryBatch)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, ev := range events {
		var result WebhookResult
		switch ev.Provider {
		case models.ProviderEscrow:
			result = r.handleEscrow(ctx, ev.Payload)
		case models.ProviderPayout:
			deliveryID := strings.TrimPrefix(ev.ID, models.ProviderPayout+":")
			result = r.handlePayout(ctx, ev.Payload, deliveryID)
		default:
			continue
		}
		if result == WebhookProcessed || result == WebhookDuplicate {
			recovered++
		}
	}
	return recovered, nil
}

func eventKey(provider, id string) string {
	return provider + ":" + id
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
