package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ignatzorin/gig-escrow/internal/gateway/payout"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// EscrowEvent - событие процессинга карт.
type EscrowEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object EscrowObject `json:"object"`
	} `json:"data"`
}

// EscrowObject - вложенный ресурс: payment_intent или charge.
type EscrowObject struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Refunded       bool              `json:"refunded"`
	Metadata       map[string]string `json:"metadata"`
}

// IntentID возвращает id платёжного намерения независимо от типа ресурса.
func (o EscrowObject) IntentID() string {
	if o.Object == "payment_intent" || o.PaymentIntent == "" {
		return o.ID
	}
	return o.PaymentIntent
}

func ParseEscrowEvent(body []byte) (*EscrowEvent, error) {
	var ev EscrowEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное событие процессинга")
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "в событии процессинга нет id или type")
	}
	return &ev, nil
}

// PayoutEvent - событие провайдера выплат.
type PayoutEvent struct {
	EventType      string          `json:"event_type"`
	SubscriptionID string          `json:"subscription_id"`
	SchemaVersion  string          `json:"schema_version"`
	SentAt         string          `json:"sent_at"`
	Data           PayoutEventData `json:"data"`

	deliveryID string
}

type PayoutEventData struct {
	Resource struct {
		ID        payout.TransferID `json:"id"`
		Type      string            `json:"type"`
		ProfileID json.Number       `json:"profile_id"`
	} `json:"resource"`
	CurrentState  string            `json:"current_state"`
	PreviousState string            `json:"previous_state"`
	OccurredAt    string            `json:"occurred_at"`
	ActiveCases   []json.RawMessage `json:"active_cases,omitempty"`
}

func ParsePayoutEvent(body []byte, deliveryID string) (*PayoutEvent, error) {
	var ev PayoutEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное событие провайдера выплат")
	}
	if ev.EventType == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "в событии провайдера выплат нет event_type")
	}
	ev.deliveryID = strings.TrimSpace(deliveryID)
	return &ev, nil
}

// TransferID - id перевода из ресурса события.
func (e *PayoutEvent) TransferID() string {
	return string(e.Data.Resource.ID)
}

// EventID - id доставки из заголовка, иначе стабильный хэш содержимого события.
func (e *PayoutEvent) EventID() string {
	if e.deliveryID != "" {
		return e.deliveryID
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		e.EventType,
		string(e.Data.Resource.ID),
		e.Data.CurrentState,
		e.Data.OccurredAt,
	}, "|")))
	return hex.EncodeToString(sum[:])
}
