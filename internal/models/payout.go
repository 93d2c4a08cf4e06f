package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
)

// PayoutRecord - попытка перевода денег исполнителю. При откате уже
// выплаченного перевода создаётся новая запись с ReversalOf.
type PayoutRecord struct {
	ID                  uuid.UUID                `db:"id" json:"id"`
	ProjectID           uuid.UUID                `db:"project_id" json:"project_id"`
	Provider            string                   `db:"provider" json:"provider"`
	RecipientID         uuid.UUID                `db:"recipient_id" json:"recipient_id"`
	Amount              int64                    `db:"amount" json:"amount"`
	Currency            string                   `db:"currency" json:"currency"`
	IdempotencyKey      string                   `db:"idempotency_key" json:"-"`
	ExternalTransferID  *string                  `db:"external_transfer_id" json:"external_transfer_id,omitempty"`
	Status              valueobject.PayoutStatus `db:"status" json:"status"`
	ErrorMessage        *string                  `db:"error_message" json:"error_message,omitempty"`
	ReversalOf          *uuid.UUID               `db:"reversal_of" json:"reversal_of,omitempty"`
	RawProviderResponse *json.RawMessage         `db:"raw_provider_response" json:"-"`
	CompletedAt         *time.Time               `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt            *time.Time               `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt           time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time                `db:"updated_at" json:"updated_at"`
}

// PayoutAccount - реквизиты исполнителя у провайдера выплат.
type PayoutAccount struct {
	UserID             uuid.UUID `db:"user_id" json:"user_id"`
	RecipientAccountID string    `db:"recipient_account_id" json:"recipient_account_id"`
	Currency           string    `db:"currency" json:"currency"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}
