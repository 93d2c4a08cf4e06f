package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
)

// LedgerEntry - запись журнала движения денег. Только добавление.
type LedgerEntry struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	ProjectID uuid.UUID              `db:"project_id" json:"project_id"`
	PayoutID  *uuid.UUID             `db:"payout_id" json:"payout_id,omitempty"`
	Kind      valueobject.LedgerKind `db:"kind" json:"kind"`
	Amount    int64                  `db:"amount" json:"amount"`
	Currency  string                 `db:"currency" json:"currency"`
	Reference *string                `db:"reference" json:"reference,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
