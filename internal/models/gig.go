package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
)

// GigPost - срочный заказ, который рассылается исполнителям с нужным навыком.
type GigPost struct {
	ID                 uuid.UUID             `db:"id" json:"id"`
	RequesterID        uuid.UUID             `db:"requester_id" json:"requester_id"`
	SkillRequired      string                `db:"skill_required" json:"skill_required"`
	Description        string                `db:"description" json:"description"`
	PaymentAmount      int64                 `db:"payment_amount" json:"payment_amount"`
	PaymentCurrency    string                `db:"payment_currency" json:"payment_currency"`
	DateNeeded         time.Time             `db:"date_needed" json:"date_needed"`
	ExpiresAt          time.Time             `db:"expires_at" json:"expires_at"`
	Status             valueobject.GigStatus `db:"status" json:"status"`
	PreauthIntentID    *string               `db:"preauth_intent_id" json:"-"`
	SelectedResponseID *uuid.UUID            `db:"selected_response_id" json:"selected_response_id,omitempty"`
	CreatedAt          time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time             `db:"updated_at" json:"updated_at"`
}

// GigResponse - ответ приглашённого исполнителя на гиг.
type GigResponse struct {
	ID          uuid.UUID                  `db:"id" json:"id"`
	GigID       uuid.UUID                  `db:"gig_id" json:"gig_id"`
	ProviderID  uuid.UUID                  `db:"provider_id" json:"provider_id"`
	Status      valueobject.ResponseStatus `db:"status" json:"status"`
	Message     *string                    `db:"message" json:"message,omitempty"`
	RespondedAt *time.Time                 `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt   time.Time                  `db:"created_at" json:"created_at"`
}
