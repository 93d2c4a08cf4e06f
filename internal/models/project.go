package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
)

// Project - сделка между заказчиком и исполнителем. Единственный источник
// правды о том, где сейчас деньги.
type Project struct {
	ID                   uuid.UUID                 `db:"id" json:"id"`
	GigID                *uuid.UUID                `db:"gig_id" json:"gig_id,omitempty"`
	PosterUserID         uuid.UUID                 `db:"poster_user_id" json:"poster_user_id"`
	ProviderUserID       uuid.UUID                 `db:"provider_user_id" json:"provider_user_id"`
	AgreedAmount         int64                     `db:"agreed_amount" json:"agreed_amount"`
	Currency             string                    `db:"currency" json:"currency"`
	PlatformFeeAmount    int64                     `db:"platform_fee_amount" json:"platform_fee_amount"`
	ProviderPayoutAmount int64                     `db:"provider_payout_amount" json:"provider_payout_amount"`
	Status               valueobject.ProjectStatus `db:"status" json:"status"`
	PaymentIntentID      *string                   `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CompletedAt          *time.Time                `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt            time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time                 `db:"updated_at" json:"updated_at"`
}

// IsParticipant проверяет, что пользователь, сторона сделки.
func (p *Project) IsParticipant(userID uuid.UUID) bool {
	return p.PosterUserID == userID || p.ProviderUserID == userID
}

// Counterparty возвращает вторую сторону сделки.
func (p *Project) Counterparty(userID uuid.UUID) uuid.UUID {
	if p.PosterUserID == userID {
		return p.ProviderUserID
	}
	return p.PosterUserID
}
