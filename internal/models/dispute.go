package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
)

type Dispute struct {
	ID              uuid.UUID                   `db:"id" json:"id"`
	ProjectID       uuid.UUID                   `db:"project_id" json:"project_id"`
	RaisedBy        uuid.UUID                   `db:"raised_by" json:"raised_by"`
	Against         uuid.UUID                   `db:"against" json:"against"`
	Reason          string                      `db:"reason" json:"reason"`
	Description     string                      `db:"description" json:"description"`
	EvidenceURLs    pq.StringArray              `db:"evidence_urls" json:"evidence_urls"`
	Status          valueobject.DisputeStatus   `db:"status" json:"status"`
	CounterResponse *string                     `db:"counter_response" json:"counter_response,omitempty"`
	CounterEvidence pq.StringArray              `db:"counter_evidence" json:"counter_evidence,omitempty"`
	PendingOutcome  *valueobject.DisputeOutcome `db:"pending_outcome" json:"pending_outcome,omitempty"`
	SplitPercent    *int                        `db:"split_percent" json:"split_percent,omitempty"`
	ResolutionNotes *string                     `db:"resolution_notes" json:"resolution_notes,omitempty"`
	CreatedAt       time.Time                   `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time                  `db:"resolved_at" json:"resolved_at,omitempty"`
}

// DisputeLeg - одна денежная операция по решению спора (возврат или выплата).
// Ключ идемпотентности постоянный, повтор идёт с тем же ключом.
type DisputeLeg struct {
	ID             uuid.UUID             `db:"id" json:"id"`
	DisputeID      uuid.UUID             `db:"dispute_id" json:"dispute_id"`
	Kind           valueobject.LegKind   `db:"kind" json:"kind"`
	Amount         int64                 `db:"amount" json:"amount"`
	Currency       string                `db:"currency" json:"currency"`
	IdempotencyKey string                `db:"idempotency_key" json:"idempotency_key"`
	ExternalID     *string               `db:"external_id" json:"external_id,omitempty"`
	Status         valueobject.LegStatus `db:"status" json:"status"`
	Error          *string               `db:"error" json:"error,omitempty"`
	Attempts       int                   `db:"attempts" json:"attempts"`
	UpdatedAt      time.Time             `db:"updated_at" json:"updated_at"`
}
