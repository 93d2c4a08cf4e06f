package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	HoldSubjectGig     = "gig"
	HoldSubjectProject = "project"
)

// HoldRelease - снятие холда на карте, которое ещё не подтвердил процессинг.
// Запись создаётся в той же транзакции, что и закрытие гига или проекта.
type HoldRelease struct {
	IntentID       string     `db:"intent_id" json:"intent_id"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	Subject        string     `db:"subject" json:"subject"`
	SubjectID      uuid.UUID  `db:"subject_id" json:"subject_id"`
	Attempts       int        `db:"attempts" json:"attempts"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	ReleasedAt     *time.Time `db:"released_at" json:"released_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
