package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent - журнал дедупликации входящих вебхуков.
type WebhookEvent struct {
	ID          string          `db:"id" json:"id"`
	Provider    string          `db:"provider" json:"provider"`
	EventType   string          `db:"event_type" json:"event_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Processed   bool            `db:"processed" json:"processed"`
	Attempts    int             `db:"attempts" json:"attempts"`
	LastError   *string         `db:"last_error" json:"last_error,omitempty"`
	ReceivedAt  time.Time       `db:"received_at" json:"received_at"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}
