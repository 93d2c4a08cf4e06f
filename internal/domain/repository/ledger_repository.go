package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/models"
)

type LedgerRepository interface {
	// Append не дублирует запись с тем же (kind, reference).
	Append(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.LedgerEntry, error)
	SumByKind(ctx context.Context, projectID uuid.UUID, kind valueobject.LedgerKind) (int64, error)
}

type WebhookEventRepository interface {
	// Begin - первая запись в транзакции обработки: upsert с блокировкой строки.
	Begin(ctx context.Context, event *models.WebhookEvent) (processed bool, err error)
	MarkProcessed(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, event *models.WebhookEvent, errMsg string) error
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error)
}

// RawPayload - удобный конструктор для json-полей.
func RawPayload(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(b)
}
