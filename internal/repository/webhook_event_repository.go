package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/gig-escrow/internal/models"
)

type WebhookEventRepository struct {
	q sqlx.ExtContext
}

func NewWebhookEventRepository(q sqlx.ExtContext) *WebhookEventRepository {
	return &WebhookEventRepository{q: q}
}

// Begin регистрирует доставку. ON CONFLICT DO UPDATE берёт блокировку строки,
// поэтому параллельная доставка того же события ждёт коммита первой.
func (r *WebhookEventRepository) Begin(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	var processed bool
	err := r.q.QueryRowxContext(ctx, `
		INSERT INTO webhook_events (id, provider, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET attempts = webhook_events.attempts + 1
		RETURNING processed
	`, e.ID, e.Provider, e.EventType, []byte(e.Payload)).Scan(&processed)
	if err != nil {
		return false, fmt.Errorf("begin webhook event: %w", err)
	}
	return processed, nil
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE webhook_events SET processed = TRUE, processed_at = NOW(), last_error = NULL WHERE id = $1
	`, id)
	return err
}

func (r *WebhookEventRepository) RecordFailure(ctx context.Context, e *models.WebhookEvent, errMsg string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO webhook_events (id, provider, event_type, payload, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET last_error = EXCLUDED.last_error, attempts = webhook_events.attempts + 1
		WHERE webhook_events.processed = FALSE
	`, e.ID, e.Provider, e.EventType, []byte(e.Payload), errMsg)
	return err
}

func (r *WebhookEventRepository) ListFailed(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := sqlx.SelectContext(ctx, r.q, &events, `
		SELECT * FROM webhook_events
		WHERE processed = FALSE AND last_error IS NOT NULL AND attempts < $1
		ORDER BY received_at LIMIT $2
	`, maxAttempts, limit)
	return events, err
}
