package escrow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ignatzorin/gig-escrow/internal/gateway"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// Name - метка шлюза в логах, метриках и таблице вебхуков.
const Name = "escrow"

// Client - адаптер процессинга карт: холд, списание, отмена и возврат.
type Client struct {
	http *gateway.Client
}

func NewClient(cfg gateway.Config, secretKey string) *Client {
	cfg.Name = Name
	cfg.Authorize = func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+secretKey)
	}
	return &Client{http: gateway.NewClient(cfg)}
}

type HoldRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent - платёжное намерение на стороне процессинга.
type Intent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type RefundRequest struct {
	IntentID       string
	Amount         int64
	HoldAmount     int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// CreateHold создаёт намерение с ручным списанием. Повтор с тем же ключом
// возвращает то же намерение.
func (c *Client) CreateHold(ctx context.Context, req HoldRequest) (*Intent, error) {
	if req.Amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма холда должна быть положительной")
	}
	if req.IdempotencyKey == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "не задан ключ идемпотентности")
	}
	body := map[string]any{
		"amount":         req.Amount,
		"currency":       req.Currency,
		"capture_method": "manual",
		"metadata":       req.Metadata,
	}
	var intent Intent
	if _, err := c.http.Do(ctx, gateway.Request{
		Operation:      "create_hold",
		Method:         http.MethodPost,
		Path:           "/v1/payment_intents",
		Body:           body,
		IdempotencyKey: req.IdempotencyKey,
	}, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, apperror.New(apperror.ErrCodeExternalGateway, "процессинг не вернул id намерения")
	}
	return &intent, nil
}

// Capture списывает ранее подтверждённый холд.
func (c *Client) Capture(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	return c.intentAction(ctx, "capture", intentID, idempotencyKey)
}

// Cancel снимает холд.
func (c *Client) Cancel(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	return c.intentAction(ctx, "cancel", intentID, idempotencyKey)
}

func (c *Client) intentAction(ctx context.Context, action, intentID, idempotencyKey string) (*Intent, error) {
	if intentID == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "не задан id намерения")
	}
	var intent Intent
	_, err := c.http.Do(ctx, gateway.Request{
		Operation:      action,
		Method:         http.MethodPost,
		Path:           fmt.Sprintf("/v1/payment_intents/%s/%s", url.PathEscape(intentID), action),
		IdempotencyKey: idempotencyKey,
	}, &intent)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// Refund возвращает всю сумму холда или её часть.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if req.Amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма возврата должна быть положительной")
	}
	if req.HoldAmount > 0 && req.Amount > req.HoldAmount {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма возврата превышает сумму холда")
	}
	if req.IntentID == "" || req.IdempotencyKey == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "не задан id намерения или ключ идемпотентности")
	}
	body := map[string]any{
		"payment_intent": req.IntentID,
		"amount":         req.Amount,
		"reason":         req.Reason,
		"metadata":       map[string]string{"hold_amount": strconv.FormatInt(req.HoldAmount, 10)},
	}
	var refund Refund
	if _, err := c.http.Do(ctx, gateway.Request{
		Operation:      "refund",
		Method:         http.MethodPost,
		Path:           "/v1/refunds",
		Body:           body,
		IdempotencyKey: req.IdempotencyKey,
	}, &refund); err != nil {
		return nil, err
	}
	// failed и canceled, окончательный отказ, а не неизвестный исход.
	if refund.Status == "failed" || refund.Status == "canceled" {
		return &refund, apperror.New(apperror.ErrCodeExternalGateway, "процессинг отклонил возврат")
	}
	return &refund, nil
}
