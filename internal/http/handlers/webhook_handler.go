package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/gig-escrow/internal/http/response"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/gig-escrow/internal/service"
	"github.com/ignatzorin/gig-escrow/internal/webhook"
)

// maxWebhookBody - предел тела вебхука, события провайдеров намного меньше.
const maxWebhookBody = 1 << 20

// WebhookProcessor - обработчик входящих событий платёжных провайдеров.
type WebhookProcessor interface {
	HandleEscrow(ctx context.Context, body []byte, signature string) (service.WebhookResult, error)
	HandlePayout(ctx context.Context, body []byte, signature, deliveryID string) (service.WebhookResult, error)
}

// WebhookHandler принимает вебхуки. После проверки подписи ответ всегда 200,
// сбои обработки сохраняются и повторяются планировщиком.
type WebhookHandler struct {
	processor WebhookProcessor
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// Escrow POST /webhooks/escrow
func (h *WebhookHandler) Escrow(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	// Провайдер может оборвать соединение, транзакция всё равно доводится до конца.
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := h.processor.HandleEscrow(ctx, body, c.GetHeader(webhook.EscrowSignatureHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
}

// PayoutVerify GET /webhooks/payout
// Провайдер проверяет адрес и ждёт plain text "OK".
func (h *WebhookHandler) PayoutVerify(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Payout POST /webhooks/payout
func (h *WebhookHandler) Payout(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := h.processor.HandlePayout(ctx, body,
		c.GetHeader(webhook.PayoutSignatureHeader),
		c.GetHeader(webhook.PayoutDeliveryIDHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	if result == service.WebhookPing {
		c.String(http.StatusOK, "OK")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать тело запроса"))
		return nil, false
	}
	return body, true
}
