package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/metrics"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 200 * time.Millisecond
	maxErrorBody      = 4 << 10
)

// Config - общие настройки HTTP-клиента платёжного шлюза.
type Config struct {
	Name       string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	// Authorize проставляет заголовки авторизации в каждый запрос.
	Authorize func(req *http.Request)
}

// Client выполняет запросы к шлюзу с ограниченным таймаутом и повтором
// с тем же ключом идемпотентности.
type Client struct {
	name       string
	baseURL    string
	maxRetries int
	backoff    time.Duration
	authorize  func(req *http.Request)
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		authorize:  cfg.Authorize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Request - описание одного вызова шлюза.
type Request struct {
	Operation      string
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
}

// Error - отказ или недоступность шлюза. Temporary означает, что исход
// операции неизвестен и её можно безопасно повторить с тем же ключом.
type Error struct {
	Gateway    string
	Operation  string
	StatusCode int
	Body       string
	Temporary  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Gateway, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s %s: код ответа %d: %s", e.Gateway, e.Operation, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsUnknownOutcome - шлюз не дал окончательного ответа (таймаут, 5xx).
func IsUnknownOutcome(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Temporary
}

// Do отправляет запрос и декодирует JSON-ответ в out. Возвращает сырое тело ответа.
func (c *Client) Do(ctx context.Context, r Request, out any) ([]byte, error) {
	var payload []byte
	if r.Body != nil {
		var err error
		payload, err = json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: не удалось сериализовать запрос: %w", c.name, err)
		}
	}

	var lastErr *Error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.IncrementGatewayRetry(c.name, r.Operation)
			select {
			case <-ctx.Done():
				return nil, c.wrap(&Error{Gateway: c.name, Operation: r.Operation, Temporary: true, Cause: ctx.Err()})
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		body, gwErr := c.once(ctx, r, payload)
		if gwErr == nil {
			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					return body, c.wrap(&Error{Gateway: c.name, Operation: r.Operation, Cause: err})
				}
			}
			return body, nil
		}
		lastErr = gwErr
		if !gwErr.Temporary || ctx.Err() != nil {
			break
		}

		logger.Log.WithFields(logrus.Fields{
			"gateway":   c.name,
			"operation": r.Operation,
			"attempt":   attempt + 1,
		}).WithError(gwErr).Warn("шлюз не ответил, повторяем с тем же ключом")
	}

	return nil, c.wrap(lastErr)
}

func (c *Client) once(ctx context.Context, r Request, payload []byte) ([]byte, *Error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, reader)
	if err != nil {
		return nil, &Error{Gateway: c.name, Operation: r.Operation, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGatewayCall(c.name, r.Operation, "error", time.Since(start))
		// Сетевая ошибка или таймаут: исход неизвестен.
		return nil, &Error{Gateway: c.name, Operation: r.Operation, Temporary: true, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.RecordGatewayCall(c.name, r.Operation, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, &Error{Gateway: c.name, Operation: r.Operation, Temporary: true, Cause: err}
	}

	if resp.StatusCode >= 400 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &Error{
			Gateway:    c.name,
			Operation:  r.Operation,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Temporary:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusConflict,
		}
	}

	return body, nil
}

func (c *Client) wrap(gwErr *Error) error {
	return apperror.Wrap(gwErr, apperror.ErrCodeExternalGateway, fmt.Sprintf("ошибка платёжного шлюза %s", c.name))
}
