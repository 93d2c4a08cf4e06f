package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/gateway"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// Name - метка шлюза выплат в логах, метриках и записях PayoutRecord.
const Name = "payout"

// Client - адаптер международных переводов.
type Client struct {
	http      *gateway.Client
	profileID string
}

func NewClient(cfg gateway.Config, apiToken, profileID string) *Client {
	cfg.Name = Name
	cfg.Authorize = func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	return &Client{http: gateway.NewClient(cfg), profileID: profileID}
}

// TransferRequest - Amount в минорных единицах. Провайдер принимает сумму
// в основных, перевод делается здесь: 8800 GBP -> 88.00.
type TransferRequest struct {
	ProjectID          string
	RecipientAccountID string
	Amount             int64
	Currency           string
	IdempotencyKey     string
}

// Transfer - перевод на стороне провайдера. Raw хранится в PayoutRecord.
type Transfer struct {
	ID     TransferID      `json:"id"`
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

// TransferID - провайдер отдаёт id числом, но мы храним его строкой.
type TransferID string

func (id *TransferID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = TransferID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = TransferID(n.String())
	return nil
}

// CreateTransfer создаёт перевод. Статус completed никогда не выставляется
// по синхронному ответу: окончательный статус приходит только вебхуком.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.Amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма выплаты должна быть положительной")
	}
	if req.RecipientAccountID == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "у исполнителя нет реквизитов для выплаты")
	}
	body := map[string]any{
		"profile":               c.profileID,
		"targetAccount":         req.RecipientAccountID,
		"targetAmount":          json.Number(valueobject.FormatMinor(req.Amount, req.Currency)),
		"targetCurrency":        req.Currency,
		"customerTransactionId": req.IdempotencyKey,
		"details":               map[string]string{"reference": "project " + req.ProjectID},
	}
	var t Transfer
	raw, err := c.http.Do(ctx, gateway.Request{
		Operation:      "create_transfer",
		Method:         http.MethodPost,
		Path:           "/v1/transfers",
		Body:           body,
		IdempotencyKey: req.IdempotencyKey,
	}, &t)
	if err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, apperror.New(apperror.ErrCodeExternalGateway, "провайдер выплат не вернул id перевода")
	}
	t.Raw = raw
	return &t, nil
}

// GetTransfer запрашивает текущее состояние перевода.
func (c *Client) GetTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	var t Transfer
	raw, err := c.http.Do(ctx, gateway.Request{
		Operation: "get_transfer",
		Method:    http.MethodGet,
		Path:      fmt.Sprintf("/v1/transfers/%s", url.PathEscape(transferID)),
	}, &t)
	if err != nil {
		return nil, err
	}
	t.Raw = raw
	return &t, nil
}
