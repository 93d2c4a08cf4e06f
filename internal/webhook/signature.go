package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

const (
	EscrowSignatureHeader  = "Escrow-Signature"
	PayoutSignatureHeader  = "X-Signature-SHA256"
	PayoutDeliveryIDHeader = "X-Delivery-Id"

	DefaultTolerance = 5 * time.Minute
)

// IsPing - провайдеры проверяют эндпоинт пустым телом или не-JSON строкой.
func IsPing(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return true
	}
	return !json.Valid(trimmed) || trimmed[0] != '{'
}

// VerifyEscrow проверяет заголовок вида "t=<unix>,v1=<hex>" над "t.body".
func VerifyEscrow(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" || header == "" {
		return apperror.ErrInvalidSignature
	}

	var (
		timestamp  int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return apperror.ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return apperror.ErrInvalidSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return apperror.ErrInvalidSignature
		}
	}

	expected := escrowMAC(body, secret, timestamp)
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return apperror.ErrInvalidSignature
}

// SignEscrow строит заголовок подписи процессинга. Используется в тестах и при локальной отладке.
func SignEscrow(body []byte, secret string, ts time.Time) string {
	t := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", t, hex.EncodeToString(escrowMAC(body, secret, t)))
}

func escrowMAC(body []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// VerifyPayout проверяет hex HMAC-SHA256 от сырого тела.
func VerifyPayout(body []byte, header, secret string) error {
	if secret == "" || header == "" {
		return apperror.ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return apperror.ErrInvalidSignature
	}
	if !hmac.Equal(got, payoutMAC(body, secret)) {
		return apperror.ErrInvalidSignature
	}
	return nil
}

func SignPayout(body []byte, secret string) string {
	return hex.EncodeToString(payoutMAC(body, secret))
}

func payoutMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
