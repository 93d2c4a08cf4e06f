package valueobject

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// zeroDecimalCurrencies - валюты без дробной части (минорная единица = основная).
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
	"CLP": {},
	"ISK": {},
	"UGX": {},
}

// Money - сумма в минорных единицах (пенсы, центы).
type Money struct {
	Amount   int64
	Currency string
}

func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if len(c) != 3 {
		return "", apperror.New(apperror.ErrCodeValidation, "валюта должна быть трёхбуквенным кодом ISO 4217")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", apperror.New(apperror.ErrCodeValidation, "валюта должна быть трёхбуквенным кодом ISO 4217")
		}
	}
	return c, nil
}

func currencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return 0
	}
	return 2
}

// ParseMoney разбирает десятичную строку ("100.00") в минорные единицы.
// Лишние знаки после запятой считаются ошибкой, а не округляются.
func ParseMoney(amount, currency string) (Money, error) {
	cur, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная сумма")
	}
	exp := currencyExponent(cur)
	minor := d.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "слишком много знаков после запятой")
	}
	if minor.IsNegative() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	return Money{Amount: minor.IntPart(), Currency: cur}, nil
}

// String возвращает сумму в основных единицах: "88.00".
func (m Money) String() string {
	exp := currencyExponent(m.Currency)
	return decimal.New(m.Amount, -exp).StringFixed(exp)
}

func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// FormatMinor - сумма из минорных единиц для ответов API.
func FormatMinor(amount int64, currency string) string {
	return Money{Amount: amount, Currency: currency}.String()
}

// DefaultPlatformFeeRate - комиссия платформы, если не задана в конфигурации.
var DefaultPlatformFeeRate = decimal.RequireFromString("0.12")

// FeePolicy - единственное место расчёта комиссии и выплаты исполнителю.
type FeePolicy struct {
	rate decimal.Decimal
}

func NewFeePolicy(rate decimal.Decimal) (FeePolicy, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeePolicy{}, apperror.New(apperror.ErrCodeValidation, "ставка комиссии должна быть в диапазоне [0, 1)")
	}
	return FeePolicy{rate: rate}, nil
}

func (p FeePolicy) Rate() decimal.Decimal {
	return p.rate
}

// Split делит сумму на комиссию и выплату. Округление половин от нуля
// уходит в комиссию, выплата всегда равна остатку.
func (p FeePolicy) Split(agreed int64) (fee, payout int64) {
	if agreed <= 0 {
		return 0, agreed
	}
	fee = decimal.NewFromInt(agreed).Mul(p.rate).Round(0).IntPart()
	return fee, agreed - fee
}

// SplitShare считает доли спора: payoutGross = round(agreed*percent/100),
// возврат заказчику = agreed - payoutGross, исполнителю = payoutGross за вычетом комиссии.
func (p FeePolicy) SplitShare(agreed int64, percent int) (refund, payout, fee int64, err error) {
	if percent < 1 || percent > 99 {
		return 0, 0, 0, apperror.New(apperror.ErrCodeValidation, "split_percent должен быть от 1 до 99")
	}
	gross := decimal.NewFromInt(agreed).Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	refund = agreed - gross
	fee, payout = p.Split(gross)
	return refund, payout, fee, nil
}
