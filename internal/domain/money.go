package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyPrecision lists minor-unit digits for currencies that differ from 2.
var currencyPrecision = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// CurrencyPrecision returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyPrecision(currency string) int32 {
	if p, ok := currencyPrecision[strings.ToUpper(currency)]; ok {
		return p
	}
	return 2
}

// Money is a decimal amount in a single currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency_code"`
}

// NewMoney parses amount as a decimal string.
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, Errorf(EINVALID, "money.new", "invalid amount %q", amount)
	}
	return Money{Amount: d, Currency: strings.ToUpper(currency)}, nil
}

// MustMoney is like NewMoney but panics on a malformed amount.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// ZeroMoney returns a zero amount in currency.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: strings.ToUpper(currency)}
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsSet reports whether the value carries a currency.
func (m Money) IsSet() bool {
	return m.Currency != ""
}

// Add returns m + other. Both must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, Errorf(EINVALID, "money.add", "currency mismatch: %s and %s", m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Multiply returns m × factor without rounding.
func (m Money) Multiply(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Round rounds half-up to the currency's minor unit.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(CurrencyPrecision(m.Currency)), Currency: m.Currency}
}

// MinorUnits returns the rounded amount in the smallest currency unit.
func (m Money) MinorUnits() int64 {
	return m.Round().Amount.Shift(CurrencyPrecision(m.Currency)).IntPart()
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(CurrencyPrecision(m.Currency)), m.Currency)
}
