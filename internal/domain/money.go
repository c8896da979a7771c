package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assigned to new accounts when no currency is requested.
const DefaultCurrency = "USD"

// Money is an exact decimal amount tagged with an ISO-4217-like currency code.
// Arithmetic and comparison are only defined between equal currencies; mixing
// currencies is a programming error, not a recoverable condition. Callers that
// handle untrusted input must check SameCurrency before doing arithmetic.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney creates a Money value from an amount and currency code.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ParseMoney parses a decimal string into a Money value.
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// ZeroMoney returns a zero balance in the given currency.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// SameCurrency reports whether both values carry the same currency code.
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// Add returns m + other. Panics on currency mismatch.
func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

// Sub returns m - other. Panics on currency mismatch.
func (m Money) Sub(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// LessThan reports whether m < other. Panics on currency mismatch.
func (m Money) LessThan(other Money) bool {
	m.mustMatch(other)
	return m.Amount.LessThan(other.Amount)
}

// Equal reports whether both values have the same currency and amount.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) mustMatch(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s vs %s", m.Currency, other.Currency))
	}
}

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON renders the amount as a quoted decimal string to avoid float
// truncation on the wire.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount, Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = raw.Currency
	return nil
}
