package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyArithmetic(t *testing.T) {
	ten := NewMoney(decimal.RequireFromString("10.00"), "USD")
	cent := NewMoney(decimal.RequireFromString("0.01"), "USD")

	assert.True(t, ten.Add(cent).Amount.Equal(decimal.RequireFromString("10.01")))
	assert.True(t, ten.Sub(cent).Amount.Equal(decimal.RequireFromString("9.99")))
	assert.True(t, cent.LessThan(ten))
	assert.False(t, ten.LessThan(cent))
	assert.True(t, ten.Equal(NewMoney(decimal.NewFromInt(10), "USD")))
	assert.False(t, ten.Equal(NewMoney(decimal.NewFromInt(10), "PHP")))
}

func TestMoneyPrecision(t *testing.T) {
	// 18 fractional digits survive a full add/sub round trip.
	a := NewMoney(decimal.RequireFromString("0.000000000000000001"), "USD")
	b := NewMoney(decimal.RequireFromString("1"), "USD")

	sum := b.Add(a)
	assert.Equal(t, "1.000000000000000001", sum.Amount.String())
	assert.True(t, sum.Sub(a).Equal(b))
}

func TestMoneyCurrencyMismatchPanics(t *testing.T) {
	usd := NewMoney(decimal.NewFromInt(1), "USD")
	php := NewMoney(decimal.NewFromInt(1), "PHP")

	assert.Panics(t, func() { usd.Add(php) })
	assert.Panics(t, func() { usd.Sub(php) })
	assert.Panics(t, func() { usd.LessThan(php) })
	assert.False(t, usd.SameCurrency(php))
}

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney("10.50", "USD")
	require.NoError(t, err)
	assert.Equal(t, "10.5 USD", m.String())

	_, err = ParseMoney("not-a-number", "USD")
	assert.Error(t, err)
}

func TestMoneyJSON(t *testing.T) {
	m := NewMoney(decimal.RequireFromString("10.000000000000000001"), "USD")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	// Quoted decimal string: no float truncation on the wire.
	assert.JSONEq(t, `{"amount":"10.000000000000000001","currency":"USD"}`, string(data))

	var got Money
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Equal(m))
}
