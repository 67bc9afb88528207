package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCharge_Validation(t *testing.T) {
	period := MustBillingPeriod(ts("2019-01-01 00:00:00"), ts("2019-02-01 00:00:00"))
	price := MustMoney("99.99", "USD")

	tests := []struct {
		name    string
		params  ChargeParams
		wantMsg string
	}{
		{
			name:    "missing title",
			params:  ChargeParams{UnitPrice: &price, BillingPeriod: &period},
			wantMsg: `Missing required property "title".`,
		},
		{
			name:    "missing unit price",
			params:  ChargeParams{Title: "My subscription", BillingPeriod: &period},
			wantMsg: `Missing required property "unit_price".`,
		},
		{
			name:    "missing billing period",
			params:  ChargeParams{Title: "My subscription", UnitPrice: &price},
			wantMsg: `Missing required property "billing_period".`,
		},
		{
			name:    "zero billing period counts as missing",
			params:  ChargeParams{Title: "My subscription", UnitPrice: &price, BillingPeriod: &BillingPeriod{}},
			wantMsg: `Missing required property "billing_period".`,
		},
		{
			name: "invalid purchased item",
			params: ChargeParams{
				PurchasedItem: &PurchasableRef{Type: "product_variation"},
				Title:         "My subscription",
				UnitPrice:     &price,
				BillingPeriod: &period,
			},
			wantMsg: `Invalid value for property "purchased_item".`,
		},
		{
			name: "invalid unit price currency",
			params: ChargeParams{
				Title:         "My subscription",
				UnitPrice:     &Money{Amount: decimal.NewFromInt(10), Currency: "DOLLARS"},
				BillingPeriod: &period,
			},
			wantMsg: `Invalid value for property "unit_price".`,
		},
		{
			name: "negative quantity",
			params: ChargeParams{
				Title:         "My subscription",
				Quantity:      decimal.NewFromInt(-1),
				UnitPrice:     &price,
				BillingPeriod: &period,
			},
			wantMsg: `Invalid value for property "quantity".`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCharge(tt.params)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, tt.wantMsg, ErrorMessage(err))
		})
	}
}

func TestNewCharge_Valid(t *testing.T) {
	period := MustBillingPeriod(ts("2019-01-01 00:00:00"), ts("2019-02-01 00:00:00"))
	price := MustMoney("99.99", "USD")
	item := &PurchasableRef{Type: "product_variation", ID: "42"}

	charge, err := NewCharge(ChargeParams{
		PurchasedItem: item,
		Title:         "My subscription",
		Quantity:      decimal.NewFromInt(2),
		UnitPrice:     &price,
		BillingPeriod: &period,
	})
	require.NoError(t, err)

	assert.Equal(t, "My subscription", charge.Title())
	assert.True(t, charge.Quantity().Equal(decimal.NewFromInt(2)))
	assert.True(t, charge.UnitPrice().Equal(price))
	assert.True(t, charge.BillingPeriod().Equal(period))
	assert.Equal(t, item, charge.PurchasedItem())
	assert.Equal(t, "199.98 USD", charge.TotalPrice().Round().String())

	// The returned reference is a copy.
	charge.PurchasedItem().ID = "changed"
	assert.Equal(t, "42", charge.PurchasedItem().ID)
}

func TestNewCharge_DefaultsQuantityToOne(t *testing.T) {
	period := MustBillingPeriod(ts("2019-01-01 00:00:00"), ts("2019-02-01 00:00:00"))
	price := MustMoney("5", "USD")

	charge, err := NewCharge(ChargeParams{Title: "Standalone", UnitPrice: &price, BillingPeriod: &period})
	require.NoError(t, err)

	assert.True(t, charge.Quantity().Equal(decimal.NewFromInt(1)))
	assert.Nil(t, charge.PurchasedItem())
}

func TestMoney_RoundHalfUp(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"0.005", "USD", "0.01"},
		{"0.004", "USD", "0"},
		{"1.125", "USD", "1.13"},
		{"99.5", "JPY", "100"},
		{"1.0005", "KWD", "1.001"},
	}

	for _, tt := range tests {
		t.Run(tt.amount+" "+tt.currency, func(t *testing.T) {
			got := MustMoney(tt.amount, tt.currency).Round()
			assert.True(t, got.Amount.Equal(decimal.RequireFromString(tt.want)), "got %s", got.Amount)
		})
	}
}

func TestMoney_MinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), MustMoney("19.99", "usd").MinorUnits())
	assert.Equal(t, int64(500), MustMoney("500", "JPY").MinorUnits())
}

func TestMoney_AddRejectsCurrencyMismatch(t *testing.T) {
	_, err := MustMoney("1", "USD").Add(MustMoney("1", "EUR"))
	assert.True(t, IsCode(err, EINVALID))
}
