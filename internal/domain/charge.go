package domain

import (
	"github.com/shopspring/decimal"
)

// PurchasableRef points at the catalog entity a charge bills for.
type PurchasableRef struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// ChargeParams are the inputs to NewCharge.
type ChargeParams struct {
	PurchasedItem *PurchasableRef `json:"purchased_item" validate:"omitempty"`
	Title         string          `json:"title" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     *Money          `json:"unit_price" validate:"required"`
	BillingPeriod *BillingPeriod  `json:"billing_period" validate:"required"`
}

// moneyRules validates the currency of a charge price.
type moneyRules struct {
	Currency string `json:"currency_code" validate:"required,iso4217"`
}

// Charge is one billable line for a billing period. Charges are immutable.
type Charge struct {
	purchasedItem *PurchasableRef
	title         string
	quantity      decimal.Decimal
	unitPrice     Money
	billingPeriod BillingPeriod
}

// NewCharge validates params and builds a Charge. Quantity defaults to 1.
func NewCharge(params ChargeParams) (Charge, error) {
	const op = "charge.new"

	if params.BillingPeriod != nil && params.BillingPeriod.IsZero() {
		params.BillingPeriod = nil
	}
	if err := validate.Struct(params); err != nil {
		return Charge{}, validationErrorFrom(op, err)
	}
	if err := validate.Struct(moneyRules{Currency: params.UnitPrice.Currency}); err != nil {
		return Charge{}, NewValidationError(op, "unit_price", `Invalid value for property "unit_price".`)
	}

	quantity := params.Quantity
	if quantity.IsZero() {
		quantity = decimal.NewFromInt(1)
	}
	if quantity.IsNegative() {
		return Charge{}, NewValidationError(op, "quantity", `Invalid value for property "quantity".`)
	}

	var item *PurchasableRef
	if params.PurchasedItem != nil {
		ref := *params.PurchasedItem
		item = &ref
	}

	return Charge{
		purchasedItem: item,
		title:         params.Title,
		quantity:      quantity,
		unitPrice:     *params.UnitPrice,
		billingPeriod: *params.BillingPeriod,
	}, nil
}

// PurchasedItem returns a copy of the purchased item reference, or nil.
func (c Charge) PurchasedItem() *PurchasableRef {
	if c.purchasedItem == nil {
		return nil
	}
	ref := *c.purchasedItem
	return &ref
}

func (c Charge) Title() string                { return c.title }
func (c Charge) Quantity() decimal.Decimal    { return c.quantity }
func (c Charge) UnitPrice() Money             { return c.unitPrice }
func (c Charge) BillingPeriod() BillingPeriod { return c.billingPeriod }

// TotalPrice is unit price × quantity, unrounded.
func (c Charge) TotalPrice() Money {
	return c.unitPrice.Multiply(c.quantity)
}
