package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderKindRecurring tags orders produced by the billing engine.
const OrderKindRecurring = "recurring"

// OrderState is the workflow state of a recurring order.
type OrderState string

const (
	OrderStateDraft     OrderState = "draft"
	OrderStateCompleted OrderState = "completed"
	OrderStateCanceled  OrderState = "canceled"
	OrderStateFailed    OrderState = "failed"
)

// Order transitions.
const (
	OrderTransitionPlace      = "place"
	OrderTransitionCancel     = "cancel"
	OrderTransitionMarkFailed = "mark_failed"
)

var orderTransitions = transitionTable[OrderState]{
	{OrderStateDraft, OrderTransitionPlace}:      OrderStateCompleted,
	{OrderStateDraft, OrderTransitionCancel}:     OrderStateCanceled,
	{OrderStateDraft, OrderTransitionMarkFailed}: OrderStateFailed,
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderState) IsTerminal() bool {
	return s != OrderStateDraft
}

// Order-related errors.
var (
	ErrOrderNotFound = &Error{Code: ENOTFOUND, Message: "Order not found."}
	ErrOrderNotDraft = &Error{Code: EINVALID, Message: "Order is not in draft state."}
)

// OrderItem is one line of a recurring order, owned by a single subscription.
type OrderItem struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	PurchasedItem  *PurchasableRef `json:"purchased_item,omitempty"`
	Title          string          `json:"title"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      Money           `json:"unit_price"`
	BillingPeriod  BillingPeriod   `json:"billing_period"`
}

// TotalPrice is unit price × quantity rounded to the currency.
func (i OrderItem) TotalPrice() Money {
	return i.UnitPrice.Multiply(i.Quantity).Round()
}

// OrderKey scopes which subscriptions may share one recurring order.
type OrderKey struct {
	StoreID         uuid.UUID
	ScheduleID      uuid.UUID
	CustomerID      uuid.UUID
	PaymentMethodID uuid.UUID // uuid.Nil when the subscription has none
	Currency        string
}

// Order is a recurring order accumulating charges for one billing period.
type Order struct {
	ID               uuid.UUID     `json:"id"`
	Kind             string        `json:"kind"`
	StoreID          uuid.UUID     `json:"store_id"`
	ScheduleID       uuid.UUID     `json:"schedule_id"`
	CustomerID       uuid.UUID     `json:"customer_id"`
	Currency         string        `json:"currency_code"`
	PaymentMethodID  *uuid.UUID    `json:"payment_method_id,omitempty"`
	PaymentGatewayID string        `json:"payment_gateway_id,omitempty"`
	BillingProfileID *uuid.UUID    `json:"billing_profile_id,omitempty"`
	BillingPeriod    BillingPeriod `json:"billing_period"`
	State            OrderState    `json:"state"`
	Items            []OrderItem   `json:"items"`
	PlacedAt         *time.Time    `json:"placed_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Key returns the scoping key used to find an order to share.
func (o *Order) Key() OrderKey {
	k := OrderKey{
		StoreID:    o.StoreID,
		ScheduleID: o.ScheduleID,
		CustomerID: o.CustomerID,
		Currency:   o.Currency,
	}
	if o.PaymentMethodID != nil {
		k.PaymentMethodID = *o.PaymentMethodID
	}
	return k
}

// KeyForSubscription returns the order key a subscription belongs to.
func KeyForSubscription(sub *Subscription) OrderKey {
	k := OrderKey{
		StoreID:    sub.StoreID,
		ScheduleID: sub.ScheduleID,
		CustomerID: sub.CustomerID,
		Currency:   sub.UnitPrice.Currency,
	}
	if sub.PaymentMethodID != nil {
		k.PaymentMethodID = *sub.PaymentMethodID
	}
	return k
}

// Total sums the item totals. An order without items totals zero.
func (o *Order) Total() Money {
	total := ZeroMoney(o.Currency)
	for _, item := range o.Items {
		total.Amount = total.Amount.Add(item.TotalPrice().Amount)
	}
	return total
}

// ApplyTransition moves the order through its workflow and stamps
// PlacedAt/CompletedAt on placement.
func (o *Order) ApplyTransition(transition string, now time.Time) error {
	to, err := orderTransitions.apply("order.transition", o.State, transition)
	if err != nil {
		return err
	}
	o.State = to
	if transition == OrderTransitionPlace {
		o.PlacedAt = &now
		o.CompletedAt = &now
	}
	return nil
}

// ClearPayment removes payment details, e.g. when the order is canceled.
func (o *Order) ClearPayment() {
	o.PaymentMethodID = nil
	o.PaymentGatewayID = ""
	o.BillingProfileID = nil
}

// Clone returns a deep copy, used when handing the order to event listeners.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	if o.PaymentMethodID != nil {
		id := *o.PaymentMethodID
		c.PaymentMethodID = &id
	}
	if o.BillingProfileID != nil {
		id := *o.BillingProfileID
		c.BillingProfileID = &id
	}
	return &c
}

// OrderRepository persists recurring orders and their items.
type OrderRepository interface {
	// Get returns ErrOrderNotFound when the id does not resolve.
	Get(ctx context.Context, id uuid.UUID) (*Order, error)

	// Create inserts a new order with its items.
	Create(ctx context.Context, order *Order) error

	// Save updates the order and replaces its item set. Items keep their ids.
	Save(ctx context.Context, order *Order) error

	// FindDraft returns the draft order for key whose period starts at
	// period.Start(), or nil when none exists.
	FindDraft(ctx context.Context, key OrderKey, period BillingPeriod) (*Order, error)

	// ListDrafts returns all recurring orders still in draft.
	ListDrafts(ctx context.Context) ([]*Order, error)
}
