package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/recurring/internal/domain"
)

// SubscriptionType is the per-variant behavior of a subscription,
// selected by Subscription.Type.
type SubscriptionType interface {
	// ID is the type tag stored on subscriptions.
	ID() string

	Label() string

	// PurchasableEntityTypeID is the catalog entity type this subscription
	// type bills for, or "" when it has none.
	PurchasableEntityTypeID() string

	// CollectCharges returns the charges to bill for period. An empty
	// list means the subscription contributes nothing to the order.
	CollectCharges(sub *domain.Subscription, period domain.BillingPeriod) ([]domain.Charge, error)

	// OnSubscriptionCreate runs before a pending subscription is activated.
	OnSubscriptionCreate(ctx context.Context, sub *domain.Subscription) error

	// OnSubscriptionActivate runs after the first recurring order exists.
	OnSubscriptionActivate(ctx context.Context, sub *domain.Subscription, initialOrder *domain.Order) error

	// OnSubscriptionRenew runs after nextOrder was created from order.
	OnSubscriptionRenew(ctx context.Context, sub *domain.Subscription, order, nextOrder *domain.Order) error
}

// DefaultChargeCollector bills quantity × unit price, prorated to the part
// of period during which the subscription was running.
//
// The charge covers the effective interval, not the nominal period, and its
// unit price is scaled by effective seconds ÷ period seconds, rounded half
// up to the currency precision. A subscription that does not overlap the
// period yields no charges.
func DefaultChargeCollector(sub *domain.Subscription, period domain.BillingPeriod) ([]domain.Charge, error) {
	start := sub.StartTime
	effective, ok := period.Intersect(&start, sub.EndTime)
	if !ok {
		return nil, nil
	}

	unitPrice := sub.UnitPrice
	if !effective.Equal(period) {
		ratio := decimal.NewFromInt(effective.DurationSeconds()).
			Div(decimal.NewFromInt(period.DurationSeconds()))
		unitPrice = unitPrice.Multiply(ratio).Round()
	}

	charge, err := domain.NewCharge(domain.ChargeParams{
		PurchasedItem: sub.PurchasedItem,
		Title:         chargeTitle(sub),
		Quantity:      sub.Quantity,
		UnitPrice:     &unitPrice,
		BillingPeriod: &effective,
	})
	if err != nil {
		return nil, err
	}
	return []domain.Charge{charge}, nil
}

// chargeTitle prefers the subscription title and falls back to the
// purchased item's label.
func chargeTitle(sub *domain.Subscription) string {
	if sub.Title != "" {
		return sub.Title
	}
	return sub.Extra[ExtraPurchasedItemLabel]
}

// ExtraPurchasedItemLabel is the Subscription.Extra key holding the
// purchased item's display label.
const ExtraPurchasedItemLabel = "purchased_item_label"

// baseType provides no-op lifecycle hooks and the default collector.
type baseType struct {
	id, label, purchasable string
}

func (t baseType) ID() string                      { return t.id }
func (t baseType) Label() string                   { return t.label }
func (t baseType) PurchasableEntityTypeID() string { return t.purchasable }

func (t baseType) CollectCharges(sub *domain.Subscription, period domain.BillingPeriod) ([]domain.Charge, error) {
	return DefaultChargeCollector(sub, period)
}

func (baseType) OnSubscriptionCreate(context.Context, *domain.Subscription) error { return nil }

func (baseType) OnSubscriptionActivate(context.Context, *domain.Subscription, *domain.Order) error {
	return nil
}

func (baseType) OnSubscriptionRenew(context.Context, *domain.Subscription, *domain.Order, *domain.Order) error {
	return nil
}

// Built-in subscription type tags.
const (
	TypeProductVariation = "product_variation"
	TypeStandalone       = "standalone"
)

// ProductVariationType bills a product variation from the catalog.
type ProductVariationType struct{ baseType }

// NewProductVariationType returns the product_variation subscription type.
func NewProductVariationType() *ProductVariationType {
	return &ProductVariationType{baseType{id: TypeProductVariation, label: "Product variation", purchasable: "commerce_product_variation"}}
}

// OnSubscriptionCreate rejects subscriptions without a purchased item.
func (t *ProductVariationType) OnSubscriptionCreate(_ context.Context, sub *domain.Subscription) error {
	if sub.PurchasedItem == nil {
		return domain.WithOp(ErrPurchasedItemRequired, "subscription.create")
	}
	return nil
}

// StandaloneType bills a title and price with no catalog reference.
type StandaloneType struct{ baseType }

// NewStandaloneType returns the standalone subscription type.
func NewStandaloneType() *StandaloneType {
	return &StandaloneType{baseType{id: TypeStandalone, label: "Standalone"}}
}

// Registry maps subscription type tags to implementations.
type Registry struct {
	mu    sync.RWMutex
	types map[string]SubscriptionType
}

// NewRegistry returns a registry holding types.
func NewRegistry(types ...SubscriptionType) *Registry {
	r := &Registry{types: make(map[string]SubscriptionType, len(types))}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

// DefaultRegistry returns a registry with the built-in types.
func DefaultRegistry() *Registry {
	return NewRegistry(NewProductVariationType(), NewStandaloneType())
}

// Register adds or replaces a type.
func (r *Registry) Register(t SubscriptionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.ID()] = t
}

// Get returns the type registered under id.
func (r *Registry) Get(id string) (SubscriptionType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	if !ok {
		return nil, &domain.Error{
			Code:    ErrUnknownSubscriptionType.Code,
			Message: ErrUnknownSubscriptionType.Message,
			Op:      "registry.get",
			Err:     fmt.Errorf("unknown subscription type %q", id),
		}
	}
	return t, nil
}

// IDs lists registered type tags in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
