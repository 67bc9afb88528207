package domain

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionState is the workflow state of a subscription.
type SubscriptionState string

const (
	SubscriptionStatePending   SubscriptionState = "pending"
	SubscriptionStateTrial     SubscriptionState = "trial"
	SubscriptionStateActive    SubscriptionState = "active"
	SubscriptionStateSuspended SubscriptionState = "suspended"
	SubscriptionStateCanceled  SubscriptionState = "canceled"
	SubscriptionStateExpired   SubscriptionState = "expired"
)

// Subscription transitions.
const (
	SubscriptionTransitionActivate   = "activate"
	SubscriptionTransitionStartTrial = "start_trial"
	SubscriptionTransitionSuspend    = "suspend"
	SubscriptionTransitionReactivate = "reactivate"
	SubscriptionTransitionCancel     = "cancel"
	SubscriptionTransitionExpire     = "expire"
)

var subscriptionTransitions = transitionTable[SubscriptionState]{
	{SubscriptionStatePending, SubscriptionTransitionActivate}:     SubscriptionStateActive,
	{SubscriptionStatePending, SubscriptionTransitionStartTrial}:   SubscriptionStateTrial,
	{SubscriptionStateTrial, SubscriptionTransitionActivate}:       SubscriptionStateActive,
	{SubscriptionStateTrial, SubscriptionTransitionCancel}:         SubscriptionStateCanceled,
	{SubscriptionStateActive, SubscriptionTransitionSuspend}:       SubscriptionStateSuspended,
	{SubscriptionStateActive, SubscriptionTransitionCancel}:        SubscriptionStateCanceled,
	{SubscriptionStateActive, SubscriptionTransitionExpire}:        SubscriptionStateExpired,
	{SubscriptionStateSuspended, SubscriptionTransitionReactivate}: SubscriptionStateActive,
	{SubscriptionStateSuspended, SubscriptionTransitionCancel}:     SubscriptionStateCanceled,
}

// IsValid reports whether s is a known state.
func (s SubscriptionState) IsValid() bool {
	switch s {
	case SubscriptionStatePending, SubscriptionStateTrial, SubscriptionStateActive,
		SubscriptionStateSuspended, SubscriptionStateCanceled, SubscriptionStateExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether one transition leads from s to target.
func (s SubscriptionState) CanTransitionTo(target SubscriptionState) bool {
	_, ok := subscriptionTransitions.transitionTo(s, target)
	return ok
}

// IsActiveLike reports whether subscriptions in this state generate charges.
func (s SubscriptionState) IsActiveLike() bool {
	return s == SubscriptionStateActive || s == SubscriptionStateTrial
}

// IsEnded reports whether the subscription was terminated.
func (s SubscriptionState) IsEnded() bool {
	return s == SubscriptionStateCanceled || s == SubscriptionStateExpired
}

// Subscription is a customer's recurring purchase on a billing schedule.
type Subscription struct {
	ID              uuid.UUID
	Type            string // subscription type tag, e.g. "product_variation"
	StoreID         uuid.UUID
	ScheduleID      uuid.UUID
	CustomerID      uuid.UUID
	PaymentMethodID *uuid.UUID
	PurchasedItem   *PurchasableRef
	Title           string
	Quantity        decimal.Decimal
	UnitPrice       Money
	State           SubscriptionState
	StartTime       time.Time
	EndTime         *time.Time
	RenewedTime     *time.Time
	CreatedAt       time.Time
	OrderIDs        []uuid.UUID

	// Extra holds type-specific data. It is opaque to the billing engine.
	Extra map[string]string
}

// ApplyTransition moves the subscription through its workflow.
func (s *Subscription) ApplyTransition(transition string) error {
	to, err := subscriptionTransitions.apply("subscription.transition", s.State, transition)
	if err != nil {
		return err
	}
	s.State = to
	return nil
}

// TransitionTo applies whichever transition leads from the current state to target.
func (s *Subscription) TransitionTo(target SubscriptionState) error {
	id, ok := subscriptionTransitions.transitionTo(s.State, target)
	if !ok {
		return Errorf(EINVALID, "subscription.transition", "no transition from %q to %q", s.State, target)
	}
	return s.ApplyTransition(id)
}

// HasOrder reports whether orderID is linked to the subscription.
func (s *Subscription) HasOrder(orderID uuid.UUID) bool {
	return slices.Contains(s.OrderIDs, orderID)
}

// AddOrder links an order to the subscription once.
func (s *Subscription) AddOrder(orderID uuid.UUID) {
	if !s.HasOrder(orderID) {
		s.OrderIDs = append(s.OrderIDs, orderID)
	}
}

// SubscriptionRepository persists subscriptions.
type SubscriptionRepository interface {
	// Get returns ErrSubscriptionNotFound when the id does not resolve.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	Save(ctx context.Context, sub *Subscription) error

	// ListByOrder returns subscriptions that list orderID among their orders.
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Subscription, error)

	// ListActive returns subscriptions in an active-like state.
	ListActive(ctx context.Context) ([]*Subscription, error)
}

// Subscription-related errors.
var (
	ErrSubscriptionNotFound = &Error{Code: ENOTFOUND, Message: "Subscription not found."}
)
