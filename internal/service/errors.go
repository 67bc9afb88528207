package service

import (
	"github.com/dukerupert/recurring/internal/domain"
)

// Recurring order errors
var (
	ErrOrderNotFound        = domain.ErrOrderNotFound
	ErrOrderNotDraft        = domain.ErrOrderNotDraft
	ErrSubscriptionNotFound = domain.ErrSubscriptionNotFound
	ErrSubscriptionInactive = &domain.Error{Code: domain.EINVALID, Message: "Subscription is not active."}
)

// Payment errors - use domain.EPAYMENT
var (
	// ErrNoPaymentMethod means the order has no usable payment method.
	// It is terminal: retrying cannot succeed until the customer adds one.
	ErrNoPaymentMethod = &domain.Error{Code: domain.EPAYMENT, Message: "Payment method not found."}
)

// Subscription type errors
var (
	ErrUnknownSubscriptionType = &domain.Error{Code: domain.ENOTFOUND, Message: "Subscription type not found."}
	ErrPurchasedItemRequired   = &domain.Error{Code: domain.EINVALID, Message: "Subscription has no purchased item."}
)

// Dunning errors
var (
	// ErrCascadeIncomplete is joined with the per-subscription failures when
	// dunning gave up but could not move every subscription to the unpaid state.
	ErrCascadeIncomplete = &domain.Error{Code: domain.EINTERNAL, Message: "Unpaid state cascade incomplete."}
)
