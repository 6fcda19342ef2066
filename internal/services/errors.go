package services

import "errors"

var (
	// ErrInvalidQuantity is returned when a claim or order requests fewer than one item
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	// ErrDenominationNotOffered is returned when the requested denomination is
	// not in the listing's denomination set
	ErrDenominationNotOffered = errors.New("denomination not offered by listing")

	// ErrPaymentNotCompleted is returned when fulfillment is attempted on an
	// order whose payment has not completed
	ErrPaymentNotCompleted = errors.New("payment not completed")

	// ErrPaymentStateConflict is returned when a payment-status transition is
	// not allowed from the order's current state
	ErrPaymentStateConflict = errors.New("payment status transition not allowed")

	// ErrMissingCustomerEmail is returned when checkout starts without a
	// deliverable address
	ErrMissingCustomerEmail = errors.New("customer email is required")
)
