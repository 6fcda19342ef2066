package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"giftcard-fulfillment-api/internal/models"
	"giftcard-fulfillment-api/internal/notify"
	"giftcard-fulfillment-api/internal/storage"

	"github.com/google/uuid"
)

// FulfillmentMetrics records fulfillment outcomes
type FulfillmentMetrics interface {
	RecordFulfillment(success bool)
}

// FulfillmentResult is returned by FulfillOrder
type FulfillmentResult struct {
	Order            *models.Order
	AlreadyFulfilled bool
	// DeliveryWarning is set when the codes were claimed and recorded but the
	// email dispatch failed; the order is still validly fulfilled
	DeliveryWarning string
}

// FulfillmentService orchestrates order fulfillment: validate, claim codes,
// record them on the order exactly once, notify the customer and fire
// webhooks. Fulfillment is idempotent against committed order state.
type FulfillmentService struct {
	store      storage.Store
	inventory  *InventoryService
	notifier   notify.Notifier
	webhooks   WebhookTrigger
	metrics    FulfillmentMetrics
	orderLocks *storage.LockManager
}

// NewFulfillmentService creates a fulfillment service. webhooks and metrics
// may be nil.
func NewFulfillmentService(store storage.Store, inventory *InventoryService, notifier notify.Notifier, webhooks WebhookTrigger, metrics FulfillmentMetrics) *FulfillmentService {
	return &FulfillmentService{
		store:      store,
		inventory:  inventory,
		notifier:   notifier,
		webhooks:   webhooks,
		metrics:    metrics,
		orderLocks: storage.NewLockManager(),
	}
}

// CreateOrder records a checkout initiation and fires order.created
func (s *FulfillmentService) CreateOrder(ctx context.Context, companyID string, req models.CreateOrderRequest) (*models.Order, error) {
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if req.CustomerEmail == "" {
		return nil, ErrMissingCustomerEmail
	}

	listing, err := s.store.GetListing(companyID, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.HasDenomination(req.Denomination) {
		return nil, fmt.Errorf("%w: %d", ErrDenominationNotOffered, req.Denomination)
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	subtotal := int64(req.Denomination) * int64(req.Quantity) * 100
	order := models.Order{
		ID:                "ord_" + uuid.New().String(),
		CompanyID:         companyID,
		ListingID:         listing.ID,
		ListingTitle:      listing.Title,
		ListingBrand:      listing.Brand,
		Denomination:      req.Denomination,
		Quantity:          req.Quantity,
		Subtotal:          subtotal,
		Total:             subtotal,
		Currency:          currency,
		CustomerEmail:     req.CustomerEmail,
		CustomerName:      req.CustomerName,
		PaymentStatus:     models.PaymentStatusPending,
		PaymentMethod:     req.PaymentMethod,
		FulfillmentStatus: models.FulfillmentStatusPending,
		DeliveryMethod:    "email",
		DeliveryEmail:     req.CustomerEmail,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.PutOrder(order); err != nil {
		return nil, fmt.Errorf("failed to store order: %w", err)
	}

	slog.Info("Order created",
		"order_id", order.ID,
		"listing_id", order.ListingID,
		"denomination", order.Denomination,
		"quantity", order.Quantity,
		"total", order.Total)

	if s.webhooks != nil {
		s.webhooks.Trigger(companyID, models.EventOrderCreated, orderEventData(&order))
	}

	return &order, nil
}

// FulfillOrder runs the fulfillment state machine for one order. Safe to
// call multiple times: an already-fulfilled order returns its existing codes
// without consuming more inventory.
func (s *FulfillmentService) FulfillOrder(ctx context.Context, companyID, orderID, actor string) (*FulfillmentResult, error) {
	var result *FulfillmentResult
	var err error

	// Concurrent fulfillment attempts for the same order serialize here so
	// the idempotency guard always sees committed state
	s.orderLocks.WithLock(orderID, func() {
		result, err = s.fulfillLocked(ctx, companyID, orderID, actor)
	})

	return result, err
}

func (s *FulfillmentService) fulfillLocked(ctx context.Context, companyID, orderID, actor string) (*FulfillmentResult, error) {
	order, err := s.store.GetOrder(companyID, orderID)
	if err != nil {
		return nil, err
	}

	// Idempotency guard: re-invocation after a crash or manual retry must
	// not claim again
	if order.FulfillmentStatus == models.FulfillmentStatusFulfilled {
		slog.Info("Order already fulfilled, returning existing codes",
			"order_id", orderID,
			"code_count", len(order.GiftCardCodes))
		return &FulfillmentResult{Order: order, AlreadyFulfilled: true}, nil
	}

	if order.PaymentStatus != models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: payment status is %s", ErrPaymentNotCompleted, order.PaymentStatus)
	}

	claim, err := s.inventory.Claim(companyID, order.ListingID, order.Denomination, order.Quantity, orderID)
	if err != nil {
		var insufficient *storage.InsufficientInventoryError
		if errors.As(err, &insufficient) {
			s.markFailed(companyID, order, err.Error())
			if s.metrics != nil {
				s.metrics.RecordFulfillment(false)
			}
		}
		return nil, err
	}

	now := time.Now().UTC()
	updated, err := s.store.UpdateOrder(companyID, orderID, func(o *models.Order) error {
		o.GiftCardCodes = claim.Codes
		o.FulfillmentStatus = models.FulfillmentStatusFulfilled
		o.FulfilledAt = &now
		o.FulfilledBy = actor
		o.FulfillmentError = ""
		return nil
	})
	if err != nil {
		// Inventory is already attributed to this order; the idempotent
		// retry path recovers once the order becomes writable again
		slog.Error("Failed to record fulfillment on order",
			"order_id", orderID,
			"claimed_items", len(claim.Items),
			"error", err)
		return nil, fmt.Errorf("failed to save fulfilled order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordFulfillment(true)
	}

	slog.Info("Order fulfilled",
		"order_id", orderID,
		"actor", actor,
		"quantity", updated.Quantity,
		"listing_id", updated.ListingID)

	result := &FulfillmentResult{Order: updated}

	// Delivery failure never rolls back fulfillment: payment was captured
	// and inventory is consumed. It surfaces as a warning only.
	delivery, deliveryErr := s.notifier.SendGiftCardEmail(ctx, *updated, claim.Codes)
	if deliveryErr != nil || !delivery.Delivered {
		reason := "delivery reported not delivered"
		if deliveryErr != nil {
			reason = deliveryErr.Error()
		}
		slog.Warn("Gift-card email delivery failed",
			"order_id", orderID,
			"reason", reason)
		result.DeliveryWarning = reason
	} else {
		if withDelivery, updErr := s.store.UpdateOrder(companyID, orderID, func(o *models.Order) error {
			o.DeliveredAt = delivery.DeliveredAt
			return nil
		}); updErr == nil {
			result.Order = withDelivery
		}
	}

	if s.webhooks != nil {
		s.webhooks.Trigger(companyID, models.EventOrderFulfilled, orderEventData(result.Order))
	}

	return result, nil
}

// HandlePaymentCompleted is the entry point for the payment-verification
// collaborator: records the completed payment, fires order.paid, and runs
// auto-fulfillment when the listing opts in. An auto-fulfill failure is
// absorbed so the payment acknowledgement never fails because of it.
func (s *FulfillmentService) HandlePaymentCompleted(ctx context.Context, companyID, orderID, providerRef string, paidAt *time.Time) (*models.FulfillResponse, error) {
	alreadyCompleted := false
	updated, err := s.store.UpdateOrder(companyID, orderID, func(o *models.Order) error {
		switch o.PaymentStatus {
		case models.PaymentStatusCompleted:
			// Repeated provider notification; keep the committed state
			alreadyCompleted = true
			return nil
		case models.PaymentStatusPending, models.PaymentStatusProcessing:
			o.PaymentStatus = models.PaymentStatusCompleted
			o.ProviderRef = providerRef
			if paidAt != nil {
				o.PaidAt = paidAt
			} else {
				now := time.Now().UTC()
				o.PaidAt = &now
			}
			return nil
		default:
			return fmt.Errorf("%w: %s", ErrPaymentStateConflict, o.PaymentStatus)
		}
	})
	if err != nil {
		return nil, err
	}

	// order.paid fires once per capture; duplicate provider callbacks are
	// acknowledged without re-notifying
	if s.webhooks != nil && !alreadyCompleted {
		s.webhooks.Trigger(companyID, models.EventOrderPaid, orderEventData(updated))
	}

	response := &models.FulfillResponse{
		OrderID:   orderID,
		Status:    updated.FulfillmentStatus,
		Fulfilled: updated.FulfillmentStatus == models.FulfillmentStatusFulfilled,
	}

	listing, err := s.store.GetListing(companyID, updated.ListingID)
	if err != nil {
		slog.Error("Failed to load listing for auto-fulfill check",
			"order_id", orderID,
			"listing_id", updated.ListingID,
			"error", err)
		return response, nil
	}
	if !listing.AutoFulfill {
		return response, nil
	}

	response.AutoFulfillAttempted = true
	result, fulfillErr := s.FulfillOrder(ctx, companyID, orderID, "auto-fulfill")
	if fulfillErr != nil {
		// Left for manual fulfillment; the payment acknowledgement succeeds
		slog.Warn("Auto-fulfillment failed, order left for manual fulfillment",
			"order_id", orderID,
			"error", fulfillErr)
		response.Status = models.FulfillmentStatusFailed
		response.FulfillmentError = fulfillErr.Error()
		return response, nil
	}

	response.Status = result.Order.FulfillmentStatus
	response.Fulfilled = true
	return response, nil
}

// MarkRefunded transitions a completed payment to refunded and fires
// order.refunded. Claimed inventory is retained for reconciliation.
func (s *FulfillmentService) MarkRefunded(ctx context.Context, companyID, orderID string) (*models.Order, error) {
	updated, err := s.store.UpdateOrder(companyID, orderID, func(o *models.Order) error {
		if o.PaymentStatus != models.PaymentStatusCompleted {
			return fmt.Errorf("%w: %s", ErrPaymentStateConflict, o.PaymentStatus)
		}
		o.PaymentStatus = models.PaymentStatusRefunded
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Order refunded", "order_id", orderID)

	if s.webhooks != nil {
		s.webhooks.Trigger(companyID, models.EventOrderRefunded, orderEventData(updated))
	}

	return updated, nil
}

// GetOrder returns the order scoped to the owning company
func (s *FulfillmentService) GetOrder(companyID, orderID string) (*models.Order, error) {
	return s.store.GetOrder(companyID, orderID)
}

// markFailed records a terminal fulfillment failure and fires order.failed.
// The failed state is what prevents silent retries from repeatedly claiming
// partial stock.
func (s *FulfillmentService) markFailed(companyID string, order *models.Order, reason string) {
	updated, err := s.store.UpdateOrder(companyID, order.ID, func(o *models.Order) error {
		if o.FulfillmentStatus == models.FulfillmentStatusFulfilled {
			return fmt.Errorf("order already fulfilled")
		}
		o.FulfillmentStatus = models.FulfillmentStatusFailed
		o.FulfillmentError = reason
		return nil
	})
	if err != nil {
		slog.Error("Failed to mark order as failed",
			"order_id", order.ID,
			"reason", reason,
			"error", err)
		return
	}

	slog.Warn("Order fulfillment failed",
		"order_id", order.ID,
		"reason", reason)

	if s.webhooks != nil {
		s.webhooks.Trigger(companyID, models.EventOrderFailed, orderEventData(updated))
	}
}

// orderEventData builds the webhook payload body for order events. Codes are
// deliberately excluded: they only travel over email delivery.
func orderEventData(o *models.Order) map[string]interface{} {
	return map[string]interface{}{
		"orderId":           o.ID,
		"listingId":         o.ListingID,
		"listingTitle":      o.ListingTitle,
		"denomination":      o.Denomination,
		"quantity":          o.Quantity,
		"total":             o.Total,
		"currency":          o.Currency,
		"paymentStatus":     o.PaymentStatus,
		"fulfillmentStatus": o.FulfillmentStatus,
		"fulfillmentError":  o.FulfillmentError,
	}
}
