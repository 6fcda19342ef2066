package notify

import (
	"context"
	"log/slog"
	"time"

	"giftcard-fulfillment-api/internal/models"
)

// Delivery reports the outcome of one email dispatch
type Delivery struct {
	Delivered   bool
	DeliveredAt *time.Time
}

// Notifier delivers gift-card codes to customers. The real implementation
// lives in the email subsystem; the fulfillment engine only depends on this
// interface and treats failures as non-fatal.
type Notifier interface {
	SendGiftCardEmail(ctx context.Context, order models.Order, codes []models.GiftCardCode) (Delivery, error)
}

// LogNotifier is the default Notifier: it logs the dispatch instead of
// sending mail, keeping the wire observable in development
type LogNotifier struct{}

// NewLogNotifier creates a logging notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// SendGiftCardEmail logs the delivery and reports success
func (n *LogNotifier) SendGiftCardEmail(ctx context.Context, order models.Order, codes []models.GiftCardCode) (Delivery, error) {
	now := time.Now().UTC()

	slog.Info("Dispatching gift-card email",
		"order_id", order.ID,
		"delivery_email", order.DeliveryEmail,
		"code_count", len(codes),
		"listing_title", order.ListingTitle)

	return Delivery{Delivered: true, DeliveredAt: &now}, nil
}
