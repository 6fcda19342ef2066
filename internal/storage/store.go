package storage

import (
	"errors"
	"fmt"
	"time"

	"giftcard-fulfillment-api/internal/models"
)

// ErrNotFound is returned when an entity does not exist or belongs to another company
var ErrNotFound = errors.New("storage: not found")

// InsufficientInventoryError is returned when a claim cannot be satisfied in full
type InsufficientInventoryError struct {
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("storage: insufficient inventory: requested %d, available %d", e.Requested, e.Available)
}

// Store defines the persistence operations required by the fulfillment core.
// Implementations must make ClaimInventoryItems atomic with respect to other
// concurrent claims for the same listing: no inventory item may ever be
// attributed to two orders.
type Store interface {
	Close() error

	// Listings
	PutListing(listing models.Listing) error
	GetListing(companyID, listingID string) (*models.Listing, error)
	RecomputeListingCounters(companyID, listingID string) (*models.Listing, error)

	// Inventory pool
	AddInventoryItems(companyID, listingID string, items []models.InventoryItem) (*models.Listing, error)
	ClaimInventoryItems(companyID, listingID string, denomination, quantity int, orderID string) ([]models.InventoryItem, *models.Listing, error)
	CountItemsByStatus(listingID string, status models.ItemStatus) (int, error)
	ExpireDueItems(now time.Time) (int, error)

	// Orders
	PutOrder(order models.Order) error
	GetOrder(companyID, orderID string) (*models.Order, error)
	UpdateOrder(companyID, orderID string, mutate func(*models.Order) error) (*models.Order, error)

	// Webhook endpoints
	PutWebhookEndpoint(endpoint models.WebhookEndpoint) error
	GetWebhookEndpoint(companyID, webhookID string) (*models.WebhookEndpoint, error)
	ListEndpointsForEvent(companyID, event string) ([]models.WebhookEndpoint, error)
	RecordEndpointSuccess(endpointID string, at time.Time) error
	RecordEndpointFailure(endpointID string, at time.Time, reason string) error
}
