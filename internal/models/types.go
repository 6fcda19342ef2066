package models

import "time"

// ListingStatus represents the lifecycle state of a listing
type ListingStatus string

const (
	ListingStatusDraft      ListingStatus = "draft"
	ListingStatusActive     ListingStatus = "active"
	ListingStatusInactive   ListingStatus = "inactive"
	ListingStatusOutOfStock ListingStatus = "out_of_stock"
)

// ItemStatus represents the lifecycle state of an inventory item
type ItemStatus string

const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusReserved  ItemStatus = "reserved"
	ItemStatusSold      ItemStatus = "sold"
	ItemStatusInvalid   ItemStatus = "invalid"
	ItemStatusExpired   ItemStatus = "expired"
)

// ItemSource indicates how an inventory item entered the pool
type ItemSource string

const (
	ItemSourceManual      ItemSource = "manual"
	ItemSourceBulk        ItemSource = "bulk"
	ItemSourceAPI         ItemSource = "api"
	ItemSourceIntegration ItemSource = "integration"
)

// PaymentStatus represents the payment state of an order
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusDisputed   PaymentStatus = "disputed"
)

// FulfillmentStatus represents the fulfillment state of an order
type FulfillmentStatus string

const (
	FulfillmentStatusPending   FulfillmentStatus = "pending"
	FulfillmentStatusFulfilled FulfillmentStatus = "fulfilled"
	FulfillmentStatusFailed    FulfillmentStatus = "failed"
)

// EndpointStatus represents the health state of a webhook endpoint
type EndpointStatus string

const (
	EndpointStatusActive   EndpointStatus = "active"
	EndpointStatusDisabled EndpointStatus = "disabled"
	EndpointStatusFailed   EndpointStatus = "failed"
)

// Webhook event catalog
const (
	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderFulfilled = "order.fulfilled"
	EventOrderFailed    = "order.failed"
	EventOrderRefunded  = "order.refunded"
	EventInventoryLow   = "inventory.low"
	EventInventoryOut   = "inventory.out"
)

// Listing is a sellable gift-card product definition
type Listing struct {
	ID            string        `json:"listingId"`
	CompanyID     string        `json:"companyId"`
	Title         string        `json:"title"`
	Brand         string        `json:"brand"`
	Denominations []int         `json:"denominations"`
	TotalStock    int           `json:"totalStock"`
	SoldCount     int           `json:"soldCount"`
	AutoFulfill   bool          `json:"autoFulfill"`
	Status        ListingStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// HasDenomination reports whether d is one of the listing's allowed face values
func (l *Listing) HasDenomination(d int) bool {
	for _, allowed := range l.Denominations {
		if allowed == d {
			return true
		}
	}
	return false
}

// InventoryItem is one discrete redeemable gift-card code.
// Code and PIN are stored encrypted and only decrypted for delivery.
type InventoryItem struct {
	ID            string     `json:"itemId"`
	CompanyID     string     `json:"companyId"`
	ListingID     string     `json:"listingId"`
	Denomination  int        `json:"denomination"`
	EncryptedCode string     `json:"encryptedCode"`
	EncryptedPIN  string     `json:"encryptedPin,omitempty"`
	SerialNumber  string     `json:"serialNumber,omitempty"`
	Status        ItemStatus `json:"status"`
	Source        ItemSource `json:"source"`
	OrderID       string     `json:"orderId,omitempty"`
	SoldAt        *time.Time `json:"soldAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// GiftCardCode is a decrypted code as recorded on a fulfilled order
type GiftCardCode struct {
	Code         string `json:"code"`
	PIN          string `json:"pin,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// Order is one purchase attempt
type Order struct {
	ID            string `json:"orderId"`
	CompanyID     string `json:"companyId"`
	ListingID     string `json:"listingId"`
	ListingTitle  string `json:"listingTitle"`
	ListingBrand  string `json:"listingBrand"`
	Denomination  int    `json:"denomination"`
	Quantity      int    `json:"quantity"`
	Subtotal      int64  `json:"subtotal"`
	Discount      int64  `json:"discount"`
	Fees          int64  `json:"fees"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName,omitempty"`

	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentMethod string        `json:"paymentMethod,omitempty"`
	ProviderRef   string        `json:"providerRef,omitempty"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`

	FulfillmentStatus FulfillmentStatus `json:"fulfillmentStatus"`
	GiftCardCodes     []GiftCardCode    `json:"giftCardCodes,omitempty"`
	FulfilledAt       *time.Time        `json:"fulfilledAt,omitempty"`
	FulfilledBy       string            `json:"fulfilledBy,omitempty"`
	FulfillmentError  string            `json:"fulfillmentError,omitempty"`

	DeliveryMethod string     `json:"deliveryMethod,omitempty"`
	DeliveryEmail  string     `json:"deliveryEmail,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WebhookEndpoint is a seller-registered delivery target
type WebhookEndpoint struct {
	ID                string         `json:"webhookId"`
	CompanyID         string         `json:"companyId"`
	URL               string         `json:"url"`
	Events            []string       `json:"events"`
	Secret            string         `json:"-"`
	Enabled           bool           `json:"enabled"`
	Status            EndpointStatus `json:"status"`
	SuccessCount      int64          `json:"successCount"`
	FailureCount      int64          `json:"failureCount"`
	LastSuccessAt     *time.Time     `json:"lastSuccessAt,omitempty"`
	LastFailureAt     *time.Time     `json:"lastFailureAt,omitempty"`
	LastFailureReason string         `json:"lastFailureReason,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// SubscribedTo reports whether the endpoint subscribes to the given event
func (e *WebhookEndpoint) SubscribedTo(event string) bool {
	for _, subscribed := range e.Events {
		if subscribed == event {
			return true
		}
	}
	return false
}

// WebhookPayload is the outbound wire format: the exact bytes of its
// canonical JSON encoding are what gets signed and POSTed
type WebhookPayload struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	CreatedAt int64       `json:"createdAt"`
	Data      interface{} `json:"data"`
}

// DeliveryAttempt records one HTTP POST attempt to a webhook endpoint.
// Append-only; never mutated after write.
type DeliveryAttempt struct {
	Offset       int64      `json:"offset"`
	EndpointID   string     `json:"endpointId"`
	CompanyID    string     `json:"companyId"`
	Event        string     `json:"event"`
	PayloadID    string     `json:"payloadId"`
	URL          string     `json:"url"`
	Attempt      int        `json:"attempt"`
	StatusCode   int        `json:"statusCode,omitempty"`
	ResponseBody string     `json:"responseBody,omitempty"`
	DurationMs   int64      `json:"durationMs"`
	Success      bool       `json:"success"`
	Error        string     `json:"error,omitempty"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
	Timestamp    string     `json:"timestamp"`
}
