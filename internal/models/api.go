package models

import "time"

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// CreateOrderRequest initiates a checkout for a listing
type CreateOrderRequest struct {
	ListingID     string `json:"listingId"`
	Denomination  int    `json:"denomination"`
	Quantity      int    `json:"quantity"`
	Currency      string `json:"currency,omitempty"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// PaymentCompletedRequest is delivered by the payment-verification collaborator
// once a provider confirms capture
type PaymentCompletedRequest struct {
	ProviderRef string     `json:"providerRef"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

// FulfillResponse is returned by the fulfill endpoint
type FulfillResponse struct {
	OrderID              string            `json:"orderId"`
	Status               FulfillmentStatus `json:"status"`
	Fulfilled            bool              `json:"fulfilled"`
	AutoFulfillAttempted bool              `json:"autoFulfillAttempted"`
	FulfillmentError     string            `json:"fulfillmentError,omitempty"`
}

// ReplenishItem is one code in a bulk inventory upload
type ReplenishItem struct {
	Denomination int        `json:"denomination"`
	Code         string     `json:"code"`
	PIN          string     `json:"pin,omitempty"`
	SerialNumber string     `json:"serialNumber,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// ReplenishRequest uploads a batch of codes into a listing's pool
type ReplenishRequest struct {
	Source ItemSource      `json:"source,omitempty"`
	Items  []ReplenishItem `json:"items"`
}

// ReplenishResponse reports the result of a bulk upload
type ReplenishResponse struct {
	ListingID  string `json:"listingId"`
	Added      int    `json:"added"`
	TotalStock int    `json:"totalStock"`
}

// WebhookTestResponse reports the result of a synthetic delivery
type WebhookTestResponse struct {
	WebhookID string `json:"webhookId"`
	Event     string `json:"event"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// AttemptsResponse is a page of delivery-attempt log entries
type AttemptsResponse struct {
	Attempts   []DeliveryAttempt `json:"attempts"`
	NextOffset int64             `json:"nextOffset"`
	HasMore    bool              `json:"hasMore"`
	Count      int               `json:"count"`
}
