package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"giftcard-fulfillment-api/internal/models"
	"giftcard-fulfillment-api/internal/services"

	"github.com/gorilla/mux"
)

// OrderHandler handles order lifecycle HTTP requests
type OrderHandler struct {
	fulfillmentService *services.FulfillmentService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(fulfillmentService *services.FulfillmentService) *OrderHandler {
	return &OrderHandler{
		fulfillmentService: fulfillmentService,
	}
}

// CreateOrder handles POST /v1/companies/{companyId}/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Invalid JSON in create order request", "error", err, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	order, err := h.fulfillmentService.CreateOrder(r.Context(), vars["companyId"], req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, order)
}

// GetOrder handles GET /v1/companies/{companyId}/orders/{orderId}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	order, err := h.fulfillmentService.GetOrder(vars["companyId"], vars["orderId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, order)
}

// FulfillOrder handles POST /v1/companies/{companyId}/orders/{orderId}/fulfill
// Manual fulfillment trigger; idempotent against already-fulfilled orders.
// The response carries the fulfillment outcome only; codes travel over email
// delivery and the order resource, never this endpoint.
func (h *OrderHandler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	slog.Info("Processing manual fulfillment",
		"company_id", vars["companyId"],
		"order_id", vars["orderId"],
		"remote_addr", r.RemoteAddr)

	result, err := h.fulfillmentService.FulfillOrder(r.Context(), vars["companyId"], vars["orderId"], "manual")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := models.FulfillResponse{
		OrderID:   result.Order.ID,
		Status:    result.Order.FulfillmentStatus,
		Fulfilled: result.Order.FulfillmentStatus == models.FulfillmentStatusFulfilled,
	}
	if result.DeliveryWarning != "" {
		slog.Warn("Fulfillment completed with delivery warning",
			"order_id", vars["orderId"],
			"warning", result.DeliveryWarning)
		response.FulfillmentError = result.DeliveryWarning
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// PaymentCompleted handles POST /v1/companies/{companyId}/orders/{orderId}/payment-completed
// Called by the payment-verification collaborator after provider capture.
func (h *OrderHandler) PaymentCompleted(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req models.PaymentCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Invalid JSON in payment-completed request", "error", err, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	slog.Info("Processing payment completion",
		"company_id", vars["companyId"],
		"order_id", vars["orderId"],
		"provider_ref", req.ProviderRef)

	response, err := h.fulfillmentService.HandlePaymentCompleted(r.Context(), vars["companyId"], vars["orderId"], req.ProviderRef, req.PaidAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// Refund handles POST /v1/companies/{companyId}/orders/{orderId}/refund
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	slog.Info("Processing refund",
		"company_id", vars["companyId"],
		"order_id", vars["orderId"])

	order, err := h.fulfillmentService.MarkRefunded(r.Context(), vars["companyId"], vars["orderId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, order)
}
