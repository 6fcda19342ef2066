package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"giftcard-fulfillment-api/internal/models"
	"giftcard-fulfillment-api/internal/services"
	"giftcard-fulfillment-api/internal/storage"

	"github.com/gorilla/mux"
)

// InventoryHandler handles inventory-related HTTP requests
type InventoryHandler struct {
	inventoryService *services.InventoryService
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(inventoryService *services.InventoryService) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
	}
}

// writeJSONResponse is a helper function to write JSON responses
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse is a helper function to write error responses
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details []models.ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeServiceError maps domain errors onto the HTTP error contract
func writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *storage.InsufficientInventoryError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &insufficient):
		writeErrorResponse(w, http.StatusConflict, "insufficient_inventory", err.Error(), nil)
	case errors.Is(err, services.ErrPaymentNotCompleted):
		writeErrorResponse(w, http.StatusBadRequest, "payment_not_completed", err.Error(), nil)
	case errors.Is(err, services.ErrPaymentStateConflict):
		writeErrorResponse(w, http.StatusConflict, "payment_state_conflict", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrDenominationNotOffered),
		errors.Is(err, services.ErrMissingCustomerEmail):
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		slog.Error("Unhandled service error", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}

// GetListing handles GET /v1/companies/{companyId}/listings/{listingId}
func (h *InventoryHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	listing, err := h.inventoryService.GetListing(vars["companyId"], vars["listingId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, listing)
}

// Replenish handles POST /v1/companies/{companyId}/listings/{listingId}/inventory
// Bulk-uploads codes into the listing's pool.
func (h *InventoryHandler) Replenish(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req models.ReplenishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Invalid JSON in replenish request", "error", err, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	slog.Info("Processing inventory replenishment",
		"company_id", vars["companyId"],
		"listing_id", vars["listingId"],
		"item_count", len(req.Items),
		"remote_addr", r.RemoteAddr)

	response, err := h.inventoryService.Replenish(vars["companyId"], vars["listingId"], req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, response)
}

// RepairCounters handles POST /v1/companies/{companyId}/listings/{listingId}/repair-counters
// Recomputes the listing's derived stock counters from the item pool.
func (h *InventoryHandler) RepairCounters(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	slog.Info("Repairing listing counters",
		"company_id", vars["companyId"],
		"listing_id", vars["listingId"])

	listing, err := h.inventoryService.RepairCounters(vars["companyId"], vars["listingId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, listing)
}
