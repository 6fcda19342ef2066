package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"giftcard-fulfillment-api/internal/models"
	"giftcard-fulfillment-api/internal/storage"
	"giftcard-fulfillment-api/internal/webhooks"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const defaultAttemptsPageSize = 50

// WebhookHandler handles webhook endpoint management and diagnostics
type WebhookHandler struct {
	store      storage.Store
	dispatcher *webhooks.Dispatcher
	attemptLog *webhooks.AttemptLog
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(store storage.Store, dispatcher *webhooks.Dispatcher, attemptLog *webhooks.AttemptLog) *WebhookHandler {
	return &WebhookHandler{
		store:      store,
		dispatcher: dispatcher,
		attemptLog: attemptLog,
	}
}

// RegisterEndpoint handles POST /v1/companies/{companyId}/webhooks
func (h *WebhookHandler) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Invalid JSON in webhook registration", "error", err, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	var details []models.ErrorDetail
	if req.URL == "" {
		details = append(details, models.ErrorDetail{Field: "url", Issue: "required"})
	}
	if req.Secret == "" {
		details = append(details, models.ErrorDetail{Field: "secret", Issue: "required"})
	}
	if len(req.Events) == 0 {
		details = append(details, models.ErrorDetail{Field: "events", Issue: "at least one event required"})
	}
	if len(details) > 0 {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid webhook registration", details)
		return
	}

	endpoint := models.WebhookEndpoint{
		ID:        "wh_" + uuid.New().String(),
		CompanyID: vars["companyId"],
		URL:       req.URL,
		Events:    req.Events,
		Secret:    req.Secret,
		Enabled:   true,
		Status:    models.EndpointStatusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.PutWebhookEndpoint(endpoint); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("Webhook endpoint registered",
		"webhook_id", endpoint.ID,
		"company_id", endpoint.CompanyID,
		"url", endpoint.URL,
		"events", endpoint.Events)

	writeJSONResponse(w, http.StatusCreated, endpoint)
}

// GetEndpoint handles GET /v1/companies/{companyId}/webhooks/{webhookId}
func (h *WebhookHandler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	endpoint, err := h.store.GetWebhookEndpoint(vars["companyId"], vars["webhookId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, endpoint)
}

// TestEndpoint handles POST /v1/companies/{companyId}/webhooks/{webhookId}/test
// Delivers a synthetic payload synchronously so the seller can verify their
// receiver and signature check.
func (h *WebhookHandler) TestEndpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	endpoint, err := h.store.GetWebhookEndpoint(vars["companyId"], vars["webhookId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	event := "webhook.test"
	data := map[string]interface{}{
		"webhookId": endpoint.ID,
		"message":   "test delivery",
	}

	slog.Info("Running webhook test delivery",
		"webhook_id", endpoint.ID,
		"url", endpoint.URL)

	delivered, err := h.dispatcher.DeliverNow(*endpoint, event, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := models.WebhookTestResponse{
		WebhookID: endpoint.ID,
		Event:     event,
	}
	if delivered {
		response.Delivered = 1
	} else {
		response.Failed = 1
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// GetAttempts handles GET /v1/companies/{companyId}/webhooks/{webhookId}/attempts
// Pages through the delivery-attempt log from an optional offset.
func (h *WebhookHandler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	// Ownership check before exposing the log
	endpoint, err := h.store.GetWebhookEndpoint(vars["companyId"], vars["webhookId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	fromOffset := int64(0)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || parsed < 0 {
			writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid offset parameter", nil)
			return
		}
		fromOffset = parsed
	}

	limit := defaultAttemptsPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 1 {
			writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid limit parameter", nil)
			return
		}
		limit = parsed
	}

	attempts, nextOffset, hasMore := h.attemptLog.GetAttempts(endpoint.ID, fromOffset, limit)

	writeJSONResponse(w, http.StatusOK, models.AttemptsResponse{
		Attempts:   attempts,
		NextOffset: nextOffset,
		HasMore:    hasMore,
		Count:      len(attempts),
	})
}
