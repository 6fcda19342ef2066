package services

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"giftcard-fulfillment-api/internal/cache"
	"giftcard-fulfillment-api/internal/config"
	"giftcard-fulfillment-api/internal/models"
	"giftcard-fulfillment-api/internal/secrets"
	"giftcard-fulfillment-api/internal/storage"

	"github.com/google/uuid"
)

// WebhookTrigger is the slice of the webhook dispatcher the services need
type WebhookTrigger interface {
	Trigger(companyID, event string, data interface{})
}

// ClaimMetrics records inventory claim volumes
type ClaimMetrics interface {
	RecordItemsClaimed(count int)
}

// ClaimResult carries the items claimed for an order along with their
// decrypted codes, in claim order
type ClaimResult struct {
	Items   []models.InventoryItem
	Codes   []models.GiftCardCode
	Listing *models.Listing
}

// InventoryService owns the inventory pool: bulk uploads, the atomic claim,
// counter repair, and the stock-level webhook triggers
type InventoryService struct {
	store             storage.Store
	codec             *secrets.Codec
	webhooks          WebhookTrigger
	alertCache        *cache.TTLCache
	metrics           ClaimMetrics
	lowStockThreshold int

	sweepTicker *time.Ticker
	sweepStop   chan struct{}
}

// NewInventoryService creates an inventory service. webhooks and metrics may
// be nil (tests exercise the claim path without them).
func NewInventoryService(cfg *config.Config, store storage.Store, codec *secrets.Codec, webhooks WebhookTrigger, metrics ClaimMetrics) *InventoryService {
	threshold, err := strconv.Atoi(cfg.LowStockThreshold)
	if err != nil || threshold < 0 {
		slog.Warn("Invalid low-stock threshold, using default", "provided", cfg.LowStockThreshold, "error", err)
		threshold = 10
	}

	alertTTL, err := time.ParseDuration(cfg.LowStockAlertTTL)
	if err != nil {
		slog.Warn("Invalid low-stock alert TTL, using default", "provided", cfg.LowStockAlertTTL, "error", err)
		alertTTL = 15 * time.Minute
	}

	cleanupInterval, err := time.ParseDuration(cfg.AlertCacheCleanup)
	if err != nil {
		slog.Warn("Invalid alert cache cleanup interval, using default", "provided", cfg.AlertCacheCleanup, "error", err)
		cleanupInterval = time.Minute
	}

	sweepInterval, err := time.ParseDuration(cfg.ExpirySweepInterval)
	if err != nil || sweepInterval <= 0 {
		slog.Warn("Invalid expiry sweep interval, using default", "provided", cfg.ExpirySweepInterval, "error", err)
		sweepInterval = time.Hour
	}

	service := &InventoryService{
		store:             store,
		codec:             codec,
		webhooks:          webhooks,
		alertCache:        cache.NewTTLCache(alertTTL, cleanupInterval),
		metrics:           metrics,
		lowStockThreshold: threshold,
		sweepTicker:       time.NewTicker(sweepInterval),
		sweepStop:         make(chan struct{}),
	}
	go service.expirySweepLoop()

	slog.Info("Inventory service initialized",
		"low_stock_threshold", threshold,
		"alert_ttl", alertTTL.String(),
		"expiry_sweep_interval", sweepInterval.String())
	return service
}

// expirySweepLoop periodically transitions items past their expiry out of the
// claimable pool
func (s *InventoryService) expirySweepLoop() {
	for {
		select {
		case <-s.sweepTicker.C:
			expired, err := s.store.ExpireDueItems(time.Now().UTC())
			if err != nil {
				slog.Error("Expiry sweep failed", "error", err)
			} else if expired > 0 {
				slog.Info("Expiry sweep completed", "expired_items", expired)
			}
		case <-s.sweepStop:
			return
		}
	}
}

// Claim atomically selects and marks quantity available items of the given
// denomination as sold for orderID, returning them with decrypted codes for
// immediate delivery. Stock-level webhook triggers fire as a side effect;
// they are advisory, never claim failures.
func (s *InventoryService) Claim(companyID, listingID string, denomination, quantity int, orderID string) (*ClaimResult, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	listing, err := s.store.GetListing(companyID, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.HasDenomination(denomination) {
		return nil, fmt.Errorf("%w: %d", ErrDenominationNotOffered, denomination)
	}

	items, updated, err := s.store.ClaimInventoryItems(companyID, listingID, denomination, quantity, orderID)
	if err != nil {
		return nil, err
	}

	codes := make([]models.GiftCardCode, len(items))
	for i, item := range items {
		code, decErr := s.codec.Open(item.EncryptedCode)
		if decErr != nil {
			return nil, fmt.Errorf("failed to decrypt code for item %s: %w", item.ID, decErr)
		}
		pin := ""
		if item.EncryptedPIN != "" {
			if pin, decErr = s.codec.Open(item.EncryptedPIN); decErr != nil {
				return nil, fmt.Errorf("failed to decrypt pin for item %s: %w", item.ID, decErr)
			}
		}
		codes[i] = models.GiftCardCode{
			Code:         code,
			PIN:          pin,
			SerialNumber: item.SerialNumber,
		}
	}

	if s.metrics != nil {
		s.metrics.RecordItemsClaimed(quantity)
	}

	slog.Info("Inventory claimed",
		"listing_id", listingID,
		"denomination", denomination,
		"quantity", quantity,
		"order_id", orderID,
		"remaining_stock", updated.TotalStock)

	s.emitStockAlerts(companyID, updated, denomination)

	return &ClaimResult{Items: items, Codes: codes, Listing: updated}, nil
}

// Replenish encrypts and appends a batch of uploaded codes to the listing's
// pool
func (s *InventoryService) Replenish(companyID, listingID string, req models.ReplenishRequest) (*models.ReplenishResponse, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("no items to replenish")
	}

	listing, err := s.store.GetListing(companyID, listingID)
	if err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = models.ItemSourceBulk
	}

	now := time.Now().UTC()
	items := make([]models.InventoryItem, 0, len(req.Items))
	for i, upload := range req.Items {
		if upload.Code == "" {
			return nil, fmt.Errorf("item %d: code is required", i)
		}
		if !listing.HasDenomination(upload.Denomination) {
			return nil, fmt.Errorf("item %d: %w: %d", i, ErrDenominationNotOffered, upload.Denomination)
		}

		encryptedCode, encErr := s.codec.Seal(upload.Code)
		if encErr != nil {
			return nil, fmt.Errorf("item %d: failed to encrypt code: %w", i, encErr)
		}
		encryptedPIN := ""
		if upload.PIN != "" {
			if encryptedPIN, encErr = s.codec.Seal(upload.PIN); encErr != nil {
				return nil, fmt.Errorf("item %d: failed to encrypt pin: %w", i, encErr)
			}
		}

		items = append(items, models.InventoryItem{
			ID:            "itm_" + uuid.New().String(),
			Denomination:  upload.Denomination,
			EncryptedCode: encryptedCode,
			EncryptedPIN:  encryptedPIN,
			SerialNumber:  upload.SerialNumber,
			Status:        models.ItemStatusAvailable,
			Source:        source,
			ExpiresAt:     upload.ExpiresAt,
			CreatedAt:     now,
		})
	}

	updated, err := s.store.AddInventoryItems(companyID, listingID, items)
	if err != nil {
		return nil, err
	}

	// Fresh stock re-arms the low-stock alert for this listing
	for _, upload := range req.Items {
		s.alertCache.Delete(alertKey(listingID, upload.Denomination))
	}

	slog.Info("Inventory replenished",
		"listing_id", listingID,
		"added", len(items),
		"total_stock", updated.TotalStock,
		"source", source)

	return &models.ReplenishResponse{
		ListingID:  listingID,
		Added:      len(items),
		TotalStock: updated.TotalStock,
	}, nil
}

// RepairCounters recomputes the listing's derived counters from the actual
// inventory item set
func (s *InventoryService) RepairCounters(companyID, listingID string) (*models.Listing, error) {
	return s.store.RecomputeListingCounters(companyID, listingID)
}

// GetListing returns the listing with its cached counters
func (s *InventoryService) GetListing(companyID, listingID string) (*models.Listing, error) {
	return s.store.GetListing(companyID, listingID)
}

// emitStockAlerts fires inventory.out / inventory.low webhooks after a claim
func (s *InventoryService) emitStockAlerts(companyID string, listing *models.Listing, denomination int) {
	if s.webhooks == nil {
		return
	}

	data := map[string]interface{}{
		"listingId":    listing.ID,
		"denomination": denomination,
		"totalStock":   listing.TotalStock,
	}

	if listing.TotalStock == 0 {
		s.webhooks.Trigger(companyID, models.EventInventoryOut, data)
		return
	}

	if listing.TotalStock < s.lowStockThreshold {
		key := alertKey(listing.ID, denomination)
		if _, alreadyAlerted := s.alertCache.Get(key); alreadyAlerted {
			return
		}
		s.alertCache.Set(key, true)
		s.webhooks.Trigger(companyID, models.EventInventoryLow, data)
	}
}

// Stop halts the expiry sweeper and releases service resources
func (s *InventoryService) Stop() {
	s.sweepTicker.Stop()
	close(s.sweepStop)
	s.alertCache.Stop()
}

func alertKey(listingID string, denomination int) string {
	return listingID + ":" + strconv.Itoa(denomination)
}
