package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"giftcard-fulfillment-api/internal/models"
)

// listingPool holds the inventory items of one listing in creation order.
// Pool contents and the listing's derived counters are guarded by the
// listing's lock, never mutated without it.
type listingPool struct {
	items []*models.InventoryItem
}

// MemoryStore is an in-memory Store with optional atomic JSON-file
// persistence. The per-listing lock is the serialization point for the
// read-check-mark claim sequence; claims against different listings do not
// contend.
type MemoryStore struct {
	mu           sync.RWMutex // guards map membership, orders, endpoints
	listingLocks *LockManager

	listings  map[string]*models.Listing
	pools     map[string]*listingPool
	orders    map[string]*models.Order
	endpoints map[string]*models.WebhookEndpoint

	dataFilePath   string
	persistEnabled bool
}

// snapshot is the on-disk representation of the store
type snapshot struct {
	Listings  []models.Listing                  `json:"listings"`
	Items     map[string][]models.InventoryItem `json:"items"`
	Orders    []models.Order                    `json:"orders"`
	Endpoints []models.WebhookEndpoint          `json:"endpoints"`
}

// NewMemoryStore creates a memory store, loading state from the data file
// when one exists
func NewMemoryStore(dataFilePath string, enablePersistence bool) (*MemoryStore, error) {
	s := &MemoryStore{
		listingLocks:   NewLockManager(),
		listings:       make(map[string]*models.Listing),
		pools:          make(map[string]*listingPool),
		orders:         make(map[string]*models.Order),
		endpoints:      make(map[string]*models.WebhookEndpoint),
		dataFilePath:   dataFilePath,
		persistEnabled: enablePersistence,
	}

	if err := s.loadFromFile(); err != nil {
		return nil, fmt.Errorf("error loading store data: %w", err)
	}

	slog.Info("Memory store initialized",
		"data_path", dataFilePath,
		"persistence", enablePersistence,
		"listings", len(s.listings),
		"orders", len(s.orders),
		"endpoints", len(s.endpoints))

	return s, nil
}

// Close persists the final state when persistence is enabled
func (s *MemoryStore) Close() error {
	return s.saveToFile()
}

// PutListing stores or replaces a listing
func (s *MemoryStore) PutListing(listing models.Listing) error {
	s.mu.Lock()
	l := listing
	s.listings[listing.ID] = &l
	if _, exists := s.pools[listing.ID]; !exists {
		s.pools[listing.ID] = &listingPool{}
	}
	s.mu.Unlock()

	s.persist()
	return nil
}

// GetListing returns a copy of the listing, scoped to the owning company
func (s *MemoryStore) GetListing(companyID, listingID string) (*models.Listing, error) {
	var result *models.Listing
	var err error

	s.listingLocks.WithLock(listingID, func() {
		l := s.lookupListing(listingID)
		if l == nil || l.CompanyID != companyID {
			err = ErrNotFound
			return
		}
		copied := *l
		result = &copied
	})

	return result, err
}

// RecomputeListingCounters resynchronizes totalStock/soldCount from the
// actual inventory item statuses. The counters are a read-model cache; this
// is the repair path for any drift.
func (s *MemoryStore) RecomputeListingCounters(companyID, listingID string) (*models.Listing, error) {
	var result *models.Listing
	var err error

	s.listingLocks.WithLock(listingID, func() {
		l := s.lookupListing(listingID)
		if l == nil || l.CompanyID != companyID {
			err = ErrNotFound
			return
		}

		pool := s.lookupPool(listingID)
		available, sold := 0, 0
		for _, item := range pool.items {
			switch item.Status {
			case models.ItemStatusAvailable:
				available++
			case models.ItemStatusSold:
				sold++
			}
		}

		if l.TotalStock != available || l.SoldCount != sold {
			slog.Warn("Listing counters out of sync, repairing",
				"listing_id", listingID,
				"cached_total_stock", l.TotalStock,
				"actual_available", available,
				"cached_sold_count", l.SoldCount,
				"actual_sold", sold)
		}

		l.TotalStock = available
		l.SoldCount = sold
		l.UpdatedAt = time.Now().UTC()
		syncListingStatus(l)

		copied := *l
		result = &copied
	})

	if err == nil {
		s.persist()
	}
	return result, err
}

// AddInventoryItems appends items to the listing's pool and bumps totalStock
func (s *MemoryStore) AddInventoryItems(companyID, listingID string, items []models.InventoryItem) (*models.Listing, error) {
	var result *models.Listing
	var err error

	s.listingLocks.WithLock(listingID, func() {
		l := s.lookupListing(listingID)
		if l == nil || l.CompanyID != companyID {
			err = ErrNotFound
			return
		}

		pool := s.lookupPool(listingID)
		added := 0
		for i := range items {
			item := items[i]
			item.ListingID = listingID
			item.CompanyID = companyID
			if item.Status == "" {
				item.Status = models.ItemStatusAvailable
			}
			pool.items = append(pool.items, &item)
			if item.Status == models.ItemStatusAvailable {
				added++
			}
		}

		l.TotalStock += added
		l.UpdatedAt = time.Now().UTC()
		syncListingStatus(l)

		copied := *l
		result = &copied
	})

	if err == nil {
		s.persist()
	}
	return result, err
}

// ClaimInventoryItems atomically selects and marks quantity available items
// as sold for orderID. Selection is FIFO by createdAt, tie-broken by the
// soonest expiry (items without expiry sort last among equals). If fewer than
// quantity items can be marked the claim is rolled back in full and an
// InsufficientInventoryError is returned.
func (s *MemoryStore) ClaimInventoryItems(companyID, listingID string, denomination, quantity int, orderID string) ([]models.InventoryItem, *models.Listing, error) {
	var claimed []models.InventoryItem
	var updatedListing *models.Listing
	var err error

	s.listingLocks.WithLock(listingID, func() {
		l := s.lookupListing(listingID)
		if l == nil || l.CompanyID != companyID {
			err = ErrNotFound
			return
		}

		pool := s.lookupPool(listingID)

		candidates := make([]*models.InventoryItem, 0, quantity)
		for _, item := range pool.items {
			if item.Status == models.ItemStatusAvailable && item.Denomination == denomination {
				candidates = append(candidates, item)
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
				return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
			}
			return expiresBefore(candidates[i].ExpiresAt, candidates[j].ExpiresAt)
		})

		if len(candidates) < quantity {
			err = &InsufficientInventoryError{Requested: quantity, Available: len(candidates)}
			return
		}

		now := time.Now().UTC()
		marked := make([]*models.InventoryItem, 0, quantity)
		for _, item := range candidates[:quantity] {
			// Verify at mark time; unwind everything on any miss so a claim
			// is all-or-nothing
			if item.Status != models.ItemStatusAvailable {
				for _, m := range marked {
					m.Status = models.ItemStatusAvailable
					m.OrderID = ""
					m.SoldAt = nil
				}
				err = &InsufficientInventoryError{Requested: quantity, Available: len(marked)}
				return
			}
			item.Status = models.ItemStatusSold
			item.OrderID = orderID
			soldAt := now
			item.SoldAt = &soldAt
			marked = append(marked, item)
		}

		l.TotalStock -= quantity
		l.SoldCount += quantity
		l.UpdatedAt = now
		syncListingStatus(l)

		claimed = make([]models.InventoryItem, len(marked))
		for i, item := range marked {
			claimed[i] = *item
		}
		copied := *l
		updatedListing = &copied
	})

	if err == nil {
		s.persist()
	}
	return claimed, updatedListing, err
}

// CountItemsByStatus counts the listing's items in the given status
func (s *MemoryStore) CountItemsByStatus(listingID string, status models.ItemStatus) (int, error) {
	count := 0
	var err error

	s.listingLocks.WithLock(listingID, func() {
		if s.lookupListing(listingID) == nil {
			err = ErrNotFound
			return
		}
		for _, item := range s.lookupPool(listingID).items {
			if item.Status == status {
				count++
			}
		}
	})

	return count, err
}

// ExpireDueItems transitions available items past their expiry to expired
// and adjusts the affected listings' counters. Returns the number expired.
func (s *MemoryStore) ExpireDueItems(now time.Time) (int, error) {
	s.mu.RLock()
	listingIDs := make([]string, 0, len(s.listings))
	for id := range s.listings {
		listingIDs = append(listingIDs, id)
	}
	s.mu.RUnlock()

	total := 0
	for _, listingID := range listingIDs {
		s.listingLocks.WithLock(listingID, func() {
			l := s.lookupListing(listingID)
			if l == nil {
				return
			}
			expired := 0
			for _, item := range s.lookupPool(listingID).items {
				if item.Status == models.ItemStatusAvailable && item.ExpiresAt != nil && item.ExpiresAt.Before(now) {
					item.Status = models.ItemStatusExpired
					expired++
				}
			}
			if expired > 0 {
				l.TotalStock -= expired
				l.UpdatedAt = now
				syncListingStatus(l)
				total += expired
			}
		})
	}

	if total > 0 {
		slog.Info("Expired due inventory items", "count", total)
		s.persist()
	}
	return total, nil
}

// PutOrder stores or replaces an order
func (s *MemoryStore) PutOrder(order models.Order) error {
	s.mu.Lock()
	o := order
	s.orders[order.ID] = &o
	s.mu.Unlock()

	s.persist()
	return nil
}

// GetOrder returns a copy of the order, scoped to the owning company
func (s *MemoryStore) GetOrder(companyID, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.orders[orderID]
	if !exists || o.CompanyID != companyID {
		return nil, ErrNotFound
	}
	copied := *o
	return &copied, nil
}

// UpdateOrder applies mutate to the order under the store lock and persists
// the result. The mutation sees committed state, so status-transition guards
// inside mutate are race-free.
func (s *MemoryStore) UpdateOrder(companyID, orderID string, mutate func(*models.Order) error) (*models.Order, error) {
	s.mu.Lock()
	o, exists := s.orders[orderID]
	if !exists || o.CompanyID != companyID {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	updated := *o
	if err := mutate(&updated); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = &updated
	copied := updated
	s.mu.Unlock()

	s.persist()
	return &copied, nil
}

// PutWebhookEndpoint stores or replaces a webhook endpoint
func (s *MemoryStore) PutWebhookEndpoint(endpoint models.WebhookEndpoint) error {
	s.mu.Lock()
	e := endpoint
	s.endpoints[endpoint.ID] = &e
	s.mu.Unlock()

	s.persist()
	return nil
}

// GetWebhookEndpoint returns a copy of the endpoint, scoped to the owning company
func (s *MemoryStore) GetWebhookEndpoint(companyID, webhookID string) (*models.WebhookEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.endpoints[webhookID]
	if !exists || e.CompanyID != companyID {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

// ListEndpointsForEvent returns enabled endpoints of the company subscribed
// to the event
func (s *MemoryStore) ListEndpointsForEvent(companyID, event string) ([]models.WebhookEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.WebhookEndpoint
	for _, e := range s.endpoints {
		if e.CompanyID == companyID && e.Enabled && e.SubscribedTo(event) {
			result = append(result, *e)
		}
	}
	return result, nil
}

// RecordEndpointSuccess bumps the endpoint's success bookkeeping after a
// delivered webhook
func (s *MemoryStore) RecordEndpointSuccess(endpointID string, at time.Time) error {
	s.mu.Lock()
	e, exists := s.endpoints[endpointID]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	e.SuccessCount++
	successAt := at
	e.LastSuccessAt = &successAt
	e.Status = models.EndpointStatusActive
	s.mu.Unlock()

	s.persist()
	return nil
}

// RecordEndpointFailure bumps the endpoint's failure bookkeeping after all
// delivery attempts were exhausted
func (s *MemoryStore) RecordEndpointFailure(endpointID string, at time.Time, reason string) error {
	s.mu.Lock()
	e, exists := s.endpoints[endpointID]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	e.FailureCount++
	failureAt := at
	e.LastFailureAt = &failureAt
	e.LastFailureReason = reason
	e.Status = models.EndpointStatusFailed
	s.mu.Unlock()

	s.persist()
	return nil
}

// lookupListing fetches the listing pointer; caller must hold the listing lock
// for any mutation
func (s *MemoryStore) lookupListing(listingID string) *models.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listings[listingID]
}

// lookupPool fetches the pool pointer, creating it if needed
func (s *MemoryStore) lookupPool(listingID string) *listingPool {
	s.mu.RLock()
	if pool, exists := s.pools[listingID]; exists {
		s.mu.RUnlock()
		return pool
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if pool, exists := s.pools[listingID]; exists {
		return pool
	}
	pool := &listingPool{}
	s.pools[listingID] = pool
	return pool
}

// syncListingStatus keeps the stock-derived status in line with totalStock
func syncListingStatus(l *models.Listing) {
	switch {
	case l.TotalStock <= 0 && l.Status == models.ListingStatusActive:
		l.Status = models.ListingStatusOutOfStock
	case l.TotalStock > 0 && l.Status == models.ListingStatusOutOfStock:
		l.Status = models.ListingStatusActive
	}
}

// expiresBefore orders expiry timestamps ascending with nils last
func expiresBefore(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}

// persist saves the current state when persistence is enabled. A failed save
// is logged, not surfaced: the in-memory state stays consistent.
func (s *MemoryStore) persist() {
	if !s.persistEnabled {
		return
	}
	if err := s.saveToFile(); err != nil {
		slog.Error("Failed to persist store data", "error", err, "path", s.dataFilePath)
	}
}

// saveToFile writes the store snapshot atomically via temp file + rename
func (s *MemoryStore) saveToFile() error {
	if !s.persistEnabled {
		return nil
	}

	s.mu.RLock()
	snap := snapshot{
		Items: make(map[string][]models.InventoryItem, len(s.pools)),
	}
	for _, l := range s.listings {
		snap.Listings = append(snap.Listings, *l)
	}
	for listingID, pool := range s.pools {
		items := make([]models.InventoryItem, len(pool.items))
		for i, item := range pool.items {
			items[i] = *item
		}
		snap.Items[listingID] = items
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	for _, e := range s.endpoints {
		snap.Endpoints = append(snap.Endpoints, *e)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling store data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.dataFilePath), 0755); err != nil {
		return fmt.Errorf("error creating data directory: %w", err)
	}

	tempFilePath := s.dataFilePath + ".tmp"
	if err := os.WriteFile(tempFilePath, data, 0644); err != nil {
		return fmt.Errorf("error writing temp file: %w", err)
	}

	if err := os.Rename(tempFilePath, s.dataFilePath); err != nil {
		os.Remove(tempFilePath)
		return fmt.Errorf("error replacing data file: %w", err)
	}

	return nil
}

// loadFromFile restores state from the data file when it exists
func (s *MemoryStore) loadFromFile() error {
	if !s.persistEnabled {
		return nil
	}

	data, err := os.ReadFile(s.dataFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading data file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("error parsing data file: %w", err)
	}

	for i := range snap.Listings {
		l := snap.Listings[i]
		s.listings[l.ID] = &l
		s.pools[l.ID] = &listingPool{}
	}
	for listingID, items := range snap.Items {
		pool, exists := s.pools[listingID]
		if !exists {
			pool = &listingPool{}
			s.pools[listingID] = pool
		}
		for i := range items {
			item := items[i]
			pool.items = append(pool.items, &item)
		}
	}
	for i := range snap.Orders {
		o := snap.Orders[i]
		s.orders[o.ID] = &o
	}
	for i := range snap.Endpoints {
		e := snap.Endpoints[i]
		s.endpoints[e.ID] = &e
	}

	return nil
}
