package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"giftcard-fulfillment-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore("", false)
	require.NoError(t, err, "Store creation should succeed without persistence")
	return store
}

func seedListing(t *testing.T, store *MemoryStore, companyID, listingID string, denominations []int) {
	t.Helper()
	err := store.PutListing(models.Listing{
		ID:            listingID,
		CompanyID:     companyID,
		Title:         "Test Gift Card",
		Brand:         "TestBrand",
		Denominations: denominations,
		Status:        models.ListingStatusActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedItems(t *testing.T, store *MemoryStore, companyID, listingID string, denomination, count int) []models.InventoryItem {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	items := make([]models.InventoryItem, count)
	for i := range items {
		items[i] = models.InventoryItem{
			ID:            fmt.Sprintf("itm_%s_%d", listingID, i),
			Denomination:  denomination,
			EncryptedCode: fmt.Sprintf("enc-code-%d", i),
			Status:        models.ItemStatusAvailable,
			Source:        models.ItemSourceBulk,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
	}
	_, err := store.AddInventoryItems(companyID, listingID, items)
	require.NoError(t, err)
	return items
}

// TestMemoryStore_ClaimFIFOOrder verifies oldest items are claimed first
func TestMemoryStore_ClaimFIFOOrder(t *testing.T) {
	// Arrange - three items with distinct creation times
	store := newTestStore(t)
	seedListing(t, store, "co_1", "lst_1", []int{25})
	seedItems(t, store, "co_1", "lst_1", 25, 3)

	// Act - claim two
	claimed, listing, err := store.ClaimInventoryItems("co_1", "lst_1", 25, 2, "ord_1")

	// Assert - the two oldest items were selected, counters updated
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "itm_lst_1_0", claimed[0].ID, "Oldest item should be claimed first")
	assert.Equal(t, "itm_lst_1_1", claimed[1].ID)
	assert.Equal(t, models.ItemStatusSold, claimed[0].Status)
	assert.Equal(t, "ord_1", claimed[0].OrderID)
	assert.NotNil(t, claimed[0].SoldAt)
	assert.Equal(t, 1, listing.TotalStock)
	assert.Equal(t, 2, listing.SoldCount)
}

// TestMemoryStore_ClaimExpiryTieBreak verifies that among items created at the
// same instant, the one expiring soonest is claimed first and items without an
// expiry are claimed last
func TestMemoryStore_ClaimExpiryTieBreak(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	seedListing(t, store, "co_1", "lst_1", []int{50})

	created := time.Now().UTC().Add(-time.Hour)
	soon := created.Add(24 * time.Hour)
	later := created.Add(240 * time.Hour)
	items := []models.InventoryItem{
		{ID: "itm_no_expiry", Denomination: 50, EncryptedCode: "a", Status: models.ItemStatusAvailable, CreatedAt: created},
		{ID: "itm_later", Denomination: 50, EncryptedCode: "b", Status: models.ItemStatusAvailable, CreatedAt: created, ExpiresAt: &later},
		{ID: "itm_soon", Denomination: 50, EncryptedCode: "c", Status: models.ItemStatusAvailable, CreatedAt: created, ExpiresAt: &soon},
	}
	_, err := store.AddInventoryItems("co_1", "lst_1", items)
	require.NoError(t, err)

	// Act
	claimed, _, err := store.ClaimInventoryItems("co_1", "lst_1", 50, 2, "ord_1")

	// Assert - soonest expiry first, no-expiry item untouched
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "itm_soon", claimed[0].ID, "Item expiring soonest should be claimed first")
	assert.Equal(t, "itm_later", claimed[1].ID)

	available, err := store.CountItemsByStatus("lst_1", models.ItemStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, 1, available)
}

// TestMemoryStore_ClaimInsufficientInventory verifies full rollback on shortfall
func TestMemoryStore_ClaimInsufficientInventory(t *testing.T) {
	// Arrange - two available items
	store := newTestStore(t)
	seedListing(t, store, "co_1", "lst_1", []int{25})
	seedItems(t, store, "co_1", "lst_1", 25, 2)

	// Act - request more than available
	claimed, _, err := store.ClaimInventoryItems("co_1", "lst_1", 25, 3, "ord_1")

	// Assert - typed error with counts, nothing consumed
	require.Error(t, err)
	var insufficient *InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Requested)
	assert.Equal(t, 2, insufficient.Available)
	assert.Empty(t, claimed)

	available, countErr := store.CountItemsByStatus("lst_1", models.ItemStatusAvailable)
	require.NoError(t, countErr)
	assert.Equal(t, 2, available, "Shortfall must not consume any items")

	listing, getErr := store.GetListing("co_1", "lst_1")
	require.NoError(t, getErr)
	assert.Equal(t, 2, listing.TotalStock)
	assert.Equal(t, 0, listing.SoldCount)
}

// TestMemoryStore_ClaimWrongDenomination verifies denomination filtering
func TestMemoryStore_ClaimWrongDenomination(t *testing.T) {
	// Arrange - stock only at denomination 25
	store := newTestStore(t)
	seedListing(t, store, "co_1", "lst_1", []int{25, 50})
	seedItems(t, store, "co_1", "lst_1", 25, 5)

	// Act
	_, _, err := store.ClaimInventoryItems("co_1", "lst_1", 50, 1, "ord_1")

	// Assert
	var insufficient *InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Available, "Items of other denominations must not count")
}

// TestMemoryStore_ConcurrentClaimsNoDoubleAllocation runs many concurrent
// claims against a small pool and verifies no item is attributed to two orders
func TestMemoryStore_ConcurrentClaimsNoDoubleAllocation(t *testing.T) {
	// Arrange - 10 items, 20 competing single-item claims
	store := newTestStore(t)
	seedListing(t, store, "co_1", "lst_1", []int{25})
	seedItems(t, store, "co_1", "lst_1", 25, 10)

	const claimers = 20
	results := make(chan []models.InventoryItem, claimers)
	errs := make(chan error, claimers)

	// Act
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, _, err := store.ClaimInventoryItems("co_1", "lst_1", 25, 1, fmt.Sprintf("ord_%d", n))
			if err != nil {
				errs <- err
				return
			}
			results <- claimed
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	// Assert - exactly 10 winners, each with a unique item
	seen := make(map[string]bool)
	wins := 0
	for claimed := range results {
		wins++
		for _, item := range claimed {
			assert.False(t, seen[item.ID], "Item %s claimed twice", item.ID)
			seen[item.ID] = true
		}
	}
	assert.Equal(t, 10, wins, "Exactly one claim per item should succeed")

	failures := 0
	for err := range errs {
		var insufficient *InsufficientInventoryError
		assert.True(t, errors.As(err, &insufficient), "Losers should see insufficient inventory, got %v", err)
		failures++
	}
	assert.Equal(t, claimers-10, failures)

	listing, err := store.GetListing("co_1", "lst_1")
	require.NoError(t, err)
	assert.Equal(t, 0, listing.TotalStock)
	assert.Equal(t, 10, listing.SoldCount)
	assert.Equal(t, models.ListingStatusOutOfStock, listing.Status, "Draining the pool should flip the listing out of stock")
}

// TestMemoryStore_RecomputeListingCounters verifies drift repair
func TestMemoryStore_RecomputeListingCounters(t *testing.T) {
	// Arrange - listing with deliberately wrong cached counters
	store := newTestStore(t)
	err := store.PutListing(models.Listing{
		ID:            "lst_1",
		CompanyID:     "co_1",
		Denominations: []int{25},
		TotalStock:    99,
		SoldCount:     99,
		Status:        models.ListingStatusActive,
	})
	require.NoError(t, err)
	seedItems(t, store, "co_1", "lst_1", 25, 3)
	_, _, err = store.ClaimInventoryItems("co_1", "lst_1", 25, 1, "ord_1")
	require.NoError(t, err)

	// Act
	repaired, err := store.RecomputeListingCounters("co_1", "lst_1")

	// Assert - counters rebuilt from actual item statuses
	require.NoError(t, err)
	assert.Equal(t, 2, repaired.TotalStock)
	assert.Equal(t, 1, repaired.SoldCount)
}

// TestMemoryStore_ExpireDueItems verifies expiry sweep adjusts counters
func TestMemoryStore_ExpireDueItems(t *testing.T) {
	// Arrange - one expired, one live item
	store := newTestStore(t)
	seedListing(t, store, "co_1", "lst_1", []int{25})

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	_, err := store.AddInventoryItems("co_1", "lst_1", []models.InventoryItem{
		{ID: "itm_old", Denomination: 25, EncryptedCode: "a", Status: models.ItemStatusAvailable, CreatedAt: past, ExpiresAt: &past},
		{ID: "itm_live", Denomination: 25, EncryptedCode: "b", Status: models.ItemStatusAvailable, CreatedAt: past, ExpiresAt: &future},
	})
	require.NoError(t, err)

	// Act
	expired, err := store.ExpireDueItems(time.Now().UTC())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	listing, err := store.GetListing("co_1", "lst_1")
	require.NoError(t, err)
	assert.Equal(t, 1, listing.TotalStock)

	count, err := store.CountItemsByStatus("lst_1", models.ItemStatusExpired)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestMemoryStore_CompanyScoping verifies cross-company lookups miss
func TestMemoryStore_CompanyScoping(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	seedListing(t, store, "co_1", "lst_1", []int{25})
	require.NoError(t, store.PutOrder(models.Order{ID: "ord_1", CompanyID: "co_1"}))

	// Act / Assert - other company sees not found
	_, err := store.GetListing("co_2", "lst_1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetOrder("co_2", "ord_1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = store.ClaimInventoryItems("co_2", "lst_1", 25, 1, "ord_x")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestMemoryStore_UpdateOrderTransitionGuard verifies mutate errors abort the update
func TestMemoryStore_UpdateOrderTransitionGuard(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	require.NoError(t, store.PutOrder(models.Order{
		ID:            "ord_1",
		CompanyID:     "co_1",
		PaymentStatus: models.PaymentStatusPending,
	}))

	// Act - a guard inside mutate rejects the transition
	_, err := store.UpdateOrder("co_1", "ord_1", func(o *models.Order) error {
		if o.PaymentStatus != models.PaymentStatusCompleted {
			return fmt.Errorf("not payable")
		}
		o.PaymentStatus = models.PaymentStatusRefunded
		return nil
	})

	// Assert - error surfaced, committed state untouched
	require.Error(t, err)
	order, getErr := store.GetOrder("co_1", "ord_1")
	require.NoError(t, getErr)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
}

// TestMemoryStore_EndpointBookkeeping verifies delivery counters and status flips
func TestMemoryStore_EndpointBookkeeping(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	require.NoError(t, store.PutWebhookEndpoint(models.WebhookEndpoint{
		ID:        "wh_1",
		CompanyID: "co_1",
		URL:       "https://example.com/hook",
		Events:    []string{models.EventOrderFulfilled},
		Enabled:   true,
		Status:    models.EndpointStatusActive,
	}))

	// Act
	now := time.Now().UTC()
	require.NoError(t, store.RecordEndpointFailure("wh_1", now, "endpoint returned status 500"))
	require.NoError(t, store.RecordEndpointSuccess("wh_1", now.Add(time.Minute)))

	// Assert
	endpoint, err := store.GetWebhookEndpoint("co_1", "wh_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), endpoint.FailureCount)
	assert.Equal(t, int64(1), endpoint.SuccessCount)
	assert.Equal(t, models.EndpointStatusActive, endpoint.Status, "A success after failures should restore active status")
	assert.Equal(t, "endpoint returned status 500", endpoint.LastFailureReason)
}

// TestMemoryStore_PersistenceRoundTrip verifies state survives a close/reopen cycle
func TestMemoryStore_PersistenceRoundTrip(t *testing.T) {
	// Arrange - a persistent store with a listing, stock, an order and an endpoint
	dataPath := filepath.Join(t.TempDir(), "data.json")
	store, err := NewMemoryStore(dataPath, true)
	require.NoError(t, err)

	seedListing(t, store, "co_1", "lst_1", []int{25})
	seedItems(t, store, "co_1", "lst_1", 25, 3)
	_, _, err = store.ClaimInventoryItems("co_1", "lst_1", 25, 1, "ord_1")
	require.NoError(t, err)
	require.NoError(t, store.PutOrder(models.Order{
		ID: "ord_1", CompanyID: "co_1", ListingID: "lst_1",
		PaymentStatus:     models.PaymentStatusCompleted,
		FulfillmentStatus: models.FulfillmentStatusFulfilled,
	}))
	require.NoError(t, store.PutWebhookEndpoint(models.WebhookEndpoint{
		ID: "wh_1", CompanyID: "co_1", URL: "https://example.com/hook",
		Events: []string{models.EventOrderFulfilled}, Enabled: true,
	}))

	// Act - restart
	require.NoError(t, store.Close())
	reopened, err := NewMemoryStore(dataPath, true)
	require.NoError(t, err)

	// Assert - counters, item statuses, orders and endpoints all restored
	listing, err := reopened.GetListing("co_1", "lst_1")
	require.NoError(t, err)
	assert.Equal(t, 2, listing.TotalStock)
	assert.Equal(t, 1, listing.SoldCount)

	sold, err := reopened.CountItemsByStatus("lst_1", models.ItemStatusSold)
	require.NoError(t, err)
	assert.Equal(t, 1, sold)

	order, err := reopened.GetOrder("co_1", "ord_1")
	require.NoError(t, err)
	assert.Equal(t, models.FulfillmentStatusFulfilled, order.FulfillmentStatus)

	endpoint, err := reopened.GetWebhookEndpoint("co_1", "wh_1")
	require.NoError(t, err)
	assert.True(t, endpoint.Enabled)

	// Claims resume against the restored pool
	claimed, _, err := reopened.ClaimInventoryItems("co_1", "lst_1", 25, 2, "ord_2")
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

// TestMemoryStore_ListEndpointsForEvent verifies subscription and enabled filtering
func TestMemoryStore_ListEndpointsForEvent(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	require.NoError(t, store.PutWebhookEndpoint(models.WebhookEndpoint{
		ID: "wh_subscribed", CompanyID: "co_1", Enabled: true,
		Events: []string{models.EventOrderFulfilled, models.EventInventoryLow},
	}))
	require.NoError(t, store.PutWebhookEndpoint(models.WebhookEndpoint{
		ID: "wh_other_event", CompanyID: "co_1", Enabled: true,
		Events: []string{models.EventOrderRefunded},
	}))
	require.NoError(t, store.PutWebhookEndpoint(models.WebhookEndpoint{
		ID: "wh_disabled", CompanyID: "co_1", Enabled: false,
		Events: []string{models.EventOrderFulfilled},
	}))
	require.NoError(t, store.PutWebhookEndpoint(models.WebhookEndpoint{
		ID: "wh_other_company", CompanyID: "co_2", Enabled: true,
		Events: []string{models.EventOrderFulfilled},
	}))

	// Act
	endpoints, err := store.ListEndpointsForEvent("co_1", models.EventOrderFulfilled)

	// Assert
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "wh_subscribed", endpoints[0].ID)
}
