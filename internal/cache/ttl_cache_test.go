package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTTLCache_SetGet verifies basic storage and retrieval
func TestTTLCache_SetGet(t *testing.T) {
	// Arrange
	c := NewTTLCache(time.Minute, time.Minute)
	defer c.Stop()

	// Act
	c.Set("lst_1:25", true)
	value, found := c.Get("lst_1:25")

	// Assert
	assert.True(t, found)
	assert.Equal(t, true, value)

	_, found = c.Get("lst_missing:25")
	assert.False(t, found)
}

// TestTTLCache_Expiry verifies entries disappear after their TTL
func TestTTLCache_Expiry(t *testing.T) {
	// Arrange - very short TTL
	c := NewTTLCache(20*time.Millisecond, time.Minute)
	defer c.Stop()
	c.Set("key", "value")

	// Act / Assert
	_, found := c.Get("key")
	require.True(t, found, "Entry should be visible before expiry")

	assert.Eventually(t, func() bool {
		_, found := c.Get("key")
		return !found
	}, time.Second, 5*time.Millisecond, "Entry should expire")
}

// TestTTLCache_Delete verifies explicit removal
func TestTTLCache_Delete(t *testing.T) {
	c := NewTTLCache(time.Minute, time.Minute)
	defer c.Stop()

	c.Set("key", 1)
	c.Delete("key")

	_, found := c.Get("key")
	assert.False(t, found)
}

// TestTTLCache_CleanupLoop verifies the background sweep removes expired entries
func TestTTLCache_CleanupLoop(t *testing.T) {
	// Arrange - fast cleanup interval
	c := NewTTLCache(10*time.Millisecond, 20*time.Millisecond)
	defer c.Stop()
	c.Set("a", 1)
	c.Set("b", 2)

	// Act / Assert - Size counts raw entries, so the sweep must shrink it
	assert.Eventually(t, func() bool {
		return c.Size() == 0
	}, time.Second, 10*time.Millisecond, "Cleanup loop should drop expired entries")
}
