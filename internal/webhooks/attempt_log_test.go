package webhooks

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"giftcard-fulfillment-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAttempts(t *testing.T, attemptLog *AttemptLog, endpointID string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		attemptLog.Append(models.DeliveryAttempt{
			EndpointID: endpointID,
			CompanyID:  "co_1",
			Event:      models.EventOrderFulfilled,
			PayloadID:  fmt.Sprintf("evt_%d", i),
			URL:        "https://example.com/hook",
			Attempt:    1,
			StatusCode: 200,
			Success:    true,
		})
	}
	require.Eventually(t, func() bool {
		return attemptLog.CountForEndpoint(endpointID) == count
	}, 2*time.Second, 10*time.Millisecond, "Appended entries should land in the log")
}

// TestAttemptLog_OffsetsAndPagination verifies monotonic offsets and paging
func TestAttemptLog_OffsetsAndPagination(t *testing.T) {
	// Arrange
	attemptLog, err := NewAttemptLog(AttemptLogConfig{
		FilePath:   filepath.Join(t.TempDir(), "attempts.json"),
		MaxEntries: 100,
		Retention:  time.Hour,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)
	defer attemptLog.Close()

	appendAttempts(t, attemptLog, "wh_1", 5)

	// Act - first page
	page, nextOffset, hasMore := attemptLog.GetAttempts("wh_1", 0, 2)

	// Assert
	require.Len(t, page, 2)
	assert.Equal(t, int64(0), page[0].Offset)
	assert.Equal(t, int64(1), page[1].Offset)
	assert.Equal(t, int64(2), nextOffset)
	assert.True(t, hasMore)
	assert.NotEmpty(t, page[0].Timestamp)

	// Act - follow the cursor to the end
	rest, _, hasMore := attemptLog.GetAttempts("wh_1", nextOffset, 10)

	// Assert
	require.Len(t, rest, 3)
	assert.False(t, hasMore)
}

// TestAttemptLog_FiltersByEndpoint verifies per-endpoint isolation
func TestAttemptLog_FiltersByEndpoint(t *testing.T) {
	// Arrange
	attemptLog, err := NewAttemptLog(AttemptLogConfig{
		FilePath:   filepath.Join(t.TempDir(), "attempts.json"),
		MaxEntries: 100,
		Retention:  time.Hour,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)
	defer attemptLog.Close()

	appendAttempts(t, attemptLog, "wh_1", 3)
	appendAttempts(t, attemptLog, "wh_2", 2)

	// Act
	forFirst, _, _ := attemptLog.GetAttempts("wh_1", 0, 10)
	forSecond, _, _ := attemptLog.GetAttempts("wh_2", 0, 10)

	// Assert
	assert.Len(t, forFirst, 3)
	assert.Len(t, forSecond, 2)
	for _, attempt := range forFirst {
		assert.Equal(t, "wh_1", attempt.EndpointID)
	}
}

// TestAttemptLog_PersistsAcrossRestart verifies the log and its offset counter
// survive a close/reopen cycle
func TestAttemptLog_PersistsAcrossRestart(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "attempts.json")
	attemptLog, err := NewAttemptLog(AttemptLogConfig{
		FilePath:   path,
		MaxEntries: 100,
		Retention:  time.Hour,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)
	appendAttempts(t, attemptLog, "wh_1", 3)

	// Act - restart
	require.NoError(t, attemptLog.Close())
	reopened, err := NewAttemptLog(AttemptLogConfig{
		FilePath:   path,
		MaxEntries: 100,
		Retention:  time.Hour,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)
	defer reopened.Close()

	// Assert - entries restored, new offsets continue after the old ones
	assert.Equal(t, 3, reopened.CountForEndpoint("wh_1"))

	appendAttempts(t, reopened, "wh_2", 1)
	entries, _, _ := reopened.GetAttempts("wh_2", 0, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].Offset, "Offsets must not restart from zero")
}

// TestAttemptLog_CountRotation verifies the oldest entries are dropped when
// the cap is exceeded
func TestAttemptLog_CountRotation(t *testing.T) {
	// Arrange - cap of 8 keeps 6 (75%) after rotation
	attemptLog, err := NewAttemptLog(AttemptLogConfig{
		FilePath:   filepath.Join(t.TempDir(), "attempts.json"),
		MaxEntries: 8,
		Retention:  time.Hour,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)
	defer attemptLog.Close()

	// Act
	appendAttempts(t, attemptLog, "wh_1", 8)
	attemptLog.Append(models.DeliveryAttempt{EndpointID: "wh_1", Event: models.EventOrderPaid})

	// Assert
	require.Eventually(t, func() bool {
		return attemptLog.CountForEndpoint("wh_1") == 6
	}, 2*time.Second, 10*time.Millisecond, "Rotation should keep 75% of the cap")

	entries, _, _ := attemptLog.GetAttempts("wh_1", 0, 100)
	require.NotEmpty(t, entries)
	assert.Equal(t, int64(3), entries[0].Offset, "The oldest entries should be the ones dropped")
	assert.Equal(t, int64(8), entries[len(entries)-1].Offset)
}
