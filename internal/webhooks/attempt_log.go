package webhooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"giftcard-fulfillment-api/internal/models"
)

// AttemptLog is the append-only log of webhook delivery attempts with file
// persistence. Entries are offset-stamped and never mutated after write;
// old entries are dropped by count rotation and time-based retention.
type AttemptLog struct {
	mu         sync.RWMutex
	attempts   []models.DeliveryAttempt
	nextOffset int64
	filePath   string
	maxEntries int
	retention  time.Duration
	logger     *slog.Logger
	writeChan  chan models.DeliveryAttempt
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// AttemptLogConfig holds configuration for the attempt log
type AttemptLogConfig struct {
	FilePath   string
	MaxEntries int
	Retention  time.Duration
	Logger     *slog.Logger
}

// NewAttemptLog creates an attempt log, restoring persisted entries when the
// file exists
func NewAttemptLog(config AttemptLogConfig) (*AttemptLog, error) {
	al := &AttemptLog{
		attempts:   make([]models.DeliveryAttempt, 0),
		filePath:   config.FilePath,
		maxEntries: config.MaxEntries,
		retention:  config.Retention,
		logger:     config.Logger,
		writeChan:  make(chan models.DeliveryAttempt, 1000),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create attempts directory: %w", err)
	}

	if err := al.loadFromFile(); err != nil {
		al.logger.Warn("Failed to load delivery attempts from file, starting fresh", "error", err)
		al.nextOffset = 0
	}

	go al.asyncWriter()

	al.logger.Info("Delivery attempt log initialized",
		"file_path", config.FilePath,
		"max_entries", config.MaxEntries,
		"retention", config.Retention.String(),
		"loaded_attempts", len(al.attempts),
		"next_offset", al.nextOffset)

	return al, nil
}

// Append records one delivery attempt. Non-blocking: if the write channel is
// full the entry is dropped with an error log rather than stalling delivery.
func (al *AttemptLog) Append(attempt models.DeliveryAttempt) {
	attempt.Offset = al.claimOffset()
	attempt.Timestamp = time.Now().UTC().Format(time.RFC3339)

	select {
	case al.writeChan <- attempt:
		al.logger.Debug("Delivery attempt queued for logging",
			"offset", attempt.Offset,
			"endpoint_id", attempt.EndpointID,
			"event", attempt.Event,
			"attempt", attempt.Attempt,
			"success", attempt.Success)
	default:
		al.logger.Error("Attempt log channel full, dropping entry",
			"offset", attempt.Offset,
			"endpoint_id", attempt.EndpointID,
			"event", attempt.Event)
	}
}

// GetAttempts returns up to limit entries for the endpoint starting at
// fromOffset, plus the next offset to poll from and whether more follow
func (al *AttemptLog) GetAttempts(endpointID string, fromOffset int64, limit int) ([]models.DeliveryAttempt, int64, bool) {
	al.mu.RLock()
	defer al.mu.RUnlock()

	var result []models.DeliveryAttempt
	hasMore := false

	for _, attempt := range al.attempts {
		if attempt.Offset < fromOffset || attempt.EndpointID != endpointID {
			continue
		}
		if len(result) >= limit {
			hasMore = true
			break
		}
		result = append(result, attempt)
	}

	nextOffset := al.nextOffset
	if len(result) > 0 {
		nextOffset = result[len(result)-1].Offset + 1
	}

	return result, nextOffset, hasMore
}

// CountForEndpoint returns the number of logged attempts for the endpoint
func (al *AttemptLog) CountForEndpoint(endpointID string) int {
	al.mu.RLock()
	defer al.mu.RUnlock()

	count := 0
	for _, attempt := range al.attempts {
		if attempt.EndpointID == endpointID {
			count++
		}
	}
	return count
}

// Close stops the async writer and persists the final state
func (al *AttemptLog) Close() error {
	al.logger.Info("Shutting down delivery attempt log")

	close(al.stopChan)
	<-al.doneChan

	return al.saveToFile()
}

func (al *AttemptLog) claimOffset() int64 {
	al.mu.Lock()
	defer al.mu.Unlock()

	offset := al.nextOffset
	al.nextOffset++
	return offset
}

// asyncWriter drains the write channel into memory and the file
func (al *AttemptLog) asyncWriter() {
	defer close(al.doneChan)
	for {
		select {
		case attempt := <-al.writeChan:
			al.store(attempt)
		case <-al.stopChan:
			// Drain whatever is still queued before stopping
			for {
				select {
				case attempt := <-al.writeChan:
					al.store(attempt)
				default:
					al.logger.Debug("Attempt log async writer stopping")
					return
				}
			}
		}
	}
}

// store appends the entry, applies rotation and retention, and saves
func (al *AttemptLog) store(attempt models.DeliveryAttempt) {
	al.mu.Lock()

	al.attempts = append(al.attempts, attempt)

	// Count rotation: keep the most recent 75% when over the cap
	if al.maxEntries > 0 && len(al.attempts) > al.maxEntries {
		keep := al.maxEntries * 3 / 4
		removed := len(al.attempts) - keep
		al.attempts = al.attempts[removed:]
		al.logger.Info("Attempt log rotated",
			"removed_entries", removed,
			"remaining_entries", len(al.attempts))
	}

	// Time-based retention
	if al.retention > 0 {
		cutoff := time.Now().Add(-al.retention).UTC().Format(time.RFC3339)
		firstKept := 0
		for firstKept < len(al.attempts) && al.attempts[firstKept].Timestamp < cutoff {
			firstKept++
		}
		if firstKept > 0 {
			al.attempts = al.attempts[firstKept:]
			al.logger.Info("Attempt log retention applied",
				"removed_entries", firstKept,
				"remaining_entries", len(al.attempts))
		}
	}

	al.mu.Unlock()

	if err := al.saveToFile(); err != nil {
		al.logger.Error("Failed to save delivery attempts to file", "error", err)
	}
}

// loadFromFile restores the log from its persistence file
func (al *AttemptLog) loadFromFile() error {
	data, err := os.ReadFile(al.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read attempts file: %w", err)
	}

	var fileData struct {
		Attempts   []models.DeliveryAttempt `json:"attempts"`
		NextOffset int64                    `json:"nextOffset"`
	}

	if err := json.Unmarshal(data, &fileData); err != nil {
		return fmt.Errorf("failed to unmarshal attempts: %w", err)
	}

	al.attempts = fileData.Attempts
	al.nextOffset = fileData.NextOffset

	return nil
}

// saveToFile persists the log atomically via temp file + rename
func (al *AttemptLog) saveToFile() error {
	al.mu.RLock()
	fileData := struct {
		Attempts   []models.DeliveryAttempt `json:"attempts"`
		NextOffset int64                    `json:"nextOffset"`
	}{
		Attempts:   al.attempts,
		NextOffset: al.nextOffset,
	}
	data, err := json.MarshalIndent(fileData, "", "  ")
	al.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to marshal attempts: %w", err)
	}

	tempFile := al.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp attempts file: %w", err)
	}

	if err := os.Rename(tempFile, al.filePath); err != nil {
		return fmt.Errorf("failed to rename temp attempts file: %w", err)
	}

	return nil
}
