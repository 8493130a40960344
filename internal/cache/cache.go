package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/gcal-companion/internal/calendar"
	"github.com/bnema/gcal-companion/internal/logger"
)

const appDir = "gcal-companion"

var ErrEventNotFound = errors.New("event not found in cache")

// Cache is the local event store. The event list is replaced wholesale on
// every successful sync; completion flags live beside it keyed by event ID
// and survive replacement.
type Cache struct {
	Events    []calendar.Event `json:"events"`
	Completed map[string]bool  `json:"completed"`
	LastSync  time.Time        `json:"last_sync"`

	mu       sync.RWMutex
	cacheDir string
	filePath string
	now      func() time.Time
}

func New(cacheDir string) *Cache {
	if cacheDir == "" {
		if defaultDir, err := GetDefaultCacheDir(); err == nil {
			cacheDir = defaultDir
		} else {
			cacheDir = filepath.Join(os.TempDir(), appDir)
		}
	}

	return &Cache{
		Events:    []calendar.Event{},
		Completed: map[string]bool{},
		cacheDir:  cacheDir,
		filePath:  filepath.Join(cacheDir, "events.json"),
		now:       time.Now,
	}
}

func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.cacheDir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to unmarshal cache: %w", err)
	}
	if c.Completed == nil {
		c.Completed = map[string]bool{}
	}
	return nil
}

func (c *Cache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveLocked()
}

func (c *Cache) saveLocked() error {
	if err := os.MkdirAll(c.cacheDir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

// SetEvents replaces the cached list, applies stored completion flags, and
// persists the result. It returns the merged list.
func (c *Cache) SetEvents(events []calendar.Event) []calendar.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reloadCompletedLocked()

	merged := make([]calendar.Event, len(events))
	for i, event := range events {
		event.Completed = c.Completed[event.ID]
		merged[i] = event
	}
	c.Events = merged
	c.LastSync = c.now()

	if err := c.saveLocked(); err != nil {
		logger.Warn("failed to save cache", "error", err)
	}
	logger.Info("cache updated", "event_count", len(merged))

	return cloneEvents(merged)
}

// ToggleCompletion flips the completion flag of a cached event and returns
// the new value.
func (c *Cache) ToggleCompletion(eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reloadCompletedLocked()

	idx := c.indexLocked(eventID)
	if idx < 0 {
		return false, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}

	done := !c.Events[idx].Completed
	c.Events[idx].Completed = done
	c.Completed[eventID] = done
	return done, c.saveLocked()
}

// Complete marks a cached event done. Completing a done event is a no-op.
func (c *Cache) Complete(eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reloadCompletedLocked()

	idx := c.indexLocked(eventID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if c.Events[idx].Completed {
		return nil
	}

	c.Events[idx].Completed = true
	c.Completed[eventID] = true
	return c.saveLocked()
}

// ClearOldCompletions forgets completion flags of cached events that
// started before today. It returns how many were removed.
func (c *Cache) ClearOldCompletions(now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reloadCompletedLocked()

	today := calendar.TodayRange(now).Start
	removed := 0
	for _, event := range c.Events {
		if !event.HasKnownTime() || !event.StartTime.Before(today) {
			continue
		}
		if _, ok := c.Completed[event.ID]; ok {
			delete(c.Completed, event.ID)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.saveLocked()
}

// reloadCompletedLocked replaces the in-memory completion flags with the
// ones on disk, which another process may have changed since Load. An
// unreadable file leaves memory as is.
func (c *Cache) reloadCompletedLocked() {
	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		logger.Warn("failed to re-read completion flags", "error", err)
		return
	}

	var stored struct {
		Completed map[string]bool `json:"completed"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Warn("failed to parse completion flags", "error", err)
		return
	}
	if stored.Completed == nil {
		stored.Completed = map[string]bool{}
	}

	c.Completed = stored.Completed
	for i := range c.Events {
		c.Events[i].Completed = c.Completed[c.Events[i].ID]
	}
}

func (c *Cache) indexLocked(eventID string) int {
	for i := range c.Events {
		if c.Events[i].ID == eventID {
			return i
		}
	}
	return -1
}

func (c *Cache) LastSyncTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastSync
}

func (c *Cache) GetFilePath() string {
	return c.filePath
}

func (c *Cache) GetCacheDir() string {
	return c.cacheDir
}

func GetDefaultCacheDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cache", appDir), nil
}

func cloneEvents(events []calendar.Event) []calendar.Event {
	out := make([]calendar.Event, len(events))
	copy(out, events)
	return out
}
