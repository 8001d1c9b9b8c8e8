// Package session persists chat sessions across turns with a dual backend:
// a JSON-file local cache and the authoritative remote store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// ErrNotFound means the requested session does not exist in a backend.
var ErrNotFound = errors.New("session not found")

// LocalCache stores one JSON file per session under a cache directory.
// Concurrent writes to the same session are last-writer-wins.
type LocalCache struct {
	dir string
	mu  sync.Mutex
}

// NewLocalCache creates the cache directory if needed.
func NewLocalCache(dir string) (*LocalCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session cache dir: %w", err)
	}
	return &LocalCache{dir: dir}, nil
}

func (c *LocalCache) path(sessionID string) string {
	return filepath.Join(c.dir, sessionID+".json")
}

// Save writes the session file.
func (c *LocalCache) Save(sess *models.ChatSession) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.WriteFile(c.path(sess.SessionID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load reads one session, returning ErrNotFound for missing files.
func (c *LocalCache) Load(sessionID string) (*models.ChatSession, error) {
	data, err := os.ReadFile(c.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess models.ChatSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &sess, nil
}

// Delete removes the session file; deleting a missing session is not an
// error.
func (c *LocalCache) Delete(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns summaries of all cached sessions, most recently updated
// first. Unreadable files are skipped.
func (c *LocalCache) List() ([]models.SessionSummary, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache dir: %w", err)
	}

	summaries := make([]models.SessionSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sess, err := c.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		summaries = append(summaries, sess.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Cleanup evicts sessions older than maxAge, then trims oldest-first down
// to maxTotal. Called opportunistically after each save; failures only
// reduce the trim.
func (c *LocalCache) Cleanup(maxAge time.Duration, maxTotal int) (int, error) {
	summaries, err := c.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	kept := summaries[:0]
	for _, s := range summaries {
		if s.UpdatedAt.Before(cutoff) {
			if err := c.Delete(s.SessionID); err == nil {
				removed++
				continue
			}
		}
		kept = append(kept, s)
	}

	// kept is sorted newest-first; evict from the tail beyond the cap.
	for i := len(kept) - 1; i >= maxTotal && i >= 0; i-- {
		if err := c.Delete(kept[i].SessionID); err == nil {
			removed++
		}
	}
	return removed, nil
}
