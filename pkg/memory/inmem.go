package memory

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/senarios/aris/pkg/models"
)

// InMemStore is an in-process Store used by tests and by deployments that
// run without a database. It mirrors the SQL store's semantics: canonical
// JSON encoding, non-JSON wrapping, expiry filtering on Get, last-writer-wins
// upserts.
type InMemStore struct {
	mu    sync.RWMutex
	items map[string]map[string]*models.MemoryItem // sessionID → key → item
}

var _ Store = (*InMemStore)(nil)

// NewInMemStore creates an empty in-memory store.
func NewInMemStore() *InMemStore {
	return &InMemStore{items: make(map[string]map[string]*models.MemoryItem)}
}

// Put upserts a value under (sessionID, key).
func (s *InMemStore) Put(_ context.Context, sessionID, key string, value any, toolName string, tags []string, ttl time.Duration) error {
	encoded, _, err := normalizeValue(value)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return err
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	if tags == nil {
		tags = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.items[sessionID]
	if !ok {
		session = make(map[string]*models.MemoryItem)
		s.items[sessionID] = session
	}

	now := time.Now()
	item, exists := session[key]
	if !exists {
		item = &models.MemoryItem{SessionID: sessionID, Key: key, CreatedAt: now}
		session[key] = item
	}
	item.ToolName = truncateToolName(toolName)
	item.Tags = append([]string(nil), tags...)
	item.Value = decoded
	item.SizeBytes = len(encoded)
	item.UpdatedAt = now
	item.ExpiresAt = expiresAt
	return nil
}

// Get returns the stored value, skipping expired entries.
func (s *InMemStore) Get(_ context.Context, sessionID, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[sessionID][key]
	if !ok || expired(item) {
		return nil, false, nil
	}
	item.AccessCount++
	item.LastAccessedAt = time.Now()
	return unwrapValue(item.Value), true, nil
}

// Delete removes keys and reports per-key success.
func (s *InMemStore) Delete(_ context.Context, sessionID string, keys []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]bool, len(keys))
	session := s.items[sessionID]
	for _, key := range keys {
		_, ok := session[key]
		if ok {
			delete(session, key)
		}
		result[key] = ok
	}
	return result, nil
}

// ListKeys returns keys for the session, newest first.
func (s *InMemStore) ListKeys(_ context.Context, sessionID, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alive []*models.MemoryItem
	for _, item := range s.items[sessionID] {
		if expired(item) {
			continue
		}
		if pattern != "" {
			if ok, _ := path.Match(pattern, item.Key); !ok {
				continue
			}
		}
		alive = append(alive, item)
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].CreatedAt.After(alive[j].CreatedAt) })

	keys := make([]string, 0, len(alive))
	for _, item := range alive {
		keys = append(keys, item.Key)
	}
	return keys, nil
}

// ByTool returns keys written by a specific tool.
func (s *InMemStore) ByTool(_ context.Context, sessionID, toolName string) ([]string, error) {
	toolName = truncateToolName(toolName)
	return s.filterKeys(sessionID, func(item *models.MemoryItem) bool {
		return item.ToolName == toolName
	})
}

// ByTag returns keys carrying a specific tag.
func (s *InMemStore) ByTag(_ context.Context, sessionID, tag string) ([]string, error) {
	return s.filterKeys(sessionID, func(item *models.MemoryItem) bool {
		for _, t := range item.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

// HandleToolResult performs the canonical tool-result write.
func (s *InMemStore) HandleToolResult(ctx context.Context, sessionID, actionID, toolName string, result any) error {
	toolName = truncateToolName(toolName)
	return s.Put(ctx, sessionID, models.ToolResultKey(actionID), result, toolName,
		[]string{"tool_result", toolName}, 0)
}

// Item returns a copy of the raw item for inspection in tests.
func (s *InMemStore) Item(sessionID, key string) (models.MemoryItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[sessionID][key]
	if !ok {
		return models.MemoryItem{}, false
	}
	return *item, true
}

func (s *InMemStore) filterKeys(sessionID string, keep func(*models.MemoryItem) bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alive []*models.MemoryItem
	for _, item := range s.items[sessionID] {
		if !expired(item) && keep(item) {
			alive = append(alive, item)
		}
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].CreatedAt.After(alive[j].CreatedAt) })

	keys := make([]string, 0, len(alive))
	for _, item := range alive {
		keys = append(keys, item.Key)
	}
	return keys, nil
}

func expired(item *models.MemoryItem) bool {
	return item.ExpiresAt != nil && item.ExpiresAt.Before(time.Now())
}
