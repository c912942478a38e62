package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/senarios/aris/pkg/models"
)

// SQLStore is the PostgreSQL-backed session memory.
// Concurrent writes to the same (session, key) are last-writer-wins under a
// per-key mutex; the upsert itself is a single statement so there are no
// torn writes.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger

	// keyMu serializes writers per (session_id, memory_key).
	keyMu sync.Map // "session\x00key" → *sync.Mutex
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a session memory store over the shared pool.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, logger: slog.Default()}
}

func (s *SQLStore) lockKey(sessionID, key string) func() {
	muI, _ := s.keyMu.LoadOrStore(sessionID+"\x00"+key, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Put upserts a value under (sessionID, key).
func (s *SQLStore) Put(ctx context.Context, sessionID, key string, value any, toolName string, tags []string, ttl time.Duration) error {
	encoded, wrapped, err := normalizeValue(value)
	if err != nil {
		return err
	}
	if wrapped {
		s.logger.Warn("Stored non-JSON value as string wrapper",
			"session_id", sessionID, "key", key)
	}

	toolName = truncateToolName(toolName)
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	unlock := s.lockKey(sessionID, key)
	defer unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_memory
			(session_id, memory_key, tool_name, tags, value, size_bytes, expires_at, access_count, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, now())
		ON CONFLICT (session_id, memory_key) DO UPDATE SET
			tool_name  = EXCLUDED.tool_name,
			tags       = EXCLUDED.tags,
			value      = EXCLUDED.value,
			size_bytes = EXCLUDED.size_bytes,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		sessionID, key, nullable(toolName), tagsJSON, encoded, len(encoded), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("store memory item %q: %w", key, err)
	}
	return nil
}

// Get returns the stored value for (sessionID, key). Expired entries are
// filtered at read time so correctness does not depend on the sweeper.
func (s *SQLStore) Get(ctx context.Context, sessionID, key string) (any, bool, error) {
	var (
		id    int64
		value []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, value FROM session_memory
		WHERE session_id = $1 AND memory_key = $2
		  AND (expires_at IS NULL OR expires_at > now())`,
		sessionID, key,
	).Scan(&id, &value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read memory item %q: %w", key, err)
	}

	// Access tracking is best-effort: a failed counter update never hides
	// the value from the caller.
	if _, err := s.db.ExecContext(ctx, `
		UPDATE session_memory
		SET access_count = access_count + 1, last_accessed_at = now()
		WHERE id = $1`, id); err != nil {
		s.logger.Warn("Failed to update access counters",
			"session_id", sessionID, "key", key, "error", err)
	}

	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return nil, false, fmt.Errorf("decode memory item %q: %w", key, err)
	}
	return unwrapValue(decoded), true, nil
}

// Delete removes keys and reports per-key success.
func (s *SQLStore) Delete(ctx context.Context, sessionID string, keys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(keys))
	for _, key := range keys {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM session_memory WHERE session_id = $1 AND memory_key = $2`,
			sessionID, key)
		if err != nil {
			return result, fmt.Errorf("delete memory item %q: %w", key, err)
		}
		n, _ := res.RowsAffected()
		result[key] = n > 0
	}
	return result, nil
}

// ListKeys returns keys for the session, newest first. A pattern with "*"
// wildcards is translated to a SQL LIKE match.
func (s *SQLStore) ListKeys(ctx context.Context, sessionID, pattern string) ([]string, error) {
	query := `
		SELECT memory_key FROM session_memory
		WHERE session_id = $1
		  AND (expires_at IS NULL OR expires_at > now())`
	args := []any{sessionID}
	if pattern != "" {
		query += ` AND memory_key LIKE $2`
		args = append(args, globToLike(pattern))
	}
	query += ` ORDER BY created_at DESC`

	return s.queryKeys(ctx, query, args...)
}

// ByTool returns keys written by a specific tool, newest first.
func (s *SQLStore) ByTool(ctx context.Context, sessionID, toolName string) ([]string, error) {
	return s.queryKeys(ctx, `
		SELECT memory_key FROM session_memory
		WHERE session_id = $1 AND tool_name = $2
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at DESC`,
		sessionID, truncateToolName(toolName))
}

// ByTag returns keys carrying a specific tag, newest first.
func (s *SQLStore) ByTag(ctx context.Context, sessionID, tag string) ([]string, error) {
	tagJSON, err := json.Marshal([]string{tag})
	if err != nil {
		return nil, fmt.Errorf("encode tag: %w", err)
	}
	return s.queryKeys(ctx, `
		SELECT memory_key FROM session_memory
		WHERE session_id = $1 AND tags @> $2
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at DESC`,
		sessionID, tagJSON)
}

// HandleToolResult performs the canonical tool-result write.
func (s *SQLStore) HandleToolResult(ctx context.Context, sessionID, actionID, toolName string, result any) error {
	toolName = truncateToolName(toolName)
	return s.Put(ctx, sessionID, models.ToolResultKey(actionID), result, toolName,
		[]string{"tool_result", toolName}, 0)
}

// Stats returns memory usage statistics for one session.
func (s *SQLStore) Stats(ctx context.Context, sessionID string) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at IS NULL),
			COUNT(*) FILTER (WHERE expires_at > now()),
			COUNT(*) FILTER (WHERE expires_at <= now()),
			COALESCE(SUM(size_bytes), 0),
			COUNT(DISTINCT tool_name),
			COALESCE(SUM(access_count), 0)
		FROM session_memory WHERE session_id = $1`,
		sessionID,
	).Scan(&st.TotalItems, &st.PermanentItems, &st.ActiveTempItems,
		&st.ExpiredItems, &st.TotalSizeBytes, &st.UniqueTools, &st.TotalAccesses)
	if err != nil {
		return Stats{}, fmt.Errorf("memory stats: %w", err)
	}
	return st, nil
}

// Stats summarizes one session's memory usage.
type Stats struct {
	TotalItems      int   `json:"total_items"`
	PermanentItems  int   `json:"permanent_items"`
	ActiveTempItems int   `json:"active_temp_items"`
	ExpiredItems    int   `json:"expired_items"`
	TotalSizeBytes  int64 `json:"total_size_bytes"`
	UniqueTools     int   `json:"unique_tools"`
	TotalAccesses   int64 `json:"total_accesses"`
}

// RunSweeper deletes expired rows on an interval until ctx is cancelled.
// Get filters expired rows at read time, so the sweeper only reclaims
// storage.
func (s *SQLStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.db.ExecContext(ctx,
				`DELETE FROM session_memory WHERE expires_at IS NOT NULL AND expires_at < now()`)
			if err != nil {
				s.logger.Warn("Memory sweep failed", "error", err)
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				s.logger.Info("Swept expired memory items", "count", n)
			}
		}
	}
}

func (s *SQLStore) queryKeys(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan memory key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// globToLike converts a "*"-wildcard pattern to a SQL LIKE pattern.
func globToLike(pattern string) string {
	replaced := strings.ReplaceAll(pattern, "%", `\%`)
	replaced = strings.ReplaceAll(replaced, "_", `\_`)
	return strings.ReplaceAll(replaced, "*", "%")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
