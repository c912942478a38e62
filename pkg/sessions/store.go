// Package sessions persists session rows: creation on first message,
// activity tracking on every turn.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/senarios/aris/pkg/models"
)

// Store is the session persistence contract.
type Store interface {
	// Upsert creates the session on first contact and refreshes user,
	// model, and activity fields afterwards.
	Upsert(ctx context.Context, session *models.Session) error

	// Touch bumps last_activity_at.
	Touch(ctx context.Context, sessionID string) error

	// Get returns the session, or nil when absent.
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

// SQLStore is the PostgreSQL-backed session store.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a session store over the shared pool.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Upsert creates or refreshes a session row.
func (s *SQLStore) Upsert(ctx context.Context, session *models.Session) error {
	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}

	status := session.Status
	if status == "" {
		status = models.SessionStatusActive
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, agent_type, model_id, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id          = EXCLUDED.user_id,
			model_id         = COALESCE(EXCLUDED.model_id, sessions.model_id),
			metadata         = EXCLUDED.metadata,
			updated_at       = now(),
			last_activity_at = now()`,
		session.ID, session.UserID, session.AgentType,
		nullableStr(session.ModelID), string(status), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	return nil
}

// Touch bumps last_activity_at.
func (s *SQLStore) Touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = now(), updated_at = now()
		WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// Get returns the session, or nil when absent.
func (s *SQLStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		sess         models.Session
		modelID      sql.NullString
		metadataJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, agent_type, model_id, status,
		       created_at, updated_at, last_activity_at, metadata
		FROM sessions WHERE session_id = $1`, sessionID,
	).Scan(&sess.ID, &sess.UserID, &sess.AgentType, &modelID,
		(*string)(&sess.Status), &sess.CreatedAt, &sess.UpdatedAt,
		&sess.LastActivityAt, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	sess.ModelID = modelID.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return &sess, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InMemStore is the in-process session store used by tests and by
// deployments without a database.
type InMemStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

var _ Store = (*InMemStore)(nil)

// NewInMemStore creates an empty in-memory session store.
func NewInMemStore() *InMemStore {
	return &InMemStore{sessions: make(map[string]*models.Session)}
}

// Upsert creates or refreshes a session.
func (s *InMemStore) Upsert(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.sessions[session.ID]
	if !ok {
		copied := *session
		if copied.Status == "" {
			copied.Status = models.SessionStatusActive
		}
		copied.CreatedAt = now
		copied.UpdatedAt = now
		copied.LastActivityAt = now
		s.sessions[session.ID] = &copied
		return nil
	}
	existing.UserID = session.UserID
	if session.ModelID != "" {
		existing.ModelID = session.ModelID
	}
	if session.Metadata != nil {
		existing.Metadata = session.Metadata
	}
	existing.UpdatedAt = now
	existing.LastActivityAt = now
	return nil
}

// Touch bumps last_activity_at.
func (s *InMemStore) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivityAt = time.Now()
		sess.UpdatedAt = sess.LastActivityAt
	}
	return nil
}

// Get returns a copy of the session, or nil.
func (s *InMemStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}
