package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashvetsov/flowpilot/internal/domain"
	"github.com/ashvetsov/flowpilot/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned when a session does not exist or belongs to
// a different user.
var ErrSessionNotFound = errors.New("session not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	agentStateMu sync.Mutex // Serializes agent state writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		agent_role TEXT,
		metadata_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);

	CREATE TABLE IF NOT EXISTS agent_states (
		session_id TEXT NOT NULL,
		agent_role TEXT NOT NULL,
		user_id TEXT NOT NULL,
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, agent_role)
	);

	CREATE TABLE IF NOT EXISTS api_credentials (
		service TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		credential TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (service, user_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetOrCreateSession returns an existing session or creates a fresh one.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	if sessionID != "" {
		session, err := s.getSession(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
		// An unknown explicit ID belongs to nobody; creating under it would
		// let callers mint arbitrary session IDs, so reject instead.
		return nil, ErrSessionNotFound
	}

	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
	INSERT INTO sessions (id, user_id, title, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.Title, string(session.Status),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) getSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, title, status, created_at, updated_at
		FROM sessions WHERE id = ? AND user_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID, userID)

	var session domain.Session
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&session.ID, &session.UserID, &session.Title, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Status = domain.SessionStatus(status)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

// ListSessions returns all sessions owned by the user, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	query := `
		SELECT id, user_id, title, status, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sessions rows", "error", closeErr)
		}
	}()

	var sessions []domain.Session
	for rows.Next() {
		var session domain.Session
		var status string
		var createdAt, updatedAt int64
		if err := rows.Scan(&session.ID, &session.UserID, &session.Title, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		session.Status = domain.SessionStatus(status)
		session.CreatedAt = time.Unix(createdAt, 0)
		session.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus changes a session's lifecycle status.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID, userID string, status domain.SessionStatus) error {
	query := `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(status), time.Now().Unix(), sessionID, userID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateSessionTitle sets a session's display title.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error {
	query := `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`
	result, err := s.db.ExecContext(ctx, query, title, time.Now().Unix(), sessionID, userID)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendTurn writes one immutable turn to the session log.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) (string, error) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	var metadataJSON any
	if len(turn.Metadata) > 0 {
		raw, err := json.Marshal(turn.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal turn metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	var agentRole any
	if turn.AgentRole != "" {
		agentRole = string(turn.AgentRole)
	}

	query := `
	INSERT INTO turns (id, session_id, user_id, role, content, agent_role, metadata_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		turn.ID, turn.SessionID, turn.UserID, string(turn.Role), turn.Content,
		agentRole, metadataJSON, turn.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert turn: %w", err)
	}

	// Touch the session so listings sort by recent activity.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().Unix(), turn.SessionID,
	); err != nil {
		slog.Warn("failed to touch session timestamp", "session_id", turn.SessionID, "error", err)
	}

	return turn.ID, nil
}

// ListRecentTurns returns the most recent limit turns in chronological order.
func (s *SQLiteStore) ListRecentTurns(ctx context.Context, sessionID, userID string, limit int) ([]domain.Turn, error) {
	query := `
		SELECT id, session_id, user_id, role, content, agent_role, metadata_json, created_at
		FROM turns WHERE session_id = ? AND user_id = ?
		ORDER BY seq DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turns rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var role string
		var agentRole, metadataJSON sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&turn.ID, &turn.SessionID, &turn.UserID, &role, &turn.Content,
			&agentRole, &metadataJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}

		turn.Role = domain.TurnRole(role)
		turn.AgentRole = domain.AgentRole(agentRole.String)
		turn.CreatedAt = time.Unix(createdAt, 0)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &turn.Metadata); err != nil {
				slog.Warn("failed to decode turn metadata", "turn_id", turn.ID, "error", err)
			}
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Rows came back newest-first; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// GetAgentState retrieves the state blob for a (session, agent-role) pair.
func (s *SQLiteStore) GetAgentState(ctx context.Context, sessionID string, role domain.AgentRole) (*domain.AgentState, error) {
	s.agentStateMu.Lock()
	defer s.agentStateMu.Unlock()

	query := `SELECT state_json FROM agent_states WHERE session_id = ? AND agent_role = ?`
	row := s.db.QueryRowContext(ctx, query, sessionID, string(role))

	var stateJSON string
	err := row.Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent state: %w", err)
	}

	var state domain.AgentState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode agent state: %w", err)
	}
	return &state, nil
}

// PutAgentState overwrites the state blob for a (session, agent-role) pair.
// Retries with exponential backoff on SQLite concurrency errors.
func (s *SQLiteStore) PutAgentState(ctx context.Context, sessionID, userID string, role domain.AgentRole, state *domain.AgentState) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		lastErr = s.putAgentStateOnce(ctx, sessionID, userID, role, state)
		if lastErr == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(lastErr) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("PutAgentState hit SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"agent_role", role,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}
	return fmt.Errorf("put agent state for %s/%s: %w", sessionID, role, lastErr)
}

func (s *SQLiteStore) putAgentStateOnce(ctx context.Context, sessionID, userID string, role domain.AgentRole, state *domain.AgentState) error {
	s.agentStateMu.Lock()
	defer s.agentStateMu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal agent state: %w", err)
	}

	query := `
	INSERT INTO agent_states (session_id, agent_role, user_id, state_json, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id, agent_role) DO UPDATE SET
		state_json = excluded.state_json,
		updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query,
		sessionID, string(role), userID, string(raw), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("upsert agent state: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential for (service, userID), or ""
// when none exists.
func (s *SQLiteStore) GetCredential(ctx context.Context, service, userID string) (string, error) {
	query := `SELECT credential FROM api_credentials WHERE service = ? AND user_id = ?`
	row := s.db.QueryRowContext(ctx, query, service, userID)

	var credential string
	err := row.Scan(&credential)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan credential: %w", err)
	}
	return credential, nil
}

// PutCredential stores an API credential for a service.
func (s *SQLiteStore) PutCredential(ctx context.Context, service, userID, credential string) error {
	query := `
	INSERT INTO api_credentials (service, user_id, credential, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(service, user_id) DO UPDATE SET
		credential = excluded.credential`
	if _, err := s.db.ExecContext(ctx, query, service, userID, credential, time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}
