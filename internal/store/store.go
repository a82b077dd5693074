// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashvetsov/flowpilot/internal/domain"
)

// Repository defines the interface for persisting sessions, turns, agent
// state and API credentials.
type Repository interface {
	// GetOrCreateSession returns the session with the given ID for the user,
	// creating a fresh active session when sessionID is empty.
	GetOrCreateSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// ListSessions returns all sessions owned by the user, newest first.
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// UpdateSessionStatus changes a session's lifecycle status.
	UpdateSessionStatus(ctx context.Context, sessionID, userID string, status domain.SessionStatus) error

	// UpdateSessionTitle sets a session's display title.
	UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error

	// AppendTurn writes one immutable turn to the session log and returns
	// its ID.
	AppendTurn(ctx context.Context, turn *domain.Turn) (string, error)

	// ListRecentTurns returns the most recent limit turns of a session in
	// chronological order.
	ListRecentTurns(ctx context.Context, sessionID, userID string, limit int) ([]domain.Turn, error)

	// GetAgentState retrieves the state blob for a (session, agent-role)
	// pair. Returns nil when no state has been written yet.
	GetAgentState(ctx context.Context, sessionID string, role domain.AgentRole) (*domain.AgentState, error)

	// PutAgentState overwrites the state blob for a (session, agent-role)
	// pair.
	PutAgentState(ctx context.Context, sessionID, userID string, role domain.AgentRole, state *domain.AgentState) error

	// GetCredential returns the stored API credential for a service scoped
	// to userID, or "" when none exists. The shared fallback credential is
	// stored under an empty user ID.
	GetCredential(ctx context.Context, service, userID string) (string, error)

	// PutCredential stores an API credential for a service. An empty userID
	// stores the shared fallback.
	PutCredential(ctx context.Context, service, userID, credential string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
