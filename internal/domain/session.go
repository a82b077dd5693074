// Package domain contains core domain types for the FlowPilot application.
package domain

import (
	"time"
)

// SessionStatus describes the lifecycle state of a chat session.
type SessionStatus string

const (
	// SessionActive is a session that accepts new messages.
	SessionActive SessionStatus = "active"
	// SessionArchived is a session retained for history only.
	SessionArchived SessionStatus = "archived"
)

// Session represents one conversation between a user and the agents.
// Created on the first message; only its title and status are ever mutated.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Title     string        `json:"title,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TurnRole identifies who authored a turn.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
	TurnSystem    TurnRole = "system"
)

// Turn is a single immutable message in a session, ordered by creation time.
type Turn struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Role      TurnRole       `json:"role"`
	Content   string         `json:"content"`
	AgentRole AgentRole      `json:"agent_role,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
