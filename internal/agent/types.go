// Package agent runs the conversation pipeline: route a message to a
// specialist agent, invoke the model, and drive workflow creation and
// deployment from the response.
package agent

import (
	"github.com/ashvetsov/flowpilot/internal/deploy"
	"github.com/ashvetsov/flowpilot/internal/domain"
)

// ChatRequest is the inbound message contract exposed to the presentation
// layer. UserID must be a well-formed UUID; SessionID is created when absent;
// AgentRole is an optional explicit routing override.
type ChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	AgentRole string `json:"agent_role,omitempty"`
}

// ChatResponse is the pipeline's reply to one inbound message.
type ChatResponse struct {
	Response         string             `json:"response"`
	AgentRole        domain.AgentRole   `json:"agent_role"`
	MessageID        string             `json:"message_id"`
	SessionID        string             `json:"session_id"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	TokensUsed       int                `json:"tokens_used"`
	AgentState       *domain.AgentState `json:"agent_state,omitempty"`
	NextAgent        domain.AgentRole   `json:"next_agent,omitempty"`
	WorkflowProgress *deploy.Result     `json:"workflow_progress,omitempty"`
}
