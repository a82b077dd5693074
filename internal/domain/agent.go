package domain

import (
	"time"
)

// AgentRole identifies which specialist agent handles a message.
type AgentRole string

const (
	// RoleOrchestrator is the general-purpose conversational agent and the
	// routing default.
	RoleOrchestrator AgentRole = "orchestrator"
	// RoleWorkflowDesigner turns automation requests into workflow definitions.
	RoleWorkflowDesigner AgentRole = "workflow_designer"
	// RoleDeployment drives the safe-deployment state machine.
	RoleDeployment AgentRole = "deployment"
	// RoleSystem handles error triage and debugging questions.
	RoleSystem AgentRole = "system"
)

// Valid reports whether the role is one of the fixed agent roles.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleOrchestrator, RoleWorkflowDesigner, RoleDeployment, RoleSystem:
		return true
	}
	return false
}

// Workflow status values tracked in AgentState. DeployedAndActive is only
// written after the orchestrator's read-back confirmed the engine reports
// active = true for the workflow.
const (
	WorkflowPendingDeployment = "pending_deployment"
	WorkflowDeployedAndActive = "deployed_and_active"
	WorkflowDeploymentFailed  = "deployment_failed"
	WorkflowRolledBack        = "rolled_back"
)

// AgentState is the per-(session, agent-role) continuity blob. One row per
// pair, overwritten on every turn handled by that role.
type AgentState struct {
	LastInteraction time.Time `json:"last_interaction"`
	Phase           string    `json:"phase,omitempty"`
	ContextSummary  string    `json:"context_summary,omitempty"`
	WorkflowID      string    `json:"workflow_id,omitempty"`
	WorkflowStatus  string    `json:"workflow_status,omitempty"`
}

// HasPendingWorkflow reports whether a designed workflow is waiting for
// deployment.
func (s *AgentState) HasPendingWorkflow() bool {
	return s.WorkflowID != "" && s.WorkflowStatus == WorkflowPendingDeployment
}
