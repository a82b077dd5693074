package router

import (
	"testing"

	"github.com/ashvetsov/flowpilot/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    domain.AgentRole
	}{
		{"deploy keyword", "deploy my thing", domain.RoleDeployment},
		{"publish keyword", "can you publish it?", domain.RoleDeployment},
		{"production keyword", "move this to production", domain.RoleDeployment},
		{"activate workflow phrase", "please activate workflow 12", domain.RoleDeployment},
		{"workflow keyword", "build me a workflow for invoices", domain.RoleWorkflowDesigner},
		{"automation keyword", "I want an automation for email", domain.RoleWorkflowDesigner},
		{"trigger keyword", "add a trigger on new rows", domain.RoleWorkflowDesigner},
		{"error keyword", "I got an error yesterday", domain.RoleSystem},
		{"not working phrase", "this thing is not working", domain.RoleSystem},
		{"default", "hello there", domain.RoleOrchestrator},
		{"empty message", "", domain.RoleOrchestrator},
		{"case insensitive", "DEPLOY NOW", domain.RoleDeployment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Route(tt.message, nil))
		})
	}
}

// Deployment keywords win over every other group regardless of what else the
// message mentions.
func TestRoute_TieBreakOrder(t *testing.T) {
	t.Run("deployment beats design", func(t *testing.T) {
		require.Equal(t, domain.RoleDeployment,
			Route("deploy the workflow with the new trigger node", nil))
	})
	t.Run("deployment beats system", func(t *testing.T) {
		require.Equal(t, domain.RoleDeployment,
			Route("the deploy failed with an error", nil))
	})
	t.Run("design beats system", func(t *testing.T) {
		require.Equal(t, domain.RoleWorkflowDesigner,
			Route("my workflow shows an error", nil))
	})
}

// Routing looks at the message only; history must not change the outcome.
func TestRoute_IgnoresHistory(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.TurnUser, Content: "build a workflow"},
		{Role: domain.TurnAssistant, Content: "here is a workflow", AgentRole: domain.RoleWorkflowDesigner},
	}
	require.Equal(t, domain.RoleDeployment, Route("deploy this to production", history))
	require.Equal(t, domain.RoleOrchestrator, Route("thanks!", history))
}

func TestRoute_Deterministic(t *testing.T) {
	msg := "publish the automation, the trigger errors out"
	first := Route(msg, nil)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Route(msg, nil))
	}
}
