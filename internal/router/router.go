// Package router selects the specialist agent for an inbound message.
package router

import (
	"strings"

	"github.com/ashvetsov/flowpilot/internal/domain"
)

// Keyword groups checked in tie-break order. The first group with a match
// wins, so "deploy this workflow" routes to deployment even though it also
// mentions a design keyword.
var (
	deploymentKeywords = []string{
		"deploy", "publish", "production", "live", "activate workflow",
	}
	designKeywords = []string{
		"workflow", "automation", "n8n", "trigger", "node", "api integration",
	}
	systemKeywords = []string{
		"error", "debug", "not working", "failed", "issue",
	}
)

// Route picks the agent role for a message. Pure and deterministic:
// case-insensitive substring matching against the message only. History is
// accepted for future extension and currently ignored.
func Route(message string, _ []domain.Turn) domain.AgentRole {
	m := strings.ToLower(message)

	for _, kw := range deploymentKeywords {
		if strings.Contains(m, kw) {
			return domain.RoleDeployment
		}
	}
	for _, kw := range designKeywords {
		if strings.Contains(m, kw) {
			return domain.RoleWorkflowDesigner
		}
	}
	for _, kw := range systemKeywords {
		if strings.Contains(m, kw) {
			return domain.RoleSystem
		}
	}
	return domain.RoleOrchestrator
}
