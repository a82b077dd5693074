package llm

import (
	"github.com/ashvetsov/flowpilot/internal/domain"
)

// Profile is the fixed generation configuration for one agent role. Chosen
// once at build time, never tuned per call.
type Profile struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

const designerPrompt = `You are a workflow automation designer. Turn the user's
automation request into a concrete workflow definition for a node-based
automation engine. When you have enough detail, emit exactly one fenced json
block containing an object with "name", "nodes" and "connections" fields.
Every workflow needs at least one trigger node (a type ending in "trigger",
"webhook" or "start"). Ask for missing details instead of guessing.`

const orchestratorPrompt = `You are the coordinator of a workflow automation
assistant. Answer general questions, summarize what the user has built so far,
and point them toward designing or deploying workflows when appropriate. Keep
answers short and concrete.`

const deploymentPrompt = `You are a deployment assistant for workflow
automations. Explain deployment status, checkpoints, validation findings and
rollback outcomes in plain language. Never claim a workflow is live unless the
deployment result you were given says so.`

const systemPrompt = `You are a troubleshooting assistant for workflow
automations. Diagnose errors, failed executions and misconfigured nodes. Ask
for the exact error text when it is missing.`

var profiles = map[domain.AgentRole]Profile{
	domain.RoleOrchestrator: {
		SystemPrompt: orchestratorPrompt,
		Temperature:  0.7,
		MaxTokens:    1024,
	},
	domain.RoleWorkflowDesigner: {
		SystemPrompt: designerPrompt,
		Temperature:  0.3,
		MaxTokens:    4096,
	},
	domain.RoleDeployment: {
		SystemPrompt: deploymentPrompt,
		Temperature:  0.2,
		MaxTokens:    2048,
	},
	domain.RoleSystem: {
		SystemPrompt: systemPrompt,
		Temperature:  0.1,
		MaxTokens:    1024,
	},
}

// ProfileFor returns the generation profile for a role, falling back to the
// orchestrator profile for unknown roles.
func ProfileFor(role domain.AgentRole) Profile {
	if p, ok := profiles[role]; ok {
		return p
	}
	return profiles[domain.RoleOrchestrator]
}
