package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashvetsov/flowpilot/internal/deploy"
	"github.com/ashvetsov/flowpilot/internal/domain"
	"github.com/ashvetsov/flowpilot/internal/engine"
	"github.com/ashvetsov/flowpilot/internal/extract"
	"github.com/ashvetsov/flowpilot/internal/router"
	"github.com/ashvetsov/flowpilot/internal/store"
)

const sessionTitleLimit = 60

// Invoker produces a model response for a role and context window.
type Invoker interface {
	Invoke(ctx context.Context, role domain.AgentRole, turns []domain.Turn, userID string) (string, int)
}

// Deployer runs the deployment state machine for a workflow.
type Deployer interface {
	Deploy(ctx context.Context, workflowID, sessionID, userID string) *deploy.Result
}

// Service runs the sequential message pipeline. All work for one inbound
// message happens on the request's goroutine; the only suspension points are
// the remote calls.
type Service struct {
	repo          store.Repository
	invoker       Invoker
	deployer      Deployer
	engine        engine.API
	historyWindow int
}

// NewService wires the pipeline's collaborators together.
func NewService(repo store.Repository, invoker Invoker, deployer Deployer, engineAPI engine.API, historyWindow int) *Service {
	return &Service{
		repo:          repo,
		invoker:       invoker,
		deployer:      deployer,
		engine:        engineAPI,
		historyWindow: historyWindow,
	}
}

// HandleMessage processes one inbound message end to end: append, route,
// invoke, run the role-specific post-step, persist state, and append the
// assistant's reply.
func (s *Service) HandleMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	session, err := s.repo.GetOrCreateSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if session.Title == "" {
		if err := s.repo.UpdateSessionTitle(ctx, session.ID, req.UserID, truncate(req.Message, sessionTitleLimit)); err != nil {
			slog.Warn("failed to set session title", "session_id", session.ID, "error", err)
		}
	}

	// Record the user turn before anything can fail, so context is not lost
	// for the next attempt.
	if _, err := s.repo.AppendTurn(ctx, &domain.Turn{
		SessionID: session.ID,
		UserID:    req.UserID,
		Role:      domain.TurnUser,
		Content:   req.Message,
	}); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	turns, err := s.repo.ListRecentTurns(ctx, session.ID, req.UserID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}

	role := domain.AgentRole(req.AgentRole)
	if !role.Valid() {
		role = router.Route(req.Message, turns)
	}

	state, err := s.repo.GetAgentState(ctx, session.ID, role)
	if err != nil {
		return nil, fmt.Errorf("read agent state: %w", err)
	}
	if state == nil {
		state = &domain.AgentState{}
	}

	slog.Info("message routed",
		"session_id", session.ID,
		"user_id", req.UserID,
		"agent_role", role,
		"explicit_override", req.AgentRole != "",
		"message_length", len(req.Message),
	)

	text, tokens := s.invoker.Invoke(ctx, role, turns, req.UserID)

	resp := &ChatResponse{
		Response:   text,
		AgentRole:  role,
		SessionID:  session.ID,
		TokensUsed: tokens,
	}

	switch role {
	case domain.RoleWorkflowDesigner:
		s.handleDesignStep(ctx, resp, state)
	case domain.RoleDeployment:
		s.handleDeployStep(ctx, resp, state, session.ID, req.UserID)
	}

	state.LastInteraction = time.Now()
	state.ContextSummary = truncate(req.Message, 200)
	if state.Phase == "" {
		state.Phase = "conversing"
	}
	if err := s.repo.PutAgentState(ctx, session.ID, req.UserID, role, state); err != nil {
		return nil, fmt.Errorf("persist agent state: %w", err)
	}
	resp.AgentState = state

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()

	metadata := map[string]any{
		"tokens_used":   tokens,
		"processing_ms": resp.ProcessingTimeMs,
	}
	if state.WorkflowID != "" {
		metadata["workflow_id"] = state.WorkflowID
		metadata["workflow_status"] = state.WorkflowStatus
	}
	if resp.WorkflowProgress != nil {
		metadata["deployment_success"] = resp.WorkflowProgress.Success
	}

	messageID, err := s.repo.AppendTurn(ctx, &domain.Turn{
		SessionID: session.ID,
		UserID:    req.UserID,
		Role:      domain.TurnAssistant,
		Content:   resp.Response,
		AgentRole: role,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}
	resp.MessageID = messageID

	return resp, nil
}

// handleDesignStep extracts a workflow candidate from the designer's response
// and, when present, registers it with the engine and marks it pending
// deployment.
func (s *Service) handleDesignStep(ctx context.Context, resp *ChatResponse, state *domain.AgentState) {
	candidate := extract.Extract(resp.Response)
	if candidate == nil {
		return
	}

	created, err := s.engine.CreateWorkflow(ctx, candidate)
	if err != nil {
		slog.Error("failed to register designed workflow", "name", candidate.Name, "error", err)
		resp.Response += "\n\nI designed the workflow but could not register it with the automation engine. Please try again."
		return
	}

	state.WorkflowID = created.ID
	state.WorkflowStatus = domain.WorkflowPendingDeployment
	state.Phase = "designed"
	resp.NextAgent = domain.RoleDeployment
	resp.Response += fmt.Sprintf(
		"\n\nI've registered workflow %q (id %s) with the engine. Say \"deploy\" when you're ready to make it live.",
		created.Name, created.ID,
	)

	slog.Info("workflow candidate registered",
		"workflow_id", created.ID,
		"workflow_name", created.Name,
		"nodes", len(candidate.Nodes),
	)
}

// handleDeployStep runs the orchestrator for a pending workflow and merges
// the outcome back into agent state.
func (s *Service) handleDeployStep(ctx context.Context, resp *ChatResponse, state *domain.AgentState, sessionID, userID string) {
	if !state.HasPendingWorkflow() {
		return
	}

	result := s.deployer.Deploy(ctx, state.WorkflowID, sessionID, userID)
	resp.WorkflowProgress = result

	switch {
	case result.Success:
		// The orchestrator only reports success after the read-back
		// confirmed active = true, so this status never lies.
		state.WorkflowStatus = domain.WorkflowDeployedAndActive
		state.Phase = "deployed"
		resp.NextAgent = domain.RoleOrchestrator
	case result.RolledBack:
		state.WorkflowStatus = domain.WorkflowRolledBack
		state.Phase = "deployment_rolled_back"
	default:
		state.WorkflowStatus = domain.WorkflowDeploymentFailed
		state.Phase = "deployment_failed"
	}

	resp.Response += "\n\n" + summarizeDeployment(result)
}

// summarizeDeployment renders the orchestrator's structured outcome as the
// natural-language tail of the assistant message. The structured result still
// travels alongside as workflow_progress.
func summarizeDeployment(result *deploy.Result) string {
	if result.Success {
		msg := fmt.Sprintf("Deployment succeeded: %s", result.Details)
		for _, w := range result.Warnings {
			msg += "\n- warning: " + w
		}
		for _, u := range result.WebhookURLs {
			msg += "\n- webhook: " + u
		}
		return msg
	}

	msg := "Deployment failed"
	if result.Details != "" {
		msg += ": " + result.Details
	}
	for _, e := range result.Errors {
		msg += "\n- " + e
	}
	if result.RolledBack {
		if result.RollbackClean() {
			msg += "\nThe previous workflow version was restored. You can fix the issues and retry."
		} else {
			msg += "\nRollback could not fully restore the previous version; please check the workflow in the engine before retrying:"
			for _, e := range result.RollbackErrors {
				msg += "\n- " + e
			}
		}
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
