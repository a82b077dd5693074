// Package deploy implements the checkpoint -> validate -> activate ->
// health-check -> rollback-on-failure deployment state machine.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashvetsov/flowpilot/internal/domain"
	"github.com/ashvetsov/flowpilot/internal/engine"
	"github.com/google/uuid"
)

// SmokeTestResult records the outcome of the post-activation test execution.
// Failure here is a warning, never a rollback cause: the workflow may
// legitimately require production-only inputs.
type SmokeTestResult struct {
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of one deployment attempt. Rollback errors are kept
// separate from deployment errors: a rollback that could not fully restore
// prior state changes what the user should be told (retry vs. manual
// intervention).
type Result struct {
	Success        bool              `json:"success"`
	State          State             `json:"state"`
	WorkflowID     string            `json:"workflow_id"`
	CheckpointID   string            `json:"checkpoint_id,omitempty"`
	Validation     *ValidationResult `json:"validation,omitempty"`
	Health         *HealthResult     `json:"health,omitempty"`
	SmokeTest      *SmokeTestResult  `json:"smoke_test,omitempty"`
	WebhookURLs    []string          `json:"webhook_urls,omitempty"`
	Details        string            `json:"details,omitempty"`
	Errors         []string          `json:"errors,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	RolledBack     bool              `json:"rolled_back"`
	RollbackErrors []string          `json:"rollback_errors,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
}

// RollbackClean reports whether a rollback restored prior state without any
// step failing.
func (r *Result) RollbackClean() bool {
	return r.RolledBack && len(r.RollbackErrors) == 0
}

// Orchestrator drives safe deployments against the remote engine. One
// instance owns the in-memory checkpoint store and the per-workflow deploy
// locks.
type Orchestrator struct {
	engine      engine.API
	checkpoints *checkpointStore
	settleDelay time.Duration
	deployLocks sync.Map // workflowID -> *sync.Mutex
}

// New creates an orchestrator. settleDelay is the fixed wait between the
// activation call and the confirming read-back; checkpointTTL bounds how long
// an abandoned checkpoint survives in memory.
func New(engineAPI engine.API, settleDelay, checkpointTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		engine:      engineAPI,
		checkpoints: newCheckpointStore(checkpointTTL),
		settleDelay: settleDelay,
	}
}

// Deploy runs the full deployment state machine for a workflow. It never
// returns an error: all failure modes are captured in the result.
func (o *Orchestrator) Deploy(ctx context.Context, workflowID, sessionID, userID string) *Result {
	start := time.Now()
	result := &Result{WorkflowID: workflowID, State: StateNotStarted}
	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	// At most one deployment per workflow ID at a time. A concurrent
	// attempt fails fast instead of queueing behind an unknown amount of
	// remote work. Lock entries are never removed: deleting one would let
	// a later attempt mint a fresh mutex while an earlier holder of the old
	// one is still mid-deployment.
	lock, _ := o.deployLocks.LoadOrStore(workflowID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		result.State = StateFailed
		result.Errors = append(result.Errors, "a deployment for this workflow is already in progress")
		result.Details = "deployment skipped: another attempt is running"
		return result
	}
	defer mutex.Unlock()

	slog.Info("deployment started",
		"workflow_id", workflowID,
		"session_id", sessionID,
		"user_id", userID,
	)

	a := newAttempt()

	// Step 1: checkpoint. Failure here is fatal and aborts before any
	// mutation is attempted; there is nothing to roll back yet.
	cp, err := o.createCheckpoint(ctx, workflowID)
	if err != nil {
		result.State = StateFailed
		result.Errors = append(result.Errors, fmt.Sprintf("checkpoint: %v", err))
		result.Details = "could not capture a rollback checkpoint; nothing was changed"
		slog.Error("checkpoint creation failed", "workflow_id", workflowID, "error", err)
		return result
	}
	result.CheckpointID = cp.ID

	// The checkpoint record mirrors the attempt's step trail so an evicted
	// or inspected checkpoint shows how far its deployment got.
	advance := func(to State) error {
		if err := a.advance(to); err != nil {
			return err
		}
		cp.Steps = append(cp.Steps, string(to))
		return nil
	}
	if err := advance(StateCheckpointCreated); err != nil {
		return o.fail(result, a, cp, err)
	}

	// Step 2: validate the captured definition.
	validation := Validate(cp.Snapshot)
	result.Validation = validation
	result.Warnings = append(result.Warnings, validation.Warnings()...)
	if validation.Critical {
		for _, v := range validation.Violations {
			if v.Critical {
				result.Errors = append(result.Errors, "validation: "+v.Detail)
			}
		}
		result.Details = fmt.Sprintf("validation failed critically (score %d); rolled back", validation.Score)
		o.rollback(ctx, cp, result)
		result.State = StateRolledBack
		return result
	}
	if err := advance(StateValidated); err != nil {
		return o.fail(result, a, cp, err)
	}

	// Step 3: activate, settle, and confirm with a read-back. The call's
	// status code alone is never trusted.
	readback, err := o.activate(ctx, workflowID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("activation: %v", err))
		result.Details = "activation could not be confirmed; rolled back"
		o.rollback(ctx, cp, result)
		result.State = StateRolledBack
		return result
	}
	if err := advance(StateActivated); err != nil {
		return o.fail(result, a, cp, err)
	}

	// Step 4: health check. A low score is a degraded success.
	health := o.checkHealth(ctx, readback)
	result.Health = health
	if health.Degraded() {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("health score %d is below %d; the workflow is live but degraded", health.Score, healthWarnThreshold))
	}
	if err := advance(StateHealthChecked); err != nil {
		return o.fail(result, a, cp, err)
	}

	// Step 5: smoke test, warning only.
	result.SmokeTest = o.smokeTest(ctx, workflowID)
	if !result.SmokeTest.Passed {
		result.Warnings = append(result.Warnings, "smoke test failed: "+result.SmokeTest.Error)
	}

	// Step 6: success. The checkpoint ID is kept for audit; the record
	// itself is released.
	if err := advance(StateSucceeded); err != nil {
		return o.fail(result, a, cp, err)
	}
	o.checkpoints.Delete(cp.ID)

	result.Success = true
	result.State = StateSucceeded
	result.WebhookURLs = webhookURLs(readback, o.engine.BaseURL())
	result.Details = fmt.Sprintf("workflow %q deployed and active (health %d)", readback.Name, health.Score)

	slog.Info("deployment succeeded",
		"workflow_id", workflowID,
		"checkpoint_id", cp.ID,
		"health_score", health.Score,
		"warnings", len(result.Warnings),
	)
	return result
}

// createCheckpoint reads the workflow's current remote representation and
// stores a deep copy as the rollback target.
func (o *Orchestrator) createCheckpoint(ctx context.Context, workflowID string) (*domain.DeploymentCheckpoint, error) {
	wf, err := o.engine.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("read current workflow: %w", err)
	}
	snapshot, err := wf.Clone()
	if err != nil {
		return nil, fmt.Errorf("copy workflow snapshot: %w", err)
	}

	cp := &domain.DeploymentCheckpoint{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Snapshot:   snapshot,
		CreatedAt:  time.Now(),
	}
	o.checkpoints.Put(cp)
	slog.Info("checkpoint created", "checkpoint_id", cp.ID, "workflow_id", workflowID)
	return cp, nil
}

// activate calls the engine's activation action, waits the settle delay, and
// re-reads the workflow. The read-back must report active = true.
func (o *Orchestrator) activate(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	if err := o.engine.ActivateWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	time.Sleep(o.settleDelay)

	readback, err := o.engine.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("read-back after activation: %w", err)
	}
	if !readback.Active {
		return nil, fmt.Errorf("engine reports active=false after activation call succeeded")
	}
	return readback, nil
}

// smokeTest attempts one execution with a minimal payload.
func (o *Orchestrator) smokeTest(ctx context.Context, workflowID string) *SmokeTestResult {
	_, err := o.engine.ExecuteWorkflow(ctx, workflowID, map[string]any{
		"test":   true,
		"source": "deployment_smoke_test",
	})
	if err != nil {
		slog.Warn("smoke test failed", "workflow_id", workflowID, "error", err)
		return &SmokeTestResult{Passed: false, Error: err.Error()}
	}
	return &SmokeTestResult{Passed: true}
}

// rollback is the compensating action for a critical failure. Every step is
// attempted regardless of individual failures, and each failure is recorded
// in the result's own rollback error list.
func (o *Orchestrator) rollback(ctx context.Context, cp *domain.DeploymentCheckpoint, result *Result) {
	result.RolledBack = true
	slog.Warn("rolling back deployment", "checkpoint_id", cp.ID, "workflow_id", cp.WorkflowID)

	current, err := o.engine.GetWorkflow(ctx, cp.WorkflowID)
	if err != nil {
		result.RollbackErrors = append(result.RollbackErrors,
			fmt.Sprintf("read workflow state: %v", err))
	}
	if current != nil && current.Active {
		if err := o.engine.DeactivateWorkflow(ctx, cp.WorkflowID); err != nil {
			result.RollbackErrors = append(result.RollbackErrors,
				fmt.Sprintf("deactivate: %v", err))
		}
	}

	if cp.Snapshot != nil {
		if err := o.engine.UpdateWorkflow(ctx, cp.WorkflowID, cp.Snapshot); err != nil {
			result.RollbackErrors = append(result.RollbackErrors,
				fmt.Sprintf("restore snapshot: %v", err))
		}
	}

	cp.Steps = append(cp.Steps, string(StateRolledBack))
	cp.Errors = append(cp.Errors, result.RollbackErrors...)
	o.checkpoints.Delete(cp.ID)

	if len(result.RollbackErrors) == 0 {
		slog.Info("rollback complete", "checkpoint_id", cp.ID, "workflow_id", cp.WorkflowID)
	} else {
		slog.Error("rollback finished with errors",
			"checkpoint_id", cp.ID,
			"workflow_id", cp.WorkflowID,
			"errors", strings.Join(result.RollbackErrors, "; "),
		)
	}
}

// fail handles an internal state machine error: roll back and mark failed.
func (o *Orchestrator) fail(result *Result, a *attempt, cp *domain.DeploymentCheckpoint, err error) *Result {
	result.Errors = append(result.Errors, err.Error())
	result.Details = "internal deployment error; rolled back"
	o.rollback(context.Background(), cp, result)
	result.State = StateFailed
	slog.Error("deployment failed", "workflow_id", result.WorkflowID, "state", a.state, "error", err)
	return result
}

// webhookURLs builds the informational webhook URL list: one entry for every
// trigger node whose configuration specifies a path.
func webhookURLs(wf *domain.Workflow, baseURL string) []string {
	var urls []string
	for _, n := range wf.Nodes {
		if !n.IsTrigger() {
			continue
		}
		path, ok := n.Parameters["path"].(string)
		if !ok || path == "" {
			continue
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		urls = append(urls, baseURL+"/webhook"+path)
	}
	return urls
}
