package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashvetsov/flowpilot/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-memory stand-in for the remote automation engine.
type fakeEngine struct {
	mu         sync.Mutex
	workflows  map[string]*domain.Workflow
	executions map[string][]domain.Execution

	getErr        error
	activateErr   error
	activateNoop  bool // activation call succeeds but active stays false
	updateErr     error
	deactivateErr error
	executeErr    error
	listErr       error

	updateCalls     []*domain.Workflow
	deactivateCalls []string
	executeCalls    []string
}

func newFakeEngine(workflows ...*domain.Workflow) *fakeEngine {
	e := &fakeEngine{
		workflows:  make(map[string]*domain.Workflow),
		executions: make(map[string][]domain.Execution),
	}
	for _, wf := range workflows {
		e.workflows[wf.ID] = wf
	}
	return e
}

func (e *fakeEngine) BaseURL() string { return "http://engine.test" }

func (e *fakeEngine) CreateWorkflow(_ context.Context, candidate *domain.WorkflowCandidate) (*domain.Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf := &domain.Workflow{
		ID:          "created-1",
		Name:        candidate.Name,
		Nodes:       candidate.Nodes,
		Connections: candidate.Connections,
	}
	e.workflows[wf.ID] = wf
	return wf, nil
}

func (e *fakeEngine) GetWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.getErr != nil {
		return nil, e.getErr
	}
	wf, ok := e.workflows[id]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return wf.Clone()
}

func (e *fakeEngine) UpdateWorkflow(_ context.Context, id string, wf *domain.Workflow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.updateErr != nil {
		return e.updateErr
	}
	clone, err := wf.Clone()
	if err != nil {
		return err
	}
	e.updateCalls = append(e.updateCalls, clone)
	e.workflows[id] = clone
	return nil
}

func (e *fakeEngine) ActivateWorkflow(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activateErr != nil {
		return e.activateErr
	}
	if !e.activateNoop {
		if wf, ok := e.workflows[id]; ok {
			wf.Active = true
		}
	}
	return nil
}

func (e *fakeEngine) DeactivateWorkflow(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deactivateCalls = append(e.deactivateCalls, id)
	if e.deactivateErr != nil {
		return e.deactivateErr
	}
	if wf, ok := e.workflows[id]; ok {
		wf.Active = false
	}
	return nil
}

func (e *fakeEngine) ListExecutions(_ context.Context, workflowID string, limit int) ([]domain.Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listErr != nil {
		return nil, e.listErr
	}
	execs := e.executions[workflowID]
	if len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func (e *fakeEngine) ExecuteWorkflow(_ context.Context, id string, _ map[string]any) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executeCalls = append(e.executeCalls, id)
	if e.executeErr != nil {
		return nil, e.executeErr
	}
	return map[string]any{"status": "ok"}, nil
}

func deployableWorkflow(id string) *domain.Workflow {
	wf := &domain.Workflow{
		ID:   id,
		Name: "Invoice Sync",
		Nodes: []domain.Node{
			{ID: "start", Name: "On Invoice", Type: "core.webhookTrigger", Parameters: map[string]any{"path": "/invoices"}},
			{ID: "save", Name: "Save Row", Type: "core.database", Parameters: map[string]any{"table": "invoices"}},
		},
	}
	wf.Connections = map[string]any{
		"On Invoice": map[string]any{"main": []any{[]any{map[string]any{"node": "Save Row"}}}},
	}
	return wf
}

func newTestOrchestrator(e *fakeEngine) *Orchestrator {
	return New(e, 0, time.Minute)
}

func TestDeploy_Success(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	o := newTestOrchestrator(e)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.True(t, result.Success)
	require.Equal(t, StateSucceeded, result.State)
	require.NotEmpty(t, result.CheckpointID)
	require.False(t, result.RolledBack)
	require.Empty(t, result.Errors)
	require.Equal(t, 100, result.Validation.Score)
	require.NotNil(t, result.Health)
	require.True(t, result.SmokeTest.Passed)
	require.Equal(t, []string{"http://engine.test/webhook/invoices"}, result.WebhookURLs)
	// Checkpoint record is released on the terminal transition; the ID is
	// kept in the result for audit.
	require.Equal(t, 0, o.checkpoints.Len())
}

func TestDeploy_CheckpointReadFailureAbortsBeforeMutation(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	e.getErr = errors.New("engine unreachable")
	o := newTestOrchestrator(e)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.False(t, result.Success)
	require.Equal(t, StateFailed, result.State)
	require.False(t, result.RolledBack, "nothing to roll back before the checkpoint exists")
	require.Empty(t, result.CheckpointID)
	require.NotEmpty(t, result.Errors)
	require.Contains(t, result.Errors[0], "checkpoint")
	require.Empty(t, e.updateCalls)
	require.Empty(t, e.deactivateCalls)
}

func TestDeploy_CriticalValidationRollsBack(t *testing.T) {
	// A workflow with no trigger node scores <= 60 and is critical.
	wf := &domain.Workflow{
		ID:    "wf1",
		Name:  "no trigger",
		Nodes: []domain.Node{{ID: "a", Name: "A", Type: "core.httpRequest", Parameters: map[string]any{"url": "x"}}},
		Connections: map[string]any{
			"A": map[string]any{"main": []any{}},
		},
	}
	e := newFakeEngine(wf)
	o := newTestOrchestrator(e)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.False(t, result.Success)
	require.Equal(t, StateRolledBack, result.State)
	require.True(t, result.RolledBack)
	require.True(t, result.Validation.Critical)
	require.LessOrEqual(t, result.Validation.Score, 60)
	require.Equal(t, 0, o.checkpoints.Len(), "checkpoint discarded after rollback")
}

func TestDeploy_ActivationMismatchRollsBack(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	e.activateNoop = true // call succeeds, read-back still reports inactive
	o := newTestOrchestrator(e)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.False(t, result.Success)
	require.True(t, result.RolledBack)
	require.Equal(t, StateRolledBack, result.State)
	require.Contains(t, result.Errors[0], "activation")
	// The snapshot was written back to restore the prior definition.
	require.NotEmpty(t, e.updateCalls)
}

// After a successful rollback, re-reading the workflow yields the definition
// captured at checkpoint time.
func TestDeploy_RollbackRoundTrip(t *testing.T) {
	original := deployableWorkflow("wf1")
	original.Nodes = original.Nodes[:1] // drop the action node: trigger only
	original.Connections = map[string]any{}
	// Solo trigger with no connections is only a warning, so force failure
	// at activation instead.
	e := newFakeEngine(original)
	e.activateNoop = true
	o := newTestOrchestrator(e)

	before, err := e.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")
	require.False(t, result.Success)
	require.True(t, result.RolledBack)
	require.True(t, result.RollbackClean())

	after, err := e.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDeploy_DirtyRollbackIsDistinguishable(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	e.activateNoop = true
	e.updateErr = errors.New("engine rejected restore")
	o := newTestOrchestrator(e)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.False(t, result.Success)
	require.True(t, result.RolledBack)
	require.False(t, result.RollbackClean())
	require.NotEmpty(t, result.RollbackErrors)
	require.Contains(t, result.RollbackErrors[0], "restore snapshot")
}

func TestDeploy_SmokeTestFailureIsWarningOnly(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	e.executeErr = errors.New("workflow needs production inputs")
	o := newTestOrchestrator(e)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.True(t, result.Success, "smoke test failure never causes rollback")
	require.False(t, result.SmokeTest.Passed)
	require.False(t, result.RolledBack)
	require.NotEmpty(t, result.Warnings)
}

func TestDeploy_DegradedHealthIsSuccessWithWarning(t *testing.T) {
	wf := deployableWorkflow("wf1")
	e := newFakeEngine(wf)
	// 8 of 10 recent executions failed: -40. One of them ran for 6 minutes: -15.
	stop := time.Now()
	slowStart := stop.Add(-6 * time.Minute)
	for i := 0; i < 10; i++ {
		exec := domain.Execution{ID: "e", WorkflowID: "wf1", Status: "success", StartedAt: stop.Add(-time.Minute), StoppedAt: &stop}
		if i < 8 {
			exec.Status = "error"
		}
		if i == 0 {
			exec.StartedAt = slowStart
		}
		e.executions["wf1"] = append(e.executions["wf1"], exec)
	}
	o := newTestOrchestrator(e)

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.True(t, result.Success, "low health is degraded success, not failure")
	require.True(t, result.Health.Degraded())
	require.Equal(t, 45, result.Health.Score)
	require.InDelta(t, 0.8, result.Health.FailureRate, 0.0001)
	require.NotEmpty(t, result.Warnings)
}

func TestDeploy_ConcurrentAttemptFailsFast(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	o := newTestOrchestrator(e)

	lock, _ := o.deployLocks.LoadOrStore("wf1", &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	result := o.Deploy(context.Background(), "wf1", "sess1", "user1")

	require.False(t, result.Success)
	require.Equal(t, StateFailed, result.State)
	require.Contains(t, result.Errors[0], "already in progress")
}

func TestWebhookURLs(t *testing.T) {
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{Name: "hook", Type: "core.webhookTrigger", Parameters: map[string]any{"path": "orders"}},
			{Name: "hook2", Type: "core.webhookTrigger", Parameters: map[string]any{"path": "/invoices"}},
			{Name: "no path", Type: "core.manualTrigger"},
			{Name: "action", Type: "core.httpRequest", Parameters: map[string]any{"path": "/ignored"}},
		},
	}
	urls := webhookURLs(wf, "http://engine.test")
	require.Equal(t, []string{
		"http://engine.test/webhook/orders",
		"http://engine.test/webhook/invoices",
	}, urls)
}

// Lock entries must survive a finished attempt. Removing one would let a
// later attempt mint a fresh mutex and deploy concurrently with a holder of
// the old mutex that is still mid-deployment.
func TestDeploy_LockGuardsAcrossCompletedAttempts(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	o := newTestOrchestrator(e)

	first := o.Deploy(context.Background(), "wf1", "sess1", "user1")
	require.True(t, first.Success)

	// An attempt that raced the first one's finish holds the mutex already
	// in the map.
	lock, ok := o.deployLocks.Load("wf1")
	require.True(t, ok, "lock entry must persist after an attempt finishes")
	require.True(t, lock.(*sync.Mutex).TryLock())
	defer lock.(*sync.Mutex).Unlock()

	next := o.Deploy(context.Background(), "wf1", "sess2", "user1")
	require.False(t, next.Success)
	require.Equal(t, StateFailed, next.State)
	require.Contains(t, next.Errors[0], "already in progress")
}

// The checkpoint record carries the rollback outcome: a rolled_back step and
// every rollback error, so an inspected checkpoint shows what happened to it.
func TestRollback_RecordsOutcomeOnCheckpoint(t *testing.T) {
	e := newFakeEngine(deployableWorkflow("wf1"))
	e.updateErr = errors.New("engine rejected restore")
	o := newTestOrchestrator(e)

	cp, err := o.createCheckpoint(context.Background(), "wf1")
	require.NoError(t, err)
	require.Empty(t, cp.Steps)

	result := &Result{WorkflowID: "wf1", CheckpointID: cp.ID}
	o.rollback(context.Background(), cp, result)

	require.Equal(t, []string{string(StateRolledBack)}, cp.Steps)
	require.NotEmpty(t, cp.Errors)
	require.Contains(t, cp.Errors[0], "restore snapshot")
	require.Equal(t, result.RollbackErrors, cp.Errors)
	require.Equal(t, 0, o.checkpoints.Len())
}
