package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashvetsov/flowpilot/internal/domain"
)

const (
	// healthWarnThreshold marks a deployment as degraded, never as failed.
	healthWarnThreshold = 50

	recentExecutionLimit = 10
	slowExecutionLimit   = 5 * time.Minute
)

// HealthResult scores a freshly activated workflow. A low score is surfaced
// as a degraded-success outcome, not a rollback trigger.
type HealthResult struct {
	Score       int      `json:"score"`
	Active      bool     `json:"active"`
	FailureRate float64  `json:"failure_rate,omitempty"`
	Findings    []string `json:"findings,omitempty"`
}

// Degraded reports whether the score fell below the warning threshold.
func (r *HealthResult) Degraded() bool {
	return r.Score < healthWarnThreshold
}

// checkHealth inspects the workflow's recent executions and node
// configuration and produces the post-activation health score.
func (o *Orchestrator) checkHealth(ctx context.Context, wf *domain.Workflow) *HealthResult {
	result := &HealthResult{Score: 100, Active: wf.Active}

	if !wf.Active {
		result.Score -= 20
		result.Findings = append(result.Findings, "workflow is not active")
	}

	executions, err := o.engine.ListExecutions(ctx, wf.ID, recentExecutionLimit)
	if err != nil {
		// No execution history is not a health penalty; record and move on.
		slog.Warn("could not list executions for health check", "workflow_id", wf.ID, "error", err)
		result.Findings = append(result.Findings, "recent executions unavailable: "+err.Error())
		executions = nil
	}

	if len(executions) > 0 {
		failed := 0
		slow := false
		for _, e := range executions {
			if e.Failed() {
				failed++
			}
			if e.Duration() > slowExecutionLimit {
				slow = true
			}
		}
		rate := float64(failed) / float64(len(executions))
		switch {
		case rate > 0.5:
			result.Score -= 40
			result.FailureRate = rate
			result.Findings = append(result.Findings,
				fmt.Sprintf("%.0f%% of recent executions failed", rate*100))
		case rate >= 0.2:
			result.Score -= 20
			result.FailureRate = rate
			result.Findings = append(result.Findings,
				fmt.Sprintf("%.0f%% of recent executions failed", rate*100))
		}
		if slow {
			result.Score -= 15
			result.Findings = append(result.Findings,
				fmt.Sprintf("a recent execution ran longer than %s", slowExecutionLimit))
		}
	}

	for _, n := range wf.Nodes {
		if len(n.Parameters) == 0 {
			result.Score -= 5
			result.Findings = append(result.Findings,
				fmt.Sprintf("node %q has an empty configuration", n.Name))
		}
	}

	if result.Score < 0 {
		result.Score = 0
	}
	return result
}
