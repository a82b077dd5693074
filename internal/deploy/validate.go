package deploy

import (
	"fmt"

	"github.com/ashvetsov/flowpilot/internal/domain"
)

const (
	penaltyNoNodes       = 50
	penaltyNoConnections = 30
	penaltyNoTrigger     = 40
	penaltyOrphanNode    = 5
)

// Violation is one structural rule failure found during validation.
type Violation struct {
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
	Penalty  int    `json:"penalty"`
	Critical bool   `json:"critical"`
}

// ValidationResult scores a workflow's structure. Critical violations force
// rollback; non-critical ones are warnings and deployment proceeds.
type ValidationResult struct {
	Score      int         `json:"score"`
	Critical   bool        `json:"critical"`
	Violations []Violation `json:"violations,omitempty"`
}

// Warnings returns the non-critical violation details.
func (r *ValidationResult) Warnings() []string {
	var out []string
	for _, v := range r.Violations {
		if !v.Critical {
			out = append(out, v.Detail)
		}
	}
	return out
}

// Validate applies the structural deployment rules to a workflow. Rule
// evaluation is idempotent: the same immutable definition always yields the
// same score.
func Validate(wf *domain.Workflow) *ValidationResult {
	result := &ValidationResult{Score: 100}

	nonTrigger := 0
	hasTrigger := false
	for _, n := range wf.Nodes {
		if n.IsTrigger() {
			hasTrigger = true
		} else {
			nonTrigger++
		}
	}

	if len(wf.Nodes) == 0 {
		result.add(Violation{
			Rule:     "has_nodes",
			Detail:   "workflow has no nodes",
			Penalty:  penaltyNoNodes,
			Critical: true,
		})
	}

	if len(wf.Connections) == 0 {
		// A workflow that is nothing but trigger nodes has nothing to wire
		// up, so an empty connection map is only a warning there.
		result.add(Violation{
			Rule:     "has_connections",
			Detail:   "workflow has no connections",
			Penalty:  penaltyNoConnections,
			Critical: nonTrigger > 0,
		})
	}

	if !hasTrigger {
		result.add(Violation{
			Rule:     "has_trigger",
			Detail:   "workflow has no trigger-type node",
			Penalty:  penaltyNoTrigger,
			Critical: true,
		})
	}

	endpoints := connectionEndpoints(wf.Connections)
	for _, n := range wf.Nodes {
		if n.IsTrigger() {
			continue
		}
		if endpoints[n.Name] || endpoints[n.ID] {
			continue
		}
		result.add(Violation{
			Rule:     "node_connected",
			Detail:   fmt.Sprintf("node %q is not connected to anything", n.Name),
			Penalty:  penaltyOrphanNode,
			Critical: false,
		})
	}

	if result.Score < 0 {
		result.Score = 0
	}
	return result
}

func (r *ValidationResult) add(v Violation) {
	r.Violations = append(r.Violations, v)
	r.Score -= v.Penalty
	if v.Critical {
		r.Critical = true
	}
}

// connectionEndpoints collects every node reference that appears in the
// engine's nested connection map, as a source (top-level key) or a target
// (any nested "node" value).
func connectionEndpoints(connections map[string]any) map[string]bool {
	endpoints := make(map[string]bool)
	for source, targets := range connections {
		endpoints[source] = true
		collectNodeRefs(targets, endpoints)
	}
	return endpoints
}

func collectNodeRefs(v any, endpoints map[string]bool) {
	switch t := v.(type) {
	case map[string]any:
		if node, ok := t["node"].(string); ok {
			endpoints[node] = true
		}
		for _, child := range t {
			collectNodeRefs(child, endpoints)
		}
	case []any:
		for _, child := range t {
			collectNodeRefs(child, endpoints)
		}
	}
}
