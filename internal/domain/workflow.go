package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Node is a single workflow node as the automation engine represents it.
type Node struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// IsTrigger reports whether the node is a recognized trigger-type node. The
// engine names its entry-point node types with a "trigger", "webhook" or
// "start" suffix.
func (n Node) IsTrigger() bool {
	t := strings.ToLower(n.Type)
	return strings.Contains(t, "trigger") ||
		strings.Contains(t, "webhook") ||
		strings.HasSuffix(t, "start")
}

// Workflow is the remote engine's representation of a workflow. Connections
// keep the engine's nested wire shape (source node name -> output groups ->
// target references) as an opaque map.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	Nodes       []Node         `json:"nodes"`
	Connections map[string]any `json:"connections"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// Clone returns a deep copy of the workflow via a JSON round-trip, so a
// checkpoint snapshot cannot alias the engine response it was taken from.
func (w *Workflow) Clone() (*Workflow, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var out Workflow
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkflowCandidate is a workflow definition extracted from a model response.
// Ephemeral: it either becomes a created workflow on the engine or is
// discarded within the request.
type WorkflowCandidate struct {
	Name        string         `json:"name"`
	Nodes       []Node         `json:"nodes"`
	Connections map[string]any `json:"connections"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// Execution is one past run of a workflow as reported by the engine.
type Execution struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
}

// Failed reports whether the execution finished unsuccessfully.
func (e Execution) Failed() bool {
	return e.Status == "error" || e.Status == "failed" || e.Status == "crashed"
}

// Duration returns the execution's wall-clock run time, or zero while it is
// still running.
func (e Execution) Duration() time.Duration {
	if e.StoppedAt == nil {
		return 0
	}
	return e.StoppedAt.Sub(e.StartedAt)
}
