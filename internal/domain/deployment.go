package domain

import (
	"time"
)

// DeploymentCheckpoint is the rollback target captured at the start of a
// deployment attempt. Held in process memory only; a best-effort guarantee,
// not a durability guarantee.
type DeploymentCheckpoint struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Snapshot   *Workflow `json:"snapshot"`
	Steps      []string  `json:"steps"`
	Errors     []string  `json:"errors,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
