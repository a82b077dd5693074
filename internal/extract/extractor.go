// Package extract parses workflow definitions out of model responses.
package extract

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashvetsov/flowpilot/internal/domain"
)

// fencedJSON matches one fenced structured-data block in a model response.
// Only the first block is considered.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")

// Extract pulls a workflow candidate out of a model response. Best effort and
// non-authoritative: the deployment orchestrator is the sole authority on
// whether a candidate is deployable. Returns nil for responses with no fenced
// block, a malformed block, or a block missing name, nodes or connections.
func Extract(responseText string) *domain.WorkflowCandidate {
	match := fencedJSON.FindStringSubmatch(responseText)
	if match == nil {
		return nil
	}

	raw := strings.TrimSpace(match[1])
	if raw == "" {
		return nil
	}

	var candidate domain.WorkflowCandidate
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		slog.Debug("fenced block is not a workflow definition", "error", err)
		return nil
	}

	// Partial candidates are worse than none: reject rather than hand the
	// pipeline a half-populated definition.
	if candidate.Name == "" || len(candidate.Nodes) == 0 || candidate.Connections == nil {
		return nil
	}
	return &candidate
}
