package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/customs-lookup/internal/types"
)

// Run status values
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusStopped   = "stopped"
	RunStatusFailed    = "failed"
)

// LaneField is the result row copied into its own column for querying.
var LaneField = types.ResultFields[0]

// Result is one stored lookup
type Result struct {
	Declaration string            `json:"declaration"`
	RunID       uuid.UUID         `json:"run_id,omitempty"`
	Lane        string            `json:"lane"`
	Fields      map[string]string `json:"fields"`
	LookedUpAt  time.Time         `json:"looked_up_at"`
}

// RunStatusFor maps the last event of a batch to a run status.
func RunStatusFor(last types.EventKind) string {
	switch last {
	case types.EventDone:
		return RunStatusCompleted
	case types.EventStopped:
		return RunStatusStopped
	default:
		return RunStatusFailed
	}
}
