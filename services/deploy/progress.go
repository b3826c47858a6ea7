package deploy

import (
	"context"
	"fmt"
)

// ProgressEvent is the event name snapshots are published under.
const ProgressEvent = "task_progress"

// Status of a single host within a run.
type Status string

const (
	StatusWait  Status = "wait"
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// Snapshot is a point-in-time view of a deployment run: one entry per host
// plus the overall completion percentage and the accumulated error text.
type Snapshot struct {
	Result  []string `json:"result"`
	Percent float64  `json:"percent"`
	Error   *string  `json:"error"`
}

// Sink receives progress snapshots as a run advances. *bus.Bus satisfies
// this. Implementations must tolerate concurrent calls.
type Sink interface {
	Emit(ctx context.Context, event string, payload any) error
}

func statusLine(host string, st Status) string {
	return fmt.Sprintf("'%s': '%s'", host, st)
}
