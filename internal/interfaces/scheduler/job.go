package scheduler

import "context"

// Job is a unit of background work the pool can run.
type Job interface {
	// Execute runs the job. Implementations must respect ctx cancellation.
	Execute(ctx context.Context) error

	// Name is a short stable identifier used in logs and metrics.
	Name() string

	// Description is a human-readable summary used in logs.
	Description() string
}
