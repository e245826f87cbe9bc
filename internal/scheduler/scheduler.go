// Package scheduler implements the admission controller that starts and
// stops roles to keep host usage under the configured thresholds.
package scheduler

import (
	"context"

	"github.com/me/rolesched/pkg/model"
)

// Scheduler samples resources on a fixed interval and adjusts the set of
// active roles.
type Scheduler interface {
	// Start begins the monitoring loop. Blocks until ctx is cancelled or
	// Stop is called.
	Start(ctx context.Context) error

	// Stop ends the monitoring loop.
	Stop() error

	// Tick runs a single admission decision. Used for testing.
	Tick(ctx context.Context) model.Decision
}
