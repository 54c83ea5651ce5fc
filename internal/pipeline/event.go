package pipeline

import (
	"context"
	"time"

	"github.com/turbolytics/porter/internal/metrics"
	"github.com/turbolytics/porter/internal/registry"
)

// RunEvent is emitted once per run, when it reaches a terminal status.
type RunEvent struct {
	RunID       string             `json:"run_id"`
	ConnectorID string             `json:"connector_id"`
	Status      registry.RunStatus `json:"status"`
	Stats       *metrics.Snapshot  `json:"stats,omitempty"`
	DQFailures  []string           `json:"dq_failures,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

// Publisher receives terminal run events. Delivery is best effort; a
// publish failure never fails the run it describes.
type Publisher interface {
	Publish(ctx context.Context, event RunEvent) error
}
