package registry

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunFinalized is returned when an update targets a run that
	// already reached a terminal status.
	ErrRunFinalized = errors.New("run already finalized")
)

// Registry persists connector definitions, discovered streams, runs and
// data quality rules. Implementations must be safe for concurrent use.
type Registry interface {
	CreateConnector(ctx context.Context, name string, kind Kind, config Config) (*Connector, error)
	GetConnector(ctx context.Context, id string) (*Connector, error)

	// AddStream upserts by (connector, name) so rediscovery refreshes
	// the schema instead of accumulating duplicates.
	AddStream(ctx context.Context, connectorID, name string, schema map[string]string, columns []string) (*Stream, error)
	StreamsForConnector(ctx context.Context, connectorID string) ([]Stream, error)

	CreateRun(ctx context.Context, connectorID string) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	// UpdateRun replaces the stored run. Runs in a terminal status are
	// immutable; updating one fails with ErrRunFinalized.
	UpdateRun(ctx context.Context, run *Run) error

	AddDQRule(ctx context.Context, target RuleTarget, targetRef, field, rule string, severity Severity) (*DQRule, error)
	RulesForTarget(ctx context.Context, target RuleTarget, targetRef string) ([]DQRule, error)
}
