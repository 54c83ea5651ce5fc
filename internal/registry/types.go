package registry

import (
	"fmt"
	"time"

	"github.com/turbolytics/porter/internal/metrics"
)

type Kind string

const (
	KindFile        Kind = "FILE"
	KindObjectStore Kind = "OBJECT_STORE"
)

type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type RuleTarget string

const (
	TargetStream RuleTarget = "stream"
	TargetEntity RuleTarget = "entity"
)

// DedupeConfig selects the row fields forming the duplicate key and
// sizes the filter. Zero Capacity or ErrorRate fall back to the dedupe
// package defaults.
type DedupeConfig struct {
	Keys      []string `yaml:"keys" json:"keys" bson:"keys"`
	Capacity  uint     `yaml:"capacity,omitempty" json:"capacity,omitempty" bson:"capacity,omitempty"`
	ErrorRate float64  `yaml:"error_rate,omitempty" json:"error_rate,omitempty" bson:"error_rate,omitempty"`
}

// Config carries every connector setting. Kind selects which fields
// apply.
type Config struct {
	// file connectors
	Path string `yaml:"path,omitempty" json:"path,omitempty" bson:"path,omitempty"`

	// object store connectors
	Bucket         string   `yaml:"bucket,omitempty" json:"bucket,omitempty" bson:"bucket,omitempty"`
	Keys           []string `yaml:"keys,omitempty" json:"keys,omitempty" bson:"keys,omitempty"`
	Prefix         string   `yaml:"prefix,omitempty" json:"prefix,omitempty" bson:"prefix,omitempty"`
	Region         string   `yaml:"region,omitempty" json:"region,omitempty" bson:"region,omitempty"`
	Endpoint       string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty" bson:"endpoint,omitempty"`
	ForcePathStyle bool     `yaml:"force_path_style,omitempty" json:"force_path_style,omitempty" bson:"force_path_style,omitempty"`

	// streaming tuning, object store only
	ChunkSizeBytes int `yaml:"chunk_size_bytes,omitempty" json:"chunk_size_bytes,omitempty" bson:"chunk_size_bytes,omitempty"`
	BufferChunks   int `yaml:"buffer_chunks,omitempty" json:"buffer_chunks,omitempty" bson:"buffer_chunks,omitempty"`
	MaxWorkers     int `yaml:"max_workers,omitempty" json:"max_workers,omitempty" bson:"max_workers,omitempty"`

	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty" bson:"batch_size,omitempty"`

	Dedupe *DedupeConfig `yaml:"dedupe,omitempty" json:"dedupe,omitempty" bson:"dedupe,omitempty"`
}

// Validate checks the fields required by the connector kind.
func (c Config) Validate(kind Kind) error {
	switch kind {
	case KindFile:
		if c.Path == "" {
			return fmt.Errorf("file connector requires a path")
		}
	case KindObjectStore:
		if c.Bucket == "" {
			return fmt.Errorf("object store connector requires a bucket")
		}
		if len(c.Keys) == 0 && c.Prefix == "" {
			return fmt.Errorf("object store connector requires keys or a prefix")
		}
	default:
		return fmt.Errorf("unknown connector kind: %q", kind)
	}
	return nil
}

type Connector struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Kind      Kind      `json:"kind" bson:"kind"`
	Config    Config    `json:"config" bson:"config"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Stream is a named record flow discovered on a connector. Columns
// preserves source header order, Schema maps column name to inferred
// type.
type Stream struct {
	ID          string            `json:"id" bson:"_id"`
	ConnectorID string            `json:"connector_id" bson:"connector_id"`
	Name        string            `json:"name" bson:"name"`
	Schema      map[string]string `json:"schema" bson:"schema"`
	Columns     []string          `json:"columns" bson:"columns"`
}

// Run is the unit of pipeline execution. It is created QUEUED and moves
// through RUNNING to exactly one terminal status; FinishedAt is stamped
// on the terminal transition.
type Run struct {
	ID          string            `json:"id" bson:"_id"`
	ConnectorID string            `json:"connector_id" bson:"connector_id"`
	Status      RunStatus         `json:"status" bson:"status"`
	StartedAt   time.Time         `json:"started_at" bson:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
	Stats       *metrics.Snapshot `json:"stats,omitempty" bson:"stats,omitempty"`
	DQFailures  []string          `json:"dq_failures,omitempty" bson:"dq_failures,omitempty"`
	Error       string            `json:"error,omitempty" bson:"error,omitempty"`
}

type DQRule struct {
	ID        string     `json:"id" bson:"_id"`
	Target    RuleTarget `json:"target" bson:"target"`
	TargetRef string     `json:"target_ref" bson:"target_ref"`
	Field     string     `json:"field" bson:"field"`
	Rule      string     `json:"rule" bson:"rule"`
	Severity  Severity   `json:"severity" bson:"severity"`
}
