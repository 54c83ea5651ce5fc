package catalog

import (
	"encoding/json"
	"time"

	"github.com/turbolytics/porter/internal/metrics"
)

/*
The catalog is a record of what a run processed.
The catalog is a primitive for verifying, inventorying and auditing
data operations. One catalog is rendered per run, alongside the
artifacts it describes.
*/

// Batch describes one persisted batch artifact and where its rows came
// from.
type Batch struct {
	Index          int    `json:"index"`
	Path           string `json:"path"`
	ProvenancePath string `json:"provenance_path"`
	Rows           int    `json:"rows"`
	Offset         int64  `json:"offset"`
}

type Stream struct {
	Name    string  `json:"name"`
	Batches []Batch `json:"batches"`
}

type Catalog struct {
	RunID       string            `json:"run_id"`
	ConnectorID string            `json:"connector_id"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Streams     []*Stream         `json:"streams"`
	Stats       *metrics.Snapshot `json:"stats,omitempty"`
	Completed   bool              `json:"completed"`
}

func New(runID string, connectorID string) *Catalog {
	return &Catalog{
		RunID:       runID,
		ConnectorID: connectorID,
		StartTime:   time.Now().UTC(),
	}
}

// AddBatch records a persisted batch under its stream, creating the
// stream entry on first sight. Stream order follows processing order.
func (c *Catalog) AddBatch(stream string, b Batch) {
	for _, s := range c.Streams {
		if s.Name == stream {
			s.Batches = append(s.Batches, b)
			return
		}
	}
	c.Streams = append(c.Streams, &Stream{
		Name:    stream,
		Batches: []Batch{b},
	})
}

func (c *Catalog) Render() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
