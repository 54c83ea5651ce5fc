package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal"
	"github.com/turbolytics/porter/internal/catalog"
	"github.com/turbolytics/porter/internal/dedupe"
	"github.com/turbolytics/porter/internal/dq"
	"github.com/turbolytics/porter/internal/mapper"
	"github.com/turbolytics/porter/internal/metrics"
	"github.com/turbolytics/porter/internal/parquet"
	"github.com/turbolytics/porter/internal/registry"
	"github.com/turbolytics/porter/internal/source"
)

// SourceFactory builds the source for a connector.
type SourceFactory func(connector *registry.Connector, logger *zap.Logger) (source.Source, error)

// DefaultSourceFactory selects the source implementation by connector
// kind.
func DefaultSourceFactory(connector *registry.Connector, logger *zap.Logger) (source.Source, error) {
	switch connector.Kind {
	case registry.KindFile:
		return source.NewFileSource(
			connector.Config.Path,
			source.WithFileLogger(logger),
		), nil
	case registry.KindObjectStore:
		opts := []source.ObjectStoreOption{
			source.WithObjectStoreLogger(logger),
		}
		if len(connector.Config.Keys) > 0 {
			opts = append(opts, source.WithKeys(connector.Config.Keys))
		}
		if connector.Config.Prefix != "" {
			opts = append(opts, source.WithPrefix(connector.Config.Prefix))
		}
		if connector.Config.Region != "" {
			opts = append(opts, source.WithRegion(connector.Config.Region))
		}
		if connector.Config.Endpoint != "" {
			opts = append(opts, source.WithEndpoint(connector.Config.Endpoint))
		}
		if connector.Config.ForcePathStyle {
			opts = append(opts, source.WithForcePathStyle(true))
		}
		if connector.Config.ChunkSizeBytes > 0 {
			opts = append(opts, source.WithChunkSize(connector.Config.ChunkSizeBytes))
		}
		if connector.Config.BufferChunks > 0 {
			opts = append(opts, source.WithBufferChunks(connector.Config.BufferChunks))
		}
		if connector.Config.MaxWorkers > 0 {
			opts = append(opts, source.WithMaxWorkers(connector.Config.MaxWorkers))
		}
		return source.NewObjectStoreSource(connector.Config.Bucket, opts...)
	default:
		return nil, fmt.Errorf("unknown connector kind: %q", connector.Kind)
	}
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithRegistry(r registry.Registry) Option {
	return func(p *Pipeline) {
		p.registry = r
	}
}

func WithRepository(r internal.Repository) Option {
	return func(p *Pipeline) {
		p.repository = r
	}
}

func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

func WithSourceFactory(f SourceFactory) Option {
	return func(p *Pipeline) {
		p.sourceFactory = f
	}
}

// Pipeline drives runs from QUEUED to a terminal status. Rows are read
// in batches, deduplicated, mapped, quality checked, and preserved as
// parquet artifacts with provenance sidecars.
type Pipeline struct {
	logger        *zap.Logger
	registry      registry.Registry
	repository    internal.Repository
	publisher     Publisher
	sourceFactory SourceFactory
	checker       *dq.Checker
}

func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		logger:        zap.NewNop(),
		sourceFactory: DefaultSourceFactory,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if p.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}

	p.checker = dq.New(dq.WithLogger(p.logger))
	return p, nil
}

// RunOptions carries per run operator settings.
type RunOptions struct {
	// MappingSpec is an optional YAML mapping document applied to every
	// surviving row.
	MappingSpec string
	// DQField names a source field that must be present and non-empty
	// in every row.
	DQField string
}

// execution is the per run working state.
type execution struct {
	run       *registry.Run
	connector *registry.Connector
	opts      RunOptions

	collector *metrics.Collector
	filter    *dedupe.Filter
	mapping   *mapper.Mapping
	catalog   *catalog.Catalog

	streamRules map[string][]registry.DQRule
	entityRules []registry.DQRule

	// next artifact index, global across streams
	batch int
}

// Discover builds the connector's source, lists its streams and
// registers each with the registry.
func (p *Pipeline) Discover(ctx context.Context, connectorID string) ([]source.StreamDescriptor, error) {
	connector, err := p.registry.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	src, err := p.sourceFactory(connector, p.logger)
	if err != nil {
		return nil, fmt.Errorf("building source: %w", err)
	}

	streams, err := src.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering streams: %w", err)
	}

	for _, stream := range streams {
		if _, err := p.registry.AddStream(ctx, connector.ID, stream.Name, stream.Schema, stream.Columns); err != nil {
			return nil, fmt.Errorf("registering stream %q: %w", stream.Name, err)
		}
	}
	return streams, nil
}

// Execute drives one run to a terminal status and returns the run in
// that state. Data plane failures (sources, quality gates, artifact
// storage) are recorded on the run itself and do not produce an error;
// the error return is reserved for registry faults that prevent the
// outcome from being persisted.
func (p *Pipeline) Execute(ctx context.Context, run *registry.Run, opts RunOptions) (*registry.Run, error) {
	logger := p.logger.With(
		zap.String("run_id", run.ID),
		zap.String("connector_id", run.ConnectorID),
	)

	fsm := NewFSM(
		FSMWithInitialState(run.Status),
		FSMWithLogger(logger),
	)

	connector, err := p.registry.GetConnector(ctx, run.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("resolving connector: %w", err)
	}

	exec := &execution{
		run:         run,
		connector:   connector,
		opts:        opts,
		collector:   metrics.NewCollector(),
		catalog:     catalog.New(run.ID, connector.ID),
		streamRules: map[string][]registry.DQRule{},
	}
	exec.catalog.StartTime = run.StartedAt

	if connector.Config.Dedupe != nil {
		exec.filter = dedupe.New(
			connector.Config.Dedupe.Keys,
			connector.Config.Dedupe.Capacity,
			connector.Config.Dedupe.ErrorRate,
		)
	}

	if opts.MappingSpec != "" {
		mapping, err := mapper.Parse(opts.MappingSpec)
		if err != nil {
			return p.fail(ctx, fsm, exec, fmt.Errorf("parsing mapping: %w", err))
		}
		exec.mapping = mapping
	}

	src, err := p.sourceFactory(connector, logger)
	if err != nil {
		return p.fail(ctx, fsm, exec, fmt.Errorf("building source: %w", err))
	}

	streams, err := src.Discover(ctx)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return p.fail(ctx, fsm, exec, fmt.Errorf("no streams discovered: %w", err))
		}
		return p.fail(ctx, fsm, exec, fmt.Errorf("discovering streams: %w", err))
	}
	if len(streams) == 0 {
		return p.fail(ctx, fsm, exec, errors.New("no streams discovered"))
	}

	for _, stream := range streams {
		if _, err := p.registry.AddStream(ctx, connector.ID, stream.Name, stream.Schema, stream.Columns); err != nil {
			return nil, fmt.Errorf("registering stream %q: %w", stream.Name, err)
		}

		rules, err := p.registry.RulesForTarget(ctx, registry.TargetStream, stream.Name)
		if err != nil {
			return nil, fmt.Errorf("loading dq rules for %q: %w", stream.Name, err)
		}
		exec.streamRules[stream.Name] = rules
	}
	if exec.mapping != nil {
		exec.entityRules, err = p.registry.RulesForTarget(ctx, registry.TargetEntity, exec.mapping.EntityType())
		if err != nil {
			return nil, fmt.Errorf("loading dq rules for entity %q: %w", exec.mapping.EntityType(), err)
		}
	}

	if err := fsm.Transition(registry.RunRunning); err != nil {
		return nil, err
	}
	run.Status = registry.RunRunning
	if err := p.registry.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persisting run status: %w", err)
	}

	logger.Info("run started",
		zap.String("kind", string(connector.Kind)),
		zap.Int("streams", len(streams)),
	)

	for _, stream := range streams {
		if err := p.processStream(ctx, src, stream, exec); err != nil {
			return p.fail(ctx, fsm, exec, err)
		}
	}

	if err := p.repository.Flush(); err != nil {
		return p.fail(ctx, fsm, exec, fmt.Errorf("flushing repository: %w", err))
	}

	status := registry.RunSucceeded
	if len(run.DQFailures) > 0 {
		status = registry.RunFailed
	}
	return p.finalize(ctx, fsm, exec, status)
}

func (p *Pipeline) processStream(ctx context.Context, src source.Source, stream source.StreamDescriptor, exec *execution) error {
	batchSize := exec.connector.Config.BatchSize
	if batchSize <= 0 {
		batchSize = source.DefaultBatchSize
	}

	it, err := src.ReadBatches(ctx, stream.Name, batchSize)
	if err != nil {
		return fmt.Errorf("opening stream %q: %w", stream.Name, err)
	}
	defer it.Close()

	for {
		start := time.Now()

		batch, err := it.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream %q: %w", stream.Name, err)
		}

		if err := p.processBatch(ctx, stream, batch, exec, start); err != nil {
			return err
		}
	}
}

func (p *Pipeline) processBatch(ctx context.Context, stream source.StreamDescriptor, batch *internal.Batch, exec *execution, start time.Time) error {
	offset := batch.Provenance.RowOffset

	// Quality gates run against the raw batch so violation row numbers
	// reference source positions, before dedupe compacts the batch.
	for _, rule := range exec.streamRules[stream.Name] {
		if err := p.applyRule(batch.Rows, rule, offset, exec); err != nil {
			return err
		}
	}
	if exec.opts.DQField != "" {
		violations, err := p.checker.Check(batch.Rows, exec.opts.DQField, "required", offset)
		if err != nil {
			return err
		}
		exec.run.DQFailures = append(exec.run.DQFailures, violations...)
	}

	rows := batch.Rows
	dedupeHits := 0
	if exec.filter != nil {
		fresh := make([]internal.Row, 0, len(rows))
		for _, row := range rows {
			if exec.filter.CheckAndAdd(row) {
				dedupeHits++
				continue
			}
			fresh = append(fresh, row)
		}
		rows = fresh
	}

	columns := stream.Columns
	if exec.mapping != nil {
		mapped := make([]internal.Row, 0, len(rows))
		for _, row := range rows {
			mrow, err := exec.mapping.MapRow(row)
			if err != nil {
				return fmt.Errorf("mapping row: %w", err)
			}
			mapped = append(mapped, mrow)
		}
		for _, rule := range exec.entityRules {
			if err := p.applyRule(mapped, rule, offset, exec); err != nil {
				return err
			}
		}
		rows = mapped
		columns = exec.mapping.Columns()
	}

	if len(rows) > 0 {
		if err := p.persistBatch(ctx, stream, batch, rows, columns, exec); err != nil {
			return err
		}
	}

	exec.collector.ObserveBatch(len(batch.Rows), batch.RawBytes, dedupeHits, time.Since(start))
	return nil
}

func (p *Pipeline) applyRule(rows []internal.Row, rule registry.DQRule, offset int64, exec *execution) error {
	violations, err := p.checker.Check(rows, rule.Field, rule.Rule, offset)
	if err != nil {
		return fmt.Errorf("applying dq rule %s: %w", rule.ID, err)
	}
	if len(violations) == 0 {
		return nil
	}

	if rule.Severity == registry.SeverityWarning {
		p.logger.Warn("dq rule violations",
			zap.String("rule_id", rule.ID),
			zap.String("field", rule.Field),
			zap.Strings("violations", violations),
		)
		return nil
	}

	exec.run.DQFailures = append(exec.run.DQFailures, violations...)
	return nil
}

func (p *Pipeline) persistBatch(ctx context.Context, stream source.StreamDescriptor, batch *internal.Batch, rows []internal.Row, columns []string, exec *execution) error {
	preserver, err := parquet.NewPreserver(parquet.SchemaFromColumns(columns))
	if err != nil {
		return fmt.Errorf("initializing preserver: %w", err)
	}
	for _, row := range rows {
		if err := preserver.Preserve(row); err != nil {
			return err
		}
	}
	bs, err := preserver.Flush()
	if err != nil {
		return err
	}

	base := fmt.Sprintf("run-%s", exec.run.ID)
	artifact := fmt.Sprintf("%s/batch-%04d.parquet", base, exec.batch)
	if err := p.repository.Write(ctx, artifact, bytes.NewReader(bs)); err != nil {
		return fmt.Errorf("persisting batch %d: %w", exec.batch, err)
	}

	// The sidecar carries the raw rows as read from the source, before
	// dedupe and mapping, so every artifact can be traced back to its
	// origin bytes.
	sidecar := struct {
		Provenance internal.Provenance `json:"provenance"`
		Rows       []internal.Row      `json:"rows"`
	}{
		Provenance: batch.Provenance,
		Rows:       batch.Rows,
	}
	pbs, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling provenance: %w", err)
	}
	provenancePath := fmt.Sprintf("%s/batch-%04d-provenance.json", base, exec.batch)
	if err := p.repository.Write(ctx, provenancePath, bytes.NewReader(pbs)); err != nil {
		return fmt.Errorf("persisting provenance %d: %w", exec.batch, err)
	}

	exec.catalog.AddBatch(stream.Name, catalog.Batch{
		Index:          exec.batch,
		Path:           artifact,
		ProvenancePath: provenancePath,
		Rows:           len(rows),
		Offset:         batch.Provenance.RowOffset,
	})
	exec.batch++
	return nil
}

func (p *Pipeline) fail(ctx context.Context, fsm *FSM, exec *execution, cause error) (*registry.Run, error) {
	p.logger.Error("run failed",
		zap.String("run_id", exec.run.ID),
		zap.Error(cause),
	)
	exec.run.Error = cause.Error()
	return p.finalize(ctx, fsm, exec, registry.RunFailed)
}

// finalize stamps the terminal status, writes the catalog, persists the
// run and emits its event. It runs on a detached context so a canceled
// run still records its outcome.
func (p *Pipeline) finalize(ctx context.Context, fsm *FSM, exec *execution, status registry.RunStatus) (*registry.Run, error) {
	ctx = context.WithoutCancel(ctx)
	run := exec.run

	if err := fsm.Transition(status); err != nil {
		return nil, err
	}
	run.Status = status
	now := time.Now().UTC()
	run.FinishedAt = &now

	if run.Stats == nil {
		if snapshot, err := exec.collector.Snapshot(); err == nil {
			run.Stats = snapshot
		} else {
			p.logger.Warn("collecting run stats", zap.Error(err))
		}
	}

	exec.catalog.EndTime = now
	exec.catalog.Stats = run.Stats
	exec.catalog.Completed = status == registry.RunSucceeded
	if bs, err := exec.catalog.Render(); err == nil {
		key := fmt.Sprintf("run-%s/catalog.json", run.ID)
		if err := p.repository.Write(ctx, key, bytes.NewReader(bs)); err != nil {
			p.logger.Warn("writing catalog", zap.Error(err))
		}
	}

	if err := p.registry.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	p.publish(ctx, run)

	p.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("dq_failures", len(run.DQFailures)),
	)
	return run, nil
}

func (p *Pipeline) publish(ctx context.Context, run *registry.Run) {
	if p.publisher == nil {
		return
	}

	event := RunEvent{
		RunID:       run.ID,
		ConnectorID: run.ConnectorID,
		Status:      run.Status,
		Stats:       run.Stats,
		DQFailures:  run.DQFailures,
		FinishedAt:  run.FinishedAt,
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Error("publishing run event", zap.Error(err))
	}
}
