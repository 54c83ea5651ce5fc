package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// jsonb columns hold the variable shaped parts of each record (config,
// schema, stats) so the relational schema stays stable as they evolve.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS connectors (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		kind       TEXT NOT NULL,
		config     JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS streams (
		id           TEXT PRIMARY KEY,
		connector_id TEXT NOT NULL REFERENCES connectors(id),
		name         TEXT NOT NULL,
		schema       JSONB NOT NULL,
		columns      JSONB NOT NULL,
		UNIQUE (connector_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		connector_id TEXT NOT NULL REFERENCES connectors(id),
		status       TEXT NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ,
		stats        JSONB,
		dq_failures  JSONB,
		error        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS dq_rules (
		id         TEXT PRIMARY KEY,
		target     TEXT NOT NULL,
		target_ref TEXT NOT NULL,
		field      TEXT NOT NULL,
		rule       TEXT NOT NULL,
		severity   TEXT NOT NULL
	)`,
}

type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

type PostgresOption func(*Postgres)

func WithPostgresLogger(l *zap.Logger) PostgresOption {
	return func(p *Postgres) {
		p.logger = l
	}
}

// NewPostgres initializes the registry schema on the provided database.
// The caller owns the *sql.DB and its driver registration.
func NewPostgres(ctx context.Context, db *sql.DB, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		db:     db,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("initializing registry schema: %w", err)
		}
	}
	p.logger.Debug("postgres registry initialized")
	return p, nil
}

// jsonbOrNull passes encoded JSON as text so the ::jsonb casts in the
// statements apply; pgx would otherwise send []byte as bytea.
func jsonbOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (p *Postgres) CreateConnector(ctx context.Context, name string, kind Kind, config Config) (*Connector, error) {
	if err := config.Validate(kind); err != nil {
		return nil, err
	}

	c := Connector{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding connector config: %w", err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO connectors (id, name, kind, config, created_at) VALUES ($1, $2, $3, $4::jsonb, $5)`,
		c.ID, c.Name, string(c.Kind), jsonbOrNull(cfg), c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting connector: %w", err)
	}
	return &c, nil
}

func (p *Postgres) GetConnector(ctx context.Context, id string) (*Connector, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, name, kind, config, created_at FROM connectors WHERE id = $1`, id)

	var (
		c    Connector
		kind string
		cfg  []byte
	)
	err := row.Scan(&c.ID, &c.Name, &kind, &cfg, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connector %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying connector: %w", err)
	}
	c.Kind = Kind(kind)
	if err := json.Unmarshal(cfg, &c.Config); err != nil {
		return nil, fmt.Errorf("decoding connector config: %w", err)
	}
	return &c, nil
}

func (p *Postgres) AddStream(ctx context.Context, connectorID, name string, schema map[string]string, columns []string) (*Stream, error) {
	s := Stream{
		ConnectorID: connectorID,
		Name:        name,
		Schema:      schema,
		Columns:     columns,
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding stream schema: %w", err)
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("encoding stream columns: %w", err)
	}

	row := p.db.QueryRowContext(ctx,
		`INSERT INTO streams (id, connector_id, name, schema, columns)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb)
		ON CONFLICT (connector_id, name)
		DO UPDATE SET schema = EXCLUDED.schema, columns = EXCLUDED.columns
		RETURNING id`,
		uuid.NewString(), connectorID, name, jsonbOrNull(schemaJSON), jsonbOrNull(columnsJSON),
	)
	if err := row.Scan(&s.ID); err != nil {
		return nil, fmt.Errorf("upserting stream: %w", err)
	}
	return &s, nil
}

func (p *Postgres) StreamsForConnector(ctx context.Context, connectorID string) ([]Stream, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, connector_id, name, schema, columns FROM streams WHERE connector_id = $1 ORDER BY name`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("querying streams: %w", err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		var (
			s           Stream
			schemaJSON  []byte
			columnsJSON []byte
		)
		if err := rows.Scan(&s.ID, &s.ConnectorID, &s.Name, &schemaJSON, &columnsJSON); err != nil {
			return nil, fmt.Errorf("scanning stream: %w", err)
		}
		if err := json.Unmarshal(schemaJSON, &s.Schema); err != nil {
			return nil, fmt.Errorf("decoding stream schema: %w", err)
		}
		if err := json.Unmarshal(columnsJSON, &s.Columns); err != nil {
			return nil, fmt.Errorf("decoding stream columns: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateRun(ctx context.Context, connectorID string) (*Run, error) {
	if _, err := p.GetConnector(ctx, connectorID); err != nil {
		return nil, err
	}

	r := Run{
		ID:          uuid.NewString(),
		ConnectorID: connectorID,
		Status:      RunQueued,
		StartedAt:   time.Now().UTC(),
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO runs (id, connector_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.ConnectorID, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return &r, nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (*Run, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, connector_id, status, started_at, finished_at, stats, dq_failures, error
		FROM runs WHERE id = $1`, id)

	var (
		r          Run
		status     string
		finishedAt sql.NullTime
		statsJSON  []byte
		dqJSON     []byte
	)
	err := row.Scan(&r.ID, &r.ConnectorID, &status, &r.StartedAt, &finishedAt, &statsJSON, &dqJSON, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	r.Status = RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, fmt.Errorf("decoding run stats: %w", err)
		}
	}
	if len(dqJSON) > 0 {
		if err := json.Unmarshal(dqJSON, &r.DQFailures); err != nil {
			return nil, fmt.Errorf("decoding run dq failures: %w", err)
		}
	}
	return &r, nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run *Run) error {
	var (
		statsJSON []byte
		dqJSON    []byte
		err       error
	)
	if run.Stats != nil {
		if statsJSON, err = json.Marshal(run.Stats); err != nil {
			return fmt.Errorf("encoding run stats: %w", err)
		}
	}
	if run.DQFailures != nil {
		if dqJSON, err = json.Marshal(run.DQFailures); err != nil {
			return fmt.Errorf("encoding run dq failures: %w", err)
		}
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE runs
		SET status = $2, finished_at = $3, stats = $4::jsonb, dq_failures = $5::jsonb, error = $6
		WHERE id = $1 AND status NOT IN ($7, $8)`,
		run.ID, string(run.Status), run.FinishedAt, jsonbOrNull(statsJSON), jsonbOrNull(dqJSON), run.Error,
		string(RunSucceeded), string(RunFailed),
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n == 0 {
		// either missing or already terminal
		if _, err := p.GetRun(ctx, run.ID); err != nil {
			return err
		}
		return fmt.Errorf("run %q: %w", run.ID, ErrRunFinalized)
	}
	return nil
}

func (p *Postgres) AddDQRule(ctx context.Context, target RuleTarget, targetRef, field, rule string, severity Severity) (*DQRule, error) {
	r := DQRule{
		ID:        uuid.NewString(),
		Target:    target,
		TargetRef: targetRef,
		Field:     field,
		Rule:      rule,
		Severity:  severity,
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO dq_rules (id, target, target_ref, field, rule, severity) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, string(r.Target), r.TargetRef, r.Field, r.Rule, string(r.Severity),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting dq rule: %w", err)
	}
	return &r, nil
}

func (p *Postgres) RulesForTarget(ctx context.Context, target RuleTarget, targetRef string) ([]DQRule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, target, target_ref, field, rule, severity FROM dq_rules WHERE target = $1 AND target_ref = $2`,
		string(target), targetRef)
	if err != nil {
		return nil, fmt.Errorf("querying dq rules: %w", err)
	}
	defer rows.Close()

	var out []DQRule
	for rows.Next() {
		var (
			r        DQRule
			tgt      string
			severity string
		)
		if err := rows.Scan(&r.ID, &tgt, &r.TargetRef, &r.Field, &r.Rule, &severity); err != nil {
			return nil, fmt.Errorf("scanning dq rule: %w", err)
		}
		r.Target = RuleTarget(tgt)
		r.Severity = Severity(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}
