package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the default in process registry.
type Memory struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	streams    map[string]Stream // keyed by connectorID + "\x00" + name
	runs       map[string]Run
	rules      []DQRule
}

func NewMemory() *Memory {
	return &Memory{
		connectors: make(map[string]Connector),
		streams:    make(map[string]Stream),
		runs:       make(map[string]Run),
	}
}

func (m *Memory) CreateConnector(ctx context.Context, name string, kind Kind, config Config) (*Connector, error) {
	if err := config.Validate(kind); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := Connector{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	m.connectors[c.ID] = c
	return &c, nil
}

func (m *Memory) GetConnector(ctx context.Context, id string) (*Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector %q: %w", id, ErrNotFound)
	}
	return &c, nil
}

func streamKey(connectorID, name string) string {
	return connectorID + "\x00" + name
}

func (m *Memory) AddStream(ctx context.Context, connectorID, name string, schema map[string]string, columns []string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connectors[connectorID]; !ok {
		return nil, fmt.Errorf("connector %q: %w", connectorID, ErrNotFound)
	}

	key := streamKey(connectorID, name)
	s, ok := m.streams[key]
	if !ok {
		s = Stream{
			ID:          uuid.NewString(),
			ConnectorID: connectorID,
			Name:        name,
		}
	}
	s.Schema = schema
	s.Columns = columns
	m.streams[key] = s
	return &s, nil
}

func (m *Memory) StreamsForConnector(ctx context.Context, connectorID string) ([]Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Stream
	for _, s := range m.streams {
		if s.ConnectorID == connectorID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateRun(ctx context.Context, connectorID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connectors[connectorID]; !ok {
		return nil, fmt.Errorf("connector %q: %w", connectorID, ErrNotFound)
	}

	r := Run{
		ID:          uuid.NewString(),
		ConnectorID: connectorID,
		Status:      RunQueued,
		StartedAt:   time.Now().UTC(),
	}
	m.runs[r.ID] = r
	return &r, nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return &r, nil
}

func (m *Memory) UpdateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %q: %w", run.ID, ErrNotFound)
	}
	if existing.Status.Terminal() {
		return fmt.Errorf("run %q: %w", run.ID, ErrRunFinalized)
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *Memory) AddDQRule(ctx context.Context, target RuleTarget, targetRef, field, rule string, severity Severity) (*DQRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := DQRule{
		ID:        uuid.NewString(),
		Target:    target,
		TargetRef: targetRef,
		Field:     field,
		Rule:      rule,
		Severity:  severity,
	}
	m.rules = append(m.rules, r)
	return &r, nil
}

func (m *Memory) RulesForTarget(ctx context.Context, target RuleTarget, targetRef string) ([]DQRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DQRule
	for _, r := range m.rules {
		if r.Target == target && r.TargetRef == targetRef {
			out = append(out, r)
		}
	}
	return out, nil
}
