package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConnectorLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	c, err := reg.CreateConnector(ctx, "orders", KindFile, Config{Path: "/data/orders.csv"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := reg.GetConnector(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, KindFile, got.Kind)
	assert.Equal(t, "/data/orders.csv", got.Config.Path)

	_, err = reg.GetConnector(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateConnectorValidatesConfig(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	_, err := reg.CreateConnector(ctx, "orders", KindFile, Config{})
	assert.Error(t, err)

	_, err = reg.CreateConnector(ctx, "lake", KindObjectStore, Config{Bucket: "lake"})
	assert.Error(t, err, "object store connector needs keys or a prefix")

	_, err = reg.CreateConnector(ctx, "lake", KindObjectStore, Config{
		Bucket: "lake",
		Keys:   []string{"orders.csv"},
	})
	assert.NoError(t, err)
}

func TestMemoryAddStreamUpserts(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	c, err := reg.CreateConnector(ctx, "orders", KindFile, Config{Path: "/data/orders.csv"})
	require.NoError(t, err)

	first, err := reg.AddStream(ctx, c.ID, "orders", map[string]string{"id": "string"}, []string{"id"})
	require.NoError(t, err)

	second, err := reg.AddStream(ctx, c.ID, "orders",
		map[string]string{"id": "string", "name": "string"},
		[]string{"id", "name"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "rediscovery keeps the stream identity")

	streams, err := reg.StreamsForConnector(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, []string{"id", "name"}, streams[0].Columns)

	_, err = reg.AddStream(ctx, "missing", "orders", nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	c, err := reg.CreateConnector(ctx, "orders", KindFile, Config{Path: "/data/orders.csv"})
	require.NoError(t, err)

	run, err := reg.CreateRun(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, RunQueued, run.Status)
	assert.False(t, run.StartedAt.IsZero())
	assert.Nil(t, run.FinishedAt)

	run.Status = RunRunning
	require.NoError(t, reg.UpdateRun(ctx, run))

	got, err := reg.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)

	_, err = reg.CreateRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateRunRejectsFinalized(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	c, err := reg.CreateConnector(ctx, "orders", KindFile, Config{Path: "/data/orders.csv"})
	require.NoError(t, err)

	run, err := reg.CreateRun(ctx, c.ID)
	require.NoError(t, err)

	run.Status = RunSucceeded
	require.NoError(t, reg.UpdateRun(ctx, run))

	run.Status = RunRunning
	err = reg.UpdateRun(ctx, run)
	assert.ErrorIs(t, err, ErrRunFinalized)

	got, err := reg.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, got.Status, "terminal status must not regress")
}

func TestMemoryRulesForTarget(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	_, err := reg.AddDQRule(ctx, TargetStream, "orders", "id", "required", SeverityError)
	require.NoError(t, err)
	_, err = reg.AddDQRule(ctx, TargetStream, "orders", "total", "numeric", SeverityWarning)
	require.NoError(t, err)
	_, err = reg.AddDQRule(ctx, TargetStream, "users", "email", "required", SeverityError)
	require.NoError(t, err)
	_, err = reg.AddDQRule(ctx, TargetEntity, "orders", "entityType", "required", SeverityError)
	require.NoError(t, err)

	rules, err := reg.RulesForTarget(ctx, TargetStream, "orders")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "id", rules[0].Field)
	assert.Equal(t, "required", rules[0].Rule)
	assert.Equal(t, "total", rules[1].Field)
	assert.Equal(t, "numeric", rules[1].Rule)

	rules, err = reg.RulesForTarget(ctx, TargetEntity, "users")
	require.NoError(t, err)
	assert.Empty(t, rules)
}
