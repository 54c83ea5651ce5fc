package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestIntegrationMongoRegistry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx,
		"mongo:6",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate mongoContainer: %s", err)
		}
	})

	connStr, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	reg, err := NewMongo(ctx, connStr, "porter_test")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := reg.Close(ctx); err != nil {
			t.Logf("failed to close registry: %s", err)
		}
	})

	t.Run("connector round trip", func(t *testing.T) {
		c, err := reg.CreateConnector(ctx, "orders", KindFile, Config{
			Path:      "/data/orders.csv",
			BatchSize: 500,
		})
		require.NoError(t, err)

		got, err := reg.GetConnector(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "orders", got.Name)
		assert.Equal(t, 500, got.Config.BatchSize)
		assert.Equal(t, c.CreatedAt, got.CreatedAt.UTC())

		_, err = reg.GetConnector(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stream upsert", func(t *testing.T) {
		c, err := reg.CreateConnector(ctx, "users", KindFile, Config{Path: "/data/users.csv"})
		require.NoError(t, err)

		first, err := reg.AddStream(ctx, c.ID, "users", map[string]string{"id": "string"}, []string{"id"})
		require.NoError(t, err)

		second, err := reg.AddStream(ctx, c.ID, "users",
			map[string]string{"id": "string", "email": "string"},
			[]string{"id", "email"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		streams, err := reg.StreamsForConnector(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, streams, 1)
		assert.Equal(t, []string{"id", "email"}, streams[0].Columns)
	})

	t.Run("run lifecycle and terminal guard", func(t *testing.T) {
		c, err := reg.CreateConnector(ctx, "events", KindFile, Config{Path: "/data/events.csv"})
		require.NoError(t, err)

		run, err := reg.CreateRun(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, RunQueued, run.Status)

		run.Status = RunRunning
		require.NoError(t, reg.UpdateRun(ctx, run))

		now := time.Now().UTC().Truncate(time.Millisecond)
		run.Status = RunFailed
		run.FinishedAt = &now
		run.Error = "no streams discovered"
		require.NoError(t, reg.UpdateRun(ctx, run))

		got, err := reg.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunFailed, got.Status)
		assert.Equal(t, "no streams discovered", got.Error)
		require.NotNil(t, got.FinishedAt)

		run.Status = RunRunning
		err = reg.UpdateRun(ctx, run)
		assert.ErrorIs(t, err, ErrRunFinalized)
	})

	t.Run("dq rules", func(t *testing.T) {
		_, err := reg.AddDQRule(ctx, TargetStream, "events", "ts", "required", SeverityError)
		require.NoError(t, err)

		rules, err := reg.RulesForTarget(ctx, TargetStream, "events")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "ts", rules[0].Field)
		assert.Equal(t, "required", rules[0].Rule)

		rules, err = reg.RulesForTarget(ctx, TargetStream, "other")
		require.NoError(t, err)
		assert.Empty(t, rules)
	})
}
