package registry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turbolytics/porter/internal/metrics"
)

func TestIntegrationPostgresRegistry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate pgContainer: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := NewPostgres(ctx, db)
	require.NoError(t, err)

	t.Run("connector round trip", func(t *testing.T) {
		c, err := reg.CreateConnector(ctx, "orders", KindObjectStore, Config{
			Bucket: "lake",
			Keys:   []string{"orders.csv.gz"},
			Dedupe: &DedupeConfig{Keys: []string{"id"}},
		})
		require.NoError(t, err)

		got, err := reg.GetConnector(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "orders", got.Name)
		assert.Equal(t, KindObjectStore, got.Kind)
		assert.Equal(t, []string{"orders.csv.gz"}, got.Config.Keys)
		require.NotNil(t, got.Config.Dedupe)
		assert.Equal(t, []string{"id"}, got.Config.Dedupe.Keys)

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
		assert.Equal(t, "string", streams[0].Schema["email"])
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
		run.Status = RunSucceeded
		run.FinishedAt = &now
		run.Stats = &metrics.Snapshot{RowCount: 42, DedupeHits: 2}
		run.DQFailures = []string{`row 3: field "id" must not be empty`}
		require.NoError(t, reg.UpdateRun(ctx, run))

		got, err := reg.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunSucceeded, got.Status)
		require.NotNil(t, got.FinishedAt)
		assert.Equal(t, now, got.FinishedAt.UTC().Truncate(time.Millisecond))
		require.NotNil(t, got.Stats)
		assert.Equal(t, int64(42), got.Stats.RowCount)
		assert.Equal(t, []string{`row 3: field "id" must not be empty`}, got.DQFailures)

		run.Status = RunRunning
		err = reg.UpdateRun(ctx, run)
		assert.ErrorIs(t, err, ErrRunFinalized)
	})

	t.Run("dq rules", func(t *testing.T) {
		_, err := reg.AddDQRule(ctx, TargetStream, "orders", "id", "required", SeverityError)
		require.NoError(t, err)
		_, err = reg.AddDQRule(ctx, TargetEntity, "orders", "entityType", "required", SeverityWarning)
		require.NoError(t, err)

		rules, err := reg.RulesForTarget(ctx, TargetStream, "orders")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "id", rules[0].Field)
		assert.Equal(t, SeverityError, rules[0].Severity)
	})
}
