package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal/registry"
)

func TestNewPorterFromFile(t *testing.T) {
	t.Run("local config", func(t *testing.T) {
		porter, err := NewPorterFromFile("../../dev/examples/local.porter.yml")
		assert.NoError(t, err)
		assert.NotNil(t, porter)
		assert.Equal(t, "debug", porter.Global.Logger.Level)
		assert.Equal(t, "memory", porter.Registry.Type)
		assert.Equal(t, "local", porter.Ingester.Repository.Type)
		assert.Equal(t, "/tmp/porter", porter.Ingester.Repository.LocalConfig.Path)
		assert.Equal(t, registry.KindFile, porter.Ingester.Connector.Kind)
		assert.Equal(t, []string{"id"}, porter.Ingester.Connector.Config.Dedupe.Keys)
		assert.Equal(t, "id", porter.Ingester.DQField)
		assert.Equal(t, ":8428", porter.Server.Addr)
	})

	t.Run("s3 config", func(t *testing.T) {
		porter, err := NewPorterFromFile("../../dev/examples/s3.porter.yml")
		assert.NoError(t, err)
		assert.Equal(t, "postgres", porter.Registry.Type)
		assert.Equal(t, "s3", porter.Ingester.Repository.Type)
		assert.Equal(t, "porter-artifacts", porter.Ingester.Repository.S3Config.Bucket)
		assert.True(t, porter.Ingester.Repository.S3Config.ForcePathStyle)
		assert.Equal(t, "kafka://localhost:9092/porter.runs", porter.Ingester.Publisher.URI)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewPorterFromFile("does-not-exist.yml")
		assert.Error(t, err)
	})
}

func TestInitializeLogger(t *testing.T) {
	t.Run("defaults to info", func(t *testing.T) {
		logger, err := InitializeLogger(&Porter{})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("honors configured level", func(t *testing.T) {
		porter := &Porter{}
		porter.Global.Logger.Level = "debug"

		logger, err := InitializeLogger(porter)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		porter := &Porter{}
		porter.Global.Logger.Level = "loud"

		_, err := InitializeLogger(porter)
		assert.Error(t, err)
	})
}

func TestInitializeRegistry(t *testing.T) {
	t.Run("defaults to memory", func(t *testing.T) {
		reg, closeFn, err := InitializeRegistry(context.Background(), &Porter{}, zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		assert.NotNil(t, reg)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		porter := &Porter{}
		porter.Registry.Type = "etcd"

		_, _, err := InitializeRegistry(context.Background(), porter, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestInitializeRepository(t *testing.T) {
	t.Run("defaults to local", func(t *testing.T) {
		repo, err := InitializeRepository(&Porter{}, zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, repo)
	})

	t.Run("s3 requires a bucket", func(t *testing.T) {
		porter := &Porter{}
		porter.Ingester.Repository.Type = "s3"

		_, err := InitializeRepository(porter, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		porter := &Porter{}
		porter.Ingester.Repository.Type = "gcs"

		_, err := InitializeRepository(porter, zap.NewNop())
		assert.Error(t, err)
	})
}
