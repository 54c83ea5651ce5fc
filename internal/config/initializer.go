package config

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/turbolytics/porter/internal"
	"github.com/turbolytics/porter/internal/integrations/kafka"
	"github.com/turbolytics/porter/internal/local"
	"github.com/turbolytics/porter/internal/registry"
	"github.com/turbolytics/porter/internal/s3"
)

// InitializeLogger builds the process logger at the configured level.
// An empty level means info.
func InitializeLogger(porter *Porter) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if porter.Global.Logger.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(porter.Global.Logger.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// InitializeRegistry dials the configured backend. The returned closer
// releases the backing connection; it is a no-op for the memory
// registry. An empty type means memory.
func InitializeRegistry(ctx context.Context, porter *Porter, logger *zap.Logger) (registry.Registry, func(), error) {
	switch porter.Registry.Type {
	case "", "memory":
		return registry.NewMemory(), func() {}, nil
	case "postgres":
		db, err := sql.Open("pgx", porter.Registry.PostgresConfig.ConnectionString)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}

		r, err := registry.NewPostgres(ctx, db, registry.WithPostgresLogger(logger))
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return r, func() { db.Close() }, nil
	case "mongo":
		r, err := registry.NewMongo(
			ctx,
			porter.Registry.MongoConfig.URI,
			porter.Registry.MongoConfig.Database,
			registry.WithMongoLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry type: %s", porter.Registry.Type)
	}
}

// InitializeRepository builds the artifact store. An empty type means
// local.
func InitializeRepository(porter *Porter, logger *zap.Logger) (internal.Repository, error) {
	switch porter.Ingester.Repository.Type {
	case "", "local":
		return local.New(
			porter.Ingester.Repository.LocalConfig.Path,
			local.WithLogger(logger),
		), nil
	case "s3":
		return s3.New(
			s3.WithLogger(logger),
			s3.WithBucket(porter.Ingester.Repository.S3Config.Bucket),
			s3.WithRegion(porter.Ingester.Repository.S3Config.Region),
			s3.WithPrefix(porter.Ingester.Repository.S3Config.Prefix),
			s3.WithEndpoint(porter.Ingester.Repository.S3Config.Endpoint),
			s3.WithForcePathStyle(porter.Ingester.Repository.S3Config.ForcePathStyle),
		)
	default:
		return nil, fmt.Errorf("unknown repository type: %s", porter.Ingester.Repository.Type)
	}
}

// InitializePublisher connects the run event publisher. A nil publisher
// with a nil error means none is configured.
func InitializePublisher(ctx context.Context, porter *Porter, logger *zap.Logger) (*kafka.Publisher, error) {
	if porter.Ingester.Publisher.URI == "" {
		return nil, nil
	}

	pub, err := kafka.NewPublisher(
		porter.Ingester.Publisher.URI,
		kafka.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := pub.Connect(ctx); err != nil {
		return nil, err
	}
	return pub, nil
}
