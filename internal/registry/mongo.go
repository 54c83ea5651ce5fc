package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Mongo keeps registry state in one collection per record type.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

type MongoOption func(*Mongo)

func WithMongoLogger(l *zap.Logger) MongoOption {
	return func(m *Mongo) {
		m.logger = l
	}
}

func NewMongo(ctx context.Context, uri string, database string, opts ...MongoOption) (*Mongo, error) {
	m := &Mongo{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	m.client = client
	m.db = client.Database(database)
	m.logger.Debug("mongo registry initialized", zap.String("database", database))
	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) connectors() *mongo.Collection { return m.db.Collection("connectors") }
func (m *Mongo) streams() *mongo.Collection    { return m.db.Collection("streams") }
func (m *Mongo) runs() *mongo.Collection       { return m.db.Collection("runs") }
func (m *Mongo) rules() *mongo.Collection      { return m.db.Collection("dq_rules") }

func (m *Mongo) CreateConnector(ctx context.Context, name string, kind Kind, config Config) (*Connector, error) {
	if err := config.Validate(kind); err != nil {
		return nil, err
	}

	c := Connector{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		Config:    config,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := m.connectors().InsertOne(ctx, c); err != nil {
		return nil, fmt.Errorf("inserting connector: %w", err)
	}
	return &c, nil
}

func (m *Mongo) GetConnector(ctx context.Context, id string) (*Connector, error) {
	var c Connector
	err := m.connectors().FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("connector %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying connector: %w", err)
	}
	return &c, nil
}

func (m *Mongo) AddStream(ctx context.Context, connectorID, name string, schema map[string]string, columns []string) (*Stream, error) {
	filter := bson.M{"connector_id": connectorID, "name": name}
	update := bson.M{
		"$set":         bson.M{"schema": schema, "columns": columns},
		"$setOnInsert": bson.M{"_id": uuid.NewString(), "connector_id": connectorID, "name": name},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var s Stream
	if err := m.streams().FindOneAndUpdate(ctx, filter, update, opts).Decode(&s); err != nil {
		return nil, fmt.Errorf("upserting stream: %w", err)
	}
	return &s, nil
}

func (m *Mongo) StreamsForConnector(ctx context.Context, connectorID string) ([]Stream, error) {
	cur, err := m.streams().Find(ctx,
		bson.M{"connector_id": connectorID},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("querying streams: %w", err)
	}

	var out []Stream
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding streams: %w", err)
	}
	return out, nil
}

func (m *Mongo) CreateRun(ctx context.Context, connectorID string) (*Run, error) {
	if _, err := m.GetConnector(ctx, connectorID); err != nil {
		return nil, err
	}

	r := Run{
		ID:          uuid.NewString(),
		ConnectorID: connectorID,
		Status:      RunQueued,
		StartedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := m.runs().InsertOne(ctx, r); err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return &r, nil
}

func (m *Mongo) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := m.runs().FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &r, nil
}

func (m *Mongo) UpdateRun(ctx context.Context, run *Run) error {
	filter := bson.M{
		"_id":    run.ID,
		"status": bson.M{"$nin": bson.A{string(RunSucceeded), string(RunFailed)}},
	}
	res, err := m.runs().ReplaceOne(ctx, filter, run)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := m.GetRun(ctx, run.ID); err != nil {
			return err
		}
		return fmt.Errorf("run %q: %w", run.ID, ErrRunFinalized)
	}
	return nil
}

func (m *Mongo) AddDQRule(ctx context.Context, target RuleTarget, targetRef, field, rule string, severity Severity) (*DQRule, error) {
	r := DQRule{
		ID:        uuid.NewString(),
		Target:    target,
		TargetRef: targetRef,
		Field:     field,
		Rule:      rule,
		Severity:  severity,
	}
	if _, err := m.rules().InsertOne(ctx, r); err != nil {
		return nil, fmt.Errorf("inserting dq rule: %w", err)
	}
	return &r, nil
}

func (m *Mongo) RulesForTarget(ctx context.Context, target RuleTarget, targetRef string) ([]DQRule, error) {
	cur, err := m.rules().Find(ctx, bson.M{"target": string(target), "target_ref": targetRef})
	if err != nil {
		return nil, fmt.Errorf("querying dq rules: %w", err)
	}

	var out []DQRule
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding dq rules: %w", err)
	}
	return out, nil
}
