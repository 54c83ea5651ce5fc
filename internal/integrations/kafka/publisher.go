package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal/pipeline"
)

type Option func(*Publisher)

func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// Publisher emits run lifecycle events to a kafka topic. The target is
// addressed as kafka://host:port/topic; query parameters pass through
// to the producer config.
type Publisher struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

func NewPublisher(rawURL string, opts ...Option) (*Publisher, error) {
	topic, config, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		topic:  topic,
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func parseURL(rawURL string) (string, kafka.ConfigMap, error) {
	uri, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parsing kafka url: %w", err)
	}

	if uri.Scheme != "kafka" {
		return "", nil, fmt.Errorf("unsupported scheme: %q", uri.Scheme)
	}

	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return "", nil, fmt.Errorf("topic must be specified in URL path")
	}

	config := kafka.ConfigMap{
		"bootstrap.servers":   uri.Host,
		"client.id":           "porter",
		"acks":                "1",
		"retries":             "3",
		"linger.ms":           "5",
		"compression.type":    "snappy",
		"request.timeout.ms":  "5000",
		"delivery.timeout.ms": "10000",
	}

	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}

	return topic, config, nil
}

func (p *Publisher) Connect(ctx context.Context) error {
	producer, err := kafka.NewProducer(&p.config)
	if err != nil {
		return fmt.Errorf("creating kafka producer: %w", err)
	}
	p.producer = producer

	go func() {
		defer p.logger.Info("producer event loop closed")

		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					p.logger.Error("delivery failed", zap.Error(ev.TopicPartition.Error))
				} else {
					p.logger.Debug("message delivered",
						zap.String("topic", *ev.TopicPartition.Topic),
						zap.Int32("partition", ev.TopicPartition.Partition),
						zap.Int64("offset", int64(ev.TopicPartition.Offset)))
				}
			case kafka.Error:
				p.logger.Error("producer error", zap.Error(ev))
			}
		}
	}()

	p.logger.Info("kafka publisher connected",
		zap.String("topic", p.topic))

	return nil
}

func (p *Publisher) Publish(ctx context.Context, event pipeline.RunEvent) error {
	bs, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling run event: %w", err)
	}

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.RunID),
		Value: bs,
	}

	if err := p.producer.Produce(message, nil); err != nil {
		return fmt.Errorf("producing run event: %w", err)
	}
	return nil
}

func (p *Publisher) Close(ctx context.Context) error {
	if p.producer != nil {
		p.producer.Flush(5000)
		p.producer.Close()
	}
	return nil
}
