package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
)

// EntryMessage is the payload published for each newly ingested entry
type EntryMessage struct {
	QueryID string `json:"query_id"`
	domain.LogEntry
}

// Publisher publishes newly ingested leaderboard entries to Kafka
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	logger.Info("Kafka publisher ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newPublisher(producer, cfg.Topic, logger), nil
}

func newPublisher(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Name identifies the publisher as an entry sink
func (p *Publisher) Name() string {
	return "kafka"
}

// Store publishes one message per entry, keyed by reporter so a reporter's
// submissions stay on one partition
func (p *Publisher) Store(ctx context.Context, queryID string, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(EntryMessage{QueryID: queryID, LogEntry: entry})
		if err != nil {
			return fmt.Errorf("encoding entry: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(entry.Reporter),
			Value: sarama.ByteEncoder(data),
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publishing entries: %w", err)
	}

	p.logger.Debug("published entries", "topic", p.topic, "query_id", queryID, "count", len(msgs))
	return nil
}

// Close flushes and closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
