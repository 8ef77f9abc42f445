package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Mirror keeps a shared copy of the leaderboard in Redis: a sorted set per
// dataset ranked by combined grip strength, and a hash of entry documents.
type Mirror struct {
	client *redis.Client
	logger *slog.Logger
}

// NewMirror connects to Redis and creates a new mirror
func NewMirror(cfg *config.RedisConfig, logger *slog.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newMirror(client, logger), nil
}

func newMirror(client *redis.Client, logger *slog.Logger) *Mirror {
	return &Mirror{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	return m.client.Close()
}

// Ping checks the Redis connection
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Name identifies the mirror as an entry sink
func (m *Mirror) Name() string {
	return "redis"
}

// rankingKey returns the sorted set of a dataset
func rankingKey(queryID string, dataset domain.Dataset) string {
	return fmt.Sprintf("grip:%s:strength:%s", queryID, dataset)
}

// entriesKey returns the hash holding entry documents
func entriesKey(queryID string) string {
	return fmt.Sprintf("grip:%s:entries", queryID)
}

// member returns the sorted set member of an entry
func member(key domain.Key) string {
	return key.Reporter + "|" + key.Timestamp
}

func datasetOf(e domain.Entry) domain.Dataset {
	if e.DataSet {
		return domain.DatasetMens
	}
	return domain.DatasetWomens
}

// Store adds entries to the mirror using a single pipeline. Every entry is
// ranked in its dataset and in the combined ranking.
func (m *Mirror) Store(ctx context.Context, queryID string, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	if err := queueEntries(ctx, pipe, queryID, entries); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing entries: %w", err)
	}
	return nil
}

// Rebuild replaces everything mirrored for a query id with entries in one
// transaction
func (m *Mirror) Rebuild(ctx context.Context, queryID string, entries []domain.LogEntry) error {
	pipe := m.client.TxPipeline()
	queueReset(ctx, pipe, queryID)
	if err := queueEntries(ctx, pipe, queryID, entries); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding mirror: %w", err)
	}
	return nil
}

func queueEntries(ctx context.Context, pipe redis.Pipeliner, queryID string, entries []domain.LogEntry) error {
	for _, entry := range entries {
		doc, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encoding entry: %w", err)
		}

		id := member(entry.Key())
		z := redis.Z{Score: entry.Strength(), Member: id}
		pipe.HSet(ctx, entriesKey(queryID), id, doc)
		pipe.ZAdd(ctx, rankingKey(queryID, datasetOf(entry.Entry)), z)
		pipe.ZAdd(ctx, rankingKey(queryID, domain.DatasetAll), z)
	}
	return nil
}

// queueReset removes everything mirrored for a query id
func queueReset(ctx context.Context, pipe redis.Pipeliner, queryID string) {
	pipe.Del(ctx,
		entriesKey(queryID),
		rankingKey(queryID, domain.DatasetMens),
		rankingKey(queryID, domain.DatasetWomens),
		rankingKey(queryID, domain.DatasetAll),
	)
}

// GetTopN returns the n strongest entries of a dataset
func (m *Mirror) GetTopN(ctx context.Context, queryID string, dataset domain.Dataset, n int) ([]domain.LogEntry, error) {
	ids, err := m.client.ZRevRange(ctx, rankingKey(queryID, dataset), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	if len(ids) == 0 {
		return []domain.LogEntry{}, nil
	}

	docs, err := m.client.HMGet(ctx, entriesKey(queryID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting entries: %w", err)
	}
	return decodeEntries(docs, m.logger), nil
}

// CountEntries returns the number of entries in the combined ranking
func (m *Mirror) CountEntries(ctx context.Context, queryID string) (int64, error) {
	count, err := m.client.ZCard(ctx, rankingKey(queryID, domain.DatasetAll)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

// decodeEntries turns HMGET results into entries, skipping missing or
// undecodable documents
func decodeEntries(docs []any, logger *slog.Logger) []domain.LogEntry {
	entries := make([]domain.LogEntry, 0, len(docs))
	for _, doc := range docs {
		s, ok := doc.(string)
		if !ok {
			continue
		}
		var entry domain.LogEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			logger.Warn("skipping undecodable mirrored entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
