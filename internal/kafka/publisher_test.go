package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func logEntry(reporter, ts string) domain.LogEntry {
	return domain.LogEntry{Entry: domain.Entry{Reporter: reporter, Timestamp: ts, RightHand: 50, LeftHand: 40}}
}

func TestPublisher_Store(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)

	var reporters []string
	checker := func(val []byte) error {
		var msg EntryMessage
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.QueryID != "0xq" {
			return errors.New("unexpected query id " + msg.QueryID)
		}
		reporters = append(reporters, msg.Reporter)
		return nil
	}
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(checker)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(checker)

	p := newPublisher(producer, "grip-strength-entries", testLogger())
	err := p.Store(context.Background(), "0xq", []domain.LogEntry{logEntry("tellor1a", "1"), logEntry("tellor1b", "2")})
	require.NoError(t, err)

	assert.Equal(t, []string{"tellor1a", "tellor1b"}, reporters)
	require.NoError(t, p.Close())
}

func TestPublisher_StoreFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newPublisher(producer, "grip-strength-entries", testLogger())
	err := p.Store(context.Background(), "0xq", []domain.LogEntry{logEntry("tellor1a", "1")})

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestPublisher_StoreNothing(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := newPublisher(producer, "grip-strength-entries", testLogger())

	assert.NoError(t, p.Store(context.Background(), "0xq", nil))
	assert.Equal(t, "kafka", p.Name())
	require.NoError(t, p.Close())
}
