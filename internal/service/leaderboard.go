package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/grip-leaderboard/internal/leaderboard"
	"github.com/grip-leaderboard/internal/oracle"
	"github.com/grip-leaderboard/internal/websocket"
)

// Sink receives entries newly merged into the leaderboard log
type Sink interface {
	Name() string
	Store(ctx context.Context, queryID string, entries []domain.LogEntry) error
}

// Loader reads previously stored entries for a warm start
type Loader interface {
	LoadEntries(ctx context.Context, queryID string, limit int) ([]domain.LogEntry, error)
}

// Broadcaster pushes leaderboard changes to connected clients
type Broadcaster interface {
	BroadcastEntries(queryID string, entries []domain.LogEntry, total int)
	BroadcastStatus(status domain.PollStatus)
}

// Recorder records merge and sink outcomes
type Recorder interface {
	ObserveMerge(added, total int)
	ObserveSinkFailure(sink string)
}

// LeaderboardService applies poll results to the leaderboard log and serves
// views of it
type LeaderboardService struct {
	queryID     string
	log         *leaderboard.Log
	config      *config.LeaderboardConfig
	broadcaster Broadcaster
	recorder    Recorder
	sinks       []Sink
	logger      *slog.Logger

	mu        sync.RWMutex
	status    domain.PollStatus
	lastStart time.Time
	now       func() time.Time
}

// NewLeaderboardService creates a new leaderboard service. broadcaster and
// recorder may be nil.
func NewLeaderboardService(
	queryID string,
	log *leaderboard.Log,
	cfg *config.LeaderboardConfig,
	broadcaster Broadcaster,
	recorder Recorder,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		queryID:     queryID,
		log:         log,
		config:      cfg,
		broadcaster: broadcaster,
		recorder:    recorder,
		logger:      logger,
		status:      domain.PollStatus{QueryID: queryID},
		now:         time.Now,
	}
}

// AddSink registers a sink for newly merged entries
func (s *LeaderboardService) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// QueryID returns the query id the service tracks
func (s *LeaderboardService) QueryID() string {
	return s.queryID
}

// Apply merges a fetch result into the log and returns the entries that were
// new. A non-nil fetchErr is recorded as the last error; the log keeps its
// contents either way. A result from a poll that started before the one last
// applied still merges its entries but leaves the status alone.
func (s *LeaderboardService) Apply(ctx context.Context, result oracle.FetchResult, fetchErr error) []domain.LogEntry {
	added := s.log.Merge(result.Entries)
	total := s.log.Len()

	started := result.StartedAt
	if started.IsZero() {
		started = s.now()
	}

	s.mu.Lock()
	newer := s.lastStart
	stale := started.Before(newer)
	if !stale {
		s.lastStart = started
		s.status.LastPollAt = s.now()
		s.status.Endpoint = result.Endpoint
		s.status.UsedFallback = result.UsedFallback
		if fetchErr != nil {
			s.status.LastError = fetchErr.Error()
		} else {
			s.status.LastError = ""
		}
	}
	s.status.Entries = total
	status := s.status
	s.mu.Unlock()

	if stale {
		s.logger.Debug("keeping status of a newer poll",
			"query_id", s.queryID,
			"started_at", started,
			"newer_started_at", newer,
		)
	}

	if fetchErr != nil {
		s.logger.Error("poll failed", "query_id", s.queryID, "error", fetchErr)
	}

	if s.recorder != nil {
		s.recorder.ObserveMerge(len(added), total)
	}

	if len(added) > 0 {
		s.logger.Info("leaderboard updated",
			"query_id", s.queryID,
			"added", len(added),
			"entries", total,
		)
		if s.broadcaster != nil {
			s.broadcaster.BroadcastEntries(s.queryID, added, total)
		}
		s.store(ctx, added)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastStatus(status)
	}

	return added
}

// store writes added entries to every sink. Sink failures are logged and
// never affect the in-memory log.
func (s *LeaderboardService) store(ctx context.Context, added []domain.LogEntry) {
	for _, sink := range s.sinks {
		if err := sink.Store(ctx, s.queryID, added); err != nil {
			s.logger.Warn("failed to store entries",
				"sink", sink.Name(),
				"query_id", s.queryID,
				"entries", len(added),
				"error", err,
			)
			if s.recorder != nil {
				s.recorder.ObserveSinkFailure(sink.Name())
			}
		}
	}
}

// WarmStart seeds the log from loader and returns the number of entries
// restored
func (s *LeaderboardService) WarmStart(ctx context.Context, loader Loader) (int, error) {
	entries, err := loader.LoadEntries(ctx, s.queryID, s.config.MaxEntries)
	if err != nil {
		return 0, fmt.Errorf("loading stored entries: %w", err)
	}

	restored := s.log.Restore(entries)

	s.mu.Lock()
	s.status.Entries = s.log.Len()
	s.mu.Unlock()

	s.logger.Info("restored leaderboard entries", "query_id", s.queryID, "entries", restored)
	return restored, nil
}

// Entries returns a view of the log. The limit is clamped to the configured
// maximum; zero selects the default limit.
func (s *LeaderboardService) Entries(view leaderboard.View) []domain.LogEntry {
	if view.Limit <= 0 {
		view.Limit = s.config.DefaultLimit
	}
	if s.config.MaxLimit > 0 && view.Limit > s.config.MaxLimit {
		view.Limit = s.config.MaxLimit
	}
	return view.Apply(s.log.Snapshot())
}

// AllEntries returns the whole log in storage order
func (s *LeaderboardService) AllEntries() []domain.LogEntry {
	return s.log.Snapshot()
}

// DefaultView returns the view used when a request names no sort
func (s *LeaderboardService) DefaultView() leaderboard.View {
	return leaderboard.View{
		Dataset: domain.DatasetAll,
		SortBy:  domain.SortField(s.config.DefaultSort),
		Order:   domain.SortOrder(s.config.DefaultOrder),
		Limit:   s.config.DefaultLimit,
	}
}

// Snapshot returns the status and default view of the tracked query id for
// a new websocket subscriber
func (s *LeaderboardService) Snapshot(queryID string) (websocket.Snapshot, bool) {
	if queryID != s.queryID {
		return websocket.Snapshot{}, false
	}
	status := s.Status()
	return websocket.Snapshot{
		QueryID: queryID,
		Status:  status,
		Entries: s.Entries(s.DefaultView()),
		Total:   status.Entries,
	}, true
}

// Status returns the outcome of the most recent poll
func (s *LeaderboardService) Status() domain.PollStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := s.status
	status.Entries = s.log.Len()
	return status
}
