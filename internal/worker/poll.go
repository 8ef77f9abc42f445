package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/grip-leaderboard/internal/oracle"
)

// Fetcher reads the current reports of a query id
type Fetcher interface {
	Fetch(ctx context.Context, queryID string) (oracle.FetchResult, error)
}

// Applier consumes a completed fetch
type Applier interface {
	Apply(ctx context.Context, result oracle.FetchResult, err error) []domain.LogEntry
}

// PollWorker fetches a query id on a fixed interval and hands each result to
// the applier. A slow poll may still be running when the next tick fires;
// polls are not serialized since applying a result is idempotent by key.
type PollWorker struct {
	fetcher  Fetcher
	applier  Applier
	queryID  string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
	stopped bool
	polls   sync.WaitGroup
}

// NewPollWorker creates a new poll worker. Each fetch is bounded by timeout;
// a non-positive timeout bounds it by the poll interval.
func NewPollWorker(
	fetcher Fetcher,
	applier Applier,
	queryID string,
	interval time.Duration,
	timeout time.Duration,
	logger *slog.Logger,
) *PollWorker {
	if timeout <= 0 {
		timeout = interval
	}
	return &PollWorker{
		fetcher:  fetcher,
		applier:  applier,
		queryID:  queryID,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start polls once immediately and then on every tick until Stop
func (w *PollWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("poll worker started", "query_id", w.queryID, "interval", w.interval)

	go w.run(ctx)
	return nil
}

// Stop cancels the timer and waits for in-flight polls to settle. Results of
// polls that complete after Stop are discarded.
func (w *PollWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.polls.Wait()

	w.logger.Info("poll worker stopped", "query_id", w.queryID)
	return nil
}

// run is the main worker loop
func (w *PollWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.spawn(ctx)
		}
	}
}

func (w *PollWorker) spawn(ctx context.Context) {
	w.polls.Add(1)
	go func() {
		defer w.polls.Done()
		w.poll(ctx, true)
	}()
}

// poll runs one fetch and applies it. When discardAfterStop is set, the
// result is dropped if the worker was stopped while the fetch was running.
func (w *PollWorker) poll(ctx context.Context, discardAfterStop bool) []domain.LogEntry {
	pollID := uuid.NewString()
	w.logger.Debug("starting poll", "poll_id", pollID, "query_id", w.queryID)

	fetchCtx, cancel := context.WithTimeout(ctx, w.timeout)
	result, err := w.fetcher.Fetch(fetchCtx, w.queryID)
	cancel()

	if discardAfterStop && !w.IsRunning() {
		w.logger.Debug("discarding poll result after stop", "poll_id", pollID, "query_id", w.queryID)
		return nil
	}

	added := w.applier.Apply(ctx, result, err)
	w.logger.Debug("poll completed",
		"poll_id", pollID,
		"query_id", w.queryID,
		"endpoint", result.Endpoint,
		"entries", len(result.Entries),
		"added", len(added),
		"duration", result.Duration,
	)
	return added
}

// IsRunning returns whether the worker is currently running
func (w *PollWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single poll cycle (useful for manual triggers) and returns
// the entries it added
func (w *PollWorker) RunOnce(ctx context.Context) []domain.LogEntry {
	return w.poll(ctx, false)
}
