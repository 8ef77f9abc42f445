// Package leaderboard keeps the de-duplicated log of decoded reports and
// builds the filtered and sorted views served to the dashboard.
package leaderboard

import (
	"sync"
	"time"

	"github.com/grip-leaderboard/internal/domain"
)

// Log is an ordered, de-duplicated sequence of entries keyed by
// (reporter, timestamp). New entries are prepended; entries already seen are
// ignored, so merging the same batch twice is a no-op.
type Log struct {
	mu       sync.RWMutex
	entries  []domain.LogEntry
	seen     map[domain.Key]struct{}
	capacity int
	now      func() time.Time
}

// NewLog creates a log keeping at most capacity entries. Zero means unbounded.
func NewLog(capacity int) *Log {
	return &Log{
		seen:     make(map[domain.Key]struct{}),
		capacity: capacity,
		now:      time.Now,
	}
}

// Merge adds the entries not yet in the log and returns them in log order.
// Each new entry is prepended in turn, so within one batch the last decoded
// entry ends up first.
func (l *Log) Merge(batch []domain.Entry) []domain.LogEntry {
	if len(batch) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ingestedAt := l.now()
	var added []domain.LogEntry
	for _, entry := range batch {
		key := entry.Key()
		if _, ok := l.seen[key]; ok {
			continue
		}
		l.seen[key] = struct{}{}
		added = append(added, domain.LogEntry{Entry: entry, IngestedAt: ingestedAt})
	}
	if len(added) == 0 {
		return nil
	}

	reverse(added)
	merged := make([]domain.LogEntry, 0, len(added)+len(l.entries))
	merged = append(merged, added...)
	merged = append(merged, l.entries...)
	l.entries = l.evict(merged)

	return added
}

// Restore seeds the log with previously stored entries, in log order. Only
// keys not yet present are appended to the back.
func (l *Log) Restore(entries []domain.LogEntry) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	restored := 0
	for _, entry := range entries {
		key := entry.Key()
		if _, ok := l.seen[key]; ok {
			continue
		}
		l.seen[key] = struct{}{}
		l.entries = append(l.entries, entry)
		restored++
	}
	l.entries = l.evict(l.entries)
	return restored
}

// evict drops entries beyond the capacity from the back of the log. Evicted
// keys stay in the seen set so an older report is not re-added on the next
// poll.
func (l *Log) evict(entries []domain.LogEntry) []domain.LogEntry {
	if l.capacity <= 0 || len(entries) <= l.capacity {
		return entries
	}
	return entries[:l.capacity:l.capacity]
}

// Snapshot returns a copy of the log in storage order
func (l *Log) Snapshot() []domain.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries in the log
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Contains reports whether the key has been merged before
func (l *Log) Contains(key domain.Key) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[key]
	return ok
}

func reverse(entries []domain.LogEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
