package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grip-leaderboard/internal/codec"
	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueryID = "0xabc123"

var testValue = codec.Encode(domain.Form{
	Dataset:        domain.DatasetMens,
	RightHand:      50,
	LeftHand:       45.5,
	HoursOfSleep:   8,
	XHandle:        "grip",
	GithubUsername: "dyno",
})

type recordingObserver struct {
	mu      sync.Mutex
	fetches []FetchResult
	skipped []domain.RawReport
}

func (o *recordingObserver) ObserveFetch(result FetchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, result)
}

func (o *recordingObserver) ObserveSkipped(_ string, report domain.RawReport, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, report)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(primary, fallback string, observer Observer) *Client {
	cfg := config.DefaultConfig().Oracle
	cfg.PrimaryURL = primary
	cfg.FallbackURL = fallback
	cfg.RequestTimeout = 2 * time.Second
	return NewClient(&cfg, observer, testLogger())
}

func report(reporter string, ts int) map[string]any {
	return map[string]any{
		"value":        testValue,
		"timestamp":    strconv.Itoa(ts),
		"reporter":     reporter,
		"block_number": "42",
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func failingServer(hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
}

func TestFetchNoStakeReports_SinglePage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{report("tellor1a", 1700000000000), report("tellor1b", 1700000001000)},
			"pagination":       map[string]any{"next_key": nil},
		})
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	result, err := newTestClient(srv.URL, "", observer).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)

	assert.Equal(t, "/tellor-io/layer/oracle/get_no_stake_reports_by_qid/abc123", gotPath)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "tellor1a", result.Entries[0].Reporter)
	assert.Equal(t, 50.0, result.Entries[0].RightHand)
	assert.Equal(t, 45.5, result.Entries[0].LeftHand)
	assert.Equal(t, "grip", result.Entries[0].XHandle)
	assert.Equal(t, int64(1700000000000), result.Entries[0].TimestampMs)
	require.NotNil(t, result.Entries[0].BlockNumber)
	assert.Equal(t, int64(42), *result.Entries[0].BlockNumber)
	assert.Equal(t, srv.URL, result.Endpoint)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, 1, result.Pages)
	assert.False(t, result.Truncated)
	require.Len(t, observer.fetches, 1)
}

func TestFetchNoStakeReports_FollowsPagination(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("pagination.key")
		keys = append(keys, key)
		switch key {
		case "":
			writeJSON(t, w, map[string]any{
				"no_stake_reports": []any{report("tellor1a", 1)},
				"pagination":       map[string]any{"next_key": "page/2+="},
			})
		case "page/2+=":
			writeJSON(t, w, map[string]any{
				"no_stake_reports": []any{report("tellor1b", 2)},
				"pagination":       map[string]any{"next_key": ""},
			})
		default:
			t.Errorf("unexpected key %q", key)
		}
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "page/2+="}, keys)
	assert.Equal(t, 2, result.Pages)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "tellor1b", result.Entries[1].Reporter)
}

func TestFetchNoStakeReports_FailoverIsPerCall(t *testing.T) {
	var primaryHits atomic.Int32
	primary := failingServer(&primaryHits)
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{report("tellor1a", 1), report("tellor1b", 2)},
		})
	}))
	defer fallback.Close()

	client := newTestClient(primary.URL, fallback.URL, nil)

	result, err := client.FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, fallback.URL, result.Endpoint)
	assert.Equal(t, 1, result.TransportErrors)
	assert.Len(t, result.Entries, 2)
	assert.Equal(t, int32(1), primaryHits.Load())

	// the next call starts from the primary again
	_, err = client.FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), primaryHits.Load())
}

func TestFetchNoStakeReports_FailoverMidPagination(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pagination.key") != "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{report("tellor1a", 1)},
			"pagination":       map[string]any{"next_key": "next"},
		})
	}))
	defer primary.Close()

	var fallbackKeys []string
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackKeys = append(fallbackKeys, r.URL.Query().Get("pagination.key"))
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{report("tellor1a", 1), report("tellor1b", 2)},
		})
	}))
	defer fallback.Close()

	result, err := newTestClient(primary.URL, fallback.URL, nil).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)

	// pagination restarts on the fallback and the repeated report is dropped
	assert.Equal(t, []string{""}, fallbackKeys)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "tellor1a", result.Entries[0].Reporter)
	assert.Equal(t, "tellor1b", result.Entries[1].Reporter)
}

func TestFetchNoStakeReports_BothEndpointsFail(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	primary := failingServer(&primaryHits)
	defer primary.Close()
	fallback := failingServer(&fallbackHits)
	defer fallback.Close()

	result, err := newTestClient(primary.URL, fallback.URL, nil).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)

	assert.Empty(t, result.Entries)
	assert.Equal(t, 2, result.TransportErrors)
	assert.Equal(t, int32(1), primaryHits.Load())
	assert.Equal(t, int32(1), fallbackHits.Load())
}

func TestFetchNoStakeReports_MalformedBodyFailsOver(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not json</html>")
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"no_stake_reports": []any{report("tellor1a", 1)}})
	}))
	defer fallback.Close()

	result, err := newTestClient(primary.URL, fallback.URL, nil).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)
	assert.True(t, result.UsedFallback)
	assert.Len(t, result.Entries, 1)
}

func TestFetchNoStakeReports_MissingReportsField(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(t, w, map[string]any{"pagination": map[string]any{"next_key": "more"}})
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchNoStakeReports_CapsAtMaxEntries(t *testing.T) {
	const pageSize = 70
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pagination.key"))
		reports := make([]any, pageSize)
		for i := range reports {
			reports[i] = report(fmt.Sprintf("tellor1r%d", page), 1700000000+page*pageSize+i)
		}
		writeJSON(t, w, map[string]any{
			"no_stake_reports": reports,
			"pagination":       map[string]any{"next_key": strconv.Itoa(page + 1)},
		})
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)

	assert.Len(t, result.Entries, DefaultMaxEntries)
	assert.True(t, result.Truncated)
	assert.Equal(t, 8, result.Pages)
}

func TestFetchNoStakeReports_RepeatedPageEndsWalk(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{report("tellor1a", 1700000000)},
			"pagination":       map[string]any{"next_key": fmt.Sprintf("more-%d", hits.Load())},
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(ctx, testQueryID)
	require.NoError(t, err)
	require.NoError(t, ctx.Err())

	assert.Len(t, result.Entries, 1)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchNoStakeReports_EmptyPageWithNextKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{},
			"pagination":       map[string]any{"next_key": "more"},
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(ctx, testQueryID)
	require.NoError(t, err)

	assert.Empty(t, result.Entries)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchNoStakeReports_StuckNextKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{report("tellor1a", 1700000000+n)},
			"pagination":       map[string]any{"next_key": "same"},
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(ctx, testQueryID)
	require.NoError(t, err)

	assert.Len(t, result.Entries, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchNoStakeReports_DuplicatesCountTowardCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pagination.key"))
		reports := make([]any, 0, 10)
		for i := 0; i < 9; i++ {
			reports = append(reports, report("tellor1r", 1700000000+i))
		}
		if page == 0 {
			reports = append(reports, report("tellor1r", 1700000009))
		} else {
			reports = append(reports, report("tellor1r", 1700001000+page))
		}
		writeJSON(t, w, map[string]any{
			"no_stake_reports": reports,
			"pagination":       map[string]any{"next_key": strconv.Itoa(page + 1)},
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(ctx, testQueryID)
	require.NoError(t, err)

	assert.Equal(t, 50, result.Pages)
	assert.Len(t, result.Entries, 59)
	assert.True(t, result.Truncated)
}

func TestFetchNoStakeReports_SkipsUndecodableReports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		short := report("tellor1bad", 2)
		short["value"] = "0x" + strings.Repeat("0", 64*3)
		badTime := report("tellor1time", 3)
		badTime["timestamp"] = "soon"
		writeJSON(t, w, map[string]any{
			"no_stake_reports": []any{report("tellor1a", 1), short, badTime},
		})
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	result, err := newTestClient(srv.URL, "", observer).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, observer.skipped, 2)
	assert.Equal(t, "tellor1bad", observer.skipped[0].Reporter)
}

func TestFetchNoStakeReports_NumericFieldsAndMissingReporter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"no_stake_reports":[{"value":"`+testValue+`","timestamp":1700000000,"block_number":7}]}`)
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL, "", nil).FetchNoStakeReports(context.Background(), testQueryID)
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	assert.Equal(t, "N/A", result.Entries[0].Reporter)
	assert.Equal(t, int64(1700000000000), result.Entries[0].TimestampMs)
	require.NotNil(t, result.Entries[0].BlockNumber)
	assert.Equal(t, int64(7), *result.Entries[0].BlockNumber)
}

func TestFetchNoStakeReports_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"no_stake_reports": []any{}})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL, srv.URL, nil).FetchNoStakeReports(ctx, testQueryID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchAggregates_WalksBackwards(t *testing.T) {
	history := []int64{1700000300, 1700000200, 1700000100}
	var requested []int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		before, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
		assert.NoError(t, err)
		assert.Equal(t, "abc123", parts[len(parts)-2])
		requested = append(requested, before)

		for _, ts := range history {
			if ts <= before {
				writeJSON(t, w, map[string]any{
					"aggregate": map[string]any{
						"aggregate_value":    testValue,
						"aggregate_reporter": "tellor1agg",
						"height":             "99",
					},
					"timestamp": strconv.FormatInt(ts, 10),
				})
				return
			}
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Oracle
	cfg.PrimaryURL = srv.URL
	cfg.FallbackURL = ""
	cfg.Source = config.SourceAggregate
	client := NewClient(&cfg, nil, testLogger())
	client.now = func() time.Time { return time.Unix(1700001000, 0) }

	result, err := client.Fetch(context.Background(), testQueryID)
	require.NoError(t, err)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, []int64{1700001000, 1700000299, 1700000199, 1700000099}, requested)
	assert.Equal(t, int64(1700000300000), result.Entries[0].TimestampMs)
	assert.Equal(t, "tellor1agg", result.Entries[0].Reporter)
	assert.Equal(t, 0, result.TransportErrors)
}

func TestFetchAggregates_BoundedByLookback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		before, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
		writeJSON(t, w, map[string]any{
			"aggregate": map[string]any{"aggregate_value": testValue, "aggregate_reporter": "tellor1agg"},
			"timestamp": strconv.FormatInt(before, 10),
		})
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Oracle
	cfg.PrimaryURL = srv.URL
	cfg.AggregateLookback = 5
	client := NewClient(&cfg, nil, testLogger())

	result, err := client.FetchAggregates(context.Background(), testQueryID)
	require.NoError(t, err)
	assert.Len(t, result.Entries, 5)
}
