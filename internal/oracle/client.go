// Package oracle fetches grip-strength reports from the node REST API,
// failing over from the primary to the fallback endpoint when needed.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grip-leaderboard/internal/codec"
	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
)

// DefaultMaxEntries bounds the number of entries collected by one fetch
const DefaultMaxEntries = 500

// statusError is returned for non-2xx responses
type statusError struct {
	URL  string
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Client reads reports for a query id from the node REST API
type Client struct {
	httpClient        *http.Client
	primaryURL        string
	fallbackURL       string
	source            string
	maxEntries        int
	aggregateLookback int
	decoder           *codec.Decoder
	observer          Observer
	logger            *slog.Logger
	now               func() time.Time
}

// NewClient creates a new oracle client. A nil observer discards events.
func NewClient(cfg *config.OracleConfig, observer Observer, logger *slog.Logger) *Client {
	if observer == nil {
		observer = nopObserver{}
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Client{
		httpClient:        &http.Client{Timeout: cfg.RequestTimeout},
		primaryURL:        strings.TrimRight(cfg.PrimaryURL, "/"),
		fallbackURL:       strings.TrimRight(cfg.FallbackURL, "/"),
		source:            cfg.Source,
		maxEntries:        maxEntries,
		aggregateLookback: cfg.AggregateLookback,
		decoder:           codec.NewDecoder(nil),
		observer:          observer,
		logger:            logger,
		now:               time.Now,
	}
}

// Fetch reads the reports of queryID from the configured source
func (c *Client) Fetch(ctx context.Context, queryID string) (FetchResult, error) {
	if c.source == config.SourceAggregate {
		return c.FetchAggregates(ctx, queryID)
	}
	return c.FetchNoStakeReports(ctx, queryID)
}

// FetchNoStakeReports walks the paginated no-stake report listing until the
// entry cap is reached or the pages run out. Every report received counts
// toward the cap, duplicates included, and a page that yields nothing new
// ends the walk. On a transport error the call
// switches to the fallback endpoint once and restarts pagination there; a
// second failure ends the fetch with whatever was collected. The endpoint
// choice is local to the call.
//
// Transport failures are reported in the result, not as an error. The
// returned error is non-nil only when the fetch could not proceed at all,
// such as on context cancellation.
func (c *Client) FetchNoStakeReports(ctx context.Context, queryID string) (FetchResult, error) {
	cleanID := strings.TrimPrefix(queryID, "0x")
	start := c.now()
	result := FetchResult{QueryID: queryID, Endpoint: c.primaryURL, StartedAt: start}
	seen := make(map[domain.Key]struct{})

	// walk holds the keys received from the current endpoint; it restarts
	// with pagination on failover
	var nextKey string
	walk := make(map[domain.Key]struct{})
	received := 0
	for len(result.Entries) < c.maxEntries {
		var resp noStakeReportsResponse
		err := c.getJSON(ctx, noStakeReportsURL(result.Endpoint, cleanID, nextKey), &resp)
		if err != nil {
			if !errors.Is(err, domain.ErrTransport) {
				return c.finish(result, start), err
			}
			result.TransportErrors++
			if c.failover(&result, err) {
				nextKey = ""
				walk = make(map[domain.Key]struct{})
				received = 0
				continue
			}
			break
		}
		result.Pages++

		if len(resp.NoStakeReports) == 0 {
			break
		}

		raws := make([]domain.RawReport, len(resp.NoStakeReports))
		fresh := 0
		for i, r := range resp.NoStakeReports {
			raws[i] = r.raw()
			key := domain.Key{Reporter: raws[i].Reporter, Timestamp: raws[i].Timestamp}
			if _, ok := walk[key]; !ok {
				walk[key] = struct{}{}
				fresh++
			}
		}
		if fresh == 0 {
			c.logger.Warn("oracle page repeated earlier reports, stopping",
				"query_id", queryID,
				"endpoint", result.Endpoint,
				"page", result.Pages,
			)
			break
		}

		if c.collect(&result, seen, raws) {
			break
		}
		received += len(raws)
		if received >= c.maxEntries {
			result.Truncated = true
			break
		}

		next := ""
		if resp.Pagination != nil && resp.Pagination.NextKey != nil {
			next = *resp.Pagination.NextKey
		}
		if next == "" || next == nextKey {
			break
		}
		nextKey = next
	}

	return c.finish(result, start), nil
}

// FetchAggregates walks the aggregate history backwards from the current
// time, one get_data_before call per step. It stops at the first step with
// no aggregate, on a 404, or after min(max entries, lookback) entries.
func (c *Client) FetchAggregates(ctx context.Context, queryID string) (FetchResult, error) {
	cleanID := strings.TrimPrefix(queryID, "0x")
	start := c.now()
	result := FetchResult{QueryID: queryID, Endpoint: c.primaryURL, StartedAt: start}
	seen := make(map[domain.Key]struct{})

	limit := c.maxEntries
	if c.aggregateLookback > 0 && c.aggregateLookback < limit {
		limit = c.aggregateLookback
	}

	before := start.Unix()
	for len(result.Entries) < limit && result.Pages < limit {
		var resp dataBeforeResponse
		err := c.getJSON(ctx, dataBeforeURL(result.Endpoint, cleanID, before), &resp)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.Code == http.StatusNotFound {
				break
			}
			if !errors.Is(err, domain.ErrTransport) {
				return c.finish(result, start), err
			}
			result.TransportErrors++
			if c.failover(&result, err) {
				continue
			}
			break
		}
		result.Pages++

		if resp.Aggregate == nil {
			break
		}

		raw := resp.raw()
		if c.collect(&result, seen, []domain.RawReport{raw}) {
			break
		}

		ms, err := codec.NormalizeTimestampMs(raw.Timestamp)
		if err != nil || ms/1000-1 >= before {
			break
		}
		before = ms/1000 - 1
	}

	return c.finish(result, start), nil
}

// failover switches the call to the fallback endpoint. It reports false when
// the fallback was already used or none is configured.
func (c *Client) failover(result *FetchResult, err error) bool {
	if result.UsedFallback || c.fallbackURL == "" {
		c.logger.Warn("oracle fetch failed, giving up",
			"query_id", result.QueryID,
			"endpoint", result.Endpoint,
			"error", err,
		)
		return false
	}
	c.logger.Warn("oracle fetch failed, switching to fallback",
		"query_id", result.QueryID,
		"endpoint", result.Endpoint,
		"fallback", c.fallbackURL,
		"error", err,
	)
	result.UsedFallback = true
	result.Endpoint = c.fallbackURL
	return true
}

// collect decodes raws into result, skipping undecodable and already seen
// reports. It reports true once the entry cap is reached.
func (c *Client) collect(result *FetchResult, seen map[domain.Key]struct{}, raws []domain.RawReport) bool {
	batch := c.decoder.DecodeBatch(raws)
	for _, failure := range batch.Failures {
		result.Skipped++
		c.observer.ObserveSkipped(result.QueryID, failure.Report, failure.Err)
		c.logger.Warn("skipping undecodable report",
			"query_id", result.QueryID,
			"reporter", failure.Report.Reporter,
			"timestamp", failure.Report.Timestamp,
			"error", failure.Err,
		)
	}

	for _, entry := range batch.Entries {
		key := entry.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result.Entries = append(result.Entries, entry)
		result.Decoded++
		if len(result.Entries) >= c.maxEntries {
			result.Truncated = true
			return true
		}
	}
	return false
}

func (c *Client) finish(result FetchResult, start time.Time) FetchResult {
	result.Duration = c.now().Sub(start)
	c.observer.ObserveFetch(result)
	c.logger.Debug("oracle fetch completed",
		"query_id", result.QueryID,
		"endpoint", result.Endpoint,
		"used_fallback", result.UsedFallback,
		"pages", result.Pages,
		"entries", len(result.Entries),
		"skipped", result.Skipped,
		"duration", result.Duration,
	)
	return result
}

// getJSON performs a GET and decodes the body into out. Network failures,
// non-2xx statuses and malformed bodies are wrapped in domain.ErrTransport.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %w", domain.ErrTransport, &statusError{URL: rawURL, Code: resp.StatusCode})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: decoding response: %w", domain.ErrTransport, err)
	}
	return nil
}

func noStakeReportsURL(base, queryID, key string) string {
	u := base + "/tellor-io/layer/oracle/get_no_stake_reports_by_qid/" + queryID
	if key != "" {
		u += "?pagination.key=" + url.QueryEscape(key)
	}
	return u
}

func dataBeforeURL(base, queryID string, before int64) string {
	return base + "/tellor-io/layer/oracle/get_data_before/" + queryID + "/" + strconv.FormatInt(before, 10)
}
