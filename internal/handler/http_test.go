package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/grip-leaderboard/internal/leaderboard"
	"github.com/grip-leaderboard/internal/metrics"
	"github.com/grip-leaderboard/internal/oracle"
	"github.com/grip-leaderboard/internal/service"
	"github.com/grip-leaderboard/internal/submission"
	"github.com/grip-leaderboard/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	svc   *service.LeaderboardService
	batch []domain.Entry
	calls int
}

func (f *fakeRefresher) RunOnce(ctx context.Context) []domain.LogEntry {
	f.calls++
	return f.svc.Apply(ctx, oracle.FetchResult{QueryID: f.svc.QueryID(), Entries: f.batch, Endpoint: "https://primary"}, nil)
}

type fakeRanking struct {
	entries    []domain.LogEntry
	err        error
	dataset    domain.Dataset
	n          int
	rebuilt    []domain.LogEntry
	rebuildErr error
}

func (f *fakeRanking) Rebuild(_ context.Context, _ string, entries []domain.LogEntry) error {
	f.rebuilt = entries
	return f.rebuildErr
}

type fakeCounter struct {
	name  string
	count int64
	err   error
}

func (f fakeCounter) Name() string { return f.name }
func (f fakeCounter) CountEntries(context.Context, string) (int64, error) {
	return f.count, f.err
}

func (f *fakeRanking) GetTopN(_ context.Context, _ string, dataset domain.Dataset, n int) ([]domain.LogEntry, error) {
	f.dataset = dataset
	f.n = n
	return f.entries, f.err
}

type fakeCheck struct {
	name string
	err  error
}

func (f fakeCheck) Name() string { return f.name }
func (f fakeCheck) Ping(ctx context.Context) error { return f.err }

func entry(reporter, ts string, mens bool, right, left float64) domain.Entry {
	return domain.Entry{
		DataSet:   mens,
		RightHand: right,
		LeftHand:  left,
		Reporter:  reporter,
		Timestamp: ts,
	}
}

type testEnv struct {
	handler   *Handler
	service   *service.LeaderboardService
	refresher *fakeRefresher
	router    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, "grip")

	hub := websocket.NewHub(logger)
	svc := service.NewLeaderboardService(config.DefaultQueryID, leaderboard.NewLog(cfg.Leaderboard.MaxEntries), &cfg.Leaderboard, nil, m, logger)

	builder, err := submission.NewBuilder(&cfg.Submission)
	require.NoError(t, err)

	refresher := &fakeRefresher{svc: svc}
	h := NewHandler(svc, builder, refresher, hub, reg, logger)

	return &testEnv{handler: h, service: svc, refresher: refresher, router: h.Router()}
}

func (e *testEnv) seed(entries ...domain.Entry) {
	e.service.Apply(context.Background(), oracle.FetchResult{QueryID: e.service.QueryID(), Entries: entries}, nil)
}

func (e *testEnv) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type leaderboardBody struct {
	Success bool                `json:"success"`
	Data    LeaderboardResponse `json:"data"`
	Error   string              `json:"error"`
}

func decodeLeaderboard(t *testing.T, rec *httptest.ResponseRecorder) leaderboardBody {
	t.Helper()
	var body leaderboardBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func reporters(entries []domain.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Reporter
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestReadyCheck(t *testing.T) {
	env := newTestEnv(t)
	env.handler.AddReadinessCheck(fakeCheck{name: "redis"})

	rec := env.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.handler.AddReadinessCheck(fakeCheck{name: "postgres", err: errors.New("connection refused")})

	rec = env.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres")
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodOptions, "/api/v1/leaderboard", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetLeaderboard_DefaultView(t *testing.T) {
	env := newTestEnv(t)
	env.seed(
		entry("tellor1a", "1", true, 50, 40),
		entry("tellor1b", "2", false, 60, 45),
		entry("tellor1c", "3", true, 30, 30),
	)

	rec := env.do(http.MethodGet, "/api/v1/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeLeaderboard(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, config.DefaultQueryID, body.Data.QueryID)
	assert.Equal(t, domain.DatasetAll, body.Data.Dataset)
	assert.Equal(t, domain.SortByStrength, body.Data.SortBy)
	assert.Equal(t, domain.SortOrderDesc, body.Data.Order)
	assert.Equal(t, 3, body.Data.Count)
	assert.Equal(t, []string{"tellor1b", "tellor1a", "tellor1c"}, reporters(body.Data.Entries))
	require.NotNil(t, body.Data.Status)
	assert.Equal(t, 3, body.Data.Status.Entries)
}

func TestGetLeaderboard_FilterSortLimit(t *testing.T) {
	env := newTestEnv(t)
	env.seed(
		entry("tellor1a", "1", true, 50, 40),
		entry("tellor1b", "2", false, 60, 45),
		entry("tellor1c", "3", true, 30, 30),
	)

	rec := env.do(http.MethodGet, "/api/v1/leaderboard?dataset=mens&sort=strength&order=asc&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeLeaderboard(t, rec)
	assert.Equal(t, domain.DatasetMens, body.Data.Dataset)
	assert.Equal(t, domain.SortOrderAsc, body.Data.Order)
	assert.Equal(t, []string{"tellor1c"}, reporters(body.Data.Entries))
}

func TestGetLeaderboard_InvalidParameters(t *testing.T) {
	env := newTestEnv(t)

	for _, query := range []string{"sort=height", "order=sideways", "limit=ten", "limit=-1", "dataset=men", "dataset=MENS"} {
		rec := env.do(http.MethodGet, "/api/v1/leaderboard?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Contains(t, rec.Body.String(), errInvalidView.Error(), query)
	}
}

func TestGetTop_InMemory(t *testing.T) {
	env := newTestEnv(t)
	env.seed(
		entry("tellor1a", "1", true, 50, 40),
		entry("tellor1b", "2", false, 60, 45),
		entry("tellor1c", "3", true, 70, 30),
	)

	rec := env.do(http.MethodGet, "/api/v1/leaderboard/top?dataset=mens&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeLeaderboard(t, rec)
	assert.Equal(t, []string{"tellor1c", "tellor1a"}, reporters(body.Data.Entries))
}

func TestGetTop_Ranking(t *testing.T) {
	env := newTestEnv(t)
	env.seed(entry("tellor1a", "1", true, 50, 40))

	ranking := &fakeRanking{entries: []domain.LogEntry{{Entry: entry("tellor1z", "9", true, 90, 90)}}}
	env.handler.SetRanking(ranking)

	rec := env.do(http.MethodGet, "/api/v1/leaderboard/top?dataset=mens&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeLeaderboard(t, rec)
	assert.Equal(t, []string{"tellor1z"}, reporters(body.Data.Entries))
	assert.Equal(t, domain.DatasetMens, ranking.dataset)
	assert.Equal(t, 3, ranking.n)
}

func TestGetTop_RankingFailureUsesLog(t *testing.T) {
	env := newTestEnv(t)
	env.seed(entry("tellor1a", "1", true, 50, 40))
	env.handler.SetRanking(&fakeRanking{err: errors.New("redis down")})

	rec := env.do(http.MethodGet, "/api/v1/leaderboard/top", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeLeaderboard(t, rec)
	assert.Equal(t, []string{"tellor1a"}, reporters(body.Data.Entries))
}

func TestGetTop_InvalidDataset(t *testing.T) {
	env := newTestEnv(t)
	ranking := &fakeRanking{}
	env.handler.SetRanking(ranking)

	rec := env.do(http.MethodGet, "/api/v1/leaderboard/top?dataset=men", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ranking.n)
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seed(entry("tellor1a", "1", true, 50, 40))

	rec := env.do(http.MethodGet, "/api/v1/leaderboard/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data domain.PollStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, config.DefaultQueryID, body.Data.QueryID)
	assert.Equal(t, 1, body.Data.Entries)
	assert.Empty(t, body.Data.LastError)
}

func TestGetStatus_StoredCounts(t *testing.T) {
	env := newTestEnv(t)
	env.seed(entry("tellor1a", "1", true, 50, 40))
	env.handler.AddCounter(fakeCounter{name: "redis", count: 1})
	env.handler.AddCounter(fakeCounter{name: "postgres", err: errors.New("db down")})

	rec := env.do(http.MethodGet, "/api/v1/leaderboard/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data StatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Entries)
	assert.Equal(t, map[string]int64{"redis": 1}, body.Data.Stored)
}

func TestRebuildRanking(t *testing.T) {
	env := newTestEnv(t)
	env.seed(
		entry("tellor1a", "1", true, 50, 40),
		entry("tellor1b", "2", false, 60, 45),
	)
	ranking := &fakeRanking{}
	env.handler.SetRanking(ranking)

	rec := env.do(http.MethodPost, "/api/v1/leaderboard/ranking/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"entries":2}}`, rec.Body.String())
	assert.Equal(t, []string{"tellor1b", "tellor1a"}, reporters(ranking.rebuilt))
}

func TestRebuildRanking_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/leaderboard/ranking/rebuild", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.handler.SetRanking(&fakeRanking{rebuildErr: errors.New("redis down")})
	rec = env.do(http.MethodPost, "/api/v1/leaderboard/ranking/rebuild", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis down")
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.refresher.batch = []domain.Entry{entry("tellor1a", "1", true, 50, 40), entry("tellor1b", "2", false, 40, 40)}

	rec := env.do(http.MethodPost, "/api/v1/leaderboard/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.refresher.calls)
	assert.Contains(t, rec.Body.String(), `"added":2`)

	rec = env.do(http.MethodPost, "/api/v1/leaderboard/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"added":0`)
}

func TestEncode(t *testing.T) {
	env := newTestEnv(t)

	req := `{"dataset":"mens","right_hand":100,"left_hand":95,"hours_of_sleep":8,"x_handle":"grip","from":"alice"}`
	rec := env.do(http.MethodPost, "/api/v1/submissions/encode", strings.NewReader(req))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool               `json:"success"`
		Data    submission.Payload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, strings.HasPrefix(body.Data.Value, "0x"))
	assert.Len(t, body.Data.Value, 2+64*10)
	assert.Equal(t, "alice", body.Data.WalletMessage.Value.Creator)
	assert.Contains(t, body.Data.CLICommand, "--from alice")
}

func TestEncode_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	req := `{"dataset":"mens","right_hand":0,"left_hand":95,"hours_of_sleep":8}`
	rec := env.do(http.MethodPost, "/api/v1/submissions/encode", strings.NewReader(req))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrInvalidRightHand.Error())
}

func TestEncode_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/submissions/encode", bytes.NewBufferString("{"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrInvalidRequest.Error())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(entry("tellor1a", "1", true, 50, 40))

	rec := env.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grip_leaderboard_entries")
}

func TestWebSocketStats(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/ws/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_connections":0`)
	assert.Contains(t, rec.Body.String(), `"subscribers":0`)
}
