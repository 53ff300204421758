package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drawpulse/drawpulse/internal/metrics"
	"github.com/drawpulse/drawpulse/internal/pipeline"
	"github.com/drawpulse/drawpulse/internal/storage/memory"
)

func init() {
	metrics.Init()
}

func seededServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.UpsertDraw(ctx, pipeline.Draw{
			Period:    fmt.Sprintf("20250101%03d", i),
			DrawTime:  time.Date(2025, 1, 1, 0, i, 0, 0, time.UTC),
			Numbers:   []int{1, 2, 3, 4, 5},
			Sum:       15,
			Span:      4,
			Parity:    "odd",
			Magnitude: "small",
		}))
	}
	return NewServer(store, zap.NewNop()), store
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := seededServer(t)
	rec := doGet(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthzReportsStoreOutage(t *testing.T) {
	t.Parallel()

	s := NewServer(&downStore{}, zap.NewNop())
	rec := doGet(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListDraws(t *testing.T) {
	t.Parallel()

	s, _ := seededServer(t)
	rec := doGet(t, s, "/api/draws?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Draws []drawDTO `json:"draws"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Draws, 2)
	assert.Equal(t, "20250101003", body.Draws[0].Period, "newest draw first")

	rec = doGet(t, s, "/api/draws?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDraw(t *testing.T) {
	t.Parallel()

	s, _ := seededServer(t)
	rec := doGet(t, s, "/api/draws/20250101002")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Draw drawDTO `json:"draw"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, body.Draw.Numbers)

	rec = doGet(t, s, "/api/draws/20990101001")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	s, store := seededServer(t)
	id, err := store.EnqueueJob(context.Background(), "feature_extract",
		json.RawMessage(`{"period":"20250101001"}`), 3)
	require.NoError(t, err)

	rec := doGet(t, s, fmt.Sprintf("/api/jobs/%d", id))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Job jobDTO `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "feature_extract", body.Job.Type)
	assert.Equal(t, "pending", body.Job.Status)
	assert.Nil(t, body.Job.ResultID)

	assert.Equal(t, http.StatusNotFound, doGet(t, s, "/api/jobs/999").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/jobs/abc").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := seededServer(t)
	rec := doGet(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// downStore fails every call, simulating a database outage.
type downStore struct{}

func (downStore) Ping(context.Context) error { return fmt.Errorf("connection refused") }

func (downStore) GetDraw(context.Context, string) (pipeline.Draw, error) {
	return pipeline.Draw{}, fmt.Errorf("connection refused")
}

func (downStore) ListRecentDraws(context.Context, int) ([]pipeline.Draw, error) {
	return nil, fmt.Errorf("connection refused")
}

func (downStore) GetJob(context.Context, int64) (pipeline.Job, error) {
	return pipeline.Job{}, fmt.Errorf("connection refused")
}
