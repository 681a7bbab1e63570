package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/productlens/internal/api/handler"
	"github.com/kiranshivaraju/productlens/internal/cache"
	"github.com/kiranshivaraju/productlens/internal/store"
	"github.com/kiranshivaraju/productlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mocks ───────────────────────────────────────────────────────────────────

type mockDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *mockDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, jobID)
	return nil
}

func (d *mockDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type mockCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func serve(h http.HandlerFunc, method, pattern, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decode(t, w)["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", w.Body.String())
	return errObj["code"].(string)
}

func seedJob(t *testing.T, st store.Store, id string, status models.JobStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateJob(context.Background(), &models.Job{
		ID:          id,
		ProductName: "Notion",
		Status:      models.JobStatusQueued,
		Stage:       models.StageQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	if status == models.JobStatusQueued {
		return
	}
	opts := []store.JobUpdateOption{store.WithStatus(status)}
	if status == models.JobStatusDone {
		opts = append(opts,
			store.WithStage(models.StageComplete),
			store.WithProgress(models.ProgressDone),
			store.WithResult(json.RawMessage(`{"verdict":"keep"}`)),
			store.WithReportPath("/reports/"+id+".pdf"))
	}
	ok, err := st.UpdateJob(context.Background(), id, opts...)
	require.NoError(t, err)
	require.True(t, ok)
}

// ─── analyze ─────────────────────────────────────────────────────────────────

func TestAnalyze_CreatesQueuedJobAndDispatches(t *testing.T) {
	st := store.NewMemoryStore()
	d := &mockDispatcher{}
	h := handler.NewAnalyzeHandler(st, d)

	w := serve(h, "POST", "/analyze", "/analyze",
		`{"product_name":"  Notion  ","monthly_active_users":1000,"avg_revenue_per_user":9.5}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	jobID := body["job_id"].(string)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "Job queued. Poll /status/"+jobID+" for updates.", body["message"])
	assert.Equal(t, []string{jobID}, d.dispatched())

	job, err := st.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "Notion", job.ProductName)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.StageQueued, job.Stage)
	assert.Equal(t, 0, job.ProgressPct)
	require.NotNil(t, job.MAU)
	assert.Equal(t, int64(1000), *job.MAU)
	require.NotNil(t, job.ARPU)
	assert.InDelta(t, 9.5, *job.ARPU, 1e-9)
}

func TestAnalyze_OptionalFinancialsOmitted(t *testing.T) {
	st := store.NewMemoryStore()
	h := handler.NewAnalyzeHandler(st, &mockDispatcher{})

	w := serve(h, "POST", "/analyze", "/analyze", `{"product_name":"Linear"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	job, err := st.GetJob(context.Background(), decode(t, w)["job_id"].(string))
	require.NoError(t, err)
	assert.Nil(t, job.MAU)
	assert.Nil(t, job.ARPU)
}

func TestAnalyze_UniqueJobIDs(t *testing.T) {
	st := store.NewMemoryStore()
	d := &mockDispatcher{}
	h := handler.NewAnalyzeHandler(st, d)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		w := serve(h, "POST", "/analyze", "/analyze", `{"product_name":"Figma"}`)
		require.Equal(t, http.StatusAccepted, w.Code)
		id := decode(t, w)["job_id"].(string)
		assert.False(t, seen[id], "duplicate job id %s", id)
		seen[id] = true
	}
	assert.Len(t, d.dispatched(), 20)
}

func TestAnalyze_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		code  string
		field string
	}{
		{"malformed json", `{"product_name":`, "INVALID_REQUEST", ""},
		{"missing name", `{}`, "VALIDATION_ERROR", "product_name"},
		{"blank name", `{"product_name":"   "}`, "VALIDATION_ERROR", "product_name"},
		{"name too long", `{"product_name":"` + strings.Repeat("x", 201) + `"}`, "VALIDATION_ERROR", "product_name"},
		{"negative mau", `{"product_name":"Slack","monthly_active_users":-1}`, "VALIDATION_ERROR", "monthly_active_users"},
		{"negative arpu", `{"product_name":"Slack","avg_revenue_per_user":-0.5}`, "VALIDATION_ERROR", "avg_revenue_per_user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDispatcher{}
			h := handler.NewAnalyzeHandler(store.NewMemoryStore(), d)

			w := serve(h, "POST", "/analyze", "/analyze", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errCode(t, w))
			if tt.field != "" {
				details := decode(t, w)["error"].(map[string]any)["details"].(map[string]any)
				assert.Contains(t, details, tt.field)
			}
			assert.Empty(t, d.dispatched())
		})
	}
}

func TestAnalyze_DispatchFailureMarksJobFailed(t *testing.T) {
	st := store.NewMemoryStore()
	h := handler.NewAnalyzeHandler(st, &mockDispatcher{err: errors.New("redis down")})

	w := serve(h, "POST", "/analyze", "/analyze", `{"product_name":"Notion"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "DISPATCH_FAILED", errCode(t, w))
}

// ─── status ──────────────────────────────────────────────────────────────────

func TestStatus_Queued(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1", models.JobStatusQueued)

	w := serve(handler.NewStatusHandler(st), "GET", "/status/{jobID}", "/status/job-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, models.StageQueued, body["stage"])
	assert.Equal(t, float64(0), body["progress_pct"])
	assert.Nil(t, body["error"])
	assert.Nil(t, body["report_url"])
}

func TestStatus_DoneHasReportURL(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-2", models.JobStatusDone)

	w := serve(handler.NewStatusHandler(st), "GET", "/status/{jobID}", "/status/job-2", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, float64(100), body["progress_pct"])
	assert.Equal(t, "/report/job-2", body["report_url"])
}

func TestStatus_NotFound(t *testing.T) {
	w := serve(handler.NewStatusHandler(store.NewMemoryStore()), "GET", "/status/{jobID}", "/status/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))
}

// ─── cancel ──────────────────────────────────────────────────────────────────

func TestCancel_ActiveJob(t *testing.T) {
	for _, status := range models.ActiveStatuses() {
		t.Run(string(status), func(t *testing.T) {
			st := store.NewMemoryStore()
			seedJob(t, st, "job-1", status)

			w := serve(handler.NewCancelHandler(st), "POST", "/cancel/{jobID}", "/cancel/job-1", "")

			require.Equal(t, http.StatusOK, w.Code)
			body := decode(t, w)
			assert.Equal(t, "cancelled", body["status"])
			assert.Equal(t, models.StageCancelled, body["stage"])
			assert.Equal(t, models.CancellationMessage, body["error"])
		})
	}
}

func TestCancel_SecondCancelRejected(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1", models.JobStatusScraping)
	h := handler.NewCancelHandler(st)

	first := serve(h, "POST", "/cancel/{jobID}", "/cancel/job-1", "")
	require.Equal(t, http.StatusOK, first.Code)

	second := serve(h, "POST", "/cancel/{jobID}", "/cancel/job-1", "")
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "JOB_ALREADY_FINISHED", errCode(t, second))
}

func TestCancel_TerminalJobUnchanged(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusDone, models.JobStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			st := store.NewMemoryStore()
			seedJob(t, st, "job-1", status)

			w := serve(handler.NewCancelHandler(st), "POST", "/cancel/{jobID}", "/cancel/job-1", "")

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "JOB_ALREADY_FINISHED", errCode(t, w))

			job, err := st.GetJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, status, job.Status)
		})
	}
}

func TestCancel_NotFound(t *testing.T) {
	w := serve(handler.NewCancelHandler(store.NewMemoryStore()), "POST", "/cancel/{jobID}", "/cancel/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))
}

// ─── result ──────────────────────────────────────────────────────────────────

func TestResult_DoneReturnsAndCaches(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1", models.JobStatusDone)
	c := newMockCache()

	w := serve(handler.NewResultHandler(st, c), "GET", "/result/{jobID}", "/result/job-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"verdict":"keep"}`, w.Body.String())

	cached, found, err := c.Get(context.Background(), cache.ResultKey("job-1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"verdict":"keep"}`, string(cached))
}

func TestResult_ServedFromCache(t *testing.T) {
	c := newMockCache()
	c.data[cache.ResultKey("job-9")] = []byte(`{"verdict":"cached"}`)

	w := serve(handler.NewResultHandler(store.NewMemoryStore(), c), "GET", "/result/{jobID}", "/result/job-9", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"verdict":"cached"}`, w.Body.String())
}

func TestResult_CacheErrorFallsBackToStore(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1", models.JobStatusDone)
	c := newMockCache()
	c.getErr = errors.New("redis down")

	w := serve(handler.NewResultHandler(st, c), "GET", "/result/{jobID}", "/result/job-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"verdict":"keep"}`, w.Body.String())
}

func TestResult_NotReady(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1", models.JobStatusAnalyzing)

	w := serve(handler.NewResultHandler(st, nil), "GET", "/result/{jobID}", "/result/job-1", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "RESULT_NOT_READY", errCode(t, w))
}

func TestResult_NotFound(t *testing.T) {
	w := serve(handler.NewResultHandler(store.NewMemoryStore(), newMockCache()), "GET", "/result/{jobID}", "/result/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ─── report ──────────────────────────────────────────────────────────────────

func TestReport_RedirectsWhenDone(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1", models.JobStatusDone)

	w := serve(handler.NewReportHandler(st, "http://analysis:8003"), "GET", "/report/{jobID}", "/report/job-1", "")

	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "http://analysis:8003/report/job-1", w.Header().Get("Location"))
}

func TestReport_NotReady(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1", models.JobStatusGenerating)

	w := serve(handler.NewReportHandler(st, "http://analysis:8003"), "GET", "/report/{jobID}", "/report/job-1", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "REPORT_NOT_READY", errCode(t, w))
}

func TestReport_NotFound(t *testing.T) {
	w := serve(handler.NewReportHandler(store.NewMemoryStore(), "http://analysis:8003"), "GET", "/report/{jobID}", "/report/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
