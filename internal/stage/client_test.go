package stage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/productlens/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func stageServer(t *testing.T, path string, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func sampleReviews(n int) []Review {
	out := make([]Review, n)
	for i := range out {
		out[i] = Review{Text: "slow sync", Source: "reddit", URL: "https://reddit.com/r/x", Date: "2024-01-01", Platform: "Reddit"}
	}
	return out
}

// --- Scrape ---

func TestScrape_ValidResponse(t *testing.T) {
	ts := stageServer(t, "/scrape", func(w http.ResponseWriter, body map[string]any) {
		assert.Equal(t, "Notion", body["product_name"])
		assert.Equal(t, "job-1", body["job_id"])
		w.Write([]byte(`{"job_id":"job-1","total_count":2,"reviews":[
			{"text":"love it","source":"hn","url":"https://news.ycombinator.com/1","date":"2024-02-01","upvotes":12,"platform":"HackerNews"},
			{"text":"too slow","source":"reddit","url":"https://reddit.com/2","date":"2024-02-02","upvotes":3,"platform":"Reddit"}]}`))
	})

	c := NewScrapeClient(ts.URL, 5*time.Second)
	resp, err := c.Scrape(context.Background(), ScrapeRequest{ProductName: "Notion", JobID: "job-1"})
	require.NoError(t, err)
	require.Len(t, resp.Reviews, 2)
	assert.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, "love it", resp.Reviews[0].Text)
	assert.Equal(t, 12, resp.Reviews[0].Upvotes)
	assert.Nil(t, resp.Reviews[0].IsGenuine)
}

func TestScrape_MissingReviewsIsEmpty(t *testing.T) {
	ts := stageServer(t, "/scrape", func(w http.ResponseWriter, _ map[string]any) {
		w.Write([]byte(`{"job_id":"job-1","total_count":0}`))
	})

	resp, err := NewScrapeClient(ts.URL, 5*time.Second).Scrape(context.Background(), ScrapeRequest{JobID: "job-1"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Reviews)
	assert.Empty(t, resp.Reviews)
}

func TestScrape_ErrorStatus(t *testing.T) {
	ts := stageServer(t, "/scrape", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"detail":"reddit rate limited"}`))
	})

	_, err := NewScrapeClient(ts.URL, 5*time.Second).Scrape(context.Background(), ScrapeRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageStatus)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "reddit rate limited")
	assert.True(t, strings.HasPrefix(err.Error(), "scrape stage:"))
}

func TestScrape_InvalidJSON(t *testing.T) {
	ts := stageServer(t, "/scrape", func(w http.ResponseWriter, _ map[string]any) {
		w.Write([]byte(`not json`))
	})

	_, err := NewScrapeClient(ts.URL, 5*time.Second).Scrape(context.Background(), ScrapeRequest{JobID: "job-1"})
	assert.ErrorIs(t, err, ErrStageInvalidResponse)
}

func TestScrape_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := NewScrapeClient(ts.URL, 50*time.Millisecond).Scrape(context.Background(), ScrapeRequest{JobID: "job-1"})
	assert.ErrorIs(t, err, ErrStageTimeout)
}

func TestScrape_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := NewScrapeClient(url, time.Second).Scrape(context.Background(), ScrapeRequest{JobID: "job-1"})
	assert.ErrorIs(t, err, ErrStageUnreachable)
}

// --- Classify ---

func TestClassify_ValidResponse(t *testing.T) {
	ts := stageServer(t, "/classify", func(w http.ResponseWriter, body map[string]any) {
		reviews, _ := body["reviews"].([]any)
		assert.Len(t, reviews, 3)
		assert.Equal(t, "Figma", body["product_name"])
		w.Write([]byte(`{"job_id":"job-2","rejected_count":2,
			"sentiment_summary":{"overall_label":"negative","weighted_score":3.5,"positive_pct":10,"neutral_pct":20,"negative_pct":70,"total":1},
			"reviews":[{"text":"crashes","source":"g2","url":"u","date":"d","upvotes":0,"platform":"G2",
				"is_genuine":true,"quality_score":0.9,"sentiment":"negative","sentiment_score":0.1}]}`))
	})

	c := NewClassifyClient(ts.URL, 5*time.Second)
	resp, err := c.Classify(context.Background(), ClassifyRequest{
		Reviews: sampleReviews(3), JobID: "job-2", ProductName: "Figma",
	})
	require.NoError(t, err)
	require.Len(t, resp.Reviews, 1)
	assert.Equal(t, 2, resp.RejectedCount)
	require.NotNil(t, resp.Reviews[0].IsGenuine)
	assert.True(t, *resp.Reviews[0].IsGenuine)
	assert.Equal(t, "negative", resp.Reviews[0].Sentiment)
	require.NotNil(t, resp.SentimentSummary)
	assert.Equal(t, "negative", resp.SentimentSummary.OverallLabel)
}

func TestClassify_ErrorStatus(t *testing.T) {
	ts := stageServer(t, "/classify", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := NewClassifyClient(ts.URL, 5*time.Second).Classify(context.Background(), ClassifyRequest{JobID: "j"})
	assert.ErrorIs(t, err, ErrStageStatus)
}

// --- Analyze ---

func TestAnalyze_PassesThroughObject(t *testing.T) {
	ts := stageServer(t, "/analyze", func(w http.ResponseWriter, body map[string]any) {
		assert.Equal(t, float64(1000), body["mau"])
		assert.Equal(t, 4.5, body["arpu"])
		w.Write([]byte(`{"sentiment_score":6.2,"market_position":"challenger","priority_matrix":[]}`))
	})

	mau := int64(1000)
	arpu := 4.5
	result, err := NewAnalyzeClient(ts.URL, 5*time.Second).Analyze(context.Background(), AnalyzeRequest{
		ProductName: "Zoom", Reviews: sampleReviews(1), JobID: "job-3", MAU: &mau, ARPU: &arpu,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sentiment_score":6.2,"market_position":"challenger","priority_matrix":[]}`, string(result))
}

func TestAnalyze_NullMAUARPU(t *testing.T) {
	ts := stageServer(t, "/analyze", func(w http.ResponseWriter, body map[string]any) {
		v, ok := body["mau"]
		assert.True(t, ok)
		assert.Nil(t, v)
		w.Write([]byte(`{}`))
	})

	_, err := NewAnalyzeClient(ts.URL, 5*time.Second).Analyze(context.Background(), AnalyzeRequest{JobID: "j"})
	require.NoError(t, err)
}

func TestAnalyze_RejectsNonObject(t *testing.T) {
	for _, body := range []string{`[1,2,3]`, `null`, `"text"`} {
		t.Run(body, func(t *testing.T) {
			ts := stageServer(t, "/analyze", func(w http.ResponseWriter, _ map[string]any) {
				w.Write([]byte(body))
			})
			_, err := NewAnalyzeClient(ts.URL, 5*time.Second).Analyze(context.Background(), AnalyzeRequest{JobID: "j"})
			assert.ErrorIs(t, err, ErrStageInvalidResponse)
		})
	}
}

// --- Render ---

func TestRender_Success(t *testing.T) {
	ts := stageServer(t, "/generate_report", func(w http.ResponseWriter, body map[string]any) {
		result, _ := body["analysis_result"].(map[string]any)
		assert.Equal(t, "challenger", result["market_position"])
		w.Write([]byte(`{"success":true,"report_path":"/reports/job-4.pdf"}`))
	})

	resp, err := NewRenderClient(ts.URL, 5*time.Second).Render(context.Background(), RenderRequest{
		JobID:          "job-4",
		ProductName:    "Slack",
		AnalysisResult: json.RawMessage(`{"market_position":"challenger"}`),
		Reviews:        sampleReviews(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "/reports/job-4.pdf", resp.ReportPath)
}

func TestRender_SuccessFalse(t *testing.T) {
	ts := stageServer(t, "/generate_report", func(w http.ResponseWriter, _ map[string]any) {
		w.Write([]byte(`{"success":false,"report_path":"","error":"chart rendering failed"}`))
	})

	_, err := NewRenderClient(ts.URL, 5*time.Second).Render(context.Background(), RenderRequest{
		JobID: "j", AnalysisResult: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageStatus)
	assert.Contains(t, err.Error(), "chart rendering failed")
}

func TestRender_MissingPath(t *testing.T) {
	ts := stageServer(t, "/generate_report", func(w http.ResponseWriter, _ map[string]any) {
		w.Write([]byte(`{"success":true}`))
	})

	_, err := NewRenderClient(ts.URL, 5*time.Second).Render(context.Background(), RenderRequest{
		JobID: "j", AnalysisResult: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrStageInvalidResponse)
}

// --- Wiring ---

func TestNewClients_UsesConfiguredURLs(t *testing.T) {
	c := NewClients(config.StagesConfig{
		ScraperURL:      "http://scraper:8001",
		ClassifierURL:   "http://classifier:8002",
		AnalysisURL:     "http://analysis:8003",
		ScrapeTimeout:   time.Second,
		ClassifyTimeout: 2 * time.Second,
		AnalyzeTimeout:  3 * time.Second,
		RenderTimeout:   4 * time.Second,
	})

	assert.Equal(t, "http://scraper:8001/scrape", c.Scraper.url)
	assert.Equal(t, "http://classifier:8002/classify", c.Classifier.url)
	assert.Equal(t, "http://analysis:8003/analyze", c.Analyzer.url)
	assert.Equal(t, "http://analysis:8003/generate_report", c.Renderer.url)
	assert.Equal(t, 3*time.Second, c.Analyzer.client.Timeout)
	assert.Equal(t, 4*time.Second, c.Renderer.client.Timeout)
}

// --- classifyError ---

func TestClassifyError(t *testing.T) {
	assert.ErrorIs(t, classifyError(context.DeadlineExceeded), ErrStageTimeout)
	assert.ErrorIs(t, classifyError(context.Canceled), ErrStageTimeout)
	assert.ErrorIs(t, classifyError(errors.New("connection reset")), ErrStageUnreachable)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("  abc  ", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))

	// A two-byte rune straddling the cut is dropped whole.
	got := truncate(strings.Repeat("a", 511)+"é…", 512)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 511)+"...", got)

	got = truncate("ok \xff\xfe bytes", 512)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ok \uFFFD bytes", got)
}

func TestScrape_ErrorStatusMultiByteBodyStaysValidUTF8(t *testing.T) {
	ts := stageServer(t, "/scrape", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 511) + "é…"))
	})

	_, err := NewScrapeClient(ts.URL, 5*time.Second).Scrape(context.Background(), ScrapeRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageStatus)
	assert.True(t, utf8.ValidString(err.Error()))
}
