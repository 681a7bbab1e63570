package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/productlens/internal/config"
)

// maxErrorBody caps how much of a failed response body ends up in the
// job's error text.
const maxErrorBody = 512

// httpStage is the shared JSON-over-POST transport used by every client.
type httpStage struct {
	name   string
	url    string
	client *http.Client
}

func newHTTPStage(name, url string, timeout time.Duration) httpStage {
	return httpStage{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// post sends body as JSON and returns the raw 200 response body.
func (s httpStage) post(ctx context.Context, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s stage: encoding request: %w", s.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s stage: building request: %w", s.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", s.name, classifyError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", s.name, classifyError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s stage: %w: status %d: %s",
			s.name, ErrStageStatus, resp.StatusCode, truncate(string(data), maxErrorBody))
	}
	return data, nil
}

func (s httpStage) decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s stage: %w: %v", s.name, ErrStageInvalidResponse, err)
	}
	return nil
}

// ScrapeClient calls {SCRAPER_URL}/scrape.
type ScrapeClient struct{ httpStage }

func NewScrapeClient(baseURL string, timeout time.Duration) *ScrapeClient {
	return &ScrapeClient{newHTTPStage("scrape", baseURL+"/scrape", timeout)}
}

func (c *ScrapeClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	data, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	var out ScrapeResponse
	if err := c.decode(data, &out); err != nil {
		return nil, err
	}
	if out.Reviews == nil {
		out.Reviews = []Review{}
	}
	return &out, nil
}

// ClassifyClient calls {CLASSIFIER_URL}/classify.
type ClassifyClient struct{ httpStage }

func NewClassifyClient(baseURL string, timeout time.Duration) *ClassifyClient {
	return &ClassifyClient{newHTTPStage("classify", baseURL+"/classify", timeout)}
}

func (c *ClassifyClient) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	data, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	var out ClassifyResponse
	if err := c.decode(data, &out); err != nil {
		return nil, err
	}
	if out.Reviews == nil {
		out.Reviews = []Review{}
	}
	return &out, nil
}

// AnalyzeClient calls {ANALYSIS_URL}/analyze. The response must be a JSON
// object; its contents are passed through untouched.
type AnalyzeClient struct{ httpStage }

func NewAnalyzeClient(baseURL string, timeout time.Duration) *AnalyzeClient {
	return &AnalyzeClient{newHTTPStage("analyze", baseURL+"/analyze", timeout)}
}

func (c *AnalyzeClient) Analyze(ctx context.Context, req AnalyzeRequest) (json.RawMessage, error) {
	data, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := c.decode(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%s stage: %w: null result", c.name, ErrStageInvalidResponse)
	}
	return json.RawMessage(data), nil
}

// RenderClient calls {ANALYSIS_URL}/generate_report.
type RenderClient struct{ httpStage }

func NewRenderClient(baseURL string, timeout time.Duration) *RenderClient {
	return &RenderClient{newHTTPStage("render", baseURL+"/generate_report", timeout)}
}

// Render fails when the service reports success=false or omits the path.
func (c *RenderClient) Render(ctx context.Context, req RenderRequest) (*RenderResponse, error) {
	data, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	var out RenderResponse
	if err := c.decode(data, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "report generation failed"
		}
		return nil, fmt.Errorf("%s stage: %w: %s", c.name, ErrStageStatus, msg)
	}
	if out.ReportPath == "" {
		return nil, fmt.Errorf("%s stage: %w: missing report_path", c.name, ErrStageInvalidResponse)
	}
	return &out, nil
}

// Clients bundles the four stage clients built from one StagesConfig.
type Clients struct {
	Scraper    *ScrapeClient
	Classifier *ClassifyClient
	Analyzer   *AnalyzeClient
	Renderer   *RenderClient
}

func NewClients(cfg config.StagesConfig) Clients {
	return Clients{
		Scraper:    NewScrapeClient(cfg.ScraperURL, cfg.ScrapeTimeout),
		Classifier: NewClassifyClient(cfg.ClassifierURL, cfg.ClassifyTimeout),
		Analyzer:   NewAnalyzeClient(cfg.AnalysisURL, cfg.AnalyzeTimeout),
		Renderer:   NewRenderClient(cfg.AnalysisURL, cfg.RenderTimeout),
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStageTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrStageTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrStageUnreachable, err)
}

// truncate returns valid UTF-8 of at most n bytes plus an ellipsis.
func truncate(s string, n int) string {
	s = strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD"))
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

var (
	_ Scraper    = (*ScrapeClient)(nil)
	_ Classifier = (*ClassifyClient)(nil)
	_ Analyzer   = (*AnalyzeClient)(nil)
	_ Renderer   = (*RenderClient)(nil)
)
