// Package stage holds the HTTP clients for the four remote pipeline stages
// (scrape, classify, analyze, render) and their request/response contracts.
package stage

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for stage client failures.
var (
	ErrStageUnreachable     = errors.New("stage unreachable")
	ErrStageTimeout         = errors.New("stage timeout")
	ErrStageStatus          = errors.New("stage returned error status")
	ErrStageInvalidResponse = errors.New("stage returned invalid response")
)

// Review is one opinion item. Scraped items carry only the first six
// fields; the classifier fills in the rest.
type Review struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Date     string `json:"date"`
	Upvotes  int    `json:"upvotes"`
	Platform string `json:"platform"`

	IsGenuine      *bool    `json:"is_genuine,omitempty"`
	QualityScore   *float64 `json:"quality_score,omitempty"`
	Sentiment      string   `json:"sentiment,omitempty"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
	SpamReason     *string  `json:"spam_reason,omitempty"`
}

type ScrapeRequest struct {
	ProductName string `json:"product_name"`
	JobID       string `json:"job_id"`
}

type ScrapeResponse struct {
	JobID      string   `json:"job_id"`
	Reviews    []Review `json:"reviews"`
	TotalCount int      `json:"total_count"`
}

type ClassifyRequest struct {
	Reviews     []Review `json:"reviews"`
	JobID       string   `json:"job_id"`
	ProductName string   `json:"product_name"`
}

type SentimentSummary struct {
	OverallLabel  string  `json:"overall_label"`
	WeightedScore float64 `json:"weighted_score"`
	PositivePct   float64 `json:"positive_pct"`
	NeutralPct    float64 `json:"neutral_pct"`
	NegativePct   float64 `json:"negative_pct"`
	Total         int     `json:"total"`
}

type ClassifyResponse struct {
	JobID            string            `json:"job_id"`
	Reviews          []Review          `json:"reviews"`
	RejectedCount    int               `json:"rejected_count"`
	SentimentSummary *SentimentSummary `json:"sentiment_summary,omitempty"`
}

type AnalyzeRequest struct {
	ProductName string   `json:"product_name"`
	Reviews     []Review `json:"reviews"`
	JobID       string   `json:"job_id"`
	MAU         *int64   `json:"mau"`
	ARPU        *float64 `json:"arpu"`
}

type RenderRequest struct {
	JobID          string          `json:"job_id"`
	ProductName    string          `json:"product_name"`
	AnalysisResult json.RawMessage `json:"analysis_result"`
	Reviews        []Review        `json:"reviews"`
}

type RenderResponse struct {
	Success    bool   `json:"success"`
	ReportPath string `json:"report_path"`
	Error      string `json:"error,omitempty"`
}

// Scraper collects raw reviews for a product.
type Scraper interface {
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// Classifier filters spam and scores the remaining reviews.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)
}

// Analyzer returns the structured findings as an opaque JSON object.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (json.RawMessage, error)
}

// Renderer turns findings into a downloadable report and returns its path.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (*RenderResponse, error)
}
