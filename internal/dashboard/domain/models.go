package domain

import (
	"context"
	"time"

	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
)

const SentimentUnanalyzed = feedbackdomain.SentimentUnanalyzed

// ChartSentiments is the fixed order of the chart series.
var ChartSentiments = []string{"positive", "neutral", "negative", "mixed"}

type SentimentCount struct {
	Sentiment string  `json:"sentiment"`
	Count     int64   `json:"count"`
	Share     float64 `json:"share"`
}

type Summary struct {
	Total          int64                     `json:"total"`
	WithAttachment int64                     `json:"with_attachment"`
	Sentiments     []SentimentCount          `json:"sentiments"`
	Recent         []feedbackdomain.Feedback `json:"recent"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

type Service interface {
	Summary(ctx context.Context) (Summary, error)
	// Report renders the summary as a PDF document.
	Report(ctx context.Context) ([]byte, error)
}

// Renderer turns a summary into a document.
type Renderer interface {
	Render(ctx context.Context, summary Summary) ([]byte, error)
}
