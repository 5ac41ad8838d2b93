package service

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/clock"
	"github.com/smallbiznis/feedbackhub/internal/dashboard/domain"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
)

const recentLimit = 20

type Params struct {
	fx.In

	Log      *zap.Logger
	Records  feedbackdomain.Service
	Renderer domain.Renderer
	Clock    clock.Clock
}

type Service struct {
	log      *zap.Logger
	records  feedbackdomain.Service
	renderer domain.Renderer
	clock    clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("dashboard.service"),
		records:  p.Records,
		renderer: p.Renderer,
		clock:    p.Clock,
	}
}

func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	var (
		stats  feedbackdomain.Stats
		recent feedbackdomain.ListResponse
	)
	// one snapshot for both reads
	err := s.records.RunInTransaction(ctx, func(ctx context.Context, store feedbackdomain.Service) error {
		var err error
		if stats, err = store.Stats(ctx); err != nil {
			return err
		}
		recent, err = store.List(ctx, feedbackdomain.ListRequest{PageSize: recentLimit})
		return err
	})
	if err != nil {
		return domain.Summary{}, err
	}

	return domain.Summary{
		Total:          stats.Total,
		WithAttachment: stats.WithAttachment,
		Sentiments:     sentimentSeries(stats),
		Recent:         recent.Feedbacks,
		GeneratedAt:    s.clock.Now(),
	}, nil
}

func (s *Service) Report(ctx context.Context) ([]byte, error) {
	summary, err := s.Summary(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := s.renderer.Render(ctx, summary)
	if err != nil {
		s.log.Error("render dashboard report", zap.Error(err))
		return nil, fmt.Errorf("render report: %w", err)
	}
	return doc, nil
}

// sentimentSeries lists every chart label, zero or not, then the unanalyzed
// bucket when present.
func sentimentSeries(stats feedbackdomain.Stats) []domain.SentimentCount {
	out := make([]domain.SentimentCount, 0, len(domain.ChartSentiments)+1)
	for _, label := range domain.ChartSentiments {
		out = append(out, domain.SentimentCount{Sentiment: label, Count: stats.BySentiment[label]})
	}
	if n := stats.BySentiment[domain.SentimentUnanalyzed]; n > 0 {
		out = append(out, domain.SentimentCount{Sentiment: domain.SentimentUnanalyzed, Count: n})
	}
	if stats.Total > 0 {
		for i := range out {
			out[i].Share = float64(out[i].Count) / float64(stats.Total)
		}
	}
	return out
}
