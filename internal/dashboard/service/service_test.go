package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/clock"
	"github.com/smallbiznis/feedbackhub/internal/dashboard/domain"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	feedbackrepo "github.com/smallbiznis/feedbackhub/internal/feedback/repository"
	feedbackservice "github.com/smallbiznis/feedbackhub/internal/feedback/service"
	"github.com/smallbiznis/feedbackhub/pkg/db"
)

type stubRenderer struct {
	got domain.Summary
	err error
}

func (r *stubRenderer) Render(_ context.Context, s domain.Summary) ([]byte, error) {
	r.got = s
	return []byte("%PDF-stub"), r.err
}

func setup(t *testing.T) (domain.Service, feedbackdomain.Service, *stubRenderer, *clock.FakeClock) {
	t.Helper()
	conn := db.NewTest(t, &feedbackdomain.Feedback{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	records := feedbackservice.New(feedbackservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Repo: feedbackrepo.Provide(), Clock: clk,
	})
	renderer := &stubRenderer{}
	svc := NewService(Params{Log: zap.NewNop(), Records: records, Renderer: renderer, Clock: clk})
	return svc, records, renderer, clk
}

func seed(t *testing.T, records feedbackdomain.Service, clk *clock.FakeClock, sentiment *string, url *string) {
	t.Helper()
	_, err := records.Create(context.Background(), feedbackdomain.Draft{
		Name: "Ann", Email: "ann@x.com", FeedbackText: "text", Sentiment: sentiment, AttachmentURL: url,
	})
	require.NoError(t, err)
	clk.Advance(time.Second)
}

func ptr(s string) *string { return &s }

func TestSummaryCountsAndShares(t *testing.T) {
	svc, records, _, clk := setup(t)
	seed(t, records, clk, ptr("positive"), ptr("http://x/a.png"))
	seed(t, records, clk, ptr("positive"), nil)
	seed(t, records, clk, ptr("negative"), nil)
	seed(t, records, clk, nil, nil)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), summary.Total)
	assert.Equal(t, int64(1), summary.WithAttachment)
	assert.Equal(t, []domain.SentimentCount{
		{Sentiment: "positive", Count: 2, Share: 0.5},
		{Sentiment: "neutral", Count: 0, Share: 0},
		{Sentiment: "negative", Count: 1, Share: 0.25},
		{Sentiment: "mixed", Count: 0, Share: 0},
		{Sentiment: "unanalyzed", Count: 1, Share: 0.25},
	}, summary.Sentiments)
	require.Len(t, summary.Recent, 4)
	assert.Nil(t, summary.Recent[0].Sentiment)
	assert.Equal(t, clk.Now(), summary.GeneratedAt)
}

func TestSummaryEmpty(t *testing.T) {
	svc, _, _, _ := setup(t)
	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Len(t, summary.Sentiments, len(domain.ChartSentiments))
	assert.Empty(t, summary.Recent)
}

func TestReportPassesSummaryToRenderer(t *testing.T) {
	svc, records, renderer, clk := setup(t)
	seed(t, records, clk, ptr("neutral"), nil)

	doc, err := svc.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-stub"), doc)
	assert.Equal(t, int64(1), renderer.got.Total)

	renderer.err = errors.New("font missing")
	_, err = svc.Report(context.Background())
	assert.ErrorContains(t, err, "render report")
}
