package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	analysisdomain "github.com/smallbiznis/feedbackhub/internal/analysis/domain"
	attachmentdomain "github.com/smallbiznis/feedbackhub/internal/attachment/domain"
	"github.com/smallbiznis/feedbackhub/internal/clock"
	"github.com/smallbiznis/feedbackhub/internal/config"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	feedbackrepo "github.com/smallbiznis/feedbackhub/internal/feedback/repository"
	feedbackservice "github.com/smallbiznis/feedbackhub/internal/feedback/service"
	"github.com/smallbiznis/feedbackhub/internal/observability/metrics"
	"github.com/smallbiznis/feedbackhub/internal/submission/domain"
	"github.com/smallbiznis/feedbackhub/pkg/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type mockAnalyzer struct{ mock.Mock }

func (m *mockAnalyzer) Analyze(ctx context.Context, text string) (analysisdomain.Result, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(analysisdomain.Result), args.Error(1)
}

func (m *mockAnalyzer) Provider() string { return "fake" }

type mockStore struct{ mock.Mock }

func (m *mockStore) Store(ctx context.Context, r io.Reader, filename string) (string, error) {
	args := m.Called(ctx, r, filename)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Backend() string { return "fake" }

// failingRecords fails every Create and delegates nothing else.
type failingRecords struct {
	feedbackdomain.Service
	err error
}

func (f failingRecords) Create(context.Context, feedbackdomain.Draft) (feedbackdomain.Feedback, error) {
	return feedbackdomain.Feedback{}, feedbackdomain.NewPersistenceError("insert", f.err)
}

type harness struct {
	pipeline domain.Pipeline
	analyzer *mockAnalyzer
	store    *mockStore
	records  feedbackdomain.Service
	reg      *prometheus.Registry
}

func fastConfig() config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	cfg.AllowedExtensions = []string{".png", ".txt"}
	return cfg
}

func newHarness(t *testing.T, cfg config.PipelineConfig) *harness {
	t.Helper()

	conn := db.NewTest(t, &feedbackdomain.Feedback{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	records := feedbackservice.New(feedbackservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  feedbackrepo.Provide(),
		Clock: clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	})
	return newHarnessWithRecords(t, cfg, records)
}

func newHarnessWithRecords(t *testing.T, cfg config.PipelineConfig, records feedbackdomain.Service) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := &harness{
		analyzer: &mockAnalyzer{},
		store:    &mockStore{},
		records:  records,
		reg:      reg,
	}
	h.pipeline = New(Params{
		Log:         zap.NewNop(),
		Analyzer:    h.analyzer,
		Attachments: h.store,
		Records:     records,
		Config:      config.NewStaticPipelineConfigHolder(cfg),
		Stages:      metrics.NewPipelineMetrics(reg),
	})
	return h
}

func assertMetric(t *testing.T, reg *prometheus.Registry, name, expected string) {
	t.Helper()
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), name))
}

func annSubmission() domain.Submission {
	return domain.Submission{Name: "Ann", Email: "ann@x.com", FeedbackText: "Great service!"}
}

func positive() analysisdomain.Result {
	return analysisdomain.Result{
		Sentiment: analysisdomain.Positive,
		ConfidenceScores: map[analysisdomain.Label]float64{
			analysisdomain.Positive: 0.9,
			analysisdomain.Neutral:  0.08,
			analysisdomain.Negative: 0.02,
		},
		KeyPhrases: []string{"great service"},
	}
}

func transient() error {
	return &analysisdomain.ServiceError{Provider: "fake", StatusCode: 503, Transient: true}
}

func TestSubmitScenarioWithoutAttachment(t *testing.T) {
	h := newHarness(t, fastConfig())
	ctx := context.Background()
	h.analyzer.On("Analyze", mock.Anything, "Great service!").Return(positive(), nil).Once()

	before, err := h.records.ListAll(ctx)
	require.NoError(t, err)

	res, err := h.pipeline.Submit(ctx, annSubmission())
	require.NoError(t, err)

	rec := res.Feedback
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	require.NotNil(t, rec.Sentiment)
	assert.Equal(t, "positive", *rec.Sentiment)
	assert.Nil(t, rec.AttachmentURL)
	assert.Equal(t, []string{"great service"}, []string(rec.KeyPhrases))
	assert.InDelta(t, 0.9, rec.ConfidenceScores.Data()["positive"], 1e-9)
	assert.NotEmpty(t, res.SubmissionID)
	assert.Equal(t, []domain.State{
		domain.StateReceived, domain.StateAnalyzing, domain.StatePersisting, domain.StateCompleted,
	}, res.States)

	after, err := h.records.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	assert.Equal(t, "Great service!", after[0].FeedbackText)

	h.store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
	assertMetric(t, h.reg, "feedbackhub_pipeline_completed_total", `
# HELP feedbackhub_pipeline_completed_total Submissions that reached the completed state.
# TYPE feedbackhub_pipeline_completed_total counter
feedbackhub_pipeline_completed_total 1
`)
}

func TestSubmitKeepsFeedbackTextAsSubmitted(t *testing.T) {
	h := newHarness(t, fastConfig())
	ctx := context.Background()
	text := "  Great service!\n"
	h.analyzer.On("Analyze", mock.Anything, text).Return(positive(), nil).Once()

	sub := annSubmission()
	sub.FeedbackText = text
	res, err := h.pipeline.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, text, res.Feedback.FeedbackText)

	stored, err := h.records.GetByID(ctx, res.Feedback.ID)
	require.NoError(t, err)
	assert.Equal(t, text, stored.FeedbackText)
	h.analyzer.AssertExpectations(t)
}

func TestSubmitValidationTouchesNoCollaborator(t *testing.T) {
	tests := []struct {
		name   string
		sub    domain.Submission
		fields []domain.FieldError
	}{
		{
			name:   "empty feedback text",
			sub:    domain.Submission{Name: "Ann", Email: "ann@x.com", FeedbackText: ""},
			fields: []domain.FieldError{{Field: "feedback_text", Rule: "required"}},
		},
		{
			name:   "whitespace feedback text",
			sub:    domain.Submission{Name: "Ann", Email: "ann@x.com", FeedbackText: "   \n"},
			fields: []domain.FieldError{{Field: "feedback_text", Rule: "required"}},
		},
		{
			name:   "bad email",
			sub:    domain.Submission{Name: "Ann", Email: "not-an-email", FeedbackText: "hi"},
			fields: []domain.FieldError{{Field: "email", Rule: "email"}},
		},
		{
			name:   "long name",
			sub:    domain.Submission{Name: strings.Repeat("a", 101), Email: "ann@x.com", FeedbackText: "hi"},
			fields: []domain.FieldError{{Field: "name", Rule: "max"}},
		},
		{
			name: "disallowed extension",
			sub: domain.Submission{Name: "Ann", Email: "ann@x.com", FeedbackText: "hi",
				Attachment: &domain.Attachment{Filename: "run.exe", Content: strings.NewReader("x")}},
			fields: []domain.FieldError{{Field: "attachment", Rule: "extension"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fastConfig())

			res, err := h.pipeline.Submit(context.Background(), tt.sub)
			require.ErrorIs(t, err, domain.ErrValidation)

			var se *domain.StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, domain.StageValidation, se.Stage)
			assert.Equal(t, tt.fields, se.Fields)
			assert.Equal(t, res.SubmissionID, se.SubmissionID)
			assert.Equal(t, []domain.State{domain.StateReceived, domain.StateFailed}, res.States)

			h.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
			h.store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
			all, err := h.records.ListAll(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestSubmitRetriesTransientAnalysisFailures(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysisdomain.Result{}, transient()).Twice()
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(positive(), nil).Once()

	res, err := h.pipeline.Submit(context.Background(), annSubmission())
	require.NoError(t, err)
	assert.NotZero(t, res.Feedback.ID)
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 3)
	assertMetric(t, h.reg, "feedbackhub_pipeline_retries_total", `
# HELP feedbackhub_pipeline_retries_total Retried collaborator calls by stage.
# TYPE feedbackhub_pipeline_retries_total counter
feedbackhub_pipeline_retries_total{stage="analysis"} 2
`)
}

func TestSubmitExhaustedRetriesPersistNothing(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysisdomain.Result{}, transient())

	res, err := h.pipeline.Submit(context.Background(), annSubmission())
	require.ErrorIs(t, err, domain.ErrAnalysisService)
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 3)
	assert.Equal(t, domain.StateFailed, res.States[len(res.States)-1])

	all, err := h.records.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitNonTransientAnalysisFailsFast(t *testing.T) {
	h := newHarness(t, fastConfig())
	authErr := &analysisdomain.ServiceError{Provider: "fake", StatusCode: 401}
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysisdomain.Result{}, authErr)

	_, err := h.pipeline.Submit(context.Background(), annSubmission())
	require.ErrorIs(t, err, domain.ErrAnalysisService)
	assert.ErrorIs(t, err, analysisdomain.ErrServiceError)
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestSubmitInputTooLarge(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysisdomain.Result{}, analysisdomain.ErrInputTooLarge)

	_, err := h.pipeline.Submit(context.Background(), annSubmission())
	require.ErrorIs(t, err, domain.ErrAnalysisInputTooLarge)
	assert.NotErrorIs(t, err, domain.ErrAnalysisService)
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestSubmitWithAttachment(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(positive(), nil)
	h.store.On("Store", mock.Anything, mock.Anything, "shot.png").
		Return("http://localhost/uploads/feedback-uploads/shot.png", nil).Once()

	sub := annSubmission()
	sub.Attachment = &domain.Attachment{Filename: "shot.png", Content: strings.NewReader("png")}
	res, err := h.pipeline.Submit(context.Background(), sub)
	require.NoError(t, err)

	require.NotNil(t, res.Feedback.AttachmentURL)
	assert.Equal(t, "http://localhost/uploads/feedback-uploads/shot.png", *res.Feedback.AttachmentURL)
	assert.Contains(t, res.States, domain.StateAttachmentPending)
	h.store.AssertExpectations(t)
}

func TestSubmitAttachmentFailureAbortsByDefault(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		kind  error
	}{
		{name: "unavailable", cause: &attachmentdomain.StorageError{Backend: "fake", Op: "upload"}, kind: domain.ErrStorageUnavailable},
		{name: "quota", cause: &attachmentdomain.StorageError{Backend: "fake", Op: "upload", Quota: true}, kind: domain.ErrStorageQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fastConfig())
			h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(positive(), nil)
			h.store.On("Store", mock.Anything, mock.Anything, mock.Anything).Return("", tt.cause).Once()

			sub := annSubmission()
			sub.Attachment = &domain.Attachment{Filename: "a.txt", Content: strings.NewReader("x")}
			_, err := h.pipeline.Submit(context.Background(), sub)
			require.ErrorIs(t, err, tt.kind)

			h.store.AssertNumberOfCalls(t, "Store", 1)
			all, err := h.records.ListAll(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestSubmitAttachmentFailurePersistWithoutPolicy(t *testing.T) {
	cfg := fastConfig()
	cfg.AttachmentFailurePolicy = config.AttachmentPolicyPersistWithout
	h := newHarness(t, cfg)
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(positive(), nil)
	h.store.On("Store", mock.Anything, mock.Anything, mock.Anything).
		Return("", &attachmentdomain.StorageError{Backend: "fake", Op: "upload"})

	sub := annSubmission()
	sub.Attachment = &domain.Attachment{Filename: "a.txt", Content: strings.NewReader("x")}
	res, err := h.pipeline.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.AttachmentDropped)
	assert.Nil(t, res.Feedback.AttachmentURL)
}

func TestSubmitPersistenceFailure(t *testing.T) {
	h := newHarnessWithRecords(t, fastConfig(), failingRecords{err: errors.New("connection refused")})
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(positive(), nil)

	_, err := h.pipeline.Submit(context.Background(), annSubmission())
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, feedbackdomain.ErrPersistence)

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StagePersistence, se.Stage)
	assertMetric(t, h.reg, "feedbackhub_pipeline_stage_failures_total", `
# HELP feedbackhub_pipeline_stage_failures_total Submissions that failed, by stage and error kind.
# TYPE feedbackhub_pipeline_stage_failures_total counter
feedbackhub_pipeline_stage_failures_total{kind="persistence_error",stage="persistence"} 1
`)
}

func TestSubmitCanceledContext(t *testing.T) {
	h := newHarness(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	h.analyzer.On("Analyze", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(analysisdomain.Result{}, transient())

	_, err := h.pipeline.Submit(ctx, annSubmission())
	require.ErrorIs(t, err, domain.ErrAnalysisService)
	assert.ErrorIs(t, err, context.Canceled)
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := retryPolicy(config.DefaultPipelineConfig().Retry)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 2*time.Second, p.MaxBackoff)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Nil(t, p.Retryable)
}
