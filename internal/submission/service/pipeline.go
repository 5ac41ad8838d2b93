package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	analysisdomain "github.com/smallbiznis/feedbackhub/internal/analysis/domain"
	attachmentdomain "github.com/smallbiznis/feedbackhub/internal/attachment/domain"
	"github.com/smallbiznis/feedbackhub/internal/config"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	obscontext "github.com/smallbiznis/feedbackhub/internal/observability/context"
	obslogger "github.com/smallbiznis/feedbackhub/internal/observability/logger"
	"github.com/smallbiznis/feedbackhub/internal/observability/metrics"
	"github.com/smallbiznis/feedbackhub/internal/observability/tracing"
	"github.com/smallbiznis/feedbackhub/internal/retry"
	"github.com/smallbiznis/feedbackhub/internal/submission/domain"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Analyzer    analysisdomain.Client
	Attachments attachmentdomain.Store
	Records     feedbackdomain.Service
	Config      *config.PipelineConfigHolder
	Metrics     *metrics.Metrics         `optional:"true"`
	Stages      *metrics.PipelineMetrics `optional:"true"`
}

type Pipeline struct {
	log         *zap.Logger
	analyzer    analysisdomain.Client
	attachments attachmentdomain.Store
	records     feedbackdomain.Service
	config      *config.PipelineConfigHolder
	metrics     *metrics.Metrics
	stages      *metrics.PipelineMetrics
	validator   *validator.Validate
	tracer      trace.Tracer
}

func New(p Params) domain.Pipeline {
	return &Pipeline{
		log:         p.Log.Named("submission.pipeline"),
		analyzer:    p.Analyzer,
		attachments: p.Attachments,
		records:     p.Records,
		config:      p.Config,
		metrics:     p.Metrics,
		stages:      p.Stages,
		validator:   newValidator(),
		tracer:      tracing.Tracer("feedbackhub/submission"),
	}
}

// run is the state of one submission. It is never shared.
type run struct {
	id     string
	cfg    config.PipelineConfig
	states []domain.State
}

func (r *run) enter(s domain.State) { r.states = append(r.states, s) }

func (p *Pipeline) Submit(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	r := &run{id: ulid.Make().String(), cfg: p.config.Get()}
	ctx = obscontext.WithSubmissionID(ctx, r.id)
	ctx, span := p.tracer.Start(ctx, "submission.submit",
		trace.WithAttributes(attribute.String("submission_id", r.id)))
	defer span.End()

	log := obslogger.WithContext(ctx, p.log)
	r.enter(domain.StateReceived)

	sub = normalize(sub)
	if fields := p.validate(sub, r.cfg.AllowedExtensions); len(fields) > 0 {
		return p.fail(ctx, span, r, &domain.StageError{
			Stage:  domain.StageValidation,
			Kind:   domain.ErrValidation,
			Fields: fields,
		})
	}

	r.enter(domain.StateAnalyzing)
	analysis, err := p.analyze(ctx, r, sub.FeedbackText)
	if err != nil {
		return p.fail(ctx, span, r, err)
	}

	var attachmentURL *string
	dropped := false
	if sub.Attachment != nil {
		r.enter(domain.StateAttachmentPending)
		url, err := p.storeAttachment(ctx, sub.Attachment)
		switch {
		case err == nil:
			attachmentURL = &url
		case r.cfg.AttachmentFailurePolicy == config.AttachmentPolicyPersistWithout:
			log.Warn("attachment dropped, persisting without it", zap.Error(err))
			dropped = true
		default:
			return p.fail(ctx, span, r, err)
		}
	}

	r.enter(domain.StatePersisting)
	record, err := p.persist(ctx, feedbackdomain.Draft{
		Name:             sub.Name,
		Email:            sub.Email,
		FeedbackText:     sub.FeedbackText,
		Sentiment:        labelPtr(analysis.Sentiment),
		ConfidenceScores: analysis.ScoresByName(),
		KeyPhrases:       analysis.KeyPhrases,
		AttachmentURL:    attachmentURL,
	})
	if err != nil {
		return p.fail(ctx, span, r, err)
	}

	r.enter(domain.StateCompleted)
	p.stages.IncCompleted()
	p.metrics.RecordSubmission(ctx, "completed", "", "")
	span.SetAttributes(attribute.Bool("attachment_dropped", dropped))
	log.Info("submission completed",
		zap.Int64("feedback_id", record.ID.Int64()),
		zap.String("sentiment", string(analysis.Sentiment)),
		zap.Bool("has_attachment", attachmentURL != nil))

	return domain.Result{
		SubmissionID:      r.id,
		Feedback:          record,
		States:            r.states,
		AttachmentDropped: dropped,
	}, nil
}

func (p *Pipeline) analyze(ctx context.Context, r *run, text string) (analysisdomain.Result, error) {
	ctx, span := p.tracer.Start(ctx, "submission.analyze",
		trace.WithAttributes(attribute.String("provider", p.analyzer.Provider())))
	defer span.End()
	defer p.observe(domain.StageAnalysis, time.Now())

	log := obslogger.WithContext(ctx, p.log)
	policy := retryPolicy(r.cfg.Retry)
	policy.Retryable = analysisdomain.IsTransient
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		p.stages.IncRetry(string(domain.StageAnalysis))
		log.Warn("analysis attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	res, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (analysisdomain.Result, error) {
		res, err := p.analyzer.Analyze(ctx, text)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		p.metrics.RecordAnalysisAttempt(ctx, p.analyzer.Provider(), outcome)
		span.AddEvent("analysis.attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("outcome", outcome)))
		return res, err
	})
	if err == nil {
		return res, nil
	}

	kind := domain.ErrAnalysisService
	if errors.Is(err, analysisdomain.ErrInputTooLarge) {
		kind = domain.ErrAnalysisInputTooLarge
	}
	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, kind.Error())
	return analysisdomain.Result{}, &domain.StageError{Stage: domain.StageAnalysis, Kind: kind, Err: err}
}

func (p *Pipeline) storeAttachment(ctx context.Context, att *domain.Attachment) (string, error) {
	ctx, span := p.tracer.Start(ctx, "submission.attachment",
		trace.WithAttributes(attribute.String("backend", p.attachments.Backend())))
	defer span.End()
	defer p.observe(domain.StageAttachment, time.Now())

	url, err := p.attachments.Store(ctx, att.Content, att.Filename)
	if err == nil {
		p.metrics.RecordAttachment(ctx, p.attachments.Backend(), "stored")
		return url, nil
	}

	kind := domain.ErrStorageUnavailable
	if errors.Is(err, attachmentdomain.ErrStorageQuotaExceeded) {
		kind = domain.ErrStorageQuotaExceeded
	}
	p.metrics.RecordAttachment(ctx, p.attachments.Backend(), kind.Error())
	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, kind.Error())
	return "", &domain.StageError{Stage: domain.StageAttachment, Kind: kind, Err: err}
}

func (p *Pipeline) persist(ctx context.Context, draft feedbackdomain.Draft) (feedbackdomain.Feedback, error) {
	ctx, span := p.tracer.Start(ctx, "submission.persist")
	defer span.End()
	defer p.observe(domain.StagePersistence, time.Now())

	record, err := p.records.Create(ctx, draft)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, domain.ErrPersistence.Error())
		return feedbackdomain.Feedback{}, &domain.StageError{Stage: domain.StagePersistence, Kind: domain.ErrPersistence, Err: err}
	}
	return record, nil
}

// fail moves the run to Failed and stamps the submission id on the error.
func (p *Pipeline) fail(ctx context.Context, span trace.Span, r *run, err error) (domain.Result, error) {
	r.enter(domain.StateFailed)

	var se *domain.StageError
	if !errors.As(err, &se) {
		se = &domain.StageError{Stage: domain.StagePersistence, Kind: domain.ErrPersistence, Err: err}
	}
	se.SubmissionID = r.id

	p.stages.IncFailure(string(se.Stage), se.KindName())
	p.metrics.RecordSubmission(ctx, "failed", string(se.Stage), se.KindName())
	span.SetAttributes(attribute.String("failed_stage", string(se.Stage)))
	span.SetStatus(codes.Error, se.KindName())

	log := obslogger.WithContext(ctx, p.log)
	if se.Kind == domain.ErrValidation {
		log.Info("submission rejected", zap.Any("fields", se.Fields))
	} else {
		log.Error("submission failed",
			zap.String("stage", string(se.Stage)),
			zap.String("kind", se.KindName()),
			zap.Error(se.Err))
	}
	return domain.Result{SubmissionID: r.id, States: r.states}, se
}

func (p *Pipeline) observe(stage domain.Stage, start time.Time) {
	p.stages.ObserveStage(string(stage), time.Since(start))
}

func labelPtr(l analysisdomain.Label) *string {
	s := string(l)
	return &s
}

// retryPolicy maps the pipeline.yml retry block onto a policy for the
// analysis stage.
func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.Multiplier,
		Jitter:         0.2,
	}
}
