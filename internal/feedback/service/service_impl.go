package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedbackhub/internal/clock"
	"github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	obslogger "github.com/smallbiznis/feedbackhub/internal/observability/logger"
	"github.com/smallbiznis/feedbackhub/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPageSize = 50

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feedback.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) withDB(db *gorm.DB) *Service {
	clone := *s
	clone.db = db
	return &clone
}

func (s *Service) Create(ctx context.Context, draft domain.Draft) (domain.Feedback, error) {
	if err := checkDraft(draft); err != nil {
		return domain.Feedback{}, domain.NewPersistenceError("insert", err)
	}

	record := domain.Feedback{
		ID:               s.genID.Generate(),
		Name:             strings.TrimSpace(draft.Name),
		Email:            strings.TrimSpace(draft.Email),
		FeedbackText:     draft.FeedbackText,
		Sentiment:        draft.Sentiment,
		ConfidenceScores: domain.NewConfidenceScores(draft.ConfidenceScores),
		KeyPhrases:       domain.KeyPhrases(draft.KeyPhrases),
		AttachmentURL:    draft.AttachmentURL,
		CreatedAt:        s.clock.Now().UTC(),
	}
	if record.KeyPhrases == nil {
		record.KeyPhrases = domain.KeyPhrases{}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, &record)
	})
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("insert feedback failed", zap.Error(err))
		return domain.Feedback{}, domain.NewPersistenceError("insert", err)
	}

	return record, nil
}

func (s *Service) ListAll(ctx context.Context) ([]domain.Feedback, error) {
	var items []*domain.Feedback
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		items, err = s.repo.List(ctx, tx, domain.ListFilter{}, nil, 0)
		return err
	})
	if err != nil {
		return nil, domain.NewPersistenceError("list", err)
	}
	return deref(items), nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{Sentiment: strings.ToLower(strings.TrimSpace(req.Sentiment))}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > pagination.MaxPageSize {
		pageSize = pagination.MaxPageSize
	}

	var after *pagination.Cursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidFilter
		}
		after = cursor
	}

	var items []*domain.Feedback
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		items, err = s.repo.List(ctx, tx, filter, after, pageSize+1)
		return err
	})
	if err != nil {
		return domain.ListResponse{}, domain.NewPersistenceError("list", err)
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, pageSize, func(f *domain.Feedback) pagination.Cursor {
		return pagination.Cursor{ID: f.ID.Int64(), CreatedAt: f.CreatedAt}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	return domain.ListResponse{
		PageInfo:  *pageInfo,
		Feedbacks: deref(items),
	}, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Feedback, error) {
	if id <= 0 {
		return domain.Feedback{}, domain.ErrInvalidID
	}

	var found *domain.Feedback
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		found, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Feedback{}, domain.NewPersistenceError("get", err)
	}
	if found == nil {
		return domain.Feedback{}, domain.ErrNotFound
	}
	return *found, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateRequest) (int64, error) {
	if id <= 0 {
		return 0, domain.ErrInvalidID
	}
	columns := req.Columns()
	if len(columns) == 0 {
		return 0, domain.ErrEmptyUpdate
	}
	if err := checkColumns(columns); err != nil {
		return 0, domain.NewPersistenceError("update", err)
	}

	var rows int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = s.repo.Update(ctx, tx, id, columns)
		return err
	})
	if err != nil {
		return 0, domain.NewPersistenceError("update", err)
	}
	return rows, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) (int64, error) {
	if id <= 0 {
		return 0, domain.ErrInvalidID
	}

	var rows int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = s.repo.Delete(ctx, tx, id)
		return err
	})
	if err != nil {
		return 0, domain.NewPersistenceError("delete", err)
	}
	return rows, nil
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	stats := domain.Stats{BySentiment: map[string]int64{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counts, err := s.repo.CountBySentiment(ctx, tx)
		if err != nil {
			return err
		}
		for _, c := range counts {
			label := domain.SentimentUnanalyzed
			if c.Sentiment != nil && *c.Sentiment != "" {
				label = *c.Sentiment
			}
			stats.BySentiment[label] += c.Count
			stats.Total += c.Count
		}
		stats.WithAttachment, err = s.repo.CountWithAttachment(ctx, tx)
		return err
	})
	if err != nil {
		return domain.Stats{}, domain.NewPersistenceError("stats", err)
	}
	return stats, nil
}

func (s *Service) RunInTransaction(ctx context.Context, fn func(ctx context.Context, store domain.Service) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, s.withDB(tx))
	})
	if err == nil {
		return nil
	}
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return fmt.Errorf("feedback transaction rolled back: %w", err)
}

func checkDraft(d domain.Draft) error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("%w: name is required", domain.ErrInvalidDraft)
	case strings.TrimSpace(d.Email) == "":
		return fmt.Errorf("%w: email is required", domain.ErrInvalidDraft)
	case strings.TrimSpace(d.FeedbackText) == "":
		return fmt.Errorf("%w: feedback_text is required", domain.ErrInvalidDraft)
	}
	cols := map[string]any{
		"name":  strings.TrimSpace(d.Name),
		"email": strings.TrimSpace(d.Email),
	}
	if d.AttachmentURL != nil {
		cols["attachment_url"] = *d.AttachmentURL
	}
	return checkColumns(cols)
}

// checkColumns enforces column widths that SQLite would otherwise accept.
func checkColumns(cols map[string]any) error {
	limits := map[string]int{
		"name":           domain.MaxNameLength,
		"email":          domain.MaxEmailLength,
		"attachment_url": domain.MaxAttachmentURLLength,
	}
	for col, limit := range limits {
		v, ok := cols[col].(string)
		if !ok {
			continue
		}
		if utf8.RuneCountInString(v) > limit {
			return fmt.Errorf("%w: %s exceeds %d characters", domain.ErrInvalidDraft, col, limit)
		}
	}
	for _, col := range []string{"name", "email", "feedback_text"} {
		if v, ok := cols[col].(string); ok && strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is required", domain.ErrInvalidDraft, col)
		}
	}
	return nil
}

func deref(items []*domain.Feedback) []domain.Feedback {
	out := make([]domain.Feedback, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out
}
