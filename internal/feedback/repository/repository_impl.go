package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	"github.com/smallbiznis/feedbackhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, feedback *domain.Feedback) error {
	return db.WithContext(ctx).Create(feedback).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Feedback, error) {
	var feedback domain.Feedback
	err := db.WithContext(ctx).Where("id = ?", id).Take(&feedback).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &feedback, nil
}

// List walks (created_at, id) descending. after is the last row of the
// previous page; limit <= 0 returns everything.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, after *pagination.Cursor, limit int) ([]*domain.Feedback, error) {
	var feedbacks []*domain.Feedback
	stmt := db.WithContext(ctx).Model(&domain.Feedback{})
	switch filter.Sentiment {
	case "":
	case domain.SentimentUnanalyzed:
		stmt = stmt.Where("sentiment IS NULL")
	default:
		stmt = stmt.Where("sentiment = ?", filter.Sentiment)
	}
	if after != nil {
		stmt = stmt.Where("created_at < ? OR (created_at = ? AND id < ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Find(&feedbacks).Error
	if err != nil {
		return nil, err
	}
	return feedbacks, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, columns map[string]any) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Feedback{}).
		Where("id = ?", id).
		Updates(columns)
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Feedback{})
	return res.RowsAffected, res.Error
}

func (r *repo) CountBySentiment(ctx context.Context, db *gorm.DB) ([]domain.SentimentCount, error) {
	var rows []domain.SentimentCount
	err := db.WithContext(ctx).
		Model(&domain.Feedback{}).
		Select("sentiment, COUNT(*) AS count").
		Group("sentiment").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) CountWithAttachment(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Feedback{}).
		Where("attachment_url IS NOT NULL AND attachment_url <> ''").
		Count(&n).Error
	return n, err
}
