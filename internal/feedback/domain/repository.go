package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedbackhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type SentimentCount struct {
	Sentiment *string
	Count     int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, feedback *Feedback) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Feedback, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, after *pagination.Cursor, limit int) ([]*Feedback, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, columns map[string]any) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	CountBySentiment(ctx context.Context, db *gorm.DB) ([]SentimentCount, error)
	CountWithAttachment(ctx context.Context, db *gorm.DB) (int64, error)
}
