package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	MaxNameLength          = 100
	MaxEmailLength         = 100
	MaxAttachmentURLLength = 255
)

// Feedback is one persisted submission.
type Feedback struct {
	ID               snowflake.ID     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name             string           `gorm:"size:100;not null" json:"name"`
	Email            string           `gorm:"size:100;not null" json:"email"`
	FeedbackText     string           `gorm:"type:text;not null" json:"feedback_text"`
	Sentiment        *string          `gorm:"size:20;index" json:"sentiment"`
	ConfidenceScores ConfidenceScores `gorm:"type:text" json:"confidence_scores"`
	KeyPhrases       KeyPhrases       `gorm:"type:text" json:"key_phrases"`
	AttachmentURL    *string          `gorm:"size:255" json:"attachment_url"`
	CreatedAt        time.Time        `gorm:"not null;index" json:"created_at"`
}

func (Feedback) TableName() string { return "feedbacks" }

// ConfidenceScores maps a sentiment label to its probability, stored as JSON text.
type ConfidenceScores = datatypes.JSONType[map[string]float64]

func NewConfidenceScores(m map[string]float64) ConfidenceScores {
	if m == nil {
		m = map[string]float64{}
	}
	return datatypes.NewJSONType(m)
}

// KeyPhrases is stored as a single ", " delimited string.
type KeyPhrases []string

const keyPhraseSeparator = ", "

func (k KeyPhrases) Value() (driver.Value, error) {
	if k == nil {
		return nil, nil
	}
	return strings.Join(k, keyPhraseSeparator), nil
}

func (k *KeyPhrases) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*k = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("key_phrases: unsupported type %T", src)
	}
	if raw == "" {
		*k = KeyPhrases{}
		return nil
	}
	*k = strings.Split(raw, keyPhraseSeparator)
	return nil
}

func (KeyPhrases) GormDataType() string { return "text" }

// Draft is a record that has not been persisted yet. It carries no identity.
type Draft struct {
	Name             string
	Email            string
	FeedbackText     string
	Sentiment        *string
	ConfidenceScores map[string]float64
	KeyPhrases       []string
	AttachmentURL    *string
}

// UpdateRequest lists the columns to change; nil fields are left as is.
type UpdateRequest struct {
	Name             *string
	Email            *string
	FeedbackText     *string
	Sentiment        *string
	ConfidenceScores map[string]float64
	KeyPhrases       []string
	AttachmentURL    *string
}

func (r UpdateRequest) Columns() map[string]any {
	cols := map[string]any{}
	if r.Name != nil {
		cols["name"] = strings.TrimSpace(*r.Name)
	}
	if r.Email != nil {
		cols["email"] = strings.TrimSpace(*r.Email)
	}
	if r.FeedbackText != nil {
		cols["feedback_text"] = *r.FeedbackText
	}
	if r.Sentiment != nil {
		cols["sentiment"] = *r.Sentiment
	}
	if r.ConfidenceScores != nil {
		cols["confidence_scores"] = NewConfidenceScores(r.ConfidenceScores)
	}
	if r.KeyPhrases != nil {
		cols["key_phrases"] = KeyPhrases(r.KeyPhrases)
	}
	if r.AttachmentURL != nil {
		cols["attachment_url"] = *r.AttachmentURL
	}
	return cols
}

// SentimentUnanalyzed selects records whose analysis never ran.
const SentimentUnanalyzed = "unanalyzed"

type ListFilter struct {
	Sentiment string
}

// Stats aggregates the table for the dashboard.
type Stats struct {
	Total          int64            `json:"total"`
	WithAttachment int64            `json:"with_attachment"`
	BySentiment    map[string]int64 `json:"by_sentiment"`
}
