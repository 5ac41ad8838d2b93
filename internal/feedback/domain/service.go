package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedbackhub/pkg/db/pagination"
)

type ListRequest struct {
	Sentiment string
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Feedbacks []Feedback `json:"feedbacks"`
}

// Service is the record store. It owns record identity and created_at; every
// public call is its own transaction.
type Service interface {
	Create(ctx context.Context, draft Draft) (Feedback, error)
	// ListAll returns every record, most recent first.
	ListAll(ctx context.Context) ([]Feedback, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Feedback, error)
	// Update and Delete report 0 rows for an unknown id.
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (int64, error)
	Delete(ctx context.Context, id snowflake.ID) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	// RunInTransaction runs fn against a store bound to one transaction.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, store Service) error) error
}

var (
	ErrPersistence   = errors.New("persistence_error")
	ErrNotFound      = errors.New("not_found")
	ErrInvalidID     = errors.New("invalid_id")
	ErrInvalidDraft  = errors.New("invalid_draft")
	ErrEmptyUpdate   = errors.New("empty_update")
	ErrInvalidFilter = errors.New("invalid_filter")
)

// PersistenceError wraps a failed store operation. errors.Is matches both
// ErrPersistence and the underlying cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	b.WriteString("feedback.")
	b.WriteString(e.Op)
	b.WriteString(": persistence_error")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func (e *PersistenceError) Kind() string { return "persistence_error" }

func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
