package domain

import (
	"context"
	"errors"
	"io"
	"strings"

	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
)

// State is a step of one submission run. A run moves forward only.
type State string

const (
	StateReceived          State = "received"
	StateAnalyzing         State = "analyzing"
	StateAttachmentPending State = "attachment_pending"
	StatePersisting        State = "persisting"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Stage names the step a failure happened in.
type Stage string

const (
	StageValidation  Stage = "validation"
	StageAnalysis    Stage = "analysis"
	StageAttachment  Stage = "attachment"
	StagePersistence Stage = "persistence"
)

var (
	ErrValidation            = errors.New("validation_error")
	ErrAnalysisService       = errors.New("analysis_service_error")
	ErrAnalysisInputTooLarge = errors.New("analysis_input_too_large")
	ErrStorageUnavailable    = errors.New("storage_unavailable")
	ErrStorageQuotaExceeded  = errors.New("storage_quota_exceeded")
	ErrPersistence           = errors.New("persistence_error")
)

// Submission is what the HTTP layer extracted from one request.
type Submission struct {
	Name         string
	Email        string
	FeedbackText string
	Attachment   *Attachment
}

type Attachment struct {
	Filename string
	Content  io.Reader
}

// Result is a completed run.
type Result struct {
	SubmissionID string
	Feedback     feedbackdomain.Feedback
	States       []State
	// AttachmentDropped is set when the upload failed and the record was
	// kept without it.
	AttachmentDropped bool
}

// FieldError is one rejected input field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// StageError is a failed run. errors.Is matches both its kind sentinel and
// the collaborator cause.
type StageError struct {
	SubmissionID string
	Stage        Stage
	Kind         error
	Fields       []FieldError
	Err          error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString("submission ")
	b.WriteString(string(e.Stage))
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *StageError) KindName() string { return e.Kind.Error() }

// Pipeline runs one submission from validation to a persisted record.
type Pipeline interface {
	Submit(ctx context.Context, sub Submission) (Result, error)
}
