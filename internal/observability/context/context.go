package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	submissionIDKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithSubmissionID tags the context with the id of the submission run in flight.
func WithSubmissionID(ctx context.Context, submissionID string) context.Context {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return ctx
	}
	return context.WithValue(ctx, submissionIDKey, submissionID)
}

func SubmissionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(submissionIDKey).(string)
	return v
}
