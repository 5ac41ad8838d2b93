package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Label is the closed set of sentiment labels a provider may return.
type Label string

const (
	Positive Label = "positive"
	Neutral  Label = "neutral"
	Negative Label = "negative"
	Mixed    Label = "mixed"
)

func ParseLabel(raw string) (Label, error) {
	switch l := Label(strings.ToLower(strings.TrimSpace(raw))); l {
	case Positive, Neutral, Negative, Mixed:
		return l, nil
	default:
		return "", fmt.Errorf("unknown sentiment label %q", raw)
	}
}

// Result is the normalized analysis of one text.
type Result struct {
	Sentiment        Label
	ConfidenceScores map[Label]float64
	KeyPhrases       []string
}

// ScoresByName flattens the score map for storage.
func (r Result) ScoresByName() map[string]float64 {
	out := make(map[string]float64, len(r.ConfidenceScores))
	for label, score := range r.ConfidenceScores {
		out[string(label)] = score
	}
	return out
}

// Client analyzes one text per call and never retries on its own.
type Client interface {
	Analyze(ctx context.Context, text string) (Result, error)
	Provider() string
}

var (
	ErrInputTooLarge = errors.New("analysis_input_too_large")
	ErrEmptyInput    = errors.New("analysis_empty_input")
	ErrServiceError  = errors.New("analysis_service_error")
)

// ServiceError is a failed provider call. Transient marks failures that may
// succeed when repeated.
type ServiceError struct {
	Provider   string
	StatusCode int
	Code       string
	Transient  bool
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": analysis_service_error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrServiceError}
	}
	return []error{ErrServiceError, e.Err}
}

func (e *ServiceError) Kind() string { return "analysis_service_error" }

// TransportError wraps a failure to reach the provider at all.
func TransportError(provider string, err error) error {
	return &ServiceError{Provider: provider, Transient: IsTransientTransport(err), Err: err}
}

// StatusError wraps a non-2xx provider response.
func StatusError(provider string, status int, code, message string) error {
	var cause error
	if message != "" {
		cause = errors.New(message)
	}
	return &ServiceError{
		Provider:   provider,
		StatusCode: status,
		Code:       code,
		Transient:  IsTransientStatus(status),
		Err:        cause,
	}
}

// IsTransient reports whether a Client error is worth another attempt.
func IsTransient(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

func IsTransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsTransientTransport classifies timeouts and dropped connections.
func IsTransientTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
