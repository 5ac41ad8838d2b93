package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	submissiondomain "github.com/smallbiznis/feedbackhub/internal/submission/domain"
)

// statusClientClosedRequest is logged when the caller went away mid-request.
const statusClientClosedRequest = 499

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type         string            `json:"type"`
	Stage        string            `json:"stage,omitempty"`
	Message      string            `json:"message"`
	SubmissionID string            `json:"submission_id,omitempty"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// stageStatus maps each submission failure kind to its response.
var stageStatus = map[error]struct {
	status  int
	message string
}{
	submissiondomain.ErrValidation:            {http.StatusBadRequest, "validation error"},
	submissiondomain.ErrAnalysisInputTooLarge: {http.StatusRequestEntityTooLarge, "feedback text is too long to analyze"},
	submissiondomain.ErrAnalysisService:       {http.StatusBadGateway, "sentiment analysis is unavailable"},
	submissiondomain.ErrStorageUnavailable:    {http.StatusServiceUnavailable, "attachment storage is unavailable"},
	submissiondomain.ErrStorageQuotaExceeded:  {http.StatusInsufficientStorage, "attachment storage is full"},
	submissiondomain.ErrPersistence:           {http.StatusInternalServerError, "feedback could not be saved"},
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var stageErr *submissiondomain.StageError
	if errors.As(err, &stageErr) {
		return mapStageError(stageErr)
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body is too large",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err),
					Code:    validationErrorCode(err),
					Message: "invalid value",
				},
			},
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, feedbackdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many submissions, try again later",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, errorPayload{
			Type:    "request_canceled",
			Message: "request canceled",
		}
	case errors.Is(err, feedbackdomain.ErrPersistence):
		return http.StatusInternalServerError, errorPayload{
			Type:    "persistence_error",
			Message: "feedback store error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func mapStageError(se *submissiondomain.StageError) (int, errorPayload) {
	entry, ok := stageStatus[se.Kind]
	if !ok {
		entry = stageStatus[submissiondomain.ErrPersistence]
	}
	payload := errorPayload{
		Type:         se.KindName(),
		Stage:        string(se.Stage),
		Message:      entry.message,
		SubmissionID: se.SubmissionID,
	}
	for _, f := range se.Fields {
		payload.Errors = append(payload.Errors, ValidationError{
			Field:   f.Field,
			Code:    f.Rule,
			Message: fieldMessage(f),
		})
	}
	return entry.status, payload
}

func fieldMessage(f submissiondomain.FieldError) string {
	switch f.Rule {
	case "required":
		return f.Field + " is required"
	case "email":
		return "email is not a valid address"
	case "max":
		return f.Field + " is too long"
	case "extension":
		return "attachment type is not allowed"
	case "filename":
		return "attachment name is not valid"
	default:
		return "invalid value"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, feedbackdomain.ErrInvalidID),
		errors.Is(err, feedbackdomain.ErrInvalidDraft),
		errors.Is(err, feedbackdomain.ErrEmptyUpdate),
		errors.Is(err, feedbackdomain.ErrInvalidFilter):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		feedbackdomain.ErrInvalidID,
		feedbackdomain.ErrInvalidDraft,
		feedbackdomain.ErrEmptyUpdate,
		feedbackdomain.ErrInvalidFilter,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid_request"
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, feedbackdomain.ErrInvalidID):
		return "id"
	case errors.Is(err, feedbackdomain.ErrInvalidFilter):
		return "query"
	default:
		return "request"
	}
}

// classifyErrorForLog feeds the request logger without exposing causes.
func classifyErrorForLog(err error) (string, string) {
	var stageErr *submissiondomain.StageError
	if errors.As(err, &stageErr) {
		return stageErr.KindName(), string(stageErr.Stage)
	}
	_, payload := mapError(err)
	return payload.Type, ""
}
