package service

import (
	"errors"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	attachmentdomain "github.com/smallbiznis/feedbackhub/internal/attachment/domain"
	"github.com/smallbiznis/feedbackhub/internal/submission/domain"
)

type submissionForm struct {
	Name         string `json:"name" validate:"required,max=100"`
	Email        string `json:"email" validate:"required,max=100,email"`
	FeedbackText string `json:"feedback_text" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalize trims name and email. FeedbackText is analyzed and stored as
// submitted; only validation looks at its trimmed form.
func normalize(sub domain.Submission) domain.Submission {
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Email = strings.TrimSpace(sub.Email)
	return sub
}

func (p *Pipeline) validate(sub domain.Submission, allowedExt []string) []domain.FieldError {
	var fields []domain.FieldError

	err := p.validator.Struct(submissionForm{
		Name:         sub.Name,
		Email:        sub.Email,
		FeedbackText: strings.TrimSpace(sub.FeedbackText),
	})
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, domain.FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
	}

	if sub.Attachment != nil {
		switch {
		case sub.Attachment.Content == nil:
			fields = append(fields, domain.FieldError{Field: "attachment", Rule: "required"})
		case !validFilename(sub.Attachment.Filename):
			fields = append(fields, domain.FieldError{Field: "attachment", Rule: "filename"})
		case len(allowedExt) > 0 && !slices.Contains(allowedExt, strings.ToLower(filepath.Ext(sub.Attachment.Filename))):
			fields = append(fields, domain.FieldError{Field: "attachment", Rule: "extension"})
		}
	}
	return fields
}

func validFilename(name string) bool {
	_, err := attachmentdomain.ObjectName(name)
	return err == nil
}
