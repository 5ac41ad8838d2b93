package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	analysisdomain "github.com/smallbiznis/feedbackhub/internal/analysis/domain"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	"github.com/smallbiznis/feedbackhub/internal/observability/logger"
	submissiondomain "github.com/smallbiznis/feedbackhub/internal/submission/domain"
	"github.com/smallbiznis/feedbackhub/pkg/db/pagination"
)

const multipartMemory = 8 << 20

type createFeedbackRequest struct {
	Name         string `json:"name" form:"name"`
	Email        string `json:"email" form:"email"`
	FeedbackText string `json:"feedback_text" form:"feedback_text"`
}

type updateFeedbackRequest struct {
	Name          *string  `json:"name" binding:"omitempty,max=100"`
	Email         *string  `json:"email" binding:"omitempty,email,max=100"`
	FeedbackText  *string  `json:"feedback_text" binding:"omitempty,min=1"`
	Sentiment     *string  `json:"sentiment"`
	KeyPhrases    []string `json:"key_phrases"`
	AttachmentURL *string  `json:"attachment_url" binding:"omitempty,url,max=255"`
}

// readSubmission extracts the four submission values. The returned closer
// releases the uploaded file, if any.
func (s *Server) readSubmission(c *gin.Context) (submissiondomain.Submission, func(), error) {
	noop := func() {}
	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}

	var req createFeedbackRequest
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			return submissiondomain.Submission{}, noop, bindError(err)
		}
		return submissiondomain.Submission{
			Name:         req.Name,
			Email:        req.Email,
			FeedbackText: req.FeedbackText,
		}, noop, nil
	}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
			return submissiondomain.Submission{}, noop, bindError(err)
		}
	}
	if err := c.ShouldBind(&req); err != nil {
		return submissiondomain.Submission{}, noop, bindError(err)
	}

	sub := submissiondomain.Submission{
		Name:         req.Name,
		Email:        req.Email,
		FeedbackText: req.FeedbackText,
	}

	header, err := c.FormFile("attachment")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return sub, noop, nil
	case err != nil:
		return submissiondomain.Submission{}, noop, bindError(err)
	}

	file, err := header.Open()
	if err != nil {
		return submissiondomain.Submission{}, noop, err
	}
	sub.Attachment = &submissiondomain.Attachment{Filename: header.Filename, Content: file}
	return sub, closeFile(c, file), nil
}

func closeFile(c *gin.Context, f multipart.File) func() {
	return func() {
		if err := f.Close(); err != nil {
			logger.FromContext(c.Request.Context()).Warn("close uploaded file", zap.Error(err))
		}
	}
}

func bindError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return maxBytes
	}
	return invalidRequestError()
}

func (s *Server) CreateFeedback(c *gin.Context) {
	sub, release, err := s.readSubmission(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer release()

	res, err := s.pipeline.Submit(c.Request.Context(), sub)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":               res.Feedback,
		"submission_id":      res.SubmissionID,
		"attachment_dropped": res.AttachmentDropped,
	})
}

func (s *Server) ListFeedbacks(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Sentiment string `form:"sentiment"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sentiment := strings.TrimSpace(query.Sentiment)
	if sentiment != "" && sentiment != feedbackdomain.SentimentUnanalyzed {
		if _, err := analysisdomain.ParseLabel(sentiment); err != nil {
			AbortWithError(c, newValidationError("sentiment", "invalid_sentiment", "unknown sentiment"))
			return
		}
	}

	resp, err := s.feedbackSvc.List(c.Request.Context(), feedbackdomain.ListRequest{
		Sentiment: sentiment,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Feedbacks, "page_info": resp.PageInfo})
}

func (s *Server) GetFeedbackByID(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.feedbackSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateFeedback(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := feedbackdomain.UpdateRequest{
		Name:          req.Name,
		Email:         req.Email,
		FeedbackText:  req.FeedbackText,
		KeyPhrases:    req.KeyPhrases,
		AttachmentURL: req.AttachmentURL,
	}
	if req.Sentiment != nil {
		label, err := analysisdomain.ParseLabel(*req.Sentiment)
		if err != nil {
			AbortWithError(c, newValidationError("sentiment", "invalid_sentiment", "unknown sentiment"))
			return
		}
		normalized := string(label)
		update.Sentiment = &normalized
	}

	rows, err := s.feedbackSvc.Update(c.Request.Context(), id, update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rows_affected": rows})
}

func (s *Server) DeleteFeedback(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.feedbackSvc.Delete(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rows_affected": rows})
}

func (s *Server) FeedbackSummary(c *gin.Context) {
	summary, err := s.dashboardSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
