package server

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	dashboarddomain "github.com/smallbiznis/feedbackhub/internal/dashboard/domain"
	"github.com/smallbiznis/feedbackhub/internal/observability/logger"
)

//go:embed web/templates/*.html
var templateFS embed.FS

//go:embed web/static
var assetFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"join": strings.Join,
	"percent": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v*100)
	},
	"datetime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04")
	},
}).ParseFS(templateFS, "web/templates/*.html"))

func staticFS() http.FileSystem {
	sub, err := fs.Sub(assetFS, "web/static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

type formView struct {
	Submitted bool
	Error     string
	Fields    map[string]string
	Values    createFeedbackRequest
}

func (s *Server) FeedbackForm(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", formView{
		Submitted: c.Query("submitted") == "1",
	})
}

// SubmitForm runs the pipeline for the HTML form. JSON clients get the
// record; browsers are redirected back to the form.
func (s *Server) SubmitForm(c *gin.Context) {
	sub, release, err := s.readSubmission(c)
	if err != nil {
		s.submitFailed(c, err, createFeedbackRequest{})
		return
	}
	defer release()

	res, err := s.pipeline.Submit(c.Request.Context(), sub)
	if err != nil {
		s.submitFailed(c, err, createFeedbackRequest{
			Name:         sub.Name,
			Email:        sub.Email,
			FeedbackText: sub.FeedbackText,
		})
		return
	}

	if wantsJSON(c) {
		c.JSON(http.StatusCreated, gin.H{"data": res.Feedback, "submission_id": res.SubmissionID})
		return
	}
	c.Redirect(http.StatusSeeOther, "/?submitted=1")
}

func (s *Server) submitFailed(c *gin.Context, err error, values createFeedbackRequest) {
	if wantsJSON(c) {
		AbortWithError(c, err)
		return
	}

	// recorded for the request logger; the page is rendered here
	_ = c.Error(err)
	status, payload := mapError(err)
	fields := make(map[string]string, len(payload.Errors))
	for _, fe := range payload.Errors {
		fields[fe.Field] = fe.Message
	}
	c.HTML(status, "index.html", formView{
		Error:  payload.Message,
		Fields: fields,
		Values: values,
	})
	c.Abort()
}

type dashboardView struct {
	Summary   dashboarddomain.Summary
	ChartJSON string
}

func (s *Server) Dashboard(c *gin.Context) {
	summary, err := s.dashboardSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	chart, err := json.Marshal(summary.Sentiments)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("encode chart data", zap.Error(err))
		AbortWithError(c, ErrInternal)
		return
	}

	c.HTML(http.StatusOK, "dashboard.html", dashboardView{
		Summary:   summary,
		ChartJSON: string(chart),
	})
}

func (s *Server) DashboardReport(c *gin.Context) {
	doc, err := s.dashboardSvc.Report(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="feedback-report.pdf"`)
	c.Data(http.StatusOK, "application/pdf", doc)
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
