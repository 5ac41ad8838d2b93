package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/clock"
	"github.com/smallbiznis/feedbackhub/internal/config"
	dashboarddomain "github.com/smallbiznis/feedbackhub/internal/dashboard/domain"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
	feedbackrepo "github.com/smallbiznis/feedbackhub/internal/feedback/repository"
	feedbackservice "github.com/smallbiznis/feedbackhub/internal/feedback/service"
	"github.com/smallbiznis/feedbackhub/internal/observability"
	"github.com/smallbiznis/feedbackhub/internal/ratelimit"
	submissiondomain "github.com/smallbiznis/feedbackhub/internal/submission/domain"
	"github.com/smallbiznis/feedbackhub/pkg/db"
)

type fakePipeline struct {
	calls int
	got   submissiondomain.Submission
	body  string
	res   submissiondomain.Result
	err   error
}

func (f *fakePipeline) Submit(ctx context.Context, sub submissiondomain.Submission) (submissiondomain.Result, error) {
	f.calls++
	f.got = sub
	if sub.Attachment != nil {
		raw, _ := io.ReadAll(sub.Attachment.Content)
		f.body = string(raw)
	}
	return f.res, f.err
}

type fakeDashboard struct {
	summary dashboarddomain.Summary
	report  []byte
	err     error
}

func (f *fakeDashboard) Summary(context.Context) (dashboarddomain.Summary, error) {
	return f.summary, f.err
}

func (f *fakeDashboard) Report(context.Context) ([]byte, error) {
	return f.report, f.err
}

type fakeBucket struct {
	res ratelimit.Result
	err error
}

func (f fakeBucket) Allow(context.Context, string, float64, int) (ratelimit.Result, error) {
	return f.res, f.err
}

type testServer struct {
	engine    *gin.Engine
	pipeline  *fakePipeline
	dashboard *fakeDashboard
	records   feedbackdomain.Service
}

func newTestServer(t *testing.T, limiter *ratelimit.SubmitLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := db.NewTest(t, &feedbackdomain.Feedback{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	records := feedbackservice.New(feedbackservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  feedbackrepo.Provide(),
		Clock: clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	})

	ts := &testServer{
		engine:    NewEngine(observability.Config{Environment: "test"}, nil),
		pipeline:  &fakePipeline{},
		dashboard: &fakeDashboard{},
		records:   records,
	}
	NewServer(ServerParams{
		Gin:          ts.engine,
		Cfg:          config.Config{MaxUploadBytes: 1 << 20, Attachment: config.AttachmentConfig{Backend: config.AttachmentBackendCloudinary}},
		FeedbackSvc:  records,
		Pipeline:     ts.pipeline,
		DashboardSvc: ts.dashboard,
		Limiter:      limiter,
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	ts.engine.ServeHTTP(resp, req)
	return resp
}

func (ts *testServer) seed(t *testing.T, name string, sentiment *string) feedbackdomain.Feedback {
	t.Helper()
	fb, err := ts.records.Create(context.Background(), feedbackdomain.Draft{
		Name:         name,
		Email:        strings.ToLower(name) + "@x.com",
		FeedbackText: "hello from " + name,
		Sentiment:    sentiment,
	})
	require.NoError(t, err)
	return fb
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func ptr(s string) *string { return &s }

func TestCreateFeedbackJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.pipeline.res = submissiondomain.Result{
		SubmissionID: "01HXTEST",
		Feedback:     feedbackdomain.Feedback{ID: 42, Name: "Ann", Sentiment: ptr("positive")},
	}

	resp := ts.do(jsonRequest(http.MethodPost, "/api/feedbacks",
		`{"name":"Ann","email":"ann@x.com","feedback_text":"Great service!"}`))

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "Great service!", ts.pipeline.got.FeedbackText)
	assert.Nil(t, ts.pipeline.got.Attachment)

	var body struct {
		Data         feedbackdomain.Feedback `json:"data"`
		SubmissionID string                  `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, snowflake.ID(42), body.Data.ID)
	assert.Equal(t, "01HXTEST", body.SubmissionID)
}

func TestCreateFeedbackMultipartPassesAttachment(t *testing.T) {
	ts := newTestServer(t, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("name", "Ann"))
	require.NoError(t, w.WriteField("email", "ann@x.com"))
	require.NoError(t, w.WriteField("feedback_text", "see file"))
	part, err := w.CreateFormFile("attachment", "shot.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/feedbacks", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := ts.do(req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.NotNil(t, ts.pipeline.got.Attachment)
	assert.Equal(t, "shot.png", ts.pipeline.got.Attachment.Filename)
	assert.Equal(t, "png-bytes", ts.pipeline.body)
}

func TestCreateFeedbackMalformedJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(jsonRequest(http.MethodPost, "/api/feedbacks", `{"name":`))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Zero(t, ts.pipeline.calls)
}

func TestCreateFeedbackStageErrors(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.7:443: secret-upstream")
	cases := []struct {
		name   string
		stage  submissiondomain.Stage
		kind   error
		status int
		typ    string
	}{
		{"analysis down", submissiondomain.StageAnalysis, submissiondomain.ErrAnalysisService, http.StatusBadGateway, "analysis_service_error"},
		{"text too large", submissiondomain.StageAnalysis, submissiondomain.ErrAnalysisInputTooLarge, http.StatusRequestEntityTooLarge, submissiondomain.ErrAnalysisInputTooLarge.Error()},
		{"storage down", submissiondomain.StageAttachment, submissiondomain.ErrStorageUnavailable, http.StatusServiceUnavailable, submissiondomain.ErrStorageUnavailable.Error()},
		{"storage full", submissiondomain.StageAttachment, submissiondomain.ErrStorageQuotaExceeded, http.StatusInsufficientStorage, submissiondomain.ErrStorageQuotaExceeded.Error()},
		{"db down", submissiondomain.StagePersistence, submissiondomain.ErrPersistence, http.StatusInternalServerError, "persistence_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.pipeline.err = &submissiondomain.StageError{
				SubmissionID: "01HXFAIL",
				Stage:        tc.stage,
				Kind:         tc.kind,
				Err:          cause,
			}

			resp := ts.do(jsonRequest(http.MethodPost, "/api/feedbacks",
				`{"name":"Ann","email":"ann@x.com","feedback_text":"hi"}`))

			require.Equal(t, tc.status, resp.Code)
			payload := decodeError(t, resp)
			assert.Equal(t, tc.typ, payload.Type)
			assert.Equal(t, string(tc.stage), payload.Stage)
			assert.Equal(t, "01HXFAIL", payload.SubmissionID)
			assert.NotContains(t, resp.Body.String(), "secret-upstream")
		})
	}
}

func TestCreateFeedbackValidationFields(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.pipeline.err = &submissiondomain.StageError{
		Stage: submissiondomain.StageValidation,
		Kind:  submissiondomain.ErrValidation,
		Fields: []submissiondomain.FieldError{
			{Field: "email", Rule: "email"},
			{Field: "feedback_text", Rule: "required"},
		},
	}

	resp := ts.do(jsonRequest(http.MethodPost, "/api/feedbacks",
		`{"name":"Ann","email":"nope","feedback_text":""}`))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 2)
	assert.Equal(t, ValidationError{Field: "email", Code: "email", Message: "email is not a valid address"}, payload.Errors[0])
	assert.Equal(t, "feedback_text is required", payload.Errors[1].Message)
}

func TestCreateFeedbackBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, nil)
	big := strings.Repeat("a", 2<<20)

	resp := ts.do(jsonRequest(http.MethodPost, "/api/feedbacks",
		fmt.Sprintf(`{"name":"Ann","email":"ann@x.com","feedback_text":%q}`, big)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	assert.Zero(t, ts.pipeline.calls)
}

func TestSubmitRateLimited(t *testing.T) {
	limiter := ratelimit.NewSubmitLimiterFrom(fakeBucket{res: ratelimit.Result{
		Allowed:    false,
		Limit:      5,
		RetryAfter: 1500 * time.Millisecond,
	}}, 0.5, 5)
	ts := newTestServer(t, limiter)

	resp := ts.do(jsonRequest(http.MethodPost, "/api/feedbacks",
		`{"name":"Ann","email":"ann@x.com","feedback_text":"hi"}`))

	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "2", resp.Header().Get("Retry-After"))
	assert.Equal(t, "5", resp.Header().Get("X-RateLimit-Limit"))
	assert.Zero(t, ts.pipeline.calls)
}

func TestSubmitRateLimitFailsOpen(t *testing.T) {
	limiter := ratelimit.NewSubmitLimiterFrom(fakeBucket{err: errors.New("redis down")}, 0.5, 5)
	ts := newTestServer(t, limiter)

	resp := ts.do(jsonRequest(http.MethodPost, "/api/feedbacks",
		`{"name":"Ann","email":"ann@x.com","feedback_text":"hi"}`))

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, 1, ts.pipeline.calls)
}

func TestListAndFilterFeedbacks(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seed(t, "Ann", ptr("positive"))
	ts.seed(t, "Bob", nil)
	ts.seed(t, "Cid", ptr("negative"))

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/api/feedbacks", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var all struct {
		Data []feedbackdomain.Feedback `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &all))
	assert.Len(t, all.Data, 3)

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/api/feedbacks?sentiment=unanalyzed", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var unanalyzed struct {
		Data []feedbackdomain.Feedback `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &unanalyzed))
	require.Len(t, unanalyzed.Data, 1)
	assert.Equal(t, "Bob", unanalyzed.Data[0].Name)

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/api/feedbacks?sentiment=ecstatic", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetFeedbackByID(t *testing.T) {
	ts := newTestServer(t, nil)
	fb := ts.seed(t, "Ann", ptr("positive"))

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/api/feedbacks/"+fb.ID.String(), nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"name":"Ann"`)

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/api/feedbacks/999", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/api/feedbacks/abc", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateFeedback(t *testing.T) {
	ts := newTestServer(t, nil)
	fb := ts.seed(t, "Ann", nil)

	resp := ts.do(jsonRequest(http.MethodPatch, "/api/feedbacks/"+fb.ID.String(), `{"sentiment":"Positive"}`))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"rows_affected":1}`, resp.Body.String())

	got, err := ts.records.GetByID(context.Background(), fb.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Sentiment)
	assert.Equal(t, "positive", *got.Sentiment)

	resp = ts.do(jsonRequest(http.MethodPatch, "/api/feedbacks/"+fb.ID.String(), `{"sentiment":"ecstatic"}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(jsonRequest(http.MethodPatch, "/api/feedbacks/"+fb.ID.String(), `{"email":"not-an-email"}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(jsonRequest(http.MethodPatch, "/api/feedbacks/999", `{"name":"Zed"}`))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"rows_affected":0}`, resp.Body.String())
}

func TestDeleteFeedback(t *testing.T) {
	ts := newTestServer(t, nil)
	fb := ts.seed(t, "Ann", nil)

	resp := ts.do(httptest.NewRequest(http.MethodDelete, "/api/feedbacks/"+fb.ID.String(), nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"rows_affected":1}`, resp.Body.String())

	resp = ts.do(httptest.NewRequest(http.MethodDelete, "/api/feedbacks/"+fb.ID.String(), nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"rows_affected":0}`, resp.Body.String())
}

func TestFeedbackSummary(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.dashboard.summary = dashboarddomain.Summary{
		Total: 4,
		Sentiments: []dashboarddomain.SentimentCount{
			{Sentiment: "positive", Count: 3, Share: 0.75},
			{Sentiment: "negative", Count: 1, Share: 0.25},
		},
	}

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/api/feedbacks/summary", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"total":4`)
}

func TestSubmitFormRedirects(t *testing.T) {
	ts := newTestServer(t, nil)

	form := "name=Ann&email=ann%40x.com&feedback_text=Great+service%21"
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := ts.do(req)

	require.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/?submitted=1", resp.Header().Get("Location"))
	assert.Equal(t, "ann@x.com", ts.pipeline.got.Email)
}

func TestSubmitFormRendersFieldErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.pipeline.err = &submissiondomain.StageError{
		Stage:  submissiondomain.StageValidation,
		Kind:   submissiondomain.ErrValidation,
		Fields: []submissiondomain.FieldError{{Field: "email", Rule: "email"}},
	}

	form := "name=Ann&email=nope&feedback_text=hi"
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := ts.do(req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, resp.Body.String(), "email is not a valid address")
	assert.Contains(t, resp.Body.String(), `value="Ann"`)
}

func TestFeedbackFormPage(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/?submitted=1", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "your feedback was received")
}

func TestDashboardPage(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.dashboard.summary = dashboarddomain.Summary{
		Total: 1,
		Sentiments: []dashboarddomain.SentimentCount{
			{Sentiment: "positive", Count: 1, Share: 1},
		},
		Recent: []feedbackdomain.Feedback{
			{ID: 7, Name: "Ann", FeedbackText: "<b>hi</b>", KeyPhrases: feedbackdomain.KeyPhrases{"hi"}},
		},
	}

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "100.0%")
	assert.Contains(t, body, "&lt;b&gt;hi&lt;/b&gt;")
	assert.Contains(t, body, "unanalyzed")
}

func TestDashboardReport(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.dashboard.report = []byte("%PDF-1.3 fake")

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/dashboard/report.pdf", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(resp.Body.String(), "%PDF-"))
}

func TestStaticAssets(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/static/dashboard.js", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
}
