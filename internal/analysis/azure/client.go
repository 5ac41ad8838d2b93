// Package azure talks to the Azure AI Language analyze-text endpoint.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/feedbackhub/internal/analysis/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	ProviderName = "azure"
	apiVersion   = "2023-04-01"
	// MaxDocumentChars is the service limit for synchronous requests.
	MaxDocumentChars = 5120

	kindSentiment  = "SentimentAnalysis"
	kindKeyPhrases = "KeyPhraseExtraction"
)

type Config struct {
	Endpoint string
	Key      string
	Language string
	Timeout  time.Duration
}

type Client struct {
	endpoint string
	key      string
	language string
	http     *http.Client
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("azure language endpoint is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, errors.New("azure language key is required")
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		key:      cfg.Key,
		language: language,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *Client) Provider() string { return ProviderName }

// Analyze runs sentiment and key phrase extraction concurrently.
func (c *Client) Analyze(ctx context.Context, text string) (domain.Result, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Result{}, domain.ErrEmptyInput
	}
	if utf8.RuneCountInString(text) > MaxDocumentChars {
		return domain.Result{}, domain.ErrInputTooLarge
	}

	var (
		sentiment sentimentDocument
		phrases   keyPhraseDocument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.call(gctx, kindSentiment, text, &sentiment)
	})
	g.Go(func() error {
		return c.call(gctx, kindKeyPhrases, text, &phrases)
	})
	if err := g.Wait(); err != nil {
		return domain.Result{}, err
	}

	label, err := domain.ParseLabel(sentiment.Sentiment)
	if err != nil {
		return domain.Result{}, &domain.ServiceError{Provider: ProviderName, Err: err}
	}

	scores := map[domain.Label]float64{
		domain.Positive: sentiment.ConfidenceScores.Positive,
		domain.Neutral:  sentiment.ConfidenceScores.Neutral,
		domain.Negative: sentiment.ConfidenceScores.Negative,
	}
	keyPhrases := phrases.KeyPhrases
	if keyPhrases == nil {
		keyPhrases = []string{}
	}

	return domain.Result{
		Sentiment:        label,
		ConfidenceScores: scores,
		KeyPhrases:       keyPhrases,
	}, nil
}

type analyzeRequest struct {
	Kind          string         `json:"kind"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	AnalysisInput analysisInput  `json:"analysisInput"`
}

type analysisInput struct {
	Documents []inputDocument `json:"documents"`
}

type inputDocument struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

type analyzeResponse struct {
	Kind    string `json:"kind"`
	Results struct {
		Documents []json.RawMessage `json:"documents"`
		Errors    []documentError   `json:"errors"`
	} `json:"results"`
}

type documentError struct {
	ID    string     `json:"id"`
	Error errorModel `json:"error"`
}

type errorModel struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	InnerError *errorModel `json:"innererror,omitempty"`
}

type errorResponse struct {
	Error errorModel `json:"error"`
}

type sentimentDocument struct {
	ID               string `json:"id"`
	Sentiment        string `json:"sentiment"`
	ConfidenceScores struct {
		Positive float64 `json:"positive"`
		Neutral  float64 `json:"neutral"`
		Negative float64 `json:"negative"`
	} `json:"confidenceScores"`
}

type keyPhraseDocument struct {
	ID         string   `json:"id"`
	KeyPhrases []string `json:"keyPhrases"`
}

func (c *Client) call(ctx context.Context, kind, text string, out any) error {
	body, err := json.Marshal(analyzeRequest{
		Kind:       kind,
		Parameters: map[string]any{"modelVersion": "latest"},
		AnalysisInput: analysisInput{Documents: []inputDocument{
			{ID: "1", Language: c.language, Text: text},
		}},
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", kind, err)
	}

	url := c.endpoint + "/language/:analyze-text?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &domain.ServiceError{Provider: ProviderName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.TransportError(ProviderName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.TransportError(ProviderName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		_ = json.Unmarshal(payload, &apiErr)
		if isTooLarge(&apiErr.Error) {
			return domain.ErrInputTooLarge
		}
		return domain.StatusError(ProviderName, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return &domain.ServiceError{Provider: ProviderName, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode %s response: %w", kind, err)}
	}
	if len(parsed.Results.Errors) > 0 {
		docErr := parsed.Results.Errors[0].Error
		if isTooLarge(&docErr) {
			return domain.ErrInputTooLarge
		}
		return &domain.ServiceError{Provider: ProviderName, StatusCode: resp.StatusCode, Code: docErr.Code, Err: errors.New(docErr.Message)}
	}
	if len(parsed.Results.Documents) == 0 {
		return &domain.ServiceError{Provider: ProviderName, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s returned no documents", kind)}
	}
	if err := json.Unmarshal(parsed.Results.Documents[0], out); err != nil {
		return &domain.ServiceError{Provider: ProviderName, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode %s document: %w", kind, err)}
	}
	return nil
}

func isTooLarge(e *errorModel) bool {
	for cur := e; cur != nil; cur = cur.InnerError {
		if strings.EqualFold(cur.Code, "InvalidDocumentBatch") || strings.Contains(strings.ToLower(cur.Message), "too large") {
			return true
		}
	}
	return false
}

var _ domain.Client = (*Client)(nil)
