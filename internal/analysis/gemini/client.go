// Package gemini analyzes feedback with a Gemini model constrained to a JSON
// response schema.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/smallbiznis/feedbackhub/internal/analysis/domain"
	"google.golang.org/genai"
)

const ProviderName = "gemini"

const systemPrompt = `You classify customer feedback. Return the overall sentiment
(positive, neutral, negative or mixed), a probability for positive, neutral and
negative that sums to 1, and up to 10 short key phrases copied from the text.`

type Config struct {
	APIKey        string
	Model         string
	MaxTextLength int
}

// generator is the subset of *genai.Models the client needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models  generator
	model   string
	maxText int
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithGenerator(client.Models, cfg), nil
}

func newWithGenerator(g generator, cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	maxText := cfg.MaxTextLength
	if maxText <= 0 {
		maxText = 5120
	}
	return &Client{models: g, model: model, maxText: maxText}
}

func (c *Client) Provider() string { return ProviderName }

func (c *Client) Analyze(ctx context.Context, text string) (domain.Result, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Result{}, domain.ErrEmptyInput
	}
	if utf8.RuneCountInString(text) > c.maxText {
		return domain.Result{}, domain.ErrInputTooLarge
	}

	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    responseSchema,
			Temperature:       genai.Ptr[float32](0),
		},
	)
	if err != nil {
		return domain.Result{}, classify(err)
	}
	if resp == nil {
		return domain.Result{}, &domain.ServiceError{Provider: ProviderName, Err: errors.New("empty response")}
	}
	return parseResult(resp.Text())
}

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"sentiment": {
			Type: genai.TypeString,
			Enum: []string{"positive", "neutral", "negative", "mixed"},
		},
		"confidence_scores": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"positive": {Type: genai.TypeNumber},
				"neutral":  {Type: genai.TypeNumber},
				"negative": {Type: genai.TypeNumber},
			},
			Required: []string{"positive", "neutral", "negative"},
		},
		"key_phrases": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"sentiment", "confidence_scores", "key_phrases"},
}

type modelOutput struct {
	Sentiment        string             `json:"sentiment"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	KeyPhrases       []string           `json:"key_phrases"`
}

func parseResult(raw string) (domain.Result, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")

	var out modelOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return domain.Result{}, &domain.ServiceError{Provider: ProviderName, Err: fmt.Errorf("decode model output: %w", err)}
	}
	label, err := domain.ParseLabel(out.Sentiment)
	if err != nil {
		return domain.Result{}, &domain.ServiceError{Provider: ProviderName, Err: err}
	}

	scores := make(map[domain.Label]float64, 3)
	for _, l := range []domain.Label{domain.Positive, domain.Neutral, domain.Negative} {
		v := out.ConfidenceScores[string(l)]
		if math.IsNaN(v) || v < 0 || v > 1 {
			return domain.Result{}, &domain.ServiceError{Provider: ProviderName, Err: fmt.Errorf("score %s out of range: %v", l, v)}
		}
		scores[l] = v
	}

	phrases := make([]string, 0, len(out.KeyPhrases))
	for _, p := range out.KeyPhrases {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}

	return domain.Result{Sentiment: label, ConfidenceScores: scores, KeyPhrases: phrases}, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return domain.StatusError(ProviderName, apiErr.Code, apiErr.Status, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return domain.StatusError(ProviderName, apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message)
	}
	return domain.TransportError(ProviderName, err)
}

var _ domain.Client = (*Client)(nil)
