package analysis

import (
	"context"
	"fmt"

	"github.com/smallbiznis/feedbackhub/internal/analysis/azure"
	"github.com/smallbiznis/feedbackhub/internal/analysis/domain"
	"github.com/smallbiznis/feedbackhub/internal/analysis/gemini"
	"github.com/smallbiznis/feedbackhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("analysis.client",
	fx.Provide(NewClient),
)

// NewClient builds the configured provider once for the whole process.
func NewClient(cfg config.Config, log *zap.Logger) (domain.Client, error) {
	ac := cfg.Analysis
	var (
		client domain.Client
		err    error
	)
	switch ac.Provider {
	case config.AnalysisProviderAzure, "":
		client, err = azure.New(azure.Config{
			Endpoint: ac.AzureEndpoint,
			Key:      ac.AzureKey,
			Language: ac.Language,
			Timeout:  ac.RequestTimeout,
		})
	case config.AnalysisProviderGemini:
		ctx, cancel := context.WithTimeout(context.Background(), ac.RequestTimeout)
		defer cancel()
		client, err = gemini.New(ctx, gemini.Config{
			APIKey:        ac.GeminiAPIKey,
			Model:         ac.GeminiModel,
			MaxTextLength: ac.MaxTextLength,
		})
	default:
		return nil, fmt.Errorf("unsupported analysis provider %q", ac.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Named("analysis").Info("analysis client ready", zap.String("provider", client.Provider()))
	return client, nil
}
