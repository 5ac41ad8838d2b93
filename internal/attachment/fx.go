package attachment

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/attachment/cloudinary"
	"github.com/smallbiznis/feedbackhub/internal/attachment/domain"
	"github.com/smallbiznis/feedbackhub/internal/attachment/local"
	"github.com/smallbiznis/feedbackhub/internal/config"
)

var Module = fx.Module("attachment.store",
	fx.Provide(NewStore),
)

func NewStore(cfg config.Config, log *zap.Logger) (domain.Store, error) {
	ac := cfg.Attachment
	switch ac.Backend {
	case config.AttachmentBackendCloudinary:
		return cloudinary.New(cloudinary.Config{
			URL:       ac.CloudinaryURL,
			CloudName: ac.CloudinaryCloudName,
			APIKey:    ac.CloudinaryAPIKey,
			APISecret: ac.CloudinaryAPISecret,
			Container: ac.Container,
		}, log)
	case config.AttachmentBackendLocal, "":
		return local.New(local.Config{
			Root:          ac.LocalDir,
			Container:     ac.Container,
			PublicBaseURL: ac.PublicBaseURL,
		}, log)
	default:
		return nil, fmt.Errorf("unknown attachment backend %q", ac.Backend)
	}
}
