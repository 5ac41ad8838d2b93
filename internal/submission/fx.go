package submission

import (
	"github.com/smallbiznis/feedbackhub/internal/submission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("submission.pipeline",
	fx.Provide(service.New),
)
