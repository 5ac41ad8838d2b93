package dashboard

import (
	"github.com/smallbiznis/feedbackhub/internal/dashboard/report"
	"github.com/smallbiznis/feedbackhub/internal/dashboard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dashboard.service",
	fx.Provide(report.NewPDFRenderer),
	fx.Provide(service.NewService),
)
