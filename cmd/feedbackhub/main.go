package main

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/feedbackhub/internal/analysis"
	"github.com/smallbiznis/feedbackhub/internal/attachment"
	"github.com/smallbiznis/feedbackhub/internal/clock"
	"github.com/smallbiznis/feedbackhub/internal/config"
	"github.com/smallbiznis/feedbackhub/internal/dashboard"
	"github.com/smallbiznis/feedbackhub/internal/feedback"
	"github.com/smallbiznis/feedbackhub/internal/migration"
	"github.com/smallbiznis/feedbackhub/internal/observability"
	"github.com/smallbiznis/feedbackhub/internal/ratelimit"
	"github.com/smallbiznis/feedbackhub/internal/server"
	"github.com/smallbiznis/feedbackhub/internal/submission"
	"github.com/smallbiznis/feedbackhub/pkg/db"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		clock.Module,

		// Functional Domains
		feedback.Module,
		analysis.Module,
		attachment.Module,
		ratelimit.Module,
		submission.Module,
		dashboard.Module,

		server.Module,
	)
	app.Run()
}
