package feedback

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedbackhub/internal/config"
	"github.com/smallbiznis/feedbackhub/internal/feedback/repository"
	"github.com/smallbiznis/feedbackhub/internal/feedback/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feedback.service",
	fx.Provide(newIDNode),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

func newIDNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
