package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	feedbackdomain "github.com/smallbiznis/feedbackhub/internal/feedback/domain"
)

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, feedbackdomain.ErrInvalidID
	}
	return parsed, nil
}
