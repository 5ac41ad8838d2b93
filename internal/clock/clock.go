package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock reports the current time. Stores take it as a dependency so tests can
// pin created_at values.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return System{} }),
)
