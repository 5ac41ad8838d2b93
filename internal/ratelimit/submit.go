package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/config"
)

const keySubmitClient = "feedback:submit:client:%s"

// Allower is a token bucket keyed by caller.
type Allower interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (Result, error)
}

// SubmitLimiter bounds how often one client may submit feedback.
// A nil *SubmitLimiter allows everything.
type SubmitLimiter struct {
	bucket Allower
	rate   float64
	burst  int
}

func NewSubmitLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*SubmitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("submit rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPass),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}

	log.Named("ratelimit").Info("submit rate limit enabled",
		zap.String("redis_addr", addr),
		zap.Float64("rate", limitCfg.Rate),
		zap.Int("burst", limitCfg.Burst))

	return NewSubmitLimiterFrom(NewTokenBucket(client), limitCfg.Rate, limitCfg.Burst), nil
}

// NewSubmitLimiterFrom builds a limiter over an existing bucket.
func NewSubmitLimiterFrom(bucket Allower, rate float64, burst int) *SubmitLimiter {
	return &SubmitLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *SubmitLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow spends one submission for clientKey (usually the client IP).
func (l *SubmitLimiter) Allow(ctx context.Context, clientKey string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keySubmitClient, clientKey), l.rate, l.burst)
}
