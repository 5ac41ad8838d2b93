package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// AttachmentPolicyAbort fails the whole submission when the upload fails.
	AttachmentPolicyAbort = "abort"
	// AttachmentPolicyPersistWithout keeps the record and drops the attachment URL.
	AttachmentPolicyPersistWithout = "persist_without_attachment"
)

// PipelineConfig holds the submission tuning that can change without a restart.
type PipelineConfig struct {
	Retry                   RetryConfig `mapstructure:"retry"`
	AttachmentFailurePolicy string      `mapstructure:"attachment_failure_policy"`
	AllowedExtensions       []string    `mapstructure:"allowed_extensions"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
		},
		AttachmentFailurePolicy: AttachmentPolicyAbort,
	}
}

type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewStaticPipelineConfigHolder returns a holder that never reloads.
func NewStaticPipelineConfigHolder(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPipelineConfigHolder(log *zap.Logger) (*PipelineConfigHolder, error) {
	return newPipelineConfigHolder(log,
		"/etc/feedbackhub", // System config
		".",                // Current directory (dev mode)
	)
}

func newPipelineConfigHolder(log *zap.Logger, paths ...string) (*PipelineConfigHolder, error) {
	log = log.Named("config.pipeline")
	v := viper.New()

	v.SetConfigName("pipeline")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("FEEDBACKHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPipelineConfig()
	v.SetDefault("pipeline.retry.max_attempts", defaults.Retry.MaxAttempts)
	v.SetDefault("pipeline.retry.initial_backoff", defaults.Retry.InitialBackoff)
	v.SetDefault("pipeline.retry.max_backoff", defaults.Retry.MaxBackoff)
	v.SetDefault("pipeline.retry.multiplier", defaults.Retry.Multiplier)
	v.SetDefault("pipeline.attachment_failure_policy", defaults.AttachmentFailurePolicy)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// no file: defaults only, nothing to watch
		watch = false
	}

	var cfg PipelineConfig
	if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizePipelineConfig(cfg)
	if err := validatePipelineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPipelineConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PipelineConfig
		if err := v.UnmarshalKey("pipeline", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		updated = normalizePipelineConfig(updated)
		if err := validatePipelineConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	return h.current.Load().(PipelineConfig)
}

func normalizePipelineConfig(cfg PipelineConfig) PipelineConfig {
	cfg.AttachmentFailurePolicy = strings.ToLower(strings.TrimSpace(cfg.AttachmentFailurePolicy))
	exts := make([]string, 0, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	cfg.AllowedExtensions = exts
	return cfg
}

func validatePipelineConfig(cfg PipelineConfig) error {
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("pipeline.retry.max_attempts must be at least 1")
	}
	if cfg.Retry.InitialBackoff < 0 || cfg.Retry.MaxBackoff < cfg.Retry.InitialBackoff {
		return errors.New("pipeline.retry backoff bounds are invalid")
	}
	if cfg.Retry.Multiplier < 1 {
		return errors.New("pipeline.retry.multiplier must be >= 1")
	}
	switch cfg.AttachmentFailurePolicy {
	case AttachmentPolicyAbort, AttachmentPolicyPersistWithout:
	default:
		return errors.New("pipeline.attachment_failure_policy must be abort or persist_without_attachment")
	}
	return nil
}
