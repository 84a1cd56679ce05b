package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once at
// process start and passed into component constructors; components never read
// ambient global state.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Cost     CostConfig     `yaml:"cost" mapstructure:"cost"`
	Decision DecisionConfig `yaml:"decision" mapstructure:"decision"`
	Webhook  WebhookConfig  `yaml:"webhook" mapstructure:"webhook"`
	Queue    QueueConfig    `yaml:"queue" mapstructure:"queue"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// IngestConfig configures submission validation and extraction.
type IngestConfig struct {
	UploadDir          string  `yaml:"upload_dir" mapstructure:"upload_dir"`
	MaxUploadSizeMB    int64   `yaml:"max_upload_size_mb" mapstructure:"max_upload_size_mb"`
	SkipRatioThreshold float64 `yaml:"skip_ratio_threshold" mapstructure:"skip_ratio_threshold"`
	BatchSize          int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// ClassifyConfig configures the rule engine.
type ClassifyConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"` // empty = built-in rules
}

// CostConfig configures benchmark comparison thresholds. Thresholds are
// keyed by classification category; the default applies when a category has
// no entry.
type CostConfig struct {
	DefaultThreshold   float64            `yaml:"default_threshold" mapstructure:"default_threshold"`
	CategoryThresholds map[string]float64 `yaml:"category_thresholds" mapstructure:"category_thresholds"`
}

// DecisionConfig maps classification categories to recommendation types and
// recommendation types to savings factors.
type DecisionConfig struct {
	Recommendations      map[string]string  `yaml:"recommendations" mapstructure:"recommendations"`
	SavingsFactors       map[string]float64 `yaml:"savings_factors" mapstructure:"savings_factors"`
	DefaultSavingsFactor float64            `yaml:"default_savings_factor" mapstructure:"default_savings_factor"`
}

// WebhookConfig configures decision event delivery.
type WebhookConfig struct {
	URL         string        `yaml:"url" mapstructure:"url"`
	Secret      string        `yaml:"secret" mapstructure:"secret"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
}

// QueueConfig configures the per-stage worker pools and task retry policy.
type QueueConfig struct {
	ExtractWorkers  int           `yaml:"extract_workers" mapstructure:"extract_workers"`
	AnalyzeWorkers  int           `yaml:"analyze_workers" mapstructure:"analyze_workers"`
	DeliverWorkers  int           `yaml:"deliver_workers" mapstructure:"deliver_workers"`
	TaskTimeout     time.Duration `yaml:"task_timeout" mapstructure:"task_timeout"`
	MaxTaskAttempts int           `yaml:"max_task_attempts" mapstructure:"max_task_attempts"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ClaimLease      time.Duration `yaml:"claim_lease" mapstructure:"claim_lease"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COSTLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("ingest.upload_dir", "./uploads")
	v.SetDefault("ingest.max_upload_size_mb", 100)
	v.SetDefault("ingest.skip_ratio_threshold", 0.10)
	v.SetDefault("ingest.batch_size", 100)
	v.SetDefault("cost.default_threshold", 25.0)
	v.SetDefault("decision.recommendations", map[string]string{
		"low-utilization":          "rightsizing",
		"cold-storage-candidate":   "archive",
		"multi-provider-duplicate": "tier-switch",
	})
	v.SetDefault("decision.savings_factors", map[string]float64{
		"rightsizing": 0.5,
		"archive":     0.8,
		"tier-switch": 0.3,
	})
	v.SetDefault("decision.default_savings_factor", 0.2)
	v.SetDefault("webhook.timeout", 30*time.Second)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.base_delay", time.Second)
	v.SetDefault("webhook.multiplier", 2.0)
	v.SetDefault("webhook.rate_per_sec", 10.0)
	v.SetDefault("webhook.burst", 10)
	v.SetDefault("queue.extract_workers", 2)
	v.SetDefault("queue.analyze_workers", 4)
	v.SetDefault("queue.deliver_workers", 4)
	v.SetDefault("queue.task_timeout", 5*time.Minute)
	v.SetDefault("queue.max_task_attempts", 3)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.claim_lease", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
