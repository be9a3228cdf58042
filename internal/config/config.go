package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/techdev-loop/leaderboard-sub002/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Oracle    OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Budget    BudgetConfig    `yaml:"budget" mapstructure:"budget"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Learning  LearningConfig  `yaml:"learning" mapstructure:"learning"`
	Consensus ConsensusConfig `yaml:"consensus" mapstructure:"consensus"`
	Anomaly   AnomalyConfig   `yaml:"anomaly" mapstructure:"anomaly"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures profile and ledger persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=file sqlite postgres"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_unless=Driver file"`
}

// OracleConfig configures the remote reasoning service.
type OracleConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	Provider          string `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic openai"`
	AnthropicKey      string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	OpenAIKey         string `yaml:"openai_key" mapstructure:"openai_key"`
	Model             string `yaml:"model" mapstructure:"model" validate:"required"`
	MaxTokensPerCall  int    `yaml:"max_tokens_per_call" mapstructure:"max_tokens_per_call" validate:"gt=0"`
	RetryAttempts     int    `yaml:"retry_attempts" mapstructure:"retry_attempts" validate:"gte=1,lte=10"`
	RetryBackoffMs    int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms" validate:"gte=0"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
}

// HasCredentials reports whether the selected provider has an API key.
func (o OracleConfig) HasCredentials() bool {
	switch o.Provider {
	case "openai":
		return o.OpenAIKey != ""
	default:
		return o.AnthropicKey != ""
	}
}

// BudgetConfig holds oracle spend ceilings.
type BudgetConfig struct {
	LedgerPath       string  `yaml:"ledger_path" mapstructure:"ledger_path"`
	MaxCallsPerSite  int64   `yaml:"max_calls_per_site" mapstructure:"max_calls_per_site" validate:"gte=0"`
	MaxCallsPerDay   int64   `yaml:"max_calls_per_day" mapstructure:"max_calls_per_day" validate:"gte=0"`
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd" mapstructure:"monthly_budget_usd" validate:"gte=0"`
}

// LearningConfig tunes the per-site learning state machine.
type LearningConfig struct {
	MinConfidence          float64       `yaml:"min_confidence" mapstructure:"min_confidence" validate:"gte=0,lte=100"`
	VerifiedConfidence     float64       `yaml:"verified_confidence" mapstructure:"verified_confidence" validate:"gte=0,lte=100"`
	MaxAttempts            int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	MaxIterations          int           `yaml:"max_iterations" mapstructure:"max_iterations" validate:"gte=0"`
	VisualReverifyCooldown time.Duration `yaml:"visual_reverify_cooldown" mapstructure:"visual_reverify_cooldown"`
	InactiveRetryCooldown  time.Duration `yaml:"inactive_retry_cooldown" mapstructure:"inactive_retry_cooldown"`
	FingerprintMaxAge      time.Duration `yaml:"fingerprint_max_age" mapstructure:"fingerprint_max_age"`
	APICaptureSample       int           `yaml:"api_capture_sample" mapstructure:"api_capture_sample" validate:"gte=0"`
}

// ConsensusConfig holds the cross-source disagreement thresholds.
type ConsensusConfig struct {
	MinAgreement         float64 `yaml:"min_agreement" mapstructure:"min_agreement" validate:"gte=0,lte=1"`
	SingleSourceRatio    float64 `yaml:"single_source_ratio" mapstructure:"single_source_ratio" validate:"gte=0"`
	MinVerified          int     `yaml:"min_verified" mapstructure:"min_verified" validate:"gte=0"`
	MinUniqueForVerified int     `yaml:"min_unique_for_verified" mapstructure:"min_unique_for_verified" validate:"gte=0"`
}

// AnomalyConfig holds data-quality thresholds.
type AnomalyConfig struct {
	MaxPrize              float64 `yaml:"max_prize" mapstructure:"max_prize" validate:"gt=0"`
	MinFirstPrize         float64 `yaml:"min_first_prize" mapstructure:"min_first_prize" validate:"gte=0"`
	PrizeFloor            float64 `yaml:"prize_floor" mapstructure:"prize_floor" validate:"gte=0"`
	PrizeWagerRatio       float64 `yaml:"prize_wager_ratio" mapstructure:"prize_wager_ratio" validate:"gt=0"`
	MaxWager              float64 `yaml:"max_wager" mapstructure:"max_wager" validate:"gt=0"`
	IdentityOverlap       float64 `yaml:"identity_overlap" mapstructure:"identity_overlap" validate:"gt=0,lte=1"`
	NearDuplicateDistance int     `yaml:"near_duplicate_distance" mapstructure:"near_duplicate_distance" validate:"gte=0"`
}

// MetricsConfig configures Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

var validate = validator.New()

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEARNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "data/profiles")
	v.SetDefault("store.database_url", "")
	v.SetDefault("oracle.enabled", true)
	v.SetDefault("oracle.provider", "anthropic")
	v.SetDefault("oracle.anthropic_key", "")
	v.SetDefault("oracle.openai_key", "")
	v.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.max_tokens_per_call", 4096)
	v.SetDefault("oracle.retry_attempts", 3)
	v.SetDefault("oracle.retry_backoff_ms", 1000)
	v.SetDefault("oracle.requests_per_minute", 30)
	v.SetDefault("budget.ledger_path", "data/usage.json")
	v.SetDefault("budget.max_calls_per_site", 20)
	v.SetDefault("budget.max_calls_per_day", 100)
	v.SetDefault("budget.monthly_budget_usd", 50.0)
	v.SetDefault("learning.min_confidence", 80.0)
	v.SetDefault("learning.verified_confidence", 85.0)
	v.SetDefault("learning.max_attempts", 3)
	v.SetDefault("learning.max_iterations", 5)
	v.SetDefault("learning.visual_reverify_cooldown", "24h")
	v.SetDefault("learning.inactive_retry_cooldown", "24h")
	v.SetDefault("learning.fingerprint_max_age", "720h")
	v.SetDefault("learning.api_capture_sample", 5)
	v.SetDefault("consensus.min_agreement", 0.30)
	v.SetDefault("consensus.single_source_ratio", 2.0)
	v.SetDefault("consensus.min_verified", 3)
	v.SetDefault("consensus.min_unique_for_verified", 5)
	v.SetDefault("anomaly.max_prize", 100000.0)
	v.SetDefault("anomaly.min_first_prize", 10.0)
	v.SetDefault("anomaly.prize_floor", 100.0)
	v.SetDefault("anomaly.prize_wager_ratio", 2.0)
	v.SetDefault("anomaly.max_wager", 1e9)
	v.SetDefault("anomaly.identity_overlap", 0.95)
	v.SetDefault("anomaly.near_duplicate_distance", 1)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "learner")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if c.Learning.VerifiedConfidence < c.Learning.MinConfidence {
		return eris.New("config: learning.verified_confidence must be >= learning.min_confidence")
	}
	return nil
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
