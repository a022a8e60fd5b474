// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity    PerplexityConfig    `yaml:"perplexity" mapstructure:"perplexity"`
	Jina          JinaConfig          `yaml:"jina" mapstructure:"jina"`
	Notion        NotionConfig        `yaml:"notion" mapstructure:"notion"`
	OpenFoodFacts OpenFoodFactsConfig `yaml:"openfoodfacts" mapstructure:"openfoodfacts"`
	Resolver      ResolverConfig      `yaml:"resolver" mapstructure:"resolver"`
	Eval          EvalConfig          `yaml:"eval" mapstructure:"eval"`
	Batch         BatchConfig         `yaml:"batch" mapstructure:"batch"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for the inference stages.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	InferenceModel string `yaml:"inference_model" mapstructure:"inference_model"`
	SynthesisModel string `yaml:"synthesis_model" mapstructure:"synthesis_model"`
}

// PerplexityConfig holds Perplexity API settings for the verification stage.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina AI settings for the web search backend.
type JinaConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string  `yaml:"search_base_url" mapstructure:"search_base_url"`
	SearchRPS     float64 `yaml:"search_rps" mapstructure:"search_rps"`
}

// NotionConfig holds the optional Notion mapping registry settings.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	MappingDB string `yaml:"mapping_db" mapstructure:"mapping_db"`
}

// OpenFoodFactsConfig configures the barcode-to-product resolver.
type OpenFoodFactsConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ResolverConfig holds the pipeline policy knobs. All of these are
// tunables, not laws: the acceptance floor in particular is expected to
// be adjusted per deployment.
type ResolverConfig struct {
	AcceptanceFloor    int           `yaml:"acceptance_floor" mapstructure:"acceptance_floor"`
	MappingConfidence  int           `yaml:"mapping_confidence" mapstructure:"mapping_confidence"`
	VerifyEnabled      bool          `yaml:"verify_enabled" mapstructure:"verify_enabled"`
	VerifyMinDelta     int           `yaml:"verify_min_delta" mapstructure:"verify_min_delta"`
	VerifyMaxDelta     int           `yaml:"verify_max_delta" mapstructure:"verify_max_delta"`
	LookupTimeout      time.Duration `yaml:"lookup_timeout" mapstructure:"lookup_timeout"`
	InferenceTimeout   time.Duration `yaml:"inference_timeout" mapstructure:"inference_timeout"`
	SearchTimeout      time.Duration `yaml:"search_timeout" mapstructure:"search_timeout"`
	VerifyTimeout      time.Duration `yaml:"verify_timeout" mapstructure:"verify_timeout"`
	StageRetries       int           `yaml:"stage_retries" mapstructure:"stage_retries"`
	CacheTTL           time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	SearchQueries      int           `yaml:"search_queries" mapstructure:"search_queries"`
	SearchResultsEach  int           `yaml:"search_results_each" mapstructure:"search_results_each"`
	SearchPageFetches  int           `yaml:"search_page_fetches" mapstructure:"search_page_fetches"`
}

// EvalConfig configures the optional evaluation sink.
type EvalConfig struct {
	WorkbookPath string `yaml:"workbook_path" mapstructure:"workbook_path"`
}

// BatchConfig configures batch resolution.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("OWNERCLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ownership.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent", 5)
	v.SetDefault("anthropic.inference_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.search_rps", 3)
	v.SetDefault("openfoodfacts.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("openfoodfacts.user_agent", "ownership-cli (github.com/brandtrace/ownership-cli)")
	v.SetDefault("resolver.acceptance_floor", 50)
	v.SetDefault("resolver.mapping_confidence", 95)
	v.SetDefault("resolver.verify_enabled", true)
	v.SetDefault("resolver.verify_min_delta", -30)
	v.SetDefault("resolver.verify_max_delta", 15)
	v.SetDefault("resolver.lookup_timeout", "2s")
	v.SetDefault("resolver.inference_timeout", "45s")
	v.SetDefault("resolver.search_timeout", "90s")
	v.SetDefault("resolver.verify_timeout", "45s")
	v.SetDefault("resolver.stage_retries", 1)
	v.SetDefault("resolver.cache_ttl", "720h")
	v.SetDefault("resolver.search_queries", 3)
	v.SetDefault("resolver.search_results_each", 5)
	v.SetDefault("resolver.search_page_fetches", 2)

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
