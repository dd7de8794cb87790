package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once at
// startup and passed explicitly; nothing reads ambient process state
// after Load returns.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Network  NetworkConfig  `yaml:"network" mapstructure:"network"`
	Graph    GraphConfig    `yaml:"graph" mapstructure:"graph"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Scrape   ScrapeConfig   `yaml:"scrape" mapstructure:"scrape"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
}

// StoreConfig configures the sqlite database backend.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// NetworkConfig holds the target social network's endpoints. The token
// endpoint is the authenticated page whose body carries the bearer token
// marker.
type NetworkConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	GroupURL      string `yaml:"group_url" mapstructure:"group_url"`
	TokenEndpoint string `yaml:"token_endpoint" mapstructure:"token_endpoint"`
}

// GraphConfig holds graph API settings.
type GraphConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RESTURL           string  `yaml:"rest_url" mapstructure:"rest_url"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	APISecret         string  `yaml:"api_secret" mapstructure:"api_secret"`
	PostFetchLimit    int     `yaml:"post_fetch_limit" mapstructure:"post_fetch_limit"`
	CommentFetchLimit int     `yaml:"comment_fetch_limit" mapstructure:"comment_fetch_limit"`
	RequestsPerSec    float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	RetryMaxAttempts  int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerFailures   int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// BrowserConfig configures the automation driver.
type BrowserConfig struct {
	Headless    bool   `yaml:"headless" mapstructure:"headless"`
	UserDataDir string `yaml:"user_data_dir" mapstructure:"user_data_dir"`
	ProxyURL    string `yaml:"proxy_url" mapstructure:"proxy_url"`
	ProxyUser   string `yaml:"proxy_user" mapstructure:"proxy_user"`
	ProxyPass   string `yaml:"proxy_pass" mapstructure:"proxy_pass"`
}

// ScrapeConfig configures profile scraping behavior.
type ScrapeConfig struct {
	StalenessHours int `yaml:"staleness_hours" mapstructure:"staleness_hours"`
	DelaySecs      int `yaml:"delay_secs" mapstructure:"delay_secs"`
}

// Staleness returns the window after which a cached profile must be
// re-scraped.
func (c ScrapeConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessHours) * time.Hour
}

// Delay returns the fixed pause between items of a bulk scrape.
func (c ScrapeConfig) Delay() time.Duration {
	return time.Duration(c.DelaySecs) * time.Second
}

// AnalysisConfig configures the LLM analysis pipeline.
type AnalysisConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	Model          string `yaml:"model" mapstructure:"model"`
	MaxTokens      int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelaySecs int    `yaml:"batch_delay_secs" mapstructure:"batch_delay_secs"`
	RecencyDays    int    `yaml:"recency_days" mapstructure:"recency_days"`
}

// Recency returns the window within which an existing analysis is reused
// instead of regenerated.
func (c AnalysisConfig) Recency() time.Duration {
	return time.Duration(c.RecencyDays) * 24 * time.Hour
}

// BatchDelay returns the fixed pause between chunks of a batch analysis.
func (c AnalysisConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelaySecs) * time.Second
}

func newViper() *viper.Viper {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "finsight.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("network.base_url", "https://www.facebook.com")
	v.SetDefault("network.group_url", "https://www.facebook.com/groups/")
	v.SetDefault("network.token_endpoint", "https://business.facebook.com/business_locations")
	v.SetDefault("graph.base_url", "https://graph.facebook.com/v23.0")
	v.SetDefault("graph.rest_url", "https://api.facebook.com/restserver.php")
	v.SetDefault("graph.post_fetch_limit", 20)
	v.SetDefault("graph.comment_fetch_limit", 20)
	v.SetDefault("graph.requests_per_sec", 2)
	v.SetDefault("graph.retry_max_attempts", 3)
	v.SetDefault("graph.retry_backoff_ms", 500)
	v.SetDefault("graph.breaker_failures", 5)
	v.SetDefault("graph.breaker_reset_secs", 30)
	v.SetDefault("browser.headless", false)
	v.SetDefault("scrape.staleness_hours", 24)
	v.SetDefault("scrape.delay_secs", 5)
	v.SetDefault("analysis.model", "claude-haiku-4-5-20251001")
	v.SetDefault("analysis.max_tokens", 2048)
	v.SetDefault("analysis.batch_size", 5)
	v.SetDefault("analysis.batch_delay_secs", 2)
	v.SetDefault("analysis.recency_days", 7)

	return v
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := newViper()

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

// ApplyOverrides layers durable settings (from the store's settings
// table) over the loaded configuration. Keys use the same dotted names
// as the config file, e.g. "graph.post_fetch_limit". Unknown keys are
// ignored with a warning so stale rows cannot break startup.
func (c *Config) ApplyOverrides(settings map[string]string) error {
	if len(settings) == 0 {
		return nil
	}

	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return eris.Wrap(err, "config: read file")
		}
	}
	for key, val := range settings {
		v.Set(key, val)
	}

	var overlay Config
	if err := v.Unmarshal(&overlay); err != nil {
		return eris.Wrap(err, "config: apply overrides")
	}
	*c = overlay

	zap.L().Info("config: applied stored overrides", zap.Int("keys", len(settings)))
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
