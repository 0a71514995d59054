package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Cache        CacheConfig        `mapstructure:"cache"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	I18n         I18nConfig         `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	AllowedOrigin string        `mapstructure:"allowed_origin"`
}

type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseWait  time.Duration `mapstructure:"retry_base_wait"`
	OutboundRPS    float64       `mapstructure:"outbound_rps"`
	OutboundBurst  int           `mapstructure:"outbound_burst"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled    bool       `mapstructure:"enabled"`
	Anonymous  TierConfig `mapstructure:"anonymous"`
	Registered TierConfig `mapstructure:"registered"`
}

type TierConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type QuotaConfig struct {
	FreeLimit     int64         `mapstructure:"free_limit"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	SigningSecret string        `mapstructure:"signing_secret"`
	CookieName    string        `mapstructure:"cookie_name"`
}

type ConversationConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Directory       string   `mapstructure:"directory"`
	Languages       []string `mapstructure:"languages"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Enable environment variable substitution
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set environment variable overrides
	viper.SetEnvPrefix("") // No prefix
	viper.BindEnv("provider.base_url", "PROVIDER_BASE_URL")
	viper.BindEnv("provider.api_key", "PROVIDER_API_KEY")
	viper.BindEnv("provider.model", "PROVIDER_MODEL")
	viper.BindEnv("quota.signing_secret", "QUOTA_SIGNING_SECRET")
	viper.BindEnv("storage.redis.addr", "REDIS_HOST", "REDIS_PORT")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := viper.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := viper.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	ApplyDefaults(&config)

	// Validate required fields
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills in defaults for unset optional fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "gpt-4o-mini"
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 1024
	}
	if cfg.Provider.Temperature == 0 {
		cfg.Provider.Temperature = 0.3
	}
	if cfg.Provider.RequestTimeout == 0 {
		cfg.Provider.RequestTimeout = 30 * time.Second
	}
	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = 3
	}
	if cfg.Provider.RetryBaseWait == 0 {
		cfg.Provider.RetryBaseWait = 2 * time.Second
	}
	if cfg.Provider.OutboundRPS == 0 {
		cfg.Provider.OutboundRPS = 5
	}
	if cfg.Provider.OutboundBurst == 0 {
		cfg.Provider.OutboundBurst = 10
	}
	if cfg.RateLimit.Anonymous.Requests == 0 {
		cfg.RateLimit.Anonymous.Requests = 10
	}
	if cfg.RateLimit.Anonymous.Window == 0 {
		cfg.RateLimit.Anonymous.Window = time.Minute
	}
	if cfg.RateLimit.Registered.Requests == 0 {
		cfg.RateLimit.Registered.Requests = 60
	}
	if cfg.RateLimit.Registered.Window == 0 {
		cfg.RateLimit.Registered.Window = time.Minute
	}
	if cfg.Quota.FreeLimit == 0 {
		cfg.Quota.FreeLimit = 2
	}
	if cfg.Quota.TokenTTL == 0 {
		cfg.Quota.TokenTTL = 24 * time.Hour
	}
	if cfg.Quota.CookieName == "" {
		cfg.Quota.CookieName = "lq_quota"
	}
	if cfg.Conversation.DBPath == "" {
		cfg.Conversation.DBPath = "data/conversations.db"
	}
	if cfg.Conversation.RecordTimeout == 0 {
		cfg.Conversation.RecordTimeout = 10 * time.Second
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 7 * 24 * time.Hour
	}
	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "en"
	}
	if cfg.I18n.Directory == "" {
		cfg.I18n.Directory = "configs/i18n"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}
	if cfg.Quota.SigningSecret == "" {
		return fmt.Errorf("quota signing secret is required")
	}
	if cfg.Storage.Type != "redis" && cfg.Storage.Type != "memory" {
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	return nil
}
