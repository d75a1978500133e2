package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Webscan    WebscanConfig    `yaml:"webscan" mapstructure:"webscan"`
	Techdetect TechdetectConfig `yaml:"techdetect" mapstructure:"techdetect"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Cleaning   CleaningConfig   `yaml:"cleaning" mapstructure:"cleaning"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig holds registry search API settings.
type RegistryConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
}

// WebscanConfig holds web-presence lookup API settings.
type WebscanConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// TechdetectConfig holds technology-detection API settings.
type TechdetectConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ExtractConfig configures the extraction orchestrator.
type ExtractConfig struct {
	PageSize         int    `yaml:"page_size" mapstructure:"page_size"`
	MaxRecords       int    `yaml:"max_records" mapstructure:"max_records"`
	CacheTTLHours    int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	BulkThreshold    int    `yaml:"bulk_threshold" mapstructure:"bulk_threshold"`
	BulkPollAttempts int    `yaml:"bulk_poll_attempts" mapstructure:"bulk_poll_attempts"`
	BulkPollStartSec int    `yaml:"bulk_poll_start_secs" mapstructure:"bulk_poll_start_secs"`
	BulkPollMaxSec   int    `yaml:"bulk_poll_max_secs" mapstructure:"bulk_poll_max_secs"`
	DownloadDir      string `yaml:"download_dir" mapstructure:"download_dir"`
}

// CleaningConfig configures normalization and flagging.
type CleaningConfig struct {
	IncludeSmallEntities bool     `yaml:"include_small_entities" mapstructure:"include_small_entities"`
	PhoneRepeatThreshold int      `yaml:"phone_repeat_threshold" mapstructure:"phone_repeat_threshold"`
	PriorityActivities   []string `yaml:"priority_activities" mapstructure:"priority_activities"`
	GenericEmailDomains  []string `yaml:"generic_email_domains" mapstructure:"generic_email_domains"`
}

// TierThresholds partitions the final score into four ordered tiers. Each
// boundary is the minimum score for that tier; anything below Potential is
// cold. Boundaries must be strictly increasing.
type TierThresholds struct {
	Hot       int `yaml:"hot" mapstructure:"hot"`
	Qualified int `yaml:"qualified" mapstructure:"qualified"`
	Potential int `yaml:"potential" mapstructure:"potential"`
}

// Validate rejects non-monotonic tier boundaries.
func (t TierThresholds) Validate() error {
	if !(t.Hot > t.Qualified && t.Qualified > t.Potential && t.Potential > 0) {
		return eris.Errorf("config: tier thresholds must satisfy hot > qualified > potential > 0, got %d/%d/%d",
			t.Hot, t.Qualified, t.Potential)
	}
	return nil
}

// ScoringConfig configures the two-pass scoring model.
type ScoringConfig struct {
	TopPercent       int            `yaml:"top_percent" mapstructure:"top_percent"`
	CapitalThreshold float64        `yaml:"capital_threshold" mapstructure:"capital_threshold"`
	Tiers            TierThresholds `yaml:"tiers" mapstructure:"tiers"`
}

// EnrichConfig configures the enrichment scheduler.
type EnrichConfig struct {
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	VaultTTLHours int `yaml:"vault_ttl_hours" mapstructure:"vault_ttl_hours"`
}

// ExportConfig configures segment exports.
type ExportConfig struct {
	Dir          string   `yaml:"dir" mapstructure:"dir"`
	RowCap       int      `yaml:"row_cap" mapstructure:"row_cap"`
	SegmentsFile string   `yaml:"segments_file" mapstructure:"segments_file"`
	Columns      []string `yaml:"columns" mapstructure:"columns"`
}

// MonitoringConfig configures health checks and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ErrorCountThreshold  int     `yaml:"error_count_threshold" mapstructure:"error_count_threshold"`
	CacheHitRateFloor    float64 `yaml:"cache_hit_rate_floor" mapstructure:"cache_hit_rate_floor"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ServerConfig configures the read-only status API.
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
	v.SetEnvPrefix("HUNTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hunter.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("registry.base_url", "https://api.casadosdados.com.br/v5")
	v.SetDefault("registry.requests_per_sec", 3.0)
	v.SetDefault("registry.burst", 1)
	v.SetDefault("webscan.base_url", "https://api.webscan.dev/v1")
	v.SetDefault("techdetect.base_url", "https://api.techdetect.dev/v1")
	v.SetDefault("extract.page_size", 100)
	v.SetDefault("extract.max_records", 5000)
	v.SetDefault("extract.cache_ttl_hours", 24)
	v.SetDefault("extract.bulk_threshold", 1000)
	v.SetDefault("extract.bulk_poll_attempts", 30)
	v.SetDefault("extract.bulk_poll_start_secs", 2)
	v.SetDefault("extract.bulk_poll_max_secs", 10)
	v.SetDefault("extract.download_dir", "downloads")
	v.SetDefault("cleaning.include_small_entities", false)
	v.SetDefault("cleaning.phone_repeat_threshold", 5)
	v.SetDefault("cleaning.priority_activities", []string{
		"8211", "8219", "8220", "8291", "6910", "6920", "4930",
		"5211", "5250", "8610", "8630", "8650", "4110", "4120",
	})
	v.SetDefault("cleaning.generic_email_domains", []string{
		"gmail.com", "hotmail.com", "outlook.com", "yahoo.com",
		"bol.com.br", "uol.com.br", "icloud.com", "live.com",
	})
	v.SetDefault("scoring.top_percent", 25)
	v.SetDefault("scoring.capital_threshold", 100000)
	v.SetDefault("scoring.tiers.hot", 85)
	v.SetDefault("scoring.tiers.qualified", 70)
	v.SetDefault("scoring.tiers.potential", 55)
	v.SetDefault("enrich.concurrency", 8)
	v.SetDefault("enrich.timeout_secs", 5)
	v.SetDefault("enrich.vault_ttl_hours", 24)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.row_cap", 10000)
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.error_count_threshold", 50)
	v.SetDefault("monitoring.cache_hit_rate_floor", 0.0)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

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

	if err := cfg.Scoring.Tiers.Validate(); err != nil {
		return nil, err
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
