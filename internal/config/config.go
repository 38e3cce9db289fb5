package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BackupConfig controls periodic sqlite snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// RateLimitConfig is a token bucket for the HTTP API.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	HTTP struct {
		Address   string          `yaml:"address"`
		Workers   int             `yaml:"workers"`
		RateLimit RateLimitConfig `yaml:"rate_limit"`
	} `yaml:"http"`

	GRPC struct {
		Address string `yaml:"address"`
	} `yaml:"grpc"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Seating SeatingConfig `yaml:"seating"`

	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Notify NotifyConfig `yaml:"notify"`

	Pricing PricingConfig `yaml:"pricing"`

	TablesConfigPath string `yaml:"tables_config_path"`
}

// SeatingConfig holds the booking and check-in rules.
type SeatingConfig struct {
	DiningMinutes             int  `yaml:"dining_minutes"`
	MinLeadMinutes            int  `yaml:"min_lead_minutes"`
	MaxAdvanceDays            int  `yaml:"max_advance_days"`
	CheckInWindowMinutes      int  `yaml:"checkin_window_minutes"`
	HoldMinutes               int  `yaml:"hold_minutes"`
	ReminderAfterMinutes      int  `yaml:"reminder_after_minutes"`
	SubscriberDiscountPercent *int `yaml:"subscriber_discount_percent"`
}

// ReconcilerConfig holds sweep intervals in seconds.
type ReconcilerConfig struct {
	NoShowIntervalSeconds     int `yaml:"no_show_interval_seconds"`
	FinishedIntervalSeconds   int `yaml:"finished_interval_seconds"`
	HoldExpiryIntervalSeconds int `yaml:"hold_expiry_interval_seconds"`
	PromotionIntervalSeconds  int `yaml:"promotion_interval_seconds"`
	ReminderIntervalSeconds   int `yaml:"reminder_interval_seconds"`
	LockTTLSeconds            int `yaml:"lock_ttl_seconds"`
}

type NotifyConfig struct {
	Workers       int     `yaml:"workers"`
	QueueSize     int     `yaml:"queue_size"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
	} `yaml:"telegram"`

	AMQP struct {
		Enabled  bool   `yaml:"enabled"`
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
}

// PricingConfig points at the external pricing and payment service.
// With no BaseURL, bills use PricePerSeatCents.
type PricingConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
	PricePerSeatCents int64  `yaml:"price_per_seat_cents"`
}

// Load reads the YAML config at path. ${ENV} placeholders are expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/tableside.db"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.Workers <= 0 {
		c.HTTP.Workers = 32
	}
	if c.HTTP.RateLimit.RPS <= 0 {
		c.HTTP.RateLimit.RPS = 50
	}
	if c.HTTP.RateLimit.Burst <= 0 {
		c.HTTP.RateLimit.Burst = 100
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Notify.Workers <= 0 {
		c.Notify.Workers = 4
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.RatePerSecond <= 0 {
		c.Notify.RatePerSecond = 20
	}
	if c.Notify.Burst <= 0 {
		c.Notify.Burst = 30
	}
	if c.Notify.AMQP.Exchange == "" {
		c.Notify.AMQP.Exchange = "tableside.events"
	}
	if c.Pricing.PricePerSeatCents <= 0 {
		c.Pricing.PricePerSeatCents = 2500
	}
	if c.TablesConfigPath == "" {
		c.TablesConfigPath = "configs/tables.yaml"
	}
}

func minutesOr(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Minute
	}
	return time.Duration(v) * time.Minute
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

func (s SeatingConfig) DiningDuration() time.Duration { return minutesOr(s.DiningMinutes, 120) }
func (s SeatingConfig) MinLead() time.Duration        { return minutesOr(s.MinLeadMinutes, 60) }
func (s SeatingConfig) CheckInWindow() time.Duration  { return minutesOr(s.CheckInWindowMinutes, 15) }
func (s SeatingConfig) HoldDuration() time.Duration   { return minutesOr(s.HoldMinutes, 10) }
func (s SeatingConfig) ReminderAfter() time.Duration  { return minutesOr(s.ReminderAfterMinutes, 90) }

func (s SeatingConfig) MaxAdvance() time.Duration {
	if s.MaxAdvanceDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(s.MaxAdvanceDays) * 24 * time.Hour
}

// SubscriberDiscount returns the subscriber discount in percent. An explicit zero disables it.
func (s SeatingConfig) SubscriberDiscount() int {
	if s.SubscriberDiscountPercent == nil || *s.SubscriberDiscountPercent < 0 {
		return 10
	}
	return *s.SubscriberDiscountPercent
}

func (r ReconcilerConfig) NoShowInterval() time.Duration { return secondsOr(r.NoShowIntervalSeconds, 60) }
func (r ReconcilerConfig) FinishedInterval() time.Duration {
	return secondsOr(r.FinishedIntervalSeconds, 60)
}
func (r ReconcilerConfig) HoldExpiryInterval() time.Duration {
	return secondsOr(r.HoldExpiryIntervalSeconds, 30)
}
func (r ReconcilerConfig) PromotionInterval() time.Duration {
	return secondsOr(r.PromotionIntervalSeconds, 30)
}
func (r ReconcilerConfig) ReminderInterval() time.Duration {
	return secondsOr(r.ReminderIntervalSeconds, 300)
}
func (r ReconcilerConfig) LockTTL() time.Duration { return secondsOr(r.LockTTLSeconds, 120) }

func (p PricingConfig) CacheTTL() time.Duration {
	if p.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(p.CacheTTLSeconds) * time.Second
}
