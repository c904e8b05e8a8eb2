package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the drip engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	App         AppConfig         `yaml:"app"`
	SES         SESConfig         `yaml:"ses"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for the suppression cache and
// the dispatcher lock. Optional.
type RedisConfig struct {
	URL                 string `yaml:"url"`
	SuppressionTTLHours int    `yaml:"suppression_ttl_hours"`
}

// SuppressionTTL returns the cache lifetime of a suppressed verdict.
func (c RedisConfig) SuppressionTTL() time.Duration {
	return time.Duration(c.SuppressionTTLHours) * time.Hour
}

// AppConfig holds public URLs, the unsubscribe signing secret and the
// sender identity.
type AppConfig struct {
	URL               string `yaml:"url"`
	UnsubscribeSecret string `yaml:"unsubscribe_secret"`
	FromEmail         string `yaml:"from_email"`
	FromName          string `yaml:"from_name"`
	ReplyTo           string `yaml:"reply_to"`
}

// SESConfig holds AWS SES credentials. When disabled, messages are logged
// instead of sent.
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Region           string `yaml:"region"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// DispatcherConfig tunes the drip worker loops.
type DispatcherConfig struct {
	PollIntervalSeconds     int `yaml:"poll_interval_seconds"`
	RecoveryIntervalSeconds int `yaml:"recovery_interval_seconds"`
	BatchSize               int `yaml:"batch_size"`
	MaxSendAttempts         int `yaml:"max_send_attempts"`
	StuckThresholdMinutes   int `yaml:"stuck_threshold_minutes"`
	RecoveryBatch           int `yaml:"recovery_batch"`
	SendTimeoutSeconds      int `yaml:"send_timeout_seconds"`
}

// PollInterval returns the dispatcher poll interval as a duration
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RecoveryInterval returns the stuck-enrollment scan interval
func (c DispatcherConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

// SendTimeout bounds a single provider call
func (c DispatcherConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// StuckThreshold returns how late an enrollment must be to count as stuck
func (c DispatcherConfig) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMinutes) * time.Minute
}

// SuppressionConfig holds inbound bounce/complaint webhook settings.
type SuppressionConfig struct {
	// AutoConfirmSNS confirms SNS subscription requests posted to the
	// webhook by fetching their SubscribeURL.
	AutoConfirmSNS bool `yaml:"auto_confirm_sns"`
	// SNSTopicARNs, when set, restricts the webhook to these topics.
	SNSTopicARNs []string `yaml:"sns_topic_arns"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether emails are masked in logs. Defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.SuppressionTTLHours == 0 {
		cfg.Redis.SuppressionTTLHours = 24
	}
	if cfg.App.URL == "" {
		cfg.App.URL = "http://localhost:8080"
	}
	if cfg.App.FromEmail == "" {
		cfg.App.FromEmail = "noreply@example.com"
	}
	if cfg.App.FromName == "" {
		cfg.App.FromName = "Drip Engine"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Dispatcher.PollIntervalSeconds == 0 {
		cfg.Dispatcher.PollIntervalSeconds = 60
	}
	if cfg.Dispatcher.RecoveryIntervalSeconds == 0 {
		cfg.Dispatcher.RecoveryIntervalSeconds = 300
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 50
	}
	if cfg.Dispatcher.MaxSendAttempts == 0 {
		cfg.Dispatcher.MaxSendAttempts = 3
	}
	if cfg.Dispatcher.StuckThresholdMinutes == 0 {
		cfg.Dispatcher.StuckThresholdMinutes = 60
	}
	if cfg.Dispatcher.RecoveryBatch == 0 {
		cfg.Dispatcher.RecoveryBatch = 50
	}
	if cfg.Dispatcher.SendTimeoutSeconds == 0 {
		cfg.Dispatcher.SendTimeoutSeconds = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file in the working directory is read first if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	str := map[string]*string{
		"DATABASE_URL":       &cfg.Database.URL,
		"REDIS_URL":          &cfg.Redis.URL,
		"APP_URL":            &cfg.App.URL,
		"UNSUBSCRIBE_SECRET": &cfg.App.UnsubscribeSecret,
		"FROM_EMAIL":         &cfg.App.FromEmail,
		"FROM_NAME":          &cfg.App.FromName,
		"REPLY_TO":           &cfg.App.ReplyTo,
		"AWS_SES_ACCESS_KEY": &cfg.SES.AccessKey,
		"AWS_SES_SECRET_KEY": &cfg.SES.SecretKey,
		"AWS_SES_REGION":     &cfg.SES.Region,
		"AWS_SES_CONFIG_SET": &cfg.SES.ConfigurationSet,
		"LOG_LEVEL":          &cfg.Log.Level,
	}
	for k, dst := range str {
		if v := os.Getenv(k); v != "" {
			*dst = v
		}
	}

	num := map[string]*int{
		"PORT":                           &cfg.Server.Port,
		"DRIP_POLL_INTERVAL_SECONDS":     &cfg.Dispatcher.PollIntervalSeconds,
		"DRIP_RECOVERY_INTERVAL_SECONDS": &cfg.Dispatcher.RecoveryIntervalSeconds,
		"DRIP_MAX_SEND_ATTEMPTS":         &cfg.Dispatcher.MaxSendAttempts,
	}
	for k, dst := range num {
		if v, err := strconv.Atoi(os.Getenv(k)); err == nil && v > 0 {
			*dst = v
		}
	}

	// Credentials imply SES is wanted.
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		cfg.SES.Enabled = true
	}
}

// Validate reports settings the engine cannot run without.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.App.UnsubscribeSecret == "" {
		errs = append(errs, errors.New("app.unsubscribe_secret (UNSUBSCRIBE_SECRET) is required"))
	}
	if cfg.Dispatcher.MaxSendAttempts < 1 {
		errs = append(errs, errors.New("dispatcher.max_send_attempts must be positive"))
	}
	return errors.Join(errs...)
}
