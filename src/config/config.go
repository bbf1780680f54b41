package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/models"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. GATEWAY_APP_PORT.
const EnvPrefix = "GATEWAY_"

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig loads the YAML file, applies .env and environment overrides, fills
// defaults and validates the result.
func NewConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &helpers.ConfigurationError{GatewayError: helpers.GatewayError{
			Message: fmt.Sprintf("failed to read config file '%s'", configPath), Cause: err,
		}}
	}

	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a Config from YAML bytes plus the current environment.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, &helpers.ConfigurationError{GatewayError: helpers.GatewayError{
			Message: "failed to parse config from YAML", Cause: err,
		}}
	}

	if err := env.ParseWithOptions(&modelConfig, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, &helpers.ConfigurationError{GatewayError: helpers.GatewayError{
			Message: "failed to apply environment overrides", Cause: err,
		}}
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, &helpers.ConfigurationError{GatewayError: helpers.GatewayError{
			Message: "config validation failed", Cause: err,
		}}
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "market-gateway"
	}
	if c.App.Host == "" {
		c.App.Host = "0.0.0.0"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "INFO"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}

	u := &c.Upstream
	if u.RequestTimeout == 0 {
		u.RequestTimeout = 10 * time.Second
	}
	if u.BackoffBase == 0 {
		u.BackoffBase = time.Second
	}
	if u.BackoffMax == 0 {
		u.BackoffMax = 30 * time.Second
	}
	if u.Resolution == "" {
		u.Resolution = "1"
	}
	if u.HistoryRate == 0 {
		u.HistoryRate = 5
	}
	if u.HistoryRetries == 0 {
		u.HistoryRetries = 3
	}

	cr := &c.Credentials
	if cr.Source == "" {
		cr.Source = "file"
	}
	if cr.Path == "" {
		cr.Path = "data/auth.json"
	}
	if cr.RedisKey == "" {
		cr.RedisKey = "market-gateway:credential"
	}
	if cr.PollInterval == 0 {
		cr.PollInterval = 5 * time.Second
	}
	if cr.ErrorBackoff == 0 {
		cr.ErrorBackoff = 10 * time.Second
	}

	g := &c.Gateway
	if g.MaxPerClient == 0 {
		g.MaxPerClient = 6
	}
	if g.HistoryCapacity == 0 {
		g.HistoryCapacity = 10000
	}
	if g.CandleInterval == 0 {
		g.CandleInterval = 5 * time.Minute
	}
	if g.HeartbeatInterval == 0 {
		g.HeartbeatInterval = 30 * time.Second
	}
	if g.SendQueueSize == 0 {
		g.SendQueueSize = 256
	}
	if g.BackfillWorkers == 0 {
		g.BackfillWorkers = 4
	}
	if g.ShutdownTimeout == 0 {
		g.ShutdownTimeout = 10 * time.Second
	}

	if c.Catalog.DefaultExchange == "" {
		c.Catalog.DefaultExchange = "NSE"
	}
	if c.Catalog.DefaultMarker == "" {
		c.Catalog.DefaultMarker = "EQ"
	}

	t := &c.Trading
	if t.CalendarMIC == "" {
		t.CalendarMIC = "xnse"
	}
	if t.Timezone == "" {
		t.Timezone = "Asia/Kolkata"
	}
	if t.SessionStart == "" {
		t.SessionStart = "09:15"
	}
	if t.SessionEnd == "" {
		t.SessionEnd = "15:30"
	}

	if c.Storage.DBType == "" {
		c.Storage.DBType = "none"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = 1024
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	var errs []error

	if c.App.Port <= 1024 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.App.Port))
	}
	if c.App.GrpcPort != 0 && (c.App.GrpcPort <= 1024 || c.App.GrpcPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid grpc port number: %d", c.App.GrpcPort))
	}

	if c.Upstream.WSURL == "" {
		errs = append(errs, errors.New("upstream ws_url cannot be empty"))
	}
	if c.Upstream.RESTURL == "" {
		errs = append(errs, errors.New("upstream rest_url cannot be empty"))
	}
	if c.Upstream.BackoffBase > c.Upstream.BackoffMax {
		errs = append(errs, fmt.Errorf("backoff_base %s exceeds backoff_max %s", c.Upstream.BackoffBase, c.Upstream.BackoffMax))
	}
	if c.Upstream.HistoryRate < 0 {
		errs = append(errs, errors.New("history_rate_per_second cannot be negative"))
	}

	switch c.Credentials.Source {
	case "file":
		if c.Credentials.Path == "" {
			errs = append(errs, errors.New("credentials path cannot be empty for file source"))
		}
	case "redis":
		if c.Credentials.RedisAddr == "" {
			errs = append(errs, errors.New("credentials redis_addr cannot be empty for redis source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown credentials source '%s'", c.Credentials.Source))
	}
	if c.Credentials.PollInterval <= 0 {
		errs = append(errs, errors.New("credentials poll_interval must be greater than 0"))
	}

	if c.Gateway.MaxPerClient <= 0 {
		errs = append(errs, errors.New("max_per_client must be greater than 0"))
	}
	if c.Gateway.HistoryCapacity <= 0 {
		errs = append(errs, errors.New("history_capacity must be greater than 0"))
	}
	if c.Gateway.CandleInterval < time.Second || c.Gateway.CandleInterval%time.Second != 0 {
		errs = append(errs, fmt.Errorf("candle_interval must be a whole number of seconds, got %s", c.Gateway.CandleInterval))
	}
	if c.Gateway.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be greater than 0"))
	}
	if c.Gateway.SendQueueSize <= 0 {
		errs = append(errs, errors.New("send_queue_size must be greater than 0"))
	}
	if c.Gateway.BackfillWorkers <= 0 {
		errs = append(errs, errors.New("backfill_workers must be greater than 0"))
	}

	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid trading timezone '%s': %w", c.Trading.Timezone, err))
	}
	start, errStart := ParseClock(c.Trading.SessionStart)
	end, errEnd := ParseClock(c.Trading.SessionEnd)
	if errStart != nil {
		errs = append(errs, errStart)
	}
	if errEnd != nil {
		errs = append(errs, errEnd)
	}
	if errStart == nil && errEnd == nil && end <= start {
		errs = append(errs, fmt.Errorf("session_end %s must be after session_start %s", c.Trading.SessionEnd, c.Trading.SessionStart))
	}

	switch c.Storage.DBType {
	case "none":
	case "sqlite":
		if c.Storage.DBPath == "" {
			errs = append(errs, errors.New("database path cannot be empty for sqlite"))
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			errs = append(errs, errors.New("database connection string cannot be empty for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database type '%s'", c.Storage.DBType))
	}

	for i, inst := range c.Catalog.Instruments {
		if strings.TrimSpace(inst.Code) == "" {
			errs = append(errs, fmt.Errorf("catalog instrument %d must have a code", i))
		}
	}

	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid clock value '%s' (want HH:MM): %w", value, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
