package models

import "time"

// MConfig Structure
type MConfig struct {
	App         MAppConfig         `yaml:"app" envPrefix:"APP_"`
	Upstream    MUpstreamConfig    `yaml:"upstream" envPrefix:"UPSTREAM_"`
	Credentials MCredentialsConfig `yaml:"credentials" envPrefix:"CREDENTIALS_"`
	Gateway     MGatewayConfig     `yaml:"gateway" envPrefix:"GATEWAY_"`
	Catalog     MCatalogConfig     `yaml:"catalog" envPrefix:"CATALOG_"`
	Trading     MTradingConfig     `yaml:"trading" envPrefix:"TRADING_"`
	Storage     MStorageConfig     `yaml:"storage" envPrefix:"STORAGE_"`
}

type MAppConfig struct {
	Name      string `yaml:"name" env:"NAME"`
	Host      string `yaml:"host" env:"HOST"`
	Port      int    `yaml:"port" env:"PORT"`
	GrpcPort  int    `yaml:"grpc_port" env:"GRPC_PORT"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

type MUpstreamConfig struct {
	WSURL          string        `yaml:"ws_url" env:"WS_URL"`
	RESTURL        string        `yaml:"rest_url" env:"REST_URL"`
	ClientID       string        `yaml:"client_id" env:"CLIENT_ID"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	BackoffBase    time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax     time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	Resolution     string        `yaml:"resolution" env:"RESOLUTION"`
	HistoryRate    float64       `yaml:"history_rate_per_second" env:"HISTORY_RATE"`
	HistoryRetries int           `yaml:"history_retries" env:"HISTORY_RETRIES"`
	SkipProfile    bool          `yaml:"skip_profile_check" env:"SKIP_PROFILE_CHECK"`
}

type MCredentialsConfig struct {
	Source       string        `yaml:"source" env:"SOURCE"` // file | redis
	Path         string        `yaml:"path" env:"PATH"`
	RedisAddr    string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPass    string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB      int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisKey     string        `yaml:"redis_key" env:"REDIS_KEY"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	ErrorBackoff time.Duration `yaml:"error_backoff" env:"ERROR_BACKOFF"`
}

type MGatewayConfig struct {
	MaxPerClient      int           `yaml:"max_per_client" env:"MAX_PER_CLIENT"`
	HistoryCapacity   int           `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
	CandleInterval    time.Duration `yaml:"candle_interval" env:"CANDLE_INTERVAL"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	SendQueueSize     int           `yaml:"send_queue_size" env:"SEND_QUEUE_SIZE"`
	BackfillWorkers   int           `yaml:"backfill_workers" env:"BACKFILL_WORKERS"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type MCatalogConfig struct {
	DefaultExchange string    `yaml:"default_exchange" env:"DEFAULT_EXCHANGE"`
	DefaultMarker   string    `yaml:"default_marker" env:"DEFAULT_MARKER"`
	Instruments     []MSymbol `yaml:"instruments" envPrefix:"INSTRUMENTS_"`
}

type MTradingConfig struct {
	CalendarMIC  string `yaml:"calendar_mic" env:"CALENDAR_MIC"`
	Timezone     string `yaml:"timezone" env:"TIMEZONE"`
	SessionStart string `yaml:"session_start" env:"SESSION_START"` // HH:MM local
	SessionEnd   string `yaml:"session_end" env:"SESSION_END"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type" env:"DB_TYPE"` // none | sqlite | postgres
	DBPath             string `yaml:"db_path" env:"DB_PATH"`
	DBConnectionString string `yaml:"db_connection_string" env:"DB_CONNECTION_STRING"`
	RetentionDays      int    `yaml:"retention_days" env:"RETENTION_DAYS"`
	QueueSize          int    `yaml:"queue_size" env:"QUEUE_SIZE"`
}
