package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Buffer     BufferConfig     `mapstructure:"buffer"`
	Queues     QueuesConfig     `mapstructure:"queues"`
	Reminders  RemindersConfig  `mapstructure:"reminders"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Webhooks   WebhooksConfig   `mapstructure:"webhooks"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	ClientID    string        `mapstructure:"client_id"`
	EventsTopic string        `mapstructure:"events_topic"`
	Enabled     bool          `mapstructure:"enabled"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BufferConfig tunes the message accumulation window and claim discipline.
type BufferConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	ClaimDuration time.Duration `mapstructure:"claim_duration"`
	ActiveTTL     time.Duration `mapstructure:"active_ttl"`
	ProcessingTTL time.Duration `mapstructure:"processing_ttl"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
}

type QueuesConfig struct {
	KeyPrefix       string        `mapstructure:"key_prefix"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Attempts        int           `mapstructure:"attempts"`
	BackoffDelay    time.Duration `mapstructure:"backoff_delay"`
	CompletedMaxAge time.Duration `mapstructure:"completed_max_age"`
	CompletedMax    int           `mapstructure:"completed_max"`
	FailedMaxAge    time.Duration `mapstructure:"failed_max_age"`
	FailedMax       int           `mapstructure:"failed_max"`
	ResponseWorkers int           `mapstructure:"response_workers"`
}

type RemindersConfig struct {
	CatchUpInterval    time.Duration `mapstructure:"catch_up_interval"`
	InactivityInterval time.Duration `mapstructure:"inactivity_interval"`
	ClaimDuration      time.Duration `mapstructure:"claim_duration"`
	LegacyInterval     time.Duration `mapstructure:"legacy_interval"`
	Batch              int           `mapstructure:"batch"`
}

type AgentConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	MockSuccessRate float64       `mapstructure:"mock_success_rate"`
}

type WebhooksConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("REPLYPIPE")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Buffer.Window <= 0 {
		c.Buffer.Window = 10 * time.Second
	}
	if c.Buffer.SweepInterval <= 0 {
		c.Buffer.SweepInterval = 5 * time.Second
	}
	if c.Buffer.ClaimDuration <= 0 {
		c.Buffer.ClaimDuration = 2 * time.Hour
	}
	if c.Buffer.ActiveTTL <= 0 {
		c.Buffer.ActiveTTL = c.Buffer.Window + 5*time.Second
	}
	if c.Buffer.ProcessingTTL <= 0 {
		c.Buffer.ProcessingTTL = 5 * time.Minute
	}
	if c.Buffer.SweepBatch <= 0 {
		c.Buffer.SweepBatch = 50
	}
	if c.Queues.PollInterval <= 0 {
		c.Queues.PollInterval = time.Second
	}
	if c.Queues.Attempts <= 0 {
		c.Queues.Attempts = 3
	}
	if c.Queues.BackoffDelay <= 0 {
		c.Queues.BackoffDelay = 5 * time.Second
	}
	if c.Reminders.CatchUpInterval <= 0 {
		c.Reminders.CatchUpInterval = 30 * time.Second
	}
	if c.Reminders.InactivityInterval <= 0 {
		c.Reminders.InactivityInterval = time.Minute
	}
	if c.Reminders.ClaimDuration <= 0 {
		c.Reminders.ClaimDuration = 10 * time.Minute
	}
	if c.Reminders.LegacyInterval <= 0 {
		c.Reminders.LegacyInterval = time.Minute
	}
	if c.Reminders.Batch <= 0 {
		c.Reminders.Batch = 100
	}
	if c.Redis.ProbeTimeout <= 0 {
		c.Redis.ProbeTimeout = 3 * time.Second
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = 40
	}
	if c.Agent.RequestTimeout <= 0 {
		c.Agent.RequestTimeout = 60 * time.Second
	}
	if c.Agent.MockSuccessRate <= 0 || c.Agent.MockSuccessRate > 1 {
		c.Agent.MockSuccessRate = 0.9
	}
	if c.Webhooks.Timeout <= 0 {
		c.Webhooks.Timeout = 5 * time.Second
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
