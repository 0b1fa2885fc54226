package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Queue    QueueConfig    `yaml:"queue"`
	Logger   LoggerConfig   `yaml:"logger"`
	K8s      K8sConfig      `yaml:"k8s"`
	Pool     PoolConfig     `yaml:"pool"`
	Notifier NotifierConfig `yaml:"notifier"`
	Asset    AssetConfig    `yaml:"asset"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for worker self-reports (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	MaxOpenConns int  `yaml:"max_open_conns"`
	MaxIdleConns int  `yaml:"max_idle_conns"`
	SkipMigrate  bool `yaml:"skip_migrate"` // schema is managed outside the process
}

// DSN builds the go-sql-driver DSN
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// QueueConfig asynq queue configuration (task state change delivery)
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"` // queue processing concurrency
	MaxRetry    int `yaml:"max_retry"`   // redelivery attempts for a notification
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// K8sConfig K8s configuration for worker pods
type K8sConfig struct {
	Namespace    string            `yaml:"namespace"`      // K8s namespace
	PodTemplate  string            `yaml:"pod_template"`   // worker pod template (YAML)
	NamePrefix   string            `yaml:"name_prefix"`    // worker pod name prefix
	Image        string            `yaml:"image"`          // overrides the template image when set
	CostTags     map[string]string `yaml:"cost_tags"`      // extra labels for cost attribution
	Env          map[string]string `yaml:"env"`            // extra env injected into every worker
	StopGraceSec int64             `yaml:"stop_grace_sec"` // pod deletion grace period
}

// PoolConfig warm pool sizing configuration
type PoolConfig struct {
	MinWarmWorkers int           `yaml:"min_warm_workers"`
	MaxWarmWorkers int           `yaml:"max_warm_workers"`
	Interval       time.Duration `yaml:"interval"`    // control loop tick
	StoppedTTL     time.Duration `yaml:"stopped_ttl"` // retention of STOPPED records
	KickTTL        time.Duration `yaml:"kick_ttl"`    // retention of KICKED records

	KickReapAfter time.Duration `yaml:"kick_reap_after"` // KICKED workers idle this long get their task stopped

	UntrackedTaskGrace time.Duration `yaml:"untracked_task_grace"` // age before a task without a worker record is stopped
}

// NotifierConfig change notifier configuration
type NotifierConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout"`       // per-delivery timeout
	BatchSize    int           `yaml:"batch_size"`    // change feed batch size
	PollInterval time.Duration `yaml:"poll_interval"` // change feed tick
	WebhookURL   string        `yaml:"webhook_url"`
	MQTT         MQTTConfig    `yaml:"mqtt"`

	AuditRetention time.Duration `yaml:"audit_retention"` // worker event audit retention
	StreamMaxLen   int64         `yaml:"stream_max_len"`  // approximate cap on the change stream

	Consumer  string        `yaml:"consumer"`   // change feed consumer name, defaults to the hostname
	ClaimIdle time.Duration `yaml:"claim_idle"` // pending changes idle this long move to another replica
}

// MQTTConfig MQTT broker used to fan out worker changes
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// AssetConfig asset store (S3 compatible) used for the invitation asset probe
type AssetConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"` // skips the bucket location lookup when set
}

// DefaultPoolConfig returns the pool defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinWarmWorkers: 2,
		MaxWarmWorkers: 4,
		Interval:       time.Minute,
		StoppedTTL:     time.Hour,
		KickTTL:        time.Hour,
		KickReapAfter:  10 * time.Minute,

		UntrackedTaskGrace: 5 * time.Minute,
	}
}

// DefaultNotifierConfig returns the notifier defaults
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Timeout:        10 * time.Second,
		BatchSize:      100,
		PollInterval:   time.Second,
		AuditRetention: 7 * 24 * time.Hour,
		StreamMaxLen:   10000,
		ClaimIdle:      time.Minute,
		MQTT: MQTTConfig{
			ClientID:    "vpool",
			TopicPrefix: "vpool/workers",
			QoS:         1,
		},
	}
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads, defaults and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	validateAndApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pool controller cannot converge on
func (c *Config) Validate() error {
	if c.Pool.MinWarmWorkers < 0 {
		return fmt.Errorf("pool.min_warm_workers must be >= 0, got %d", c.Pool.MinWarmWorkers)
	}
	if c.Pool.MaxWarmWorkers < c.Pool.MinWarmWorkers {
		return fmt.Errorf("pool.max_warm_workers (%d) must be >= pool.min_warm_workers (%d)",
			c.Pool.MaxWarmWorkers, c.Pool.MinWarmWorkers)
	}
	return nil
}

// applyEnvOverrides lets the deployment override pool bounds without a new config file
func applyEnvOverrides(cfg *Config) {
	if v, err := strconv.Atoi(os.Getenv("MIN_WARM_WORKERS")); err == nil {
		cfg.Pool.MinWarmWorkers = v
	}
	if v, err := strconv.Atoi(os.Getenv("MAX_WARM_WORKERS")); err == nil {
		cfg.Pool.MaxWarmWorkers = v
	}
}

func validateAndApplyDefaults(cfg *Config) {
	if cfg.MySQL.MaxOpenConns <= 0 {
		cfg.MySQL.MaxOpenConns = 50
	}
	if cfg.MySQL.MaxIdleConns <= 0 {
		cfg.MySQL.MaxIdleConns = 10
	}

	poolDefaults := DefaultPoolConfig()
	if cfg.Pool.MinWarmWorkers == 0 && cfg.Pool.MaxWarmWorkers == 0 {
		cfg.Pool.MinWarmWorkers = poolDefaults.MinWarmWorkers
		cfg.Pool.MaxWarmWorkers = poolDefaults.MaxWarmWorkers
	}
	if cfg.Pool.Interval <= 0 {
		cfg.Pool.Interval = poolDefaults.Interval
	}
	if cfg.Pool.StoppedTTL <= 0 {
		cfg.Pool.StoppedTTL = poolDefaults.StoppedTTL
	}
	if cfg.Pool.KickTTL <= 0 {
		cfg.Pool.KickTTL = poolDefaults.KickTTL
	}
	if cfg.Pool.KickReapAfter <= 0 {
		cfg.Pool.KickReapAfter = poolDefaults.KickReapAfter
	}
	if cfg.Pool.UntrackedTaskGrace <= 0 {
		cfg.Pool.UntrackedTaskGrace = poolDefaults.UntrackedTaskGrace
	}

	notifierDefaults := DefaultNotifierConfig()
	if cfg.Notifier.Timeout <= 0 {
		cfg.Notifier.Timeout = notifierDefaults.Timeout
	}
	if cfg.Notifier.BatchSize <= 0 {
		cfg.Notifier.BatchSize = notifierDefaults.BatchSize
	}
	if cfg.Notifier.PollInterval <= 0 {
		cfg.Notifier.PollInterval = notifierDefaults.PollInterval
	}
	if cfg.Notifier.AuditRetention <= 0 {
		cfg.Notifier.AuditRetention = notifierDefaults.AuditRetention
	}
	if cfg.Notifier.StreamMaxLen <= 0 {
		cfg.Notifier.StreamMaxLen = notifierDefaults.StreamMaxLen
	}
	if cfg.Notifier.ClaimIdle <= 0 {
		cfg.Notifier.ClaimIdle = notifierDefaults.ClaimIdle
	}
	if cfg.Notifier.MQTT.ClientID == "" {
		cfg.Notifier.MQTT.ClientID = notifierDefaults.MQTT.ClientID
	}
	if cfg.Notifier.MQTT.TopicPrefix == "" {
		cfg.Notifier.MQTT.TopicPrefix = notifierDefaults.MQTT.TopicPrefix
	}
	if cfg.Notifier.MQTT.QoS > 2 {
		cfg.Notifier.MQTT.QoS = notifierDefaults.MQTT.QoS
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 10
	}
	if cfg.Queue.MaxRetry <= 0 {
		cfg.Queue.MaxRetry = 5
	}
	if cfg.K8s.Namespace == "" {
		cfg.K8s.Namespace = "default"
	}
	if cfg.K8s.NamePrefix == "" {
		cfg.K8s.NamePrefix = "vp-"
	}
	if cfg.K8s.StopGraceSec <= 0 {
		cfg.K8s.StopGraceSec = 30
	}
}
