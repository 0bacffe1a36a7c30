package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		StatusInterval  time.Duration `yaml:"status_interval"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Model struct {
		URL     string        `yaml:"url"`
		Name    string        `yaml:"name"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"model"`
	Cache struct {
		SuccessTTL    time.Duration `yaml:"success_ttl"`
		FailureTTL    time.Duration `yaml:"failure_ttl"`
		MaxEntries    int           `yaml:"max_entries"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		Bucket        time.Duration `yaml:"bucket"`
	} `yaml:"cache"`
	Registry struct {
		QueueCapacity    int           `yaml:"queue_capacity"`
		OverflowPolicy   string        `yaml:"overflow_policy"` // drop_oldest | disconnect
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		MissedHeartbeats int           `yaml:"missed_heartbeats"`
	} `yaml:"registry"`
	Breaker struct {
		DegradedRatio       float64       `yaml:"degraded_ratio"`    // threshold A
		UnavailableRatio    float64       `yaml:"unavailable_ratio"` // threshold B
		ConsecutiveFailures int           `yaml:"consecutive_failures"`
		DegradedConcurrency int           `yaml:"degraded_concurrency"`
		Window              time.Duration `yaml:"window"`
		Cooldown            time.Duration `yaml:"cooldown"`
		RecomputeInterval   time.Duration `yaml:"recompute_interval"`
	} `yaml:"breaker"`
	Kafka struct {
		Enabled    bool          `yaml:"enabled"`
		Brokers    []string      `yaml:"brokers"`
		Topic      string        `yaml:"topic"`
		GroupID    string        `yaml:"group_id"`
		Workers    int           `yaml:"workers"`
		BufferSize int           `yaml:"buffer_size"`
		MinBytes   int           `yaml:"min_bytes"`
		MaxBytes   int           `yaml:"max_bytes"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"kafka"`
	Knowledge struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"knowledge"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MODEL_URL"); v != "" {
		c.Model.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Knowledge.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Knowledge.Password = v
	}

	return c, nil
}

// applyDefaults fills zero values that have sane operational defaults.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Model.Timeout <= 0 {
		c.Model.Timeout = 3 * time.Second
	}
	if c.Model.Name == "" {
		c.Model.Name = "predpulse-v1"
	}
	if c.Server.StatusInterval <= 0 {
		c.Server.StatusInterval = 15 * time.Second
	}
	if c.Cache.SuccessTTL <= 0 {
		c.Cache.SuccessTTL = 30 * time.Second
	}
	if c.Cache.FailureTTL <= 0 {
		c.Cache.FailureTTL = c.Cache.SuccessTTL / 10
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = time.Minute
	}
	if c.Cache.Bucket <= 0 {
		c.Cache.Bucket = 10 * time.Second
	}
	if c.Registry.QueueCapacity <= 0 {
		c.Registry.QueueCapacity = 256
	}
	if c.Registry.OverflowPolicy == "" {
		c.Registry.OverflowPolicy = "drop_oldest"
	}
	if c.Registry.HeartbeatInterval <= 0 {
		c.Registry.HeartbeatInterval = 30 * time.Second
	}
	if c.Registry.MissedHeartbeats <= 0 {
		c.Registry.MissedHeartbeats = 3
	}
	if c.Breaker.DegradedRatio <= 0 {
		c.Breaker.DegradedRatio = 0.1
	}
	if c.Breaker.UnavailableRatio <= 0 {
		c.Breaker.UnavailableRatio = 0.5
	}
	if c.Breaker.ConsecutiveFailures <= 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Breaker.DegradedConcurrency <= 0 {
		c.Breaker.DegradedConcurrency = 4
	}
	if c.Breaker.Window <= 0 {
		c.Breaker.Window = time.Minute
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = 15 * time.Second
	}
	if c.Breaker.RecomputeInterval <= 0 {
		c.Breaker.RecomputeInterval = 5 * time.Second
	}
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 2
	}
	if c.Kafka.BufferSize <= 0 {
		c.Kafka.BufferSize = 1024
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "predpulse"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Model.URL == "" {
		return fmt.Errorf("model.url is required")
	}
	switch c.Registry.OverflowPolicy {
	case "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("registry.overflow_policy must be 'drop_oldest' or 'disconnect', got '%s'", c.Registry.OverflowPolicy)
	}
	if c.Breaker.DegradedRatio >= c.Breaker.UnavailableRatio {
		return fmt.Errorf("breaker.degraded_ratio must be below breaker.unavailable_ratio")
	}
	if c.Cache.FailureTTL >= c.Cache.SuccessTTL {
		return fmt.Errorf("cache.failure_ttl must be below cache.success_ttl")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Knowledge.Enabled && c.Knowledge.Addr == "" {
		return fmt.Errorf("knowledge.addr is required when knowledge is enabled")
	}
	return nil
}
