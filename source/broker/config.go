package broker

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TXSPOUT_BROKER__"

type MemoryCfg struct {
	Partitions int `koanf:"partitions"` // partitions per topic created on demand
}

type Config struct {
	Driver   string   `koanf:"driver"` // sarama|memory
	Brokers  []string `koanf:"brokers"`
	Topic    string   `koanf:"topic"`
	Tag      string   `koanf:"tag"` // "a || b", empty = all
	GroupID  string   `koanf:"group_id"`
	Version  string   `koanf:"version"`
	TLSEn    bool     `koanf:"tls_enabled"`
	SASLUser string   `koanf:"sasl_user"`
	SASLPass string   `koanf:"sasl_pass"`

	BatchSize    int           `koanf:"batch_size"`
	PullTimeout  time.Duration `koanf:"pull_timeout"`
	PartitionTTL time.Duration `koanf:"partition_ttl"` // 0 = cache for the process lifetime

	Memory MemoryCfg `koanf:"memory"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadOption adjusts the merged config before defaults and validation run.
type LoadOption func(*Config)

// WithDriver forces the driver; an empty name keeps the configured one.
func WithDriver(name string) LoadOption {
	return func(c *Config) {
		if name != "" {
			c.Driver = name
		}
	}
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `TXSPOUT_BROKER__`, delimiter `__`), then applies opts.
func LoadConfig(path string, opts ...LoadOption) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("broker schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider(envPrefix, "__", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	for _, o := range opts {
		o(&cfg)
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, envPrefix))
}

func (c Config) Validate() error {
	if c.Topic == "" {
		return errors.New("broker: topic is required")
	}
	if c.Driver == "sarama" && len(c.Brokers) == 0 {
		return errors.New("broker: sarama driver needs at least one broker address")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("broker: batch_size %d must be positive", c.BatchSize)
	}
	return nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.Driver == "" {
		c.Driver = "sarama"
	}
	if c.GroupID == "" {
		c.GroupID = "txspout"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.PullTimeout == 0 {
		c.PullTimeout = 3 * time.Second
	}
	if c.Memory.Partitions == 0 {
		c.Memory.Partitions = 1
	}
}
