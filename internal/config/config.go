package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Workers   []WorkerDef     `yaml:"workers"`
}

// EngineConfig bounds resource usage for all runs. These are deployment-level
// limits, not per-protocol knobs.
type EngineConfig struct {
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	DefaultRounds      int           `yaml:"default_rounds"`
	MaxRounds          int           `yaml:"max_rounds"`
}

type NATSConfig struct {
	Port int `yaml:"port"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// WorkerDef declares one reasoning worker in the roster. The worker process
// itself runs outside this service and is reached over the NATS bus.
type WorkerDef struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	Tier string `yaml:"tier"`
}

func defaults() Config {
	return Config{
		Engine: EngineConfig{
			MaxConcurrentCalls: 4,
			CallTimeout:        5 * time.Minute,
			DefaultRounds:      3,
			MaxRounds:          10,
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		Store: StoreConfig{
			Path: "data/conclave.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONCLAVE_CONFIG")
	if path == "" {
		path = "config/conclave.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONCLAVE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CONCLAVE_WEB_AUTH"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CONCLAVE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONCLAVE_MAX_CONCURRENT_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxConcurrentCalls = n
		}
	}
}

func (c *Config) validate() error {
	if c.Engine.MaxConcurrentCalls < 1 {
		return fmt.Errorf("engine.max_concurrent_calls must be at least 1")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("engine.call_timeout must be positive")
	}
	if c.Engine.MaxRounds < 1 {
		return fmt.Errorf("engine.max_rounds must be at least 1")
	}
	if c.Engine.DefaultRounds < 1 || c.Engine.DefaultRounds > c.Engine.MaxRounds {
		return fmt.Errorf("engine.default_rounds must be within [1, max_rounds]")
	}
	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		if w.Key == "" {
			return fmt.Errorf("worker with empty key")
		}
		if seen[w.Key] {
			return fmt.Errorf("duplicate worker key %q", w.Key)
		}
		seen[w.Key] = true
	}
	return nil
}
