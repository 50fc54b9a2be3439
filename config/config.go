// Package config loads the runtime configuration of agentgraph.
//
// Values are resolved in order: defaults, an optional TOML file, then
// AGENTGRAPH_* environment variables (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hupe1980/agentgraph/core"
)

// Config is the runtime configuration.
type Config struct {
	Run     RunConfig     `toml:"run"`
	Log     LogConfig     `toml:"log"`
	Redis   RedisConfig   `toml:"redis"`
	Jobs    JobsConfig    `toml:"jobs"`
	Models  ModelsConfig  `toml:"models"`
	Metrics MetricsConfig `toml:"metrics"`
}

// RunConfig bounds coordinator runs.
type RunConfig struct {
	IdleTimeout       time.Duration `toml:"idle_timeout"`
	StopGrace         time.Duration `toml:"stop_grace"`
	ActorStopTimeout  time.Duration `toml:"actor_stop_timeout"`
	MaxSteps          int           `toml:"max_steps"`
	MaxConcurrentRuns int           `toml:"max_concurrent_runs"`
	ChunkBufferSize   int           `toml:"chunk_buffer_size"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// RedisConfig enables the Redis session store when Addr is set.
type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	Prefix   string        `toml:"prefix"`
	TTL      time.Duration `toml:"ttl"`
}

// JobsConfig configures bookkeeping persistence. An empty SQLitePath logs
// jobs instead of storing them.
type JobsConfig struct {
	SQLitePath string `toml:"sqlite_path"`
	Workers    int    `toml:"workers"`
	QueueSize  int    `toml:"queue_size"`
}

// ModelsConfig selects the default models of the LLM providers.
type ModelsConfig struct {
	OpenAIModel     string `toml:"openai_model"`
	AnthropicModel  string `toml:"anthropic_model"`
	AnthropicAPIKey string `toml:"anthropic_api_key"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Run: RunConfig{
			IdleTimeout:       120 * time.Second,
			StopGrace:         10 * time.Second,
			ActorStopTimeout:  5 * time.Second,
			MaxSteps:          core.DefaultMaxSteps,
			MaxConcurrentRuns: 10,
			ChunkBufferSize:   64,
		},
		Log:    LogConfig{Level: "info", Format: "json"},
		Redis:  RedisConfig{Prefix: "agentgraph:session:"},
		Jobs:   JobsConfig{Workers: 2, QueueSize: 100},
		Models: ModelsConfig{OpenAIModel: "gpt-4o-mini", AnthropicModel: "claude-3-5-sonnet-20241022"},
	}
}

// Load reads config: defaults -> TOML file -> env vars. A missing file is an
// error only when path is set explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Run.IdleTimeout = envDuration("AGENTGRAPH_IDLE_TIMEOUT", c.Run.IdleTimeout)
	c.Run.StopGrace = envDuration("AGENTGRAPH_STOP_GRACE", c.Run.StopGrace)
	c.Run.ActorStopTimeout = envDuration("AGENTGRAPH_ACTOR_STOP_TIMEOUT", c.Run.ActorStopTimeout)
	c.Run.MaxSteps = envInt("AGENTGRAPH_MAX_STEPS", c.Run.MaxSteps)
	c.Run.MaxConcurrentRuns = envInt("AGENTGRAPH_MAX_CONCURRENT_RUNS", c.Run.MaxConcurrentRuns)
	c.Run.ChunkBufferSize = envInt("AGENTGRAPH_CHUNK_BUFFER_SIZE", c.Run.ChunkBufferSize)

	c.Log.Level = envStr("AGENTGRAPH_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("AGENTGRAPH_LOG_FORMAT", c.Log.Format)

	c.Redis.Addr = envStr("AGENTGRAPH_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envStr("AGENTGRAPH_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("AGENTGRAPH_REDIS_DB", c.Redis.DB)
	c.Redis.Prefix = envStr("AGENTGRAPH_REDIS_PREFIX", c.Redis.Prefix)
	c.Redis.TTL = envDuration("AGENTGRAPH_REDIS_TTL", c.Redis.TTL)

	c.Jobs.SQLitePath = envStr("AGENTGRAPH_SQLITE_PATH", c.Jobs.SQLitePath)
	c.Jobs.Workers = envInt("AGENTGRAPH_JOB_WORKERS", c.Jobs.Workers)
	c.Jobs.QueueSize = envInt("AGENTGRAPH_JOB_QUEUE_SIZE", c.Jobs.QueueSize)

	c.Models.OpenAIModel = envStr("AGENTGRAPH_OPENAI_MODEL", c.Models.OpenAIModel)
	c.Models.AnthropicModel = envStr("AGENTGRAPH_ANTHROPIC_MODEL", c.Models.AnthropicModel)
	c.Models.AnthropicAPIKey = envStr("ANTHROPIC_API_KEY", c.Models.AnthropicAPIKey)

	c.Metrics.Addr = envStr("AGENTGRAPH_METRICS_ADDR", c.Metrics.Addr)
}

// Validate checks value ranges. MaxSteps above the hard cap is clamped.
func (c *Config) Validate() error {
	var errs []error

	if c.Run.IdleTimeout <= 0 {
		errs = append(errs, errors.New("config: idle_timeout must be positive"))
	}
	if c.Run.StopGrace < 0 {
		errs = append(errs, errors.New("config: stop_grace must not be negative"))
	}
	if c.Run.ActorStopTimeout <= 0 {
		errs = append(errs, errors.New("config: actor_stop_timeout must be positive"))
	}
	if c.Run.MaxSteps < 1 {
		errs = append(errs, errors.New("config: max_steps must be at least 1"))
	}
	if c.Run.MaxSteps > core.MaxStepsCap {
		c.Run.MaxSteps = core.MaxStepsCap
	}
	if c.Run.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("config: max_concurrent_runs must be at least 1"))
	}
	if c.Run.ChunkBufferSize < 0 {
		errs = append(errs, errors.New("config: chunk_buffer_size must not be negative"))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.Log.Format))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("config: jobs.workers must be at least 1"))
	}
	if c.Jobs.QueueSize < 1 {
		errs = append(errs, errors.New("config: jobs.queue_size must be at least 1"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
