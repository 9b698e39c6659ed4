package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ORCH_SERVER_PORT.
const EnvPrefix = "ORCH"

var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.log_format":       "json",
	"server.read_timeout":     "15s",
	"server.write_timeout":    "60s",
	"server.shutdown_timeout": "30s",

	"auth.enabled":                false,
	"auth.jwt_secret":             "",
	"auth.token_lifetime_minutes": 60,
	"auth.api_keys":               []string{},

	"queue.backend": "memory",
	"queue.key":     "orchestrator:queue",
	"queue.dlq_key": "orchestrator:dlq",

	"store.backend": "memory",

	"database.dialect":           "sqlite",
	"database.url":               "",
	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": "30m",
	"database.auto_migrate":      true,

	"redis.url":        "redis://localhost:6379/0",
	"redis.key_prefix": "orchestrator:",

	"worker.enabled":              true,
	"worker.poll_interval":        "500ms",
	"worker.max_retries":          3,
	"worker.backoff":              "2s",
	"worker.task_timeout":         "5m",
	"worker.stuck_age":            "30m",
	"worker.stuck_check_interval": "5m",

	"ratelimit.enabled": true,
	"ratelimit.backend": "memory",
	"ratelimit.max":     5,
	"ratelimit.window":  "1m",

	"llm.default_provider":    "",
	"llm.max_tool_iterations": 4,
	"llm.display_budget":      4000,
	"llm.error_mode":          "error",
	"llm.temperature":         0.2,
	"llm.max_tokens":          0,

	"llm.gemini.enabled":       false,
	"llm.gemini.api_key":       "",
	"llm.gemini.model":         "gemini-2.0-flash",
	"llm.gemini.endpoint":      "https://generativelanguage.googleapis.com",
	"llm.gemini.max_retries":   2,
	"llm.gemini.retry_delay":   "1s",
	"llm.gemini.allowed_hosts": []string{"generativelanguage.googleapis.com"},
	"llm.gemini.allow_hosted":  true,
	"llm.gemini.allow_local":   false,

	"llm.openai.enabled":       false,
	"llm.openai.api_key":       "",
	"llm.openai.model":         "llama3.1",
	"llm.openai.endpoint":      "http://localhost:11434/v1",
	"llm.openai.max_retries":   2,
	"llm.openai.retry_delay":   "1s",
	"llm.openai.allowed_hosts": []string{},
	"llm.openai.allow_hosted":  false,
	"llm.openai.allow_local":   true,

	"tools.allowed_roots":    []string{},
	"tools.timeout":          "30s",
	"tools.max_output_chars": 8000,

	"scheduler.generic.enabled":     false,
	"scheduler.generic.interval":    "1h",
	"scheduler.generic.roles":       []string{},
	"scheduler.generic.description": "scheduled run",

	"scheduler.recurring.enabled":  false,
	"scheduler.recurring.interval": "1h",
	"scheduler.recurring.file":     "",

	"scheduler.source.enabled":  false,
	"scheduler.source.interval": "15m",
	"scheduler.source.url":      "",
	"scheduler.source.role":     "",
	"scheduler.source.timeout":  "10s",

	"webhook.secret": "",
}

// Load reads configuration. Environment variables take precedence over the
// config file, which takes precedence over defaults. An empty path searches
// for config.yaml in the working directory and /etc/orchestrator; a missing
// file is not an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/orchestrator")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var problems []string
	if c.Store.Backend == "sql" && c.Database.URL == "" {
		problems = append(problems, "database.url is required when store.backend is sql")
	}
	needsRedis := c.Queue.Backend == "redis" || (c.RateLimit.Enabled && c.RateLimit.Backend == "redis")
	if needsRedis && c.Redis.URL == "" {
		problems = append(problems, "redis.url is required by the redis queue or rate limiter")
	}
	switch c.LLM.DefaultProvider {
	case "gemini":
		if !c.LLM.Gemini.Enabled {
			problems = append(problems, "llm.default_provider gemini is not enabled")
		}
	case "openai":
		if !c.LLM.OpenAI.Enabled {
			problems = append(problems, "llm.default_provider openai is not enabled")
		}
	}
	if c.LLM.Gemini.Enabled && c.LLM.Gemini.APIKey == "" {
		problems = append(problems, "llm.gemini.api_key is required when gemini is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
