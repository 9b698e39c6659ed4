package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"     validate:"required"`
	Store     StoreConfig     `mapstructure:"store"     validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format"       validate:"required,oneof=json text"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// AuthConfig controls API authentication. When disabled every request is
// accepted.
type AuthConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required_if=Enabled true,omitempty,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
	// APIKeys entries have the form "name:bcrypt-hash".
	APIKeys []string `mapstructure:"api_keys" validate:"dive,contains=:"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend"  validate:"required,oneof=memory redis"`
	Key     string `mapstructure:"key"      validate:"required"`
	DLQKey  string `mapstructure:"dlq_key"  validate:"required,nefield=Key"`
}

// StoreConfig selects the task and run store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory sql"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	Dialect         string        `mapstructure:"dialect"           validate:"required,oneof=postgres sqlite"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig configures the networked queue and rate limiter.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkerConfig tunes the polling dispatcher.
type WorkerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	PollInterval       time.Duration `mapstructure:"poll_interval"        validate:"gt=0"`
	MaxRetries         int           `mapstructure:"max_retries"          validate:"gte=0"`
	Backoff            time.Duration `mapstructure:"backoff"              validate:"gt=0"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"         validate:"gt=0"`
	StuckAge           time.Duration `mapstructure:"stuck_age"            validate:"gt=0"`
	StuckCheckInterval time.Duration `mapstructure:"stuck_check_interval" validate:"gt=0"`
}

// RateLimitConfig configures admission control on task submission.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend" validate:"required,oneof=memory redis"`
	Max     int           `mapstructure:"max"     validate:"gt=0"`
	Window  time.Duration `mapstructure:"window"  validate:"gt=0"`
}

// LLMConfig contains all model provider settings.
type LLMConfig struct {
	DefaultProvider   string            `mapstructure:"default_provider"    validate:"omitempty,oneof=gemini openai"`
	MaxToolIterations int               `mapstructure:"max_tool_iterations" validate:"gt=0"`
	DisplayBudget     int               `mapstructure:"display_budget"      validate:"gt=0"`
	ErrorMode         string            `mapstructure:"error_mode"          validate:"required,oneof=error result"`
	Temperature       float32           `mapstructure:"temperature"         validate:"gte=0,lte=2"`
	MaxTokens         int               `mapstructure:"max_tokens"          validate:"gte=0"`
	Modes             map[string]string `mapstructure:"modes"               validate:"dive,oneof=text structured"`
	Gemini            ProviderConfig    `mapstructure:"gemini"`
	OpenAI            ProviderConfig    `mapstructure:"openai"`
}

// ProviderConfig configures one model provider and its endpoint policy.
type ProviderConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"         validate:"required_if=Enabled true"`
	Endpoint     string        `mapstructure:"endpoint"      validate:"omitempty,url"`
	MaxRetries   int           `mapstructure:"max_retries"   validate:"gte=0"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"   validate:"gte=0"`
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
	AllowHosted  bool          `mapstructure:"allow_hosted"`
	AllowLocal   bool          `mapstructure:"allow_local"`
}

// ToolsConfig configures the command sandbox.
type ToolsConfig struct {
	AllowedRoots   []string      `mapstructure:"allowed_roots"`
	Timeout        time.Duration `mapstructure:"timeout"          validate:"gt=0"`
	MaxOutputChars int           `mapstructure:"max_output_chars" validate:"gt=0"`
}

// SchedulerConfig configures the task producers that run on timers.
type SchedulerConfig struct {
	Generic   GenericSchedulerConfig   `mapstructure:"generic"`
	Recurring RecurringSchedulerConfig `mapstructure:"recurring"`
	Source    SourceSchedulerConfig    `mapstructure:"source"`
}

// GenericSchedulerConfig emits one task per role every interval.
type GenericSchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"    validate:"gt=0"`
	Roles       []string      `mapstructure:"roles"       validate:"required_if=Enabled true,dive,oneof=researcher writer developer reviewer triage maintenance"`
	Description string        `mapstructure:"description"`
}

// RecurringSchedulerConfig loads per-entity subscriptions from a YAML file.
type RecurringSchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	File     string        `mapstructure:"file"     validate:"required_if=Enabled true"`
}

// SourceSchedulerConfig polls an HTTP endpoint for eligible targets.
type SourceSchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	URL      string        `mapstructure:"url"      validate:"required_if=Enabled true,omitempty,url"`
	Role     string        `mapstructure:"role"     validate:"required_if=Enabled true,omitempty,oneof=researcher writer developer reviewer triage maintenance"`
	Timeout  time.Duration `mapstructure:"timeout"  validate:"gt=0"`
}

// WebhookConfig configures inbound webhooks.
type WebhookConfig struct {
	// Secret enables X-Hub-Signature-256 verification when set.
	Secret string `mapstructure:"secret"`
}
