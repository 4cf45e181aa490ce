// Package config handles configuration loading for hivecrew.
// It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration engine.
type Config struct {
	Anthropic     AnthropicConfig     `mapstructure:"anthropic"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Exceptions    ExceptionsConfig    `mapstructure:"exceptions"`
	Collaboration CollaborationConfig `mapstructure:"collaboration"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Model is the default model for worker capabilities.
	Model string `mapstructure:"model"`
	// UseBedrock switches the client to AWS Bedrock.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional shared-config profile.
	AWSProfile string `mapstructure:"aws_profile"`
}

// SchedulerConfig holds dispatch loop settings.
type SchedulerConfig struct {
	// MaxConcurrency bounds running sub-tasks across all tasks.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// TaskTimeout is the watchdog bound per running sub-task.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// PollInterval is how often the dispatch loop re-polls when no
	// trigger arrives.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ExecutorConfig holds per-attempt execution settings.
type ExecutorConfig struct {
	// MaxRetries bounds attempts per executor call.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay; attempt n waits RetryDelay*n.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// StreamUpdateInterval throttles progress/stream events.
	StreamUpdateInterval time.Duration `mapstructure:"stream_update_interval"`
}

// ExceptionsConfig holds failure-remediation policy settings.
type ExceptionsConfig struct {
	// MaxAutoRetries bounds auto-retry per (task, sub-task) pair.
	MaxAutoRetries int `mapstructure:"max_auto_retries"`
	// AutoRetryDelay is the base delay; retry n waits AutoRetryDelay*n.
	AutoRetryDelay time.Duration `mapstructure:"auto_retry_delay"`
	// InterventionThreshold is the severity at or above which a human
	// intervention ticket is always opened ("low".."critical").
	InterventionThreshold string `mapstructure:"intervention_threshold"`
	// AutoRetryTimeouts allows auto-retry for watchdog timeouts.
	AutoRetryTimeouts bool `mapstructure:"auto_retry_timeouts"`
	// AutoEscalate marks high/critical records escalated instead of
	// leaving them awaiting a human.
	AutoEscalate bool `mapstructure:"auto_escalate"`
	// PauseOnCritical pauses the owning task when a critical
	// exception opens an intervention ticket.
	PauseOnCritical bool `mapstructure:"pause_on_critical"`
}

// CollaborationConfig holds messaging settings.
type CollaborationConfig struct {
	// ReplyDelay is the pause before an automatic answer is sent.
	ReplyDelay time.Duration `mapstructure:"reply_delay"`
	// PurgeGrace is how long a closed session object stays queryable
	// before the live object is dropped (the record persists).
	PurgeGrace time.Duration `mapstructure:"purge_grace"`
}

// WorkersConfig holds worker persona settings.
type WorkersConfig struct {
	// PersonaDir is the directory of YAML persona files.
	PersonaDir string `mapstructure:"persona_dir"`
	// Watch enables hot registration of personas dropped into PersonaDir.
	Watch bool `mapstructure:"watch"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// setDefaults installs the built-in defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")

	v.SetDefault("scheduler.max_concurrency", 3)
	v.SetDefault("scheduler.task_timeout", 10*time.Minute)
	v.SetDefault("scheduler.poll_interval", 500*time.Millisecond)

	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.retry_delay", time.Second)
	v.SetDefault("executor.stream_update_interval", 100*time.Millisecond)

	v.SetDefault("exceptions.max_auto_retries", 2)
	v.SetDefault("exceptions.auto_retry_delay", 2*time.Second)
	v.SetDefault("exceptions.intervention_threshold", "high")
	v.SetDefault("exceptions.auto_retry_timeouts", true)
	v.SetDefault("exceptions.auto_escalate", true)
	v.SetDefault("exceptions.pause_on_critical", true)

	v.SetDefault("collaboration.reply_delay", 500*time.Millisecond)
	v.SetDefault("collaboration.purge_grace", 5*time.Minute)

	v.SetDefault("workers.persona_dir", "personas")
	v.SetDefault("workers.watch", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
}

// Default returns the built-in defaults without touching any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.hivecrew.yaml in current directory or a parent)
//  3. User config (~/.config/hivecrew/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	if err := v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes the configuration to the user config file, creating the
// directory if needed.
func Save(cfg *Config) error {
	dir := userConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	v := viper.New()
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("scheduler.max_concurrency", cfg.Scheduler.MaxConcurrency)
	v.Set("scheduler.task_timeout", cfg.Scheduler.TaskTimeout.String())
	v.Set("scheduler.poll_interval", cfg.Scheduler.PollInterval.String())
	v.Set("executor.max_retries", cfg.Executor.MaxRetries)
	v.Set("executor.retry_delay", cfg.Executor.RetryDelay.String())
	v.Set("executor.stream_update_interval", cfg.Executor.StreamUpdateInterval.String())
	v.Set("exceptions.max_auto_retries", cfg.Exceptions.MaxAutoRetries)
	v.Set("exceptions.auto_retry_delay", cfg.Exceptions.AutoRetryDelay.String())
	v.Set("exceptions.intervention_threshold", cfg.Exceptions.InterventionThreshold)
	v.Set("exceptions.auto_retry_timeouts", cfg.Exceptions.AutoRetryTimeouts)
	v.Set("exceptions.auto_escalate", cfg.Exceptions.AutoEscalate)
	v.Set("exceptions.pause_on_critical", cfg.Exceptions.PauseOnCritical)
	v.Set("collaboration.reply_delay", cfg.Collaboration.ReplyDelay.String())
	v.Set("collaboration.purge_grace", cfg.Collaboration.PurgeGrace.String())
	v.Set("workers.persona_dir", cfg.Workers.PersonaDir)
	v.Set("workers.watch", cfg.Workers.Watch)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.encoding", cfg.Logging.Encoding)

	path := filepath.Join(dir, "config.yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// userConfigDir returns the XDG config directory for hivecrew.
func userConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "hivecrew")
}

// findProjectConfig walks up from the working directory looking for a
// .hivecrew.yaml file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".hivecrew.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
