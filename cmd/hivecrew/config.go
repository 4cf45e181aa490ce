package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivecrew/hivecrew/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hivecrew configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/hivecrew/config.yaml
Project-specific overrides can be placed in .hivecrew.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	// Mask API key if set
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}
	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("scheduler.max_concurrency: %d\n", cfg.Scheduler.MaxConcurrency)
	fmt.Printf("scheduler.task_timeout: %s\n", cfg.Scheduler.TaskTimeout)
	fmt.Printf("executor.max_retries: %d\n", cfg.Executor.MaxRetries)
	fmt.Printf("executor.retry_delay: %s\n", cfg.Executor.RetryDelay)
	fmt.Printf("exceptions.max_auto_retries: %d\n", cfg.Exceptions.MaxAutoRetries)
	fmt.Printf("exceptions.intervention_threshold: %s\n", cfg.Exceptions.InterventionThreshold)
	fmt.Printf("exceptions.auto_escalate: %t\n", cfg.Exceptions.AutoEscalate)
	fmt.Printf("exceptions.pause_on_critical: %t\n", cfg.Exceptions.PauseOnCritical)
	fmt.Printf("collaboration.reply_delay: %s\n", cfg.Collaboration.ReplyDelay)
	fmt.Printf("workers.persona_dir: %s\n", cfg.Workers.PersonaDir)
	fmt.Printf("workers.watch: %t\n", cfg.Workers.Watch)
	fmt.Printf("logging.level: %s\n", cfg.Logging.Level)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "scheduler.max_concurrency":
		return strconv.Itoa(cfg.Scheduler.MaxConcurrency), nil
	case "scheduler.task_timeout":
		return cfg.Scheduler.TaskTimeout.String(), nil
	case "executor.max_retries":
		return strconv.Itoa(cfg.Executor.MaxRetries), nil
	case "executor.retry_delay":
		return cfg.Executor.RetryDelay.String(), nil
	case "exceptions.max_auto_retries":
		return strconv.Itoa(cfg.Exceptions.MaxAutoRetries), nil
	case "exceptions.intervention_threshold":
		return cfg.Exceptions.InterventionThreshold, nil
	case "exceptions.auto_escalate":
		return strconv.FormatBool(cfg.Exceptions.AutoEscalate), nil
	case "exceptions.pause_on_critical":
		return strconv.FormatBool(cfg.Exceptions.PauseOnCritical), nil
	case "collaboration.reply_delay":
		return cfg.Collaboration.ReplyDelay.String(), nil
	case "workers.persona_dir":
		return cfg.Workers.PersonaDir, nil
	case "workers.watch":
		return strconv.FormatBool(cfg.Workers.Watch), nil
	case "logging.level":
		return cfg.Logging.Level, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for use_bedrock: %w", err)
		}
		cfg.Anthropic.UseBedrock = b
	case "scheduler.max_concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_concurrency: %w", err)
		}
		cfg.Scheduler.MaxConcurrency = n
	case "scheduler.task_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for task_timeout: %w", err)
		}
		cfg.Scheduler.TaskTimeout = d
	case "executor.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_retries: %w", err)
		}
		cfg.Executor.MaxRetries = n
	case "executor.retry_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retry_delay: %w", err)
		}
		cfg.Executor.RetryDelay = d
	case "exceptions.max_auto_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_auto_retries: %w", err)
		}
		cfg.Exceptions.MaxAutoRetries = n
	case "exceptions.intervention_threshold":
		cfg.Exceptions.InterventionThreshold = value
	case "exceptions.auto_escalate":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for auto_escalate: %w", err)
		}
		cfg.Exceptions.AutoEscalate = b
	case "exceptions.pause_on_critical":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for pause_on_critical: %w", err)
		}
		cfg.Exceptions.PauseOnCritical = b
	case "collaboration.reply_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for reply_delay: %w", err)
		}
		cfg.Collaboration.ReplyDelay = d
	case "workers.persona_dir":
		cfg.Workers.PersonaDir = value
	case "workers.watch":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for watch: %w", err)
		}
		cfg.Workers.Watch = b
	case "logging.level":
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
