// Package config loads tutorbench's infrastructure configuration: AWS
// wiring, the model gateway's provider registry, and concurrency/metrics/
// log settings. It does not carry the weekly benchmarking plan itself —
// that is the object-store config blob pkg/manifest parses (models,
// scenarios, thresholds for one week's run), fetched at a well-known key
// this package's Storage.ConfigKey points at.
package config

import (
	"fmt"
	"strings"
)

// Config is tutorbench's complete infrastructure configuration.
type Config struct {
	AWS         AWSConfig          `yaml:"aws" koanf:"aws"`
	Models      []ModelConfig      `yaml:"models" koanf:"models"`
	Storage     StorageConfig      `yaml:"storage" koanf:"storage"`
	Queues      QueueConfig        `yaml:"queues" koanf:"queues"`
	Concurrency ConcurrencyConfig  `yaml:"concurrency,omitempty" koanf:"concurrency"`
	Metrics     MetricsConfig      `yaml:"metrics,omitempty" koanf:"metrics"`
	Log         LogConfig          `yaml:"log,omitempty" koanf:"log"`
	Profiles    map[string]Profile `yaml:"profiles,omitempty" koanf:"profiles"`
}

// Profile is a named override bundle, merged over the base Config for a
// given deployment environment (e.g. "staging" pointed at its own
// table/bucket/queue set).
type Profile struct {
	AWS         AWSConfig         `yaml:"aws,omitempty"`
	Models      []ModelConfig     `yaml:"models,omitempty"`
	Storage     StorageConfig     `yaml:"storage,omitempty"`
	Queues      QueueConfig       `yaml:"queues,omitempty"`
	Concurrency ConcurrencyConfig `yaml:"concurrency,omitempty"`
	Metrics     MetricsConfig     `yaml:"metrics,omitempty"`
	Log         LogConfig         `yaml:"log,omitempty"`
}

// AWSConfig carries the region and, for local/CI runs against a
// SQS/DynamoDB/S3-compatible stub, a shared endpoint override.
type AWSConfig struct {
	Region  string `yaml:"region" koanf:"region" validate:"required"`
	BaseURL string `yaml:"base_url,omitempty" koanf:"base_url"`
}

// ModelConfig is one entry of the gateway's fixed provider registry —
// credentials and per-model defaults, keyed by the model_id a manifest's
// "models" list and "judge_model" field reference.
type ModelConfig struct {
	ModelID     string  `yaml:"model_id" koanf:"model_id" validate:"required"`
	Provider    string  `yaml:"provider" koanf:"provider" validate:"required"`
	APIKey      string  `yaml:"api_key,omitempty" koanf:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" koanf:"base_url"`
	Temperature float64 `yaml:"temperature,omitempty" koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" koanf:"max_tokens" validate:"gte=0"`
	RateLimit   float64 `yaml:"rate_limit,omitempty" koanf:"rate_limit" validate:"gte=0"`
}

// StorageConfig names the backing kv-store table, object-store bucket,
// and the well-known object key holding the weekly benchmarking config
// blob pkg/manifest parses.
type StorageConfig struct {
	Table     string `yaml:"table" koanf:"table" validate:"required"`
	Bucket    string `yaml:"bucket" koanf:"bucket" validate:"required"`
	ConfigKey string `yaml:"config_key" koanf:"config_key" validate:"required"`
}

// QueueConfig holds the three SQS queue URLs the orchestrator dispatches
// against.
type QueueConfig struct {
	DialogueJobsURL    string `yaml:"dialogue_jobs_url" koanf:"dialogue_jobs_url" validate:"required"`
	JudgeJobsURL       string `yaml:"judge_jobs_url" koanf:"judge_jobs_url" validate:"required"`
	RunJudgedEventsURL string `yaml:"run_judged_events_url" koanf:"run_judged_events_url" validate:"required"`
}

// ConcurrencyConfig caps in-flight message processing per handler. Zero
// means "use the pipeline default" (see WithDefaults).
type ConcurrencyConfig struct {
	Runner  int `yaml:"runner,omitempty" koanf:"runner" validate:"gte=0,lte=25"`
	Judge   int `yaml:"judge,omitempty" koanf:"judge" validate:"gte=0,lte=25"`
	Curator int `yaml:"curator,omitempty" koanf:"curator" validate:"gte=0,lte=10"`
}

// Default concurrency caps. These are also the hard upper bounds: the
// scheduling model caps Runner/Judge at 25 and Curator at 10 in-flight
// messages, to protect upstream model quotas and downstream write rates.
const (
	DefaultRunnerConcurrency  = 25
	DefaultJudgeConcurrency   = 25
	DefaultCuratorConcurrency = 10
)

// WithDefaults returns c with zero-valued concurrency fields filled from
// the pipeline's defaults.
func (c ConcurrencyConfig) WithDefaults() ConcurrencyConfig {
	if c.Runner == 0 {
		c.Runner = DefaultRunnerConcurrency
	}
	if c.Judge == 0 {
		c.Judge = DefaultJudgeConcurrency
	}
	if c.Curator == 0 {
		c.Curator = DefaultCuratorConcurrency
	}
	return c
}

// MetricsConfig configures the Prometheus text-exposition listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty" koanf:"listen_addr"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" koanf:"format" validate:"omitempty,oneof=text json"`
}

// Validate checks cross-field rules the struct tags can't express.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one entry in models is required")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if seen[m.ModelID] {
			return fmt.Errorf("duplicate model_id %q in models", m.ModelID)
		}
		seen[m.ModelID] = true
	}
	return nil
}

// Merge overlays other onto c: any non-zero field of other replaces the
// matching field of c.
func (c *Config) Merge(other *Config) {
	if other.AWS.Region != "" {
		c.AWS.Region = other.AWS.Region
	}
	if other.AWS.BaseURL != "" {
		c.AWS.BaseURL = other.AWS.BaseURL
	}
	if len(other.Models) > 0 {
		c.Models = other.Models
	}
	if other.Storage.Table != "" {
		c.Storage.Table = other.Storage.Table
	}
	if other.Storage.Bucket != "" {
		c.Storage.Bucket = other.Storage.Bucket
	}
	if other.Storage.ConfigKey != "" {
		c.Storage.ConfigKey = other.Storage.ConfigKey
	}
	if other.Queues.DialogueJobsURL != "" {
		c.Queues.DialogueJobsURL = other.Queues.DialogueJobsURL
	}
	if other.Queues.JudgeJobsURL != "" {
		c.Queues.JudgeJobsURL = other.Queues.JudgeJobsURL
	}
	if other.Queues.RunJudgedEventsURL != "" {
		c.Queues.RunJudgedEventsURL = other.Queues.RunJudgedEventsURL
	}
	if other.Concurrency.Runner != 0 {
		c.Concurrency.Runner = other.Concurrency.Runner
	}
	if other.Concurrency.Judge != 0 {
		c.Concurrency.Judge = other.Concurrency.Judge
	}
	if other.Concurrency.Curator != 0 {
		c.Concurrency.Curator = other.Concurrency.Curator
	}
	if other.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = other.Metrics.ListenAddr
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
}

// ApplyProfile merges the named profile over c.
func (c *Config) ApplyProfile(profileName string) error {
	profile, ok := c.Profiles[profileName]
	if !ok {
		return fmt.Errorf("profile %q not found", profileName)
	}
	c.Merge(&Config{
		AWS:         profile.AWS,
		Models:      profile.Models,
		Storage:     profile.Storage,
		Queues:      profile.Queues,
		Concurrency: profile.Concurrency,
		Metrics:     profile.Metrics,
		Log:         profile.Log,
	})
	return nil
}

// interpolateEnvVars replaces ${VAR} with environment variable values, so
// a checked-in config file can reference a credential by name rather
// than carrying it in cleartext.
func interpolateEnvVars(s string, getenv func(string) (string, bool)) (string, error) {
	result := s
	start := 0
	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		endIdx := strings.Index(result[idx:], "}")
		if endIdx == -1 {
			return "", fmt.Errorf("unclosed environment variable reference at position %d", idx)
		}
		endIdx += idx

		varName := result[idx+2 : endIdx]
		value, ok := getenv(varName)
		if !ok {
			return "", fmt.Errorf("environment variable %q is not set", varName)
		}

		result = result[:idx] + value + result[endIdx+1:]
		start = idx + len(value)
	}
	return result, nil
}
