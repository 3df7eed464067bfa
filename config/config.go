// Package config loads foreman's runtime configuration, layering
// environment variables over an optional YAML file over built-in
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/remote"
)

// Config is the fully resolved runtime configuration for a foremand
// process.
type Config struct {
	DatabaseURL  string
	QueueName    string
	Concurrency  int
	QueueSize    int
	PollInterval time.Duration
	StalledTimeout time.Duration

	SSH               remote.SSHConfig
	RemoteWorkingDir  string
	Environment       map[string]string
	DefaultJobOptions job.Options
}

// fileConfig is the YAML shape of an on-disk config file: a nested
// document, because the domain config (SSH + database + per-queue
// defaults) is naturally a nested structure rather than a flat one.
type fileConfig struct {
	DatabaseURL    string `yaml:"databaseUrl"`
	QueueName      string `yaml:"queueName"`
	Concurrency    int    `yaml:"concurrency"`
	QueueSize      int    `yaml:"queueSize"`
	PollIntervalMs int    `yaml:"pollIntervalMs"`
	StalledTimeoutMs int  `yaml:"stalledTimeoutMs"`

	SSH struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		PrivateKeyPath string `yaml:"privateKeyPath"`
		Passphrase     string `yaml:"passphrase"`
		ReadyTimeoutMs int    `yaml:"readyTimeoutMs"`
	} `yaml:"ssh"`

	Remote struct {
		WorkingDir  string            `yaml:"workingDir"`
		Environment map[string]string `yaml:"environment"`
	} `yaml:"remote"`

	DefaultJobOptions struct {
		Priority    int `yaml:"priority"`
		MaxAttempts int `yaml:"maxAttempts"`
		TimeoutMs   int `yaml:"timeoutMs"`
		KeepLogs    int `yaml:"keepLogs"`
	} `yaml:"defaultJobOptions"`
}

const (
	defaultQueueName      = "default"
	defaultConcurrency    = 4
	defaultQueueSize      = 64
	defaultPollInterval   = 5 * time.Second
	defaultStalledTimeout = time.Minute
)

func defaults() Config {
	return Config{
		QueueName:      defaultQueueName,
		Concurrency:    defaultConcurrency,
		QueueSize:      defaultQueueSize,
		PollInterval:   defaultPollInterval,
		StalledTimeout: defaultStalledTimeout,
	}
}

// RemoteConfig builds a remote.RemoteConfig from the resolved SSH settings
// plus the remote working directory and environment.
func (c Config) RemoteConfig() remote.RemoteConfig {
	return remote.RemoteConfig{
		SSHConfig:   c.SSH,
		WorkingDir:  c.RemoteWorkingDir,
		Environment: c.Environment,
	}
}

// MaxOpenConns sizes the storage connection pool: enough for every worker
// goroutine plus headroom for the stall sweep and listener bookkeeping
// queries, with a floor of 4 for small-concurrency deployments.
func (c Config) MaxOpenConns() int {
	n := c.Concurrency + 2
	if n < 4 {
		n = 4
	}
	return n
}

// Load resolves Config by layering, in increasing priority: built-in
// defaults, the YAML file at path (skipped silently if path is empty or
// the file does not exist), and environment variables.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		if fc, err := loadFile(path); err != nil {
			return Config{}, err
		} else if fc != nil {
			applyFile(&cfg, fc)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &fc, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.QueueName != "" {
		cfg.QueueName = fc.QueueName
	}
	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.QueueSize > 0 {
		cfg.QueueSize = fc.QueueSize
	}
	if fc.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(fc.PollIntervalMs) * time.Millisecond
	}
	if fc.StalledTimeoutMs > 0 {
		cfg.StalledTimeout = time.Duration(fc.StalledTimeoutMs) * time.Millisecond
	}

	if fc.SSH.Host != "" {
		cfg.SSH.Host = fc.SSH.Host
	}
	if fc.SSH.Port > 0 {
		cfg.SSH.Port = fc.SSH.Port
	}
	if fc.SSH.Username != "" {
		cfg.SSH.Username = fc.SSH.Username
	}
	if fc.SSH.Password != "" {
		cfg.SSH.Password = fc.SSH.Password
	}
	if fc.SSH.PrivateKeyPath != "" {
		cfg.SSH.PrivateKeyPath = fc.SSH.PrivateKeyPath
	}
	if fc.SSH.Passphrase != "" {
		cfg.SSH.Passphrase = fc.SSH.Passphrase
	}
	if fc.SSH.ReadyTimeoutMs > 0 {
		cfg.SSH.ReadyTimeout = time.Duration(fc.SSH.ReadyTimeoutMs) * time.Millisecond
	}

	if fc.Remote.WorkingDir != "" {
		cfg.RemoteWorkingDir = fc.Remote.WorkingDir
	}
	if len(fc.Remote.Environment) > 0 {
		cfg.Environment = fc.Remote.Environment
	}

	if fc.DefaultJobOptions.Priority != 0 {
		cfg.DefaultJobOptions.Priority = fc.DefaultJobOptions.Priority
	}
	if fc.DefaultJobOptions.MaxAttempts > 0 {
		cfg.DefaultJobOptions.MaxAttempts = fc.DefaultJobOptions.MaxAttempts
	}
	if fc.DefaultJobOptions.TimeoutMs > 0 {
		cfg.DefaultJobOptions.Timeout = time.Duration(fc.DefaultJobOptions.TimeoutMs) * time.Millisecond
	}
	if fc.DefaultJobOptions.KeepLogs > 0 {
		cfg.DefaultJobOptions.KeepLogs = fc.DefaultJobOptions.KeepLogs
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDurationMs(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

// applyEnv overrides cfg with FOREMAN_* environment variables, the
// highest-priority layer.
func applyEnv(cfg *Config) {
	envString("FOREMAN_DATABASE_URL", &cfg.DatabaseURL)
	envString("FOREMAN_QUEUE_NAME", &cfg.QueueName)
	envInt("FOREMAN_CONCURRENCY", &cfg.Concurrency)
	envInt("FOREMAN_QUEUE_SIZE", &cfg.QueueSize)
	envDurationMs("FOREMAN_POLL_INTERVAL_MS", &cfg.PollInterval)
	envDurationMs("FOREMAN_STALLED_TIMEOUT_MS", &cfg.StalledTimeout)

	envString("FOREMAN_SSH_HOST", &cfg.SSH.Host)
	envInt("FOREMAN_SSH_PORT", &cfg.SSH.Port)
	envString("FOREMAN_SSH_USERNAME", &cfg.SSH.Username)
	envString("FOREMAN_SSH_PASSWORD", &cfg.SSH.Password)
	envString("FOREMAN_SSH_PRIVATE_KEY_PATH", &cfg.SSH.PrivateKeyPath)
	envString("FOREMAN_SSH_PASSPHRASE", &cfg.SSH.Passphrase)
	envDurationMs("FOREMAN_SSH_READY_TIMEOUT_MS", &cfg.SSH.ReadyTimeout)

	envString("FOREMAN_REMOTE_WORKING_DIR", &cfg.RemoteWorkingDir)

	envInt("FOREMAN_JOB_PRIORITY", &cfg.DefaultJobOptions.Priority)
	envInt("FOREMAN_JOB_MAX_ATTEMPTS", &cfg.DefaultJobOptions.MaxAttempts)
	envDurationMs("FOREMAN_JOB_TIMEOUT_MS", &cfg.DefaultJobOptions.Timeout)
	envInt("FOREMAN_JOB_KEEP_LOGS", &cfg.DefaultJobOptions.KeepLogs)
}
