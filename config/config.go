// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads orchestratord's configuration from environment
// variables or a YAML file, with environment values overlaying
// file-loaded ones.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Hypervisor HypervisorConfig `yaml:"hypervisor"`
	Store      StoreConfig      `yaml:"store"`
	Storage    StorageConfig    `yaml:"storage"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HypervisorConfig configures the Hyper-V connection.
type HypervisorConfig struct {
	Host      string        `yaml:"host"` // empty for local execution
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	UseWinRM  bool          `yaml:"use_winrm"`
	WinRMPort int           `yaml:"winrm_port"`
	UseHTTPS  bool          `yaml:"use_https"`
	Timeout   time.Duration `yaml:"timeout"`

	PrepareTimeout time.Duration `yaml:"prepare_timeout"` // wait_for_ready on prepare, default 120s
	ResumeTimeout  time.Duration `yaml:"resume_timeout"`  // wait_for_ready on resume, default 30s
	SettleInterval time.Duration `yaml:"settle_interval"` // post-boot settle pause, default 10s
}

// StoreConfig configures the persistent catalog.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig configures the per-VM disk root.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// SchedulerConfig configures the cron-driven reconciliation loop.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SecretsConfig selects how the hypervisor password is resolved.
type SecretsConfig struct {
	Backend  string       `yaml:"backend"` // "config" (default) or "vault"
	VaultCfg *VaultConfig `yaml:"vault,omitempty"`
}

// VaultConfig holds HashiCorp Vault connection details.
type VaultConfig struct {
	Address     string `yaml:"address"`
	Token       string `yaml:"token"`
	SecretPath  string `yaml:"secret_path"`
	PasswordKey string `yaml:"password_key"`
}

// FromEnvironment builds a Config purely from environment variables.
func FromEnvironment() *Config {
	winrmPort, _ := strconv.Atoi(getEnv("HYPERVISOR_WINRM_PORT", "5985"))
	prepareTimeout, _ := strconv.Atoi(getEnv("PREPARE_TIMEOUT_SECONDS", "120"))
	resumeTimeout, _ := strconv.Atoi(getEnv("RESUME_TIMEOUT_SECONDS", "30"))
	settleInterval, _ := strconv.Atoi(getEnv("SETTLE_INTERVAL_SECONDS", "10"))

	return &Config{
		Server: ServerConfig{
			Addr:            getEnv("SERVER_ADDR", ":8080"),
			ShutdownTimeout: 30 * time.Second,
		},
		Hypervisor: HypervisorConfig{
			Host:           os.Getenv("HYPERVISOR_HOST"),
			Username:       os.Getenv("HYPERVISOR_USERNAME"),
			Password:       os.Getenv("HYPERVISOR_PASSWORD"),
			UseWinRM:       getEnv("HYPERVISOR_USE_WINRM", "0") == "1",
			WinRMPort:      winrmPort,
			UseHTTPS:       getEnv("HYPERVISOR_USE_HTTPS", "0") == "1",
			Timeout:        time.Hour,
			PrepareTimeout: time.Duration(prepareTimeout) * time.Second,
			ResumeTimeout:  time.Duration(resumeTimeout) * time.Second,
			SettleInterval: time.Duration(settleInterval) * time.Second,
		},
		Store:   StoreConfig{Path: getEnv("STORE_PATH", "./state.db")},
		Storage: StorageConfig{Root: getEnv("STORAGE_ROOT", "./VMs")},
		Scheduler: SchedulerConfig{
			Enabled: getEnv("SCHEDULER_ENABLED", "1") == "1",
			Cron:    getEnv("SCHEDULER_CRON", "@every 1m"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnv("METRICS_ENABLED", "1") == "1",
			Addr:    getEnv("METRICS_ADDR", ":9090"),
		},
		Secrets:   SecretsConfig{Backend: getEnv("SECRETS_BACKEND", "config")},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// FromFile loads configuration from a YAML file and fills empty fields
// with the defaults FromEnvironment uses, with two differences:
// scheduler.enabled and metrics.enabled stay false when omitted, and an
// omitted WinRM port becomes 5986 when use_https is set.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Hypervisor.WinRMPort == 0 {
		if cfg.Hypervisor.UseHTTPS {
			cfg.Hypervisor.WinRMPort = 5986
		} else {
			cfg.Hypervisor.WinRMPort = 5985
		}
	}
	if cfg.Hypervisor.Timeout == 0 {
		cfg.Hypervisor.Timeout = time.Hour
	}
	if cfg.Hypervisor.PrepareTimeout == 0 {
		cfg.Hypervisor.PrepareTimeout = 120 * time.Second
	}
	if cfg.Hypervisor.ResumeTimeout == 0 {
		cfg.Hypervisor.ResumeTimeout = 30 * time.Second
	}
	if cfg.Hypervisor.SettleInterval == 0 {
		cfg.Hypervisor.SettleInterval = 10 * time.Second
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./state.db"
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./VMs"
	}
	if cfg.Scheduler.Cron == "" {
		cfg.Scheduler.Cron = "@every 1m"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Secrets.Backend == "" {
		cfg.Secrets.Backend = "config"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

// MergeWithEnv overlays environment variables onto a file-loaded Config
// (env takes precedence).
func (c *Config) MergeWithEnv() *Config {
	if v := os.Getenv("HYPERVISOR_HOST"); v != "" {
		c.Hypervisor.Host = v
	}
	if v := os.Getenv("HYPERVISOR_USERNAME"); v != "" {
		c.Hypervisor.Username = v
	}
	if v := os.Getenv("HYPERVISOR_PASSWORD"); v != "" {
		c.Hypervisor.Password = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
