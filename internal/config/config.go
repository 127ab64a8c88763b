package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// Default configuration values
	defaultLogLevel     = "info"
	defaultOutputDir    = "."
	defaultFetchTimeout = 45 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
	defaultWorkers      = 4
	maxWorkers          = 32

	// Environment variable prefix
	envPrefix = "CF_SUPPORT"
)

// Config is the complete cf-support configuration.
type Config struct {
	LogLevel     string          `mapstructure:"logLevel" json:"logLevel"`
	LogDir       string          `mapstructure:"logDir" json:"logDir"`
	OutputDir    string          `mapstructure:"outputDir" json:"outputDir"`
	Kubeconfig   string          `mapstructure:"kubeconfig" json:"kubeconfig"`
	FetchTimeout time.Duration   `mapstructure:"fetchTimeout" json:"fetchTimeout"`
	HTTPTimeout  time.Duration   `mapstructure:"httpTimeout" json:"httpTimeout"`
	Workers      int             `mapstructure:"workers" json:"workers"`
	Codefresh    CodefreshConfig `mapstructure:"codefresh" json:"codefresh"`
}

// CodefreshConfig holds the control-plane credential sources.
type CodefreshConfig struct {
	APIKey     string `mapstructure:"apiKey" json:"apiKey"`
	URL        string `mapstructure:"url" json:"url"`
	ConfigPath string `mapstructure:"configPath" json:"configPath"`
}

// LoadConfig loads configuration from an optional JSON or YAML file and environment variables.
// Environment variables override file values using the CF_SUPPORT_ prefix, for example
// CF_SUPPORT_WORKERS=8. CF_API_KEY and CF_URL feed the control-plane credentials.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults make every key known to viper so AutomaticEnv applies on Unmarshal.
	v.SetDefault("logLevel", defaultLogLevel)
	v.SetDefault("logDir", "")
	v.SetDefault("outputDir", defaultOutputDir)
	v.SetDefault("kubeconfig", "")
	v.SetDefault("fetchTimeout", defaultFetchTimeout)
	v.SetDefault("httpTimeout", defaultHTTPTimeout)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("codefresh.configPath", "")

	if err := v.BindEnv("codefresh.apiKey", "CF_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind CF_API_KEY: %w", err)
	}
	if err := v.BindEnv("codefresh.url", "CF_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind CF_URL: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file at %s: %w", configPath, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// SetDefaults sets default values for any missing configuration fields
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.OutputDir == "" {
		c.OutputDir = defaultOutputDir
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.Codefresh.ConfigPath == "" {
		c.Codefresh.ConfigPath = DefaultCodefreshConfigPath()
	}
}

// validLogLevels defines the allowed logging levels
var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warning": true,
	"error":   true,
}

// Validate validates the configuration. The log level is normalised to lower case.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid logLevel: %s. Valid values are: debug, info, warning, error", c.LogLevel)
	}
	if c.Workers < 1 || c.Workers > maxWorkers {
		return fmt.Errorf("invalid workers: %d. Must be between 1 and %d", c.Workers, maxWorkers)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("invalid fetchTimeout: %s", c.FetchTimeout)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("invalid httpTimeout: %s", c.HTTPTimeout)
	}
	return nil
}

// DefaultCodefreshConfigPath returns the location of the Codefresh CLI config for the current user
func DefaultCodefreshConfigPath() string {
	home := os.Getenv("HOME")
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
	}
	return filepath.Join(home, ".cfconfig")
}
