// Package config defines all configuration for the SDK example drivers.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MTCLOUD_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Account AccountConfig `mapstructure:"account"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig holds the service endpoints. Domain and Region resolve the
// regional REST hosts; WSURL is the streaming endpoint.
type APIConfig struct {
	WSURL  string `mapstructure:"ws_url"`
	Domain string `mapstructure:"domain"`
	Region string `mapstructure:"region"`
}

// AccountConfig identifies the trading account. Token is the API JWT;
// AccountType selects the hashing generation ("cloud-g1" or "cloud-g2").
type AccountConfig struct {
	ID          string `mapstructure:"id"`
	Token       string `mapstructure:"token"`
	AccountType string `mapstructure:"account_type"`
}

// StreamConfig tunes connection behaviour.
//
//   - RequestTimeout: deadline for correlated RPC requests.
//   - SyncTimeout: how long WaitSynchronized blocks at startup.
type StreamConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SyncTimeout    time.Duration `mapstructure:"sync_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MTCLOUD_TOKEN, MTCLOUD_ACCOUNT_ID.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MTCLOUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.domain", "agiliumtrade.agiliumtrade.ai")
	v.SetDefault("account.account_type", "cloud-g2")
	v.SetDefault("stream.request_timeout", time.Minute)
	v.SetDefault("stream.sync_timeout", 5*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if token := os.Getenv("MTCLOUD_TOKEN"); token != "" {
		cfg.Account.Token = token
	}
	if id := os.Getenv("MTCLOUD_ACCOUNT_ID"); id != "" {
		cfg.Account.ID = id
	}
	if region := os.Getenv("MTCLOUD_REGION"); region != "" {
		cfg.API.Region = region
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Account.Token == "" {
		return fmt.Errorf("account.token is required (set MTCLOUD_TOKEN)")
	}
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required (set MTCLOUD_ACCOUNT_ID)")
	}
	switch c.Account.AccountType {
	case "cloud-g1", "cloud-g2":
	default:
		return fmt.Errorf("account.account_type must be cloud-g1 or cloud-g2")
	}
	if c.API.WSURL == "" {
		return fmt.Errorf("api.ws_url is required")
	}
	if c.API.Region == "" {
		return fmt.Errorf("api.region is required (set MTCLOUD_REGION)")
	}
	if c.Stream.RequestTimeout <= 0 {
		return fmt.Errorf("stream.request_timeout must be > 0")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be a valid TCP port")
	}
	return nil
}
