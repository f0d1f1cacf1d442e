// Package config loads the gateway configuration from an optional YAML file
// and WAGATE_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Auth      AuthConfig
	Bridge    BridgeConfig
	Store     StoreConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Dispatch  DispatchConfig
	Pairing   PairingConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout int // Seconds
	IdleTimeout       int // Seconds
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

type BridgeConfig struct {
	URL              string
	Token            string
	HandshakeTimeout int // Seconds
	PingInterval     int // Seconds
	CallTimeout      int // Seconds
}

type StoreConfig struct {
	AuthDir    string
	PairingDir string
	QRSize     int // Pixels
}

type SessionConfig struct {
	ReconnectInitialInterval int // Milliseconds
	ReconnectMaxInterval     int // Seconds
	ReconnectMaxElapsed      int // Seconds
}

type RateLimitConfig struct {
	Limit  int
	Window int // Seconds
}

type DispatchConfig struct {
	NetworkSuffix string
	BulkPacing    int // Milliseconds
	BulkRetryWait int // Milliseconds
	FetchTimeout  int // Seconds
}

type PairingConfig struct {
	PollInterval int // Milliseconds
	Timeout      int // Milliseconds
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
	Path    string
}

// Load reads config.yaml (when present) and the environment, applies
// defaults and validates the result.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvPrefix("WAGATE")
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// A config file is optional; everything can come from env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Duration helpers so services take time.Duration, not raw ints.

func (c SessionConfig) InitialInterval() time.Duration {
	return time.Duration(c.ReconnectInitialInterval) * time.Millisecond
}

func (c SessionConfig) MaxInterval() time.Duration {
	return time.Duration(c.ReconnectMaxInterval) * time.Second
}

func (c SessionConfig) MaxElapsed() time.Duration {
	return time.Duration(c.ReconnectMaxElapsed) * time.Second
}

func (c RateLimitConfig) WindowDuration() time.Duration {
	return time.Duration(c.Window) * time.Second
}

func (c DispatchConfig) Pacing() time.Duration {
	return time.Duration(c.BulkPacing) * time.Millisecond
}

func (c DispatchConfig) RetryWait() time.Duration {
	return time.Duration(c.BulkRetryWait) * time.Millisecond
}

func (c DispatchConfig) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

func (c PairingConfig) Poll() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

func (c PairingConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c BridgeConfig) Handshake() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

func (c BridgeConfig) Ping() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

func (c BridgeConfig) Call() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}
