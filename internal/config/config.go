// Package config loads gateway configuration from the environment with
// optional YAML file overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

var hexAddressRE = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `env:"GATEWAY_HOST,default=0.0.0.0" yaml:"host"`
	Port int    `env:"GATEWAY_PORT,default=4020" yaml:"port"`
}

// LoggingConfig controls the logger backend.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LOG_FORMAT,default=text" yaml:"format"`
	Output     string `env:"LOG_OUTPUT,default=stdout" yaml:"output"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=gateway" yaml:"file_prefix"`
}

// PaymentConfig controls the x402 payment gate. Enabled is the single
// capability switch: the gate is always wired, this only toggles it.
type PaymentConfig struct {
	Enabled           bool   `env:"PAYMENT_GATE_ENABLED,default=true" yaml:"enabled"`
	Network           string `env:"PAYMENT_NETWORK,default=base-sepolia" yaml:"network"`
	PlatformAddress   string `env:"PLATFORM_ADDRESS" yaml:"platform_address"`
	FacilitatorURL    string `env:"FACILITATOR_URL,default=https://x402.org/facilitator" yaml:"facilitator_url"`
	AssetAddress      string `env:"PAYMENT_ASSET,default=0x036CbD53842c5426634e7929541eC2318f3dCF7e" yaml:"asset_address"`
	AssetName         string `env:"PAYMENT_ASSET_NAME,default=USDC" yaml:"asset_name"`
	AssetVersion      string `env:"PAYMENT_ASSET_VERSION,default=2" yaml:"asset_version"`
	MaxTimeoutSeconds int    `env:"PAYMENT_MAX_TIMEOUT_SECONDS,default=60" yaml:"max_timeout_seconds"`
	RequestTimeoutSec int    `env:"FACILITATOR_TIMEOUT_SECONDS,default=15" yaml:"request_timeout_seconds"`
}

// UpstreamConfig bounds calls to provider APIs.
type UpstreamConfig struct {
	TimeoutSeconds int `env:"UPSTREAM_TIMEOUT_SECONDS,default=15" yaml:"timeout_seconds"`
}

// PreviewConfig controls the free-preview quota.
type PreviewConfig struct {
	MaxFreeCalls  int `env:"PREVIEW_MAX_FREE_CALLS,default=3" yaml:"max_free_calls"`
	WindowMinutes int `env:"PREVIEW_WINDOW_MINUTES,default=60" yaml:"window_minutes"`
	FlushDelayMS  int `env:"PREVIEW_FLUSH_DELAY_MS,default=2000" yaml:"flush_delay_ms"`
}

// StorageConfig locates the on-disk snapshots.
type StorageConfig struct {
	DataDir string `env:"DATA_DIR,default=data" yaml:"data_dir"`
}

// ChainConfig points the read-only balance client at an RPC node.
type ChainConfig struct {
	RPCURL         string `env:"CHAIN_RPC_URL,default=https://base-sepolia-rpc.publicnode.com" yaml:"rpc_url"`
	StableContract string `env:"CHAIN_STABLE_CONTRACT,default=0x036CbD53842c5426634e7929541eC2318f3dCF7e" yaml:"stable_contract"`
	TimeoutSeconds int    `env:"CHAIN_TIMEOUT_SECONDS,default=10" yaml:"timeout_seconds"`
}

// APIRateConfig bounds request bursts on the registry/stats API.
type APIRateConfig struct {
	RequestsPerSecond int `env:"API_RATE_PER_SECOND,default=20" yaml:"requests_per_second"`
	Burst             int `env:"API_RATE_BURST,default=40" yaml:"burst"`
}

// Config is the root gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Payment  PaymentConfig  `yaml:"payment"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Preview  PreviewConfig  `yaml:"preview"`
	Storage  StorageConfig  `yaml:"storage"`
	Chain    ChainConfig    `yaml:"chain"`
	APIRate  APIRateConfig  `yaml:"api_rate"`
}

// Load reads configuration from the environment, applies overrides from
// config/gateway.yaml when present, and validates the result.
func Load() (*Config, error) {
	return LoadWithFile("config/gateway.yaml")
}

// LoadWithFile is Load with an explicit override file path.
func LoadWithFile(path string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path != "" {
		if err := applyFileOverrides(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFileOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints that envdecode cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Payment.Enabled {
		if c.Payment.PlatformAddress == "" {
			return fmt.Errorf("PLATFORM_ADDRESS is required when the payment gate is enabled")
		}
		if !hexAddressRE.MatchString(c.Payment.PlatformAddress) {
			return fmt.Errorf("PLATFORM_ADDRESS %q is not a valid address", c.Payment.PlatformAddress)
		}
		if !hexAddressRE.MatchString(c.Payment.AssetAddress) {
			return fmt.Errorf("PAYMENT_ASSET %q is not a valid address", c.Payment.AssetAddress)
		}
		if c.Payment.FacilitatorURL == "" {
			return fmt.Errorf("FACILITATOR_URL is required when the payment gate is enabled")
		}
	}
	if c.Preview.MaxFreeCalls <= 0 {
		return fmt.Errorf("preview max free calls must be positive")
	}
	if c.Preview.WindowMinutes <= 0 {
		return fmt.Errorf("preview window must be positive")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	return nil
}

// UpstreamTimeout returns the upstream call deadline.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// PreviewWindow returns the free-preview window length.
func (c *Config) PreviewWindow() time.Duration {
	return time.Duration(c.Preview.WindowMinutes) * time.Minute
}

// PreviewFlushDelay returns the rate-limit persistence debounce delay.
func (c *Config) PreviewFlushDelay() time.Duration {
	return time.Duration(c.Preview.FlushDelayMS) * time.Millisecond
}

// FacilitatorTimeout returns the payment verifier call deadline.
func (c *Config) FacilitatorTimeout() time.Duration {
	return time.Duration(c.Payment.RequestTimeoutSec) * time.Second
}
