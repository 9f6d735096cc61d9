// Package config centralises runtime configuration for the live trader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Credentials captures API credentials used for authenticated sessions.
type Credentials struct {
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// SymbolMapping binds one venue symbol to the engine's internal asset index.
type SymbolMapping struct {
	Symbol  string `yaml:"symbol"`
	AssetNo int    `yaml:"assetNo"`
}

// VenueSettings aggregates transport and credential configuration for Bybit.
type VenueSettings struct {
	PublicURL   string      `yaml:"publicUrl"`
	PrivateURL  string      `yaml:"privateUrl"`
	TradeURL    string      `yaml:"tradeUrl"`
	Category    string      `yaml:"category"`
	Credentials Credentials `yaml:"credentials"`

	// Topics are the public topic prefixes subscribed per tracked symbol.
	Topics  []string        `yaml:"topics"`
	Symbols []SymbolMapping `yaml:"symbols"`

	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	RecvWindow       time.Duration `yaml:"recvWindow"`

	// Per-connection order-entry pacing mandated by the venue's streaming
	// protocol (requests per second and burst).
	OrderRatePerSec float64 `yaml:"orderRatePerSec"`
	OrderBurst      int     `yaml:"orderBurst"`
}

// TelemetryConfig selects the OTLP metrics destination.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the configuration tree loaded from defaults, an optional
// YAML file, and environment overrides.
type Settings struct {
	Environment Environment     `yaml:"environment"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bybit       VenueSettings   `yaml:"bybit"`
}

// Default returns the default trader configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "hftbacktest-trader",
		},
		Bybit: VenueSettings{
			PublicURL:  "wss://stream.bybit.com/v5/public/linear",
			PrivateURL: "wss://stream.bybit.com/v5/private",
			TradeURL:   "wss://stream.bybit.com/v5/trade",
			Category:   "linear",
			Topics:     []string{"orderbook.50", "publicTrade"},
			Symbols:    nil,
			HandshakeTimeout: 10 * time.Second,
			RecvWindow:       5 * time.Second,
			OrderRatePerSec:  10,
			OrderBurst:       10,
		},
	}
}

// Load reads settings from the YAML file at path, layered over defaults.
// A missing file is not an error; the defaults are returned unchanged.
func Load(path string) (Settings, bool, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, false, nil
		}
		return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}

// FromEnv applies environment variable overrides to the settings.
func FromEnv(cfg Settings) Settings {
	if env := strings.TrimSpace(os.Getenv("TRADER_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_PUBLIC_WS_URL")); v != "" {
		cfg.Bybit.PublicURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_PRIVATE_WS_URL")); v != "" {
		cfg.Bybit.PrivateURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_TRADE_WS_URL")); v != "" {
		cfg.Bybit.TradeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_API_KEY")); v != "" {
		cfg.Bybit.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BYBIT_API_SECRET")); v != "" {
		cfg.Bybit.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return cfg
}

// Validate reports configuration errors that would prevent session start.
func (s Settings) Validate() error {
	if s.Bybit.PublicURL == "" || s.Bybit.PrivateURL == "" || s.Bybit.TradeURL == "" {
		return errors.New("config: all three venue websocket URLs are required")
	}
	if len(s.Bybit.Symbols) == 0 {
		return errors.New("config: at least one tracked symbol is required")
	}
	if len(s.Bybit.Topics) == 0 {
		return errors.New("config: at least one public topic prefix is required")
	}
	seen := make(map[string]struct{}, len(s.Bybit.Symbols))
	for _, m := range s.Bybit.Symbols {
		if m.Symbol == "" {
			return errors.New("config: symbol mapping with empty symbol")
		}
		if _, dup := seen[m.Symbol]; dup {
			return fmt.Errorf("config: duplicate symbol mapping %s", m.Symbol)
		}
		seen[m.Symbol] = struct{}{}
	}
	return nil
}
