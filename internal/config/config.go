package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the Chainplane server.
type Config struct {
	Port      int
	Version   string
	Chain     ChainConfig
	Telemetry TelemetryConfig
}

// ChainConfig carries the default budgets applied to new chains.
type ChainConfig struct {
	MaxDepth       int
	TimeoutMs      int64
	ChainTimeoutMs int64
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CHAINPLANE_PORT", 8080),
		Version: envStr("CHAINPLANE_VERSION", "0.1.0"),
		Chain: ChainConfig{
			MaxDepth:       envInt("CHAINPLANE_MAX_DEPTH", 10),
			TimeoutMs:      envInt64("CHAINPLANE_TOOL_TIMEOUT_MS", 30_000),
			ChainTimeoutMs: envInt64("CHAINPLANE_CHAIN_TIMEOUT_MS", 300_000),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "chainplane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
