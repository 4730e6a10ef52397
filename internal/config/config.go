// Package config provides configuration loading and management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yourorg/goldbtc-metrics/internal/types"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Deployment network (mainnet or testnet)
	Network types.Network

	// Subgraph endpoint for vault protocol data
	ProtocolSubgraphURL string

	// Subgraph endpoint for DEX price data
	PriceSubgraphURL string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Deployed contract addresses for the active network
	Contracts types.Contracts

	// Fixed-point precision per quantity, threaded through every
	// normalization call
	Decimals types.Decimals

	// Asset display symbols
	Asset0Symbol string
	Asset1Symbol string

	// Polling and request settings
	PollInterval   time.Duration
	RequestTimeout time.Duration
	SnapshotCount  int

	// Circuit breaker thresholds
	MaxAPY            float64
	MaxTVLChange      float64
	MaxRatioDeviation float64
	CircuitResetDelay time.Duration
}

// Load creates a new Config from environment variables
func Load() Config {
	network := types.Network(strings.ToLower(GetEnvOrDefault("NETWORK", "mainnet")))

	return Config{
		Port:                GetEnvOrDefault("PORT", "8080"),
		Network:             network,
		ProtocolSubgraphURL: GetEnvOrDefault("PROTOCOL_SUBGRAPH_URL", "https://api.studio.thegraph.com/query/ultrasound-protocol/version/latest"),
		PriceSubgraphURL:    GetEnvOrDefault("PRICE_SUBGRAPH_URL", "https://api.thegraph.com/subgraphs/name/uniswap/uniswap-v3"),
		OtelEndpoint:        GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Contracts:           loadContracts(network),
		Decimals: types.Decimals{
			Asset0:       GetEnvAsInt("ASSET0_DECIMALS", 8),  // WBTC
			Asset1:       GetEnvAsInt("ASSET1_DECIMALS", 18), // PAXG
			LPToken:      GetEnvAsInt("LP_TOKEN_DECIMALS", 6),
			Stablecoin:   GetEnvAsInt("STABLECOIN_DECIMALS", 6),
			DepositedUSD: GetEnvAsInt("DEPOSITED_USD_DECIMALS", 18),
		},
		Asset0Symbol:      GetEnvOrDefault("ASSET0_SYMBOL", "WBTC"),
		Asset1Symbol:      GetEnvOrDefault("ASSET1_SYMBOL", "PAXG"),
		PollInterval:      GetEnvAsDuration("POLL_INTERVAL", 30*time.Second),
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		SnapshotCount:     GetEnvAsInt("SNAPSHOT_COUNT", 7),
		MaxAPY:            GetEnvAsFloat("MAX_APY", 1000.0),         // 1000% APY ceiling
		MaxTVLChange:      GetEnvAsFloat("MAX_TVL_CHANGE", 0.5),     // 50% max TVL change
		MaxRatioDeviation: GetEnvAsFloat("MAX_RATIO_DEVIATION", 50), // deviation is bounded by 50 points
		CircuitResetDelay: GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
	}
}

// loadContracts resolves the contract address set for the given network,
// with the mainnet deployment as the default.
func loadContracts(network types.Network) types.Contracts {
	if network == types.NetworkTestnet {
		return types.Contracts{
			Vault:   GetEnvOrDefault("VAULT_ADDRESS", ""),
			LPToken: GetEnvOrDefault("LP_TOKEN_ADDRESS", ""),
			Asset0:  GetEnvOrDefault("ASSET0_ADDRESS", ""),
			Asset1:  GetEnvOrDefault("ASSET1_ADDRESS", ""),
			USDC:    GetEnvOrDefault("USDC_ADDRESS", ""),
		}
	}

	return types.Contracts{
		Vault:   GetEnvOrDefault("VAULT_ADDRESS", "0x7027DeB280C03AedE961f2c620BE72B3F6084FbA"),
		LPToken: GetEnvOrDefault("LP_TOKEN_ADDRESS", ""),
		Asset0:  GetEnvOrDefault("ASSET0_ADDRESS", "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
		Asset1:  GetEnvOrDefault("ASSET1_ADDRESS", "0x45804880De22913dAFE09f4980848ECE6EcbAf78"),
		USDC:    GetEnvOrDefault("USDC_ADDRESS", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	}
}

// Validate checks that the loaded configuration is usable.
func (c Config) Validate() error {
	if c.Network != types.NetworkMainnet && c.Network != types.NetworkTestnet {
		return fmt.Errorf("unknown network: %s", c.Network)
	}

	for name, addr := range map[string]string{
		"vault":  c.Contracts.Vault,
		"asset0": c.Contracts.Asset0,
		"asset1": c.Contracts.Asset1,
	} {
		if addr == "" {
			continue // optional on testnet
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address: %s", name, addr)
		}
	}

	if c.Decimals.Asset0 < 0 || c.Decimals.Asset1 < 0 || c.Decimals.LPToken < 0 {
		return fmt.Errorf("decimals must be non-negative")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	return nil
}

// Asset0Address returns the checksummed Asset0 contract address.
func (c Config) Asset0Address() common.Address {
	return common.HexToAddress(c.Contracts.Asset0)
}

// Asset1Address returns the checksummed Asset1 contract address.
func (c Config) Asset1Address() common.Address {
	return common.HexToAddress(c.Contracts.Asset1)
}

// VaultID returns the vault address in the lowercase form subgraph
// entity IDs use.
func (c Config) VaultID() string {
	return strings.ToLower(c.Contracts.Vault)
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
