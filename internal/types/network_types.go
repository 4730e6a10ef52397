// Package types contains shared type definitions used across multiple packages
package types

// Network represents a deployment environment for the vault contracts
type Network string

// Supported deployment networks
const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Decimals holds the fixed-point precision of every quantity the service
// normalizes. Precision varies per deployment, so these are configuration
// rather than constants; in particular the LP token has been minted at a
// different precision than its declared one on some deployments.
type Decimals struct {
	Asset0     int `json:"asset0"`
	Asset1     int `json:"asset1"`
	LPToken    int `json:"lp_token"`
	Stablecoin int `json:"stablecoin"`
	// DepositedUSD is the precision of cumulative deposited/withdrawn USD
	// figures in the subgraph (BigDecimal, 18 by convention)
	DepositedUSD int `json:"deposited_usd"`
}

// Contracts holds the deployed contract addresses for one network
type Contracts struct {
	Vault   string `json:"vault"`
	LPToken string `json:"lp_token"`
	Asset0  string `json:"asset0"`
	Asset1  string `json:"asset1"`
	USDC    string `json:"usdc"`
}
