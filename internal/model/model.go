// Package model defines the core data structures for the goldbtc-metrics service.
package model

import (
	"time"
)

// TokenPrice holds the current USD price of a vault asset together with its
// 24h movement, as reported by the DEX price feed.
type TokenPrice struct {
	// Symbol is the token ticker, e.g. "WBTC"
	Symbol string `json:"symbol"`

	// PriceUSD is the current spot price in USD
	PriceUSD float64 `json:"price_usd"`

	// PriceYesterdayUSD is the USD price roughly 24 hours ago
	PriceYesterdayUSD float64 `json:"price_yesterday_usd"`

	// ChangePct24h is the 24h price change as a percentage
	ChangePct24h float64 `json:"change_pct_24h"`
}

// PricePair bundles the price data for both vault assets.
type PricePair struct {
	Asset0 TokenPrice `json:"asset0"`
	Asset1 TokenPrice `json:"asset1"`

	// CollectedAt is the Unix timestamp when the prices were fetched
	CollectedAt int64 `json:"collected_at"`
}

// ProtocolSnapshot is the vault's current on-chain state as reported by the
// indexer. Raw balance and supply fields are fixed-point decimal strings in
// each quantity's native precision; normalization happens downstream with the
// per-deployment decimal configuration.
type ProtocolSnapshot struct {
	// Asset0BalanceRaw is the vault's Asset0 balance in native decimals
	Asset0BalanceRaw string `json:"asset0_balance"`

	// Asset1BalanceRaw is the vault's Asset1 balance in native decimals
	Asset1BalanceRaw string `json:"asset1_balance"`

	// TotalSupplyRaw is the outstanding LP-share supply in LP decimals
	TotalSupplyRaw string `json:"total_supply"`

	// CurrentStrategyValueRaw and PreviousStrategyValueRaw are the
	// protocol-reported valuation figures used for protocol-level yield.
	// Known to diverge from balances x prices; never a per-share USD basis.
	CurrentStrategyValueRaw  string `json:"current_strategy_value"`
	PreviousStrategyValueRaw string `json:"previous_strategy_value"`

	// DaysLive counts days since vault deployment
	DaysLive int `json:"days_live"`

	// Volume24hRaw is the 24h deposit+withdrawal volume
	Volume24hRaw string `json:"volume_24h"`

	// Cumulative operation counters
	TotalDeposits    int `json:"total_deposits"`
	TotalWithdrawals int `json:"total_withdrawals"`
	TotalRebalances  int `json:"total_rebalances"`

	// Paused reports whether the vault is accepting deposits
	Paused bool `json:"paused"`

	// TargetRatio and RebalanceThreshold are protocol parameters (percent)
	TargetRatio        int `json:"target_ratio"`
	RebalanceThreshold int `json:"rebalance_threshold"`

	// CollectedAt is the Unix timestamp when this snapshot was fetched
	CollectedAt int64 `json:"collected_at"`
}

// DailySnapshot is one point in the indexer's append-only daily series,
// used only for charting. The indexer delivers these in descending date
// order; the series package reverses them before any pairwise computation.
type DailySnapshot struct {
	// Date is a string-encoded Unix timestamp, per the subgraph schema
	Date string `json:"date"`

	TotalValueLocked string `json:"totalValueLocked"`
	DepositVolume    string `json:"depositVolume"`
	WithdrawalVolume string `json:"withdrawalVolume"`
	StrategyValue    string `json:"strategyValue"`
	Asset0Balance    string `json:"asset0Balance"`
	Asset1Balance    string `json:"asset1Balance"`
	Asset0Price      string `json:"asset0Price"`
	Asset1Price      string `json:"asset1Price"`
	CurrentRatio0    string `json:"currentRatio0"`
	CurrentRatio1    string `json:"currentRatio1"`
}

// Deposit is a single user deposit event.
type Deposit struct {
	Timestamp        string `json:"timestamp"`
	StablecoinAmount string `json:"stablecoinAmount"`
	SharesIssued     string `json:"sharesIssued"`
	TransactionHash  string `json:"transactionHash"`
	ValueUSD         string `json:"valueUSD"`
}

// Withdrawal is a single user withdrawal event.
type Withdrawal struct {
	Timestamp       string `json:"timestamp"`
	Shares          string `json:"shares"`
	Asset0Amount    string `json:"asset0Amount"`
	Asset1Amount    string `json:"asset1Amount"`
	TransactionHash string `json:"transactionHash"`
	ValueUSD        string `json:"valueUSD"`
}

// UserPosition is one user's cumulative vault state. The engine trusts the
// indexer to keep the cumulative fields consistent with the event lists.
type UserPosition struct {
	// Address is the user's wallet address (lowercased hex)
	Address string `json:"address"`

	// LpBalanceRaw is the user's LP-share balance in LP decimals
	LpBalanceRaw string `json:"lp_balance"`

	// TotalDepositedRaw is cumulative deposited USD, 18-decimal fixed point
	TotalDepositedRaw string `json:"total_deposited"`

	// TotalWithdrawnRaw is cumulative withdrawn USD, 18-decimal fixed point
	TotalWithdrawnRaw string `json:"total_withdrawn"`

	// FirstDepositAt is the Unix timestamp of the user's first deposit
	FirstDepositAt int64 `json:"first_deposit_at"`

	Deposits    []Deposit    `json:"deposits"`
	Withdrawals []Withdrawal `json:"withdrawals"`
}

// RebalanceEvent records an on-chain rebalance, kept for display only.
type RebalanceEvent struct {
	Timestamp           string `json:"timestamp"`
	BlockNumber         string `json:"blockNumber"`
	TransactionHash     string `json:"transactionHash"`
	AmountSwapped       string `json:"amountSwapped"`
	AmountReceived      string `json:"amountReceived"`
	NewRatio            string `json:"newRatio"`
	BeforeAsset0Balance string `json:"beforeAsset0Balance"`
	BeforeAsset1Balance string `json:"beforeAsset1Balance"`
	AfterAsset0Balance  string `json:"afterAsset0Balance"`
	AfterAsset1Balance  string `json:"afterAsset1Balance"`
	ProtocolFee         string `json:"protocolFee"`
	KeeperReward        string `json:"keeperReward"`
	Keeper              string `json:"keeper"`
}

// UserMetrics is the user-specific slice of the derived output. A nil
// UserMetrics means "no position", which callers must not conflate with a
// position worth zero.
type UserMetrics struct {
	// CurrentValue is the USD value of the user's LP shares at live prices
	CurrentValue float64 `json:"current_value"`

	// TotalDeposited is cumulative deposited USD (normalized)
	TotalDeposited float64 `json:"total_deposited"`

	// Profit is CurrentValue minus TotalDeposited, in USD
	Profit float64 `json:"profit"`

	// ProfitPct is Profit relative to TotalDeposited, as a percentage
	ProfitPct float64 `json:"profit_pct"`

	// IsProfit reports whether the position is at or above break-even
	IsProfit bool `json:"is_profit"`

	// SharePct is the user's share of the LP supply, as a percentage
	SharePct float64 `json:"share_pct"`

	// Asset0Holdings and Asset1Holdings are the user's proportional asset
	// amounts in human units
	Asset0Holdings float64 `json:"asset0_holdings"`
	Asset1Holdings float64 `json:"asset1_holdings"`

	// APY is the user's annualized yield anchored to their dollar-cost
	// average entry. Nil when the holding window is under one day, where
	// annualization is numerically unstable.
	APY *float64 `json:"apy,omitempty"`

	// DaysSinceFirstDeposit is the holding window in days
	DaysSinceFirstDeposit float64 `json:"days_since_first_deposit"`
}

// DerivedMetrics is the engine's output: everything the dashboard shows,
// recomputed from scratch on every input refresh and never persisted.
type DerivedMetrics struct {
	// TVL is the vault's total value locked in USD, from balances x prices
	TVL float64 `json:"tvl"`

	// ProtocolAPY is the compounding-annualized protocol yield, percent
	ProtocolAPY float64 `json:"protocol_apy"`

	// RatioDeviation is the departure from the 50/50 USD-value target,
	// in absolute percentage points
	RatioDeviation float64 `json:"ratio_deviation"`

	// PriceDeviation is the intraday variant: the larger of the two assets'
	// absolute 24h price moves, percent
	PriceDeviation float64 `json:"price_deviation"`

	// Proportion0 and Proportion1 are each asset's share of TVL, percent
	Proportion0 float64 `json:"proportion0"`
	Proportion1 float64 `json:"proportion1"`

	// Normalized asset balances in human units
	Asset0Balance float64 `json:"asset0_balance"`
	Asset1Balance float64 `json:"asset1_balance"`

	// Live prices and 24h changes for both assets
	Price0     float64 `json:"price0"`
	Price1     float64 `json:"price1"`
	Change0Pct float64 `json:"change0_pct"`
	Change1Pct float64 `json:"change1_pct"`

	// ValuePerShare is the TVL-based USD value of one LP share
	ValuePerShare float64 `json:"value_per_share"`

	// Vault operational state passed through from the snapshot. Volume24h
	// stays a raw indexer string, the dashboard formats it client-side.
	Volume24h        string `json:"volume_24h"`
	TotalDeposits    int    `json:"total_deposits"`
	TotalWithdrawals int    `json:"total_withdrawals"`
	TotalRebalances  int    `json:"total_rebalances"`
	Paused           bool   `json:"paused"`

	// User carries the user-specific metrics, nil when no wallet is
	// connected or the address has no position
	User *UserMetrics `json:"user,omitempty"`

	// CollectedAt is the Unix timestamp of the newest input
	CollectedAt int64 `json:"collected_at"`
}

// NewPricePair creates a price pair stamped with the current time.
func NewPricePair(asset0, asset1 TokenPrice) PricePair {
	return PricePair{
		Asset0:      asset0,
		Asset1:      asset1,
		CollectedAt: time.Now().Unix(),
	}
}

// IsFresh reports whether the price pair is recent enough to derive from.
func (p PricePair) IsFresh(maxAge time.Duration) bool {
	return time.Since(time.Unix(p.CollectedAt, 0)) < maxAge
}
