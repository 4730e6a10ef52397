package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/goldbtc-metrics/internal/config"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/numeric"
)

// ProtocolClient retrieves vault state and the daily history series from the
// protocol subgraph.
type ProtocolClient struct {
	client *subgraphClient
	vault  string
}

// NewProtocolClient creates a protocol subgraph client for the configured vault
func NewProtocolClient(cfg config.Config) *ProtocolClient {
	return &ProtocolClient{
		client: newSubgraphClient(cfg.ProtocolSubgraphURL, cfg.RequestTimeout),
		vault:  cfg.VaultID(),
	}
}

const snapshotQuery = `
query VaultState($vault: ID!) {
  vault(id: $vault) {
    asset0Balance
    asset1Balance
    totalSupply
    currentStrategyValue
    previousStrategyValue
    deployedAt
    volume24h
    totalDeposits
    totalWithdrawals
    totalRebalances
    paused
    targetRatio
    rebalanceThreshold
  }
}`

// FetchSnapshot retrieves the vault's current state.
func (c *ProtocolClient) FetchSnapshot(ctx context.Context) (*model.ProtocolSnapshot, error) {
	var resp struct {
		Vault *struct {
			Asset0Balance         string `json:"asset0Balance"`
			Asset1Balance         string `json:"asset1Balance"`
			TotalSupply           string `json:"totalSupply"`
			CurrentStrategyValue  string `json:"currentStrategyValue"`
			PreviousStrategyValue string `json:"previousStrategyValue"`
			DeployedAt            string `json:"deployedAt"`
			Volume24h             string `json:"volume24h"`
			TotalDeposits         string `json:"totalDeposits"`
			TotalWithdrawals      string `json:"totalWithdrawals"`
			TotalRebalances       string `json:"totalRebalances"`
			Paused                bool   `json:"paused"`
			TargetRatio           string `json:"targetRatio"`
			RebalanceThreshold    string `json:"rebalanceThreshold"`
		} `json:"vault"`
	}

	err := c.client.query(ctx, snapshotQuery, map[string]interface{}{"vault": c.vault}, &resp)
	if err != nil {
		return nil, fmt.Errorf("error fetching vault state: %w", err)
	}
	if resp.Vault == nil {
		return nil, fmt.Errorf("vault %s not indexed", c.vault)
	}

	v := resp.Vault
	now := time.Now()

	snapshot := &model.ProtocolSnapshot{
		Asset0BalanceRaw:         v.Asset0Balance,
		Asset1BalanceRaw:         v.Asset1Balance,
		TotalSupplyRaw:           v.TotalSupply,
		CurrentStrategyValueRaw:  v.CurrentStrategyValue,
		PreviousStrategyValueRaw: v.PreviousStrategyValue,
		DaysLive:                 daysSince(numeric.ParseInt(v.DeployedAt), now),
		Volume24hRaw:             v.Volume24h,
		TotalDeposits:            int(numeric.ParseInt(v.TotalDeposits)),
		TotalWithdrawals:         int(numeric.ParseInt(v.TotalWithdrawals)),
		TotalRebalances:          int(numeric.ParseInt(v.TotalRebalances)),
		Paused:                   v.Paused,
		TargetRatio:              int(numeric.ParseInt(v.TargetRatio)),
		RebalanceThreshold:       int(numeric.ParseInt(v.RebalanceThreshold)),
		CollectedAt:              now.Unix(),
	}

	logrus.WithFields(logrus.Fields{
		"supply":    snapshot.TotalSupplyRaw,
		"days_live": snapshot.DaysLive,
		"paused":    snapshot.Paused,
	}).Debug("Fetched vault snapshot")

	return snapshot, nil
}

const dailySnapshotsQuery = `
query DailySnapshots($first: Int!) {
  dailySnapshots(first: $first, orderBy: date, orderDirection: desc) {
    date
    totalValueLocked
    depositVolume
    withdrawalVolume
    strategyValue
    asset0Balance
    asset1Balance
    asset0Price
    asset1Price
    currentRatio0
    currentRatio1
  }
}`

// FetchDailySnapshots retrieves the most recent daily snapshots in
// descending date order, as delivered by the indexer.
func (c *ProtocolClient) FetchDailySnapshots(ctx context.Context, count int) ([]model.DailySnapshot, error) {
	var resp struct {
		DailySnapshots []model.DailySnapshot `json:"dailySnapshots"`
	}

	err := c.client.query(ctx, dailySnapshotsQuery, map[string]interface{}{"first": count}, &resp)
	if err != nil {
		return nil, fmt.Errorf("error fetching daily snapshots: %w", err)
	}

	logrus.Debugf("Received %d daily snapshots", len(resp.DailySnapshots))
	return resp.DailySnapshots, nil
}

const rebalancesQuery = `
query Rebalances($first: Int!) {
  rebalances(first: $first, orderBy: timestamp, orderDirection: desc) {
    timestamp
    blockNumber
    transactionHash
    amountSwapped
    amountReceived
    newRatio
    beforeAsset0Balance
    beforeAsset1Balance
    afterAsset0Balance
    afterAsset1Balance
    protocolFee
    keeperReward
    keeper
  }
}`

// FetchRebalances retrieves the most recent rebalance events, newest first.
func (c *ProtocolClient) FetchRebalances(ctx context.Context, count int) ([]model.RebalanceEvent, error) {
	var resp struct {
		Rebalances []model.RebalanceEvent `json:"rebalances"`
	}

	err := c.client.query(ctx, rebalancesQuery, map[string]interface{}{"first": count}, &resp)
	if err != nil {
		return nil, fmt.Errorf("error fetching rebalances: %w", err)
	}

	return resp.Rebalances, nil
}

// daysSince converts a deployment timestamp into whole days live.
func daysSince(deployedAt int64, now time.Time) int {
	if deployedAt <= 0 {
		return 0
	}
	days := int(now.Sub(time.Unix(deployedAt, 0)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
