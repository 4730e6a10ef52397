package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/goldbtc-metrics/internal/config"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/numeric"
)

// UserClient retrieves per-wallet positions from the protocol subgraph.
type UserClient struct {
	client *subgraphClient
}

// NewUserClient creates a user position client against the protocol subgraph
func NewUserClient(cfg config.Config) *UserClient {
	return &UserClient{
		client: newSubgraphClient(cfg.ProtocolSubgraphURL, cfg.RequestTimeout),
	}
}

const userQuery = `
query UserPosition($id: ID!) {
  user(id: $id) {
    lpBalance
    totalDeposited
    totalWithdrawn
    firstDepositAt
    deposits(orderBy: timestamp, orderDirection: desc) {
      timestamp
      stablecoinAmount
      sharesIssued
      transactionHash
      valueUSD
    }
    withdrawals(orderBy: timestamp, orderDirection: desc) {
      timestamp
      shares
      asset0Amount
      asset1Amount
      transactionHash
      valueUSD
    }
  }
}`

// FetchPosition retrieves the position for a wallet address. A nil result
// with a nil error means the address has never interacted with the vault,
// which callers must treat as "no position" rather than an empty one.
func (c *UserClient) FetchPosition(ctx context.Context, address string) (*model.UserPosition, error) {
	id := strings.ToLower(address)

	var resp struct {
		User *struct {
			LpBalance      string             `json:"lpBalance"`
			TotalDeposited string             `json:"totalDeposited"`
			TotalWithdrawn string             `json:"totalWithdrawn"`
			FirstDepositAt string             `json:"firstDepositAt"`
			Deposits       []model.Deposit    `json:"deposits"`
			Withdrawals    []model.Withdrawal `json:"withdrawals"`
		} `json:"user"`
	}

	err := c.client.query(ctx, userQuery, map[string]interface{}{"id": id}, &resp)
	if err != nil {
		return nil, fmt.Errorf("error fetching position for %s: %w", numeric.ShortAddress(address), err)
	}

	if resp.User == nil {
		logrus.Debugf("No position for %s", numeric.ShortAddress(address))
		return nil, nil
	}

	u := resp.User
	return &model.UserPosition{
		Address:           id,
		LpBalanceRaw:      u.LpBalance,
		TotalDepositedRaw: u.TotalDeposited,
		TotalWithdrawnRaw: u.TotalWithdrawn,
		FirstDepositAt:    numeric.ParseInt(u.FirstDepositAt),
		Deposits:          u.Deposits,
		Withdrawals:       u.Withdrawals,
	}, nil
}
