package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/goldbtc-metrics/internal/config"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/numeric"
)

// PriceClient retrieves USD prices for both vault assets from a
// Uniswap-style price subgraph.
type PriceClient struct {
	client       *subgraphClient
	asset0       string
	asset1       string
	asset0Symbol string
	asset1Symbol string
}

// NewPriceClient creates a price subgraph client for the configured assets
func NewPriceClient(cfg config.Config) *PriceClient {
	return &PriceClient{
		client:       newSubgraphClient(cfg.PriceSubgraphURL, cfg.RequestTimeout),
		asset0:       strings.ToLower(cfg.Contracts.Asset0),
		asset1:       strings.ToLower(cfg.Contracts.Asset1),
		asset0Symbol: cfg.Asset0Symbol,
		asset1Symbol: cfg.Asset1Symbol,
	}
}

const priceQuery = `
query TokenPrices($asset0: ID!, $asset1: ID!, $dayStart: Int!) {
  bundle(id: "1") {
    ethPriceUSD
  }
  asset0: token(id: $asset0) {
    symbol
    derivedETH
  }
  asset1: token(id: $asset1) {
    symbol
    derivedETH
  }
  asset0Day: tokenDayDatas(first: 1, where: {token: $asset0, date_lte: $dayStart}, orderBy: date, orderDirection: desc) {
    priceUSD
  }
  asset1Day: tokenDayDatas(first: 1, where: {token: $asset1, date_lte: $dayStart}, orderBy: date, orderDirection: desc) {
    priceUSD
  }
}`

type tokenEntity struct {
	Symbol     string `json:"symbol"`
	DerivedETH string `json:"derivedETH"`
}

type tokenDayData struct {
	PriceUSD string `json:"priceUSD"`
}

// Fetch retrieves current and 24h-ago prices for both assets and computes
// the 24h change percentage.
func (c *PriceClient) Fetch(ctx context.Context) (*model.PricePair, error) {
	dayStart := time.Now().Add(-24 * time.Hour).Unix()

	var resp struct {
		Bundle struct {
			EthPriceUSD string `json:"ethPriceUSD"`
		} `json:"bundle"`
		Asset0    *tokenEntity   `json:"asset0"`
		Asset1    *tokenEntity   `json:"asset1"`
		Asset0Day []tokenDayData `json:"asset0Day"`
		Asset1Day []tokenDayData `json:"asset1Day"`
	}

	err := c.client.query(ctx, priceQuery, map[string]interface{}{
		"asset0":   c.asset0,
		"asset1":   c.asset1,
		"dayStart": dayStart,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("error fetching prices: %w", err)
	}

	if resp.Asset0 == nil || resp.Asset1 == nil {
		return nil, fmt.Errorf("price subgraph does not track both assets")
	}

	ethPrice := numeric.ParseFloat(resp.Bundle.EthPriceUSD)

	pair := model.NewPricePair(
		tokenPriceFrom(c.asset0Symbol, resp.Asset0, resp.Asset0Day, ethPrice),
		tokenPriceFrom(c.asset1Symbol, resp.Asset1, resp.Asset1Day, ethPrice),
	)

	logrus.WithFields(logrus.Fields{
		c.asset0Symbol: pair.Asset0.PriceUSD,
		c.asset1Symbol: pair.Asset1.PriceUSD,
	}).Debug("Fetched asset prices")

	return &pair, nil
}

// tokenPriceFrom converts subgraph token entities into a TokenPrice,
// deriving the 24h change from yesterday's day data when present.
func tokenPriceFrom(symbol string, token *tokenEntity, dayData []tokenDayData, ethPrice float64) model.TokenPrice {
	current := numeric.ParseFloat(token.DerivedETH) * ethPrice

	var yesterday, changePct float64
	if len(dayData) > 0 {
		yesterday = numeric.ParseFloat(dayData[0].PriceUSD)
		if yesterday > 0 {
			changePct = (current - yesterday) / yesterday * 100
		}
	}

	return model.TokenPrice{
		Symbol:            symbol,
		PriceUSD:          current,
		PriceYesterdayUSD: yesterday,
		ChangePct24h:      changePct,
	}
}
