package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/goldbtc-metrics/internal/config"
	"github.com/yourorg/goldbtc-metrics/internal/types"
)

// subgraphStub returns a test server that answers every query with the
// given data object.
func subgraphStub(t *testing.T, data string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Query)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":` + data + `}`))
	}))
}

func testConfig(protocolURL, priceURL string) config.Config {
	return config.Config{
		ProtocolSubgraphURL: protocolURL,
		PriceSubgraphURL:    priceURL,
		RequestTimeout:      5 * time.Second,
		Asset0Symbol:        "WBTC",
		Asset1Symbol:        "PAXG",
		Contracts: types.Contracts{
			Vault:  "0xAbCd000000000000000000000000000000000001",
			Asset0: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
			Asset1: "0x45804880De22913dAFE09f4980848ECE6EcbAf78",
		},
	}
}

func TestProtocolClient_FetchSnapshot(t *testing.T) {
	deployedAt := time.Now().Add(-30 * 24 * time.Hour).Unix()
	srv := subgraphStub(t, `{
		"vault": {
			"asset0Balance": "1000000000",
			"asset1Balance": "100000000000000000000",
			"totalSupply": "200000000",
			"currentStrategyValue": "800000000000",
			"previousStrategyValue": "780000000000",
			"deployedAt": "`+strconv.FormatInt(deployedAt, 10)+`",
			"volume24h": "5000000000",
			"totalDeposits": "42",
			"totalWithdrawals": "7",
			"totalRebalances": "3",
			"paused": false,
			"targetRatio": "50",
			"rebalanceThreshold": "5"
		}
	}`)
	defer srv.Close()

	client := NewProtocolClient(testConfig(srv.URL, ""))
	snap, err := client.FetchSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1000000000", snap.Asset0BalanceRaw)
	assert.Equal(t, "200000000", snap.TotalSupplyRaw)
	assert.Equal(t, 30, snap.DaysLive)
	assert.Equal(t, 42, snap.TotalDeposits)
	assert.Equal(t, 50, snap.TargetRatio)
	assert.False(t, snap.Paused)
	assert.NotZero(t, snap.CollectedAt)
}

func TestProtocolClient_VaultNotIndexed(t *testing.T) {
	srv := subgraphStub(t, `{"vault": null}`)
	defer srv.Close()

	client := NewProtocolClient(testConfig(srv.URL, ""))
	_, err := client.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not indexed")
}

func TestProtocolClient_FetchDailySnapshots(t *testing.T) {
	srv := subgraphStub(t, `{
		"dailySnapshots": [
			{"date": "1705363200", "totalValueLocked": "810000"},
			{"date": "1705276800", "totalValueLocked": "800000"}
		]
	}`)
	defer srv.Close()

	client := NewProtocolClient(testConfig(srv.URL, ""))
	snaps, err := client.FetchDailySnapshots(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "1705363200", snaps[0].Date)
	assert.Equal(t, "800000", snaps[1].TotalValueLocked)
}

func TestPriceClient_Fetch(t *testing.T) {
	srv := subgraphStub(t, `{
		"bundle": {"ethPriceUSD": "3000"},
		"asset0": {"symbol": "WBTC", "derivedETH": "20"},
		"asset1": {"symbol": "PAXG", "derivedETH": "0.8"},
		"asset0Day": [{"priceUSD": "58000"}],
		"asset1Day": [{"priceUSD": "2500"}]
	}`)
	defer srv.Close()

	client := NewPriceClient(testConfig("", srv.URL))
	pair, err := client.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "WBTC", pair.Asset0.Symbol)
	assert.InDelta(t, 60000.0, pair.Asset0.PriceUSD, 0.001)
	assert.InDelta(t, 2400.0, pair.Asset1.PriceUSD, 0.001)
	// (60000-58000)/58000 und (2400-2500)/2500
	assert.InDelta(t, 3.4483, pair.Asset0.ChangePct24h, 0.001)
	assert.InDelta(t, -4.0, pair.Asset1.ChangePct24h, 0.001)
	assert.NotZero(t, pair.CollectedAt)
}

func TestPriceClient_MissingToken(t *testing.T) {
	srv := subgraphStub(t, `{
		"bundle": {"ethPriceUSD": "3000"},
		"asset0": {"symbol": "WBTC", "derivedETH": "20"},
		"asset1": null,
		"asset0Day": [],
		"asset1Day": []
	}`)
	defer srv.Close()

	client := NewPriceClient(testConfig("", srv.URL))
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
}

func TestUserClient_FetchPosition(t *testing.T) {
	srv := subgraphStub(t, `{
		"user": {
			"lpBalance": "50000000",
			"totalDeposited": "150000000000000000000000",
			"totalWithdrawn": "0",
			"firstDepositAt": "1705000000",
			"deposits": [
				{"timestamp": "1705000000", "stablecoinAmount": "150000000000", "sharesIssued": "50000000", "transactionHash": "0xabc", "valueUSD": "150000"}
			],
			"withdrawals": []
		}
	}`)
	defer srv.Close()

	client := NewUserClient(testConfig(srv.URL, ""))
	pos, err := client.FetchPosition(context.Background(), "0x1234567890AbCdEf1234567890aBcDeF12345678")
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, "0x1234567890abcdef1234567890abcdef12345678", pos.Address)
	assert.Equal(t, "50000000", pos.LpBalanceRaw)
	assert.Equal(t, int64(1705000000), pos.FirstDepositAt)
	require.Len(t, pos.Deposits, 1)
	assert.Equal(t, "0xabc", pos.Deposits[0].TransactionHash)
}

func TestUserClient_NoPosition(t *testing.T) {
	srv := subgraphStub(t, `{"user": null}`)
	defer srv.Close()

	client := NewUserClient(testConfig(srv.URL, ""))
	pos, err := client.FetchPosition(context.Background(), "0x1234567890abcdef1234567890abcdef12345678")
	require.NoError(t, err)
	assert.Nil(t, pos, "unknown address must yield nil position, not an empty one")
}

func TestSubgraphClient_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"indexing in progress"}]}`))
	}))
	defer srv.Close()

	client := newSubgraphClient(srv.URL, 5*time.Second)
	var out struct{}
	err := client.query(context.Background(), "{ vault { id } }", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing in progress")
}

func TestSubgraphClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newSubgraphClient(srv.URL, 5*time.Second)
	var out struct{}
	err := client.query(context.Background(), "{ vault { id } }", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

