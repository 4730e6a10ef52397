package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/yourorg/goldbtc-metrics/internal/circuitbreaker"
	"github.com/yourorg/goldbtc-metrics/internal/config"
	"github.com/yourorg/goldbtc-metrics/internal/export"
	"github.com/yourorg/goldbtc-metrics/internal/fetch"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/poller"
	"github.com/yourorg/goldbtc-metrics/internal/series"
	"github.com/yourorg/goldbtc-metrics/internal/types"
)

// Metrics registration is global; share one instance across tests
var (
	testMetricsOnce sync.Once
	testMetricsReg  *serverMetrics
)

func newTestServer() *Server {
	testMetricsOnce.Do(func() {
		testMetricsReg = registerMetrics()
	})

	cfg := config.Config{
		Port:          "8080",
		Network:       types.NetworkMainnet,
		PollInterval:  30 * time.Second,
		SnapshotCount: 7,
		Asset0Symbol:  "WBTC",
		Asset1Symbol:  "PAXG",
		Decimals: types.Decimals{
			Asset0: 8, Asset1: 18, LPToken: 6, Stablecoin: 6, DepositedUSD: 18,
		},
	}

	return &Server{
		cfg:       cfg,
		store:     poller.NewStore(),
		breaker:   circuitbreaker.New(circuitbreaker.Thresholds{MaxAPY: 1000, MaxTVLChange: 0.5}),
		metrics:   testMetricsReg,
		rateLimit: rate.NewLimiter(rate.Inf, 1),
		exporter:  export.New(export.Config{Enabled: false}),
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
}

func TestHandleProtocol_NoMetricsYet(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/protocol", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleProtocol_ServesDerivedMetrics(t *testing.T) {
	s := newTestServer()
	s.store.SetDerived(&model.DerivedMetrics{
		TVL:             800000,
		ProtocolAPY:     12.5,
		Volume24h:       "12500000000",
		TotalDeposits:   42,
		TotalRebalances: 3,
		Paused:          true,
		CollectedAt:     time.Now().Unix(),
	})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/protocol", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body model.DerivedMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 800000.0, body.TVL)
	assert.Equal(t, 12.5, body.ProtocolAPY)
	// Der Betriebszustand des Vaults gehoert mit zur Antwort
	assert.Equal(t, "12500000000", body.Volume24h)
	assert.Equal(t, 42, body.TotalDeposits)
	assert.Equal(t, 3, body.TotalRebalances)
	assert.True(t, body.Paused)
}

func TestHandleUser_InvalidAddress(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/user/not-an-address", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// seedProtocolState stores a snapshot and price pair so user requests can
// derive against live vault state
func seedProtocolState(s *Server) {
	now := time.Now().Unix()
	s.store.SetSnapshot(&model.ProtocolSnapshot{
		Asset0BalanceRaw: "1000000000",
		Asset1BalanceRaw: "100000000000000000000",
		TotalSupplyRaw:   "200000000",
		CollectedAt:      now,
	})
	s.store.SetPrices(model.PricePair{
		Asset0:      model.TokenPrice{Symbol: "WBTC", PriceUSD: 60000},
		Asset1:      model.TokenPrice{Symbol: "PAXG", PriceUSD: 2000},
		CollectedAt: now,
	})
}

func userSubgraphStub(t *testing.T, userJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"user":%s}}`, userJSON)
	}))
}

func TestHandleUser_ServesTransactionHistory(t *testing.T) {
	stub := userSubgraphStub(t, `{
		"lpBalance": "50000000",
		"totalDeposited": "150000000000000000000000",
		"totalWithdrawn": "0",
		"firstDepositAt": "1690000000",
		"deposits": [{
			"timestamp": "1690000000",
			"stablecoinAmount": "150000000000",
			"sharesIssued": "50000000",
			"transactionHash": "0xdep1",
			"valueUSD": "150000"
		}],
		"withdrawals": []
	}`)
	defer stub.Close()

	s := newTestServer()
	s.users = fetch.NewUserClient(config.Config{
		ProtocolSubgraphURL: stub.URL,
		RequestTimeout:      5 * time.Second,
	})
	seedProtocolState(s)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/user/0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TVL         float64            `json:"tvl"`
		User        *model.UserMetrics `json:"user"`
		Deposits    []model.Deposit    `json:"deposits"`
		Withdrawals []model.Withdrawal `json:"withdrawals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 800000.0, body.TVL)
	require.NotNil(t, body.User)
	assert.InDelta(t, 200000, body.User.CurrentValue, 1e-6)

	// 50 Anteile bei 4000 USD je Anteil, dazu die Transaktionshistorie
	require.Len(t, body.Deposits, 1)
	assert.Equal(t, "0xdep1", body.Deposits[0].TransactionHash)
	assert.Equal(t, "150000", body.Deposits[0].ValueUSD)
	require.NotNil(t, body.Withdrawals)
	assert.Empty(t, body.Withdrawals)
}

func TestHandleUser_NoPositionHasEmptyHistory(t *testing.T) {
	stub := userSubgraphStub(t, `null`)
	defer stub.Close()

	s := newTestServer()
	s.users = fetch.NewUserClient(config.Config{
		ProtocolSubgraphURL: stub.URL,
		RequestTimeout:      5 * time.Second,
	})
	seedProtocolState(s)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/user/0x1111111111111111111111111111111111111111", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		User        *model.UserMetrics `json:"user"`
		Deposits    []model.Deposit    `json:"deposits"`
		Withdrawals []model.Withdrawal `json:"withdrawals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body.User)
	require.NotNil(t, body.Deposits)
	assert.Empty(t, body.Deposits)
	require.NotNil(t, body.Withdrawals)
	assert.Empty(t, body.Withdrawals)
}

func TestHandleSeries(t *testing.T) {
	s := newTestServer()
	s.store.SetDailies([]model.DailySnapshot{
		{Date: "1705363200", TotalValueLocked: "810000"},
		{Date: "1705276800", TotalValueLocked: "800000"},
	})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/series?metric=tvl", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metric string          `json:"metric"`
		Series []series.Series `json:"series"`
		Labels []string        `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tvl", body.Metric)
	require.Len(t, body.Series, 1)
	require.Len(t, body.Series[0].Points, 2)
	// Chronologisch aufsteigend nach Umkehrung
	assert.Equal(t, 800000.0, body.Series[0].Points[0].Y)
	assert.Equal(t, []string{"Jan 15", "Jan 16"}, body.Labels)

	// Labels stammen aus demselben Datenstand wie die Punkte
	require.Len(t, body.Labels, len(body.Series[0].Points))
	for i, p := range body.Series[0].Points {
		assert.Equal(t, body.Labels[i], p.X)
	}
}

func TestHandleSeries_DefaultsToTVL(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/series", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metric string `json:"metric"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, series.MetricTVL, body.Metric)
}

func TestHandleRebalances_Limit(t *testing.T) {
	s := newTestServer()
	s.store.SetRebalances([]model.RebalanceEvent{
		{TransactionHash: "0x1"},
		{TransactionHash: "0x2"},
		{TransactionHash: "0x3"},
	})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/rebalances?first=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count      int                    `json:"count"`
		Rebalances []model.RebalanceEvent `json:"rebalances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "0x2", body.Rebalances[1].TransactionHash)
}

func TestHandleCircuit_Reset(t *testing.T) {
	s := newTestServer()

	// Breaker ausloesen
	err := s.breaker.Check(&model.DerivedMetrics{ProtocolAPY: 5000})
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, s.breaker.GetState())

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("POST", "/circuit?action=reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, s.breaker.GetState())
}

func TestRateLimiting(t *testing.T) {
	s := newTestServer()
	s.rateLimit = rate.NewLimiter(rate.Limit(0), 0) // alles blockieren
	s.store.SetDerived(&model.DerivedMetrics{TVL: 800000})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/protocol", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "operational", body["status"])
	assert.NotNil(t, body["configuration"])
}
