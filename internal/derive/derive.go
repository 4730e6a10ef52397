package derive

import (
	"math"
	"time"

	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/numeric"
	"github.com/yourorg/goldbtc-metrics/internal/types"
)

// TVL berechnet den Total Value Locked aus den Asset-Beständen und den
// aktuellen USD-Preisen. Fehlende Bestände werden als 0 behandelt.
func TVL(asset0Balance, asset1Balance, price0, price1 float64) float64 {
	if asset0Balance < 0 || math.IsNaN(asset0Balance) {
		asset0Balance = 0
	}
	if asset1Balance < 0 || math.IsNaN(asset1Balance) {
		asset1Balance = 0
	}
	return asset0Balance*price0 + asset1Balance*price1
}

// ProtocolAPY berechnet die annualisierte Rendite aus dem Strategy-Value-
// Verhältnis über das beobachtete Zeitfenster (Zinseszins-Annualisierung).
// Ein frisch deployter Vault ohne Historie liefert 0, keinen Fehler.
func ProtocolAPY(currentStrategyValue, previousStrategyValue float64, daysLive float64) float64 {
	if previousStrategyValue <= 0 || daysLive <= 0 {
		return 0
	}

	ratio := currentStrategyValue / previousStrategyValue
	exponent := 365.0 / daysLive
	apy := (math.Pow(ratio, exponent) - 1) * 100

	if math.IsNaN(apy) || math.IsInf(apy, 0) {
		return 0
	}
	return apy
}

// RatioDeviation misst die absolute Abweichung der Asset-Allokation vom
// 50/50-USD-Ziel in Prozentpunkten. Symmetrisch unter Asset-Tausch.
func RatioDeviation(asset0ValueUSD, asset1ValueUSD float64) float64 {
	total := asset0ValueUSD + asset1ValueUSD
	if total <= 0 {
		return 0
	}
	return math.Abs(asset0ValueUSD/total-0.5) * 100
}

// IntradayPriceDeviation ist die Intraday-Variante der Preisabweichung:
// der größere der beiden absoluten 24h-Preisbewegungen. Nicht austauschbar
// mit SnapshotPriceDeviation, beide Metriken sind bewusst getrennt benannt.
func IntradayPriceDeviation(priceChangePct0, priceChangePct1 float64) float64 {
	return math.Max(math.Abs(priceChangePct0), math.Abs(priceChangePct1))
}

// SnapshotPriceDeviation ist die Tages-Variante der Preisabweichung: die
// Spreizung der Period-over-Period-Preisänderungen zweier aufeinander
// folgender Snapshots, in Prozentpunkten.
func SnapshotPriceDeviation(prevPrice0, prevPrice1, curPrice0, curPrice1 float64) float64 {
	if prevPrice0 <= 0 || prevPrice1 <= 0 {
		return 0
	}

	change0 := (curPrice0 - prevPrice0) / prevPrice0 * 100
	change1 := (curPrice1 - prevPrice1) / prevPrice1 * 100
	return math.Abs(change0 - change1)
}

// Proportion berechnet den Anteil beider Assets am TVL in Prozent.
// Bei TVL 0 werden beide Anteile auf 50% gesetzt.
func Proportion(asset0ValueUSD, asset1ValueUSD float64) (float64, float64) {
	total := asset0ValueUSD + asset1ValueUSD
	if total <= 0 {
		return 50, 50
	}
	return asset0ValueUSD / total * 100, asset1ValueUSD / total * 100
}

// ValuePerShare ist die maßgebliche USD-Bewertung eines LP-Anteils,
// abgeleitet aus dem unabhängig berechneten TVL. Der vom Protokoll
// gemeldete Strategy Value ist hierfür kein gültiger Ersatz.
func ValuePerShare(vaultTVL, totalLpSupply float64) float64 {
	if totalLpSupply <= 0 {
		return 0
	}
	return vaultTVL / totalLpSupply
}

// Holdings describes a user's proportional slice of the vault pool.
type Holdings struct {
	SharePct       float64
	Asset0Holdings float64
	Asset1Holdings float64
}

// UserHoldings berechnet die anteiligen Asset-Bestände eines Nutzers.
// Ein Vault ohne ausgegebene Anteile hat keine sinnvolle Nutzerquote,
// daher nil statt Nullwerten.
func UserHoldings(userLpBalance, totalLpSupply, asset0Balance, asset1Balance float64) *Holdings {
	if totalLpSupply <= 0 {
		return nil
	}

	return &Holdings{
		SharePct:       userLpBalance / totalLpSupply * 100,
		Asset0Holdings: asset0Balance * userLpBalance / totalLpSupply,
		Asset1Holdings: asset1Balance * userLpBalance / totalLpSupply,
	}
}

// GainLoss describes the absolute and relative performance of a position.
type GainLoss struct {
	CurrentValue   float64
	TotalDeposited float64
	Profit         float64
	ProfitPct      float64
	IsProfit       bool
}

// UserGainLoss berechnet Gewinn/Verlust eines Nutzers auf TVL-Basis.
// Ohne Position (LP-Balance oder Supply 0) ist das Ergebnis undefiniert
// (nil), nicht null Gewinn.
func UserGainLoss(userLpBalance, totalLpSupply, vaultTVL, totalDepositedUSD float64) *GainLoss {
	if userLpBalance == 0 || totalLpSupply == 0 {
		return nil
	}

	currentValue := userLpBalance * ValuePerShare(vaultTVL, totalLpSupply)
	profit := currentValue - totalDepositedUSD

	profitPct := 0.0
	if totalDepositedUSD > 0 {
		profitPct = profit / totalDepositedUSD * 100
	}

	return &GainLoss{
		CurrentValue:   currentValue,
		TotalDeposited: totalDepositedUSD,
		Profit:         profit,
		ProfitPct:      profitPct,
		IsProfit:       profit >= 0,
	}
}

// GainLossFromStrategyValue ist die abgelöste Strategy-Value-Variante der
// Gewinnrechnung (Nutzeranteile x gemeldeter Strategy Value). Sie bleibt als
// eigenständig benannte Funktion erhalten, weil ältere Deployments sie
// anzeigen; für neue Aufrufer gilt UserGainLoss.
func GainLossFromStrategyValue(totalUnits, totalDepositedUSD, currentStrategyValue float64) *GainLoss {
	if totalUnits == 0 {
		return nil
	}

	currentValue := totalUnits * currentStrategyValue
	profit := currentValue - totalDepositedUSD

	profitPct := 0.0
	if totalDepositedUSD > 0 {
		profitPct = profit / totalDepositedUSD * 100
	}

	return &GainLoss{
		CurrentValue:   currentValue,
		TotalDeposited: totalDepositedUSD,
		Profit:         profit,
		ProfitPct:      profitPct,
		IsProfit:       profit >= 0,
	}
}

// UserYield describes a user's annualized performance.
type UserYield struct {
	APY                   float64
	CurrentValue          float64
	TotalDeposited        float64
	DaysSinceFirstDeposit float64
}

// UserAPY berechnet die annualisierte Nutzerrendite, verankert am
// Dollar-Cost-Average-Einstiegspreis pro LP-Anteil. Haltedauern unter
// einem Tag sind numerisch instabil und liefern nil.
func UserAPY(userLpBalance, totalLpSupply, vaultTVL, totalDepositedUSD float64, firstDepositAt, now int64) *UserYield {
	if userLpBalance == 0 || totalLpSupply == 0 || totalDepositedUSD == 0 {
		return nil
	}

	valuePerShare := ValuePerShare(vaultTVL, totalLpSupply)
	weightedAvgEntry := totalDepositedUSD / userLpBalance
	daysSinceFirstDeposit := float64(now-firstDepositAt) / 86400

	if daysSinceFirstDeposit < 1 || weightedAvgEntry == 0 {
		return nil
	}

	ratio := valuePerShare / weightedAvgEntry
	exponent := 365.0 / daysSinceFirstDeposit
	apy := (math.Pow(ratio, exponent) - 1) * 100

	if math.IsNaN(apy) || math.IsInf(apy, 0) {
		return nil
	}

	return &UserYield{
		APY:                   apy,
		CurrentValue:          userLpBalance * valuePerShare,
		TotalDeposited:        totalDepositedUSD,
		DaysSinceFirstDeposit: daysSinceFirstDeposit,
	}
}

// Derive kombiniert Protokoll-Snapshot, Preispaar und optional eine
// Nutzerposition zu den abgeleiteten Dashboard-Metriken. Rein und
// seiteneffektfrei; identische Eingaben liefern identische Ausgaben.
func Derive(snap *model.ProtocolSnapshot, prices *model.PricePair, user *model.UserPosition, dec types.Decimals, now time.Time) *model.DerivedMetrics {
	if snap == nil || prices == nil {
		return nil
	}

	asset0Balance := numeric.Normalize(snap.Asset0BalanceRaw, dec.Asset0)
	asset1Balance := numeric.Normalize(snap.Asset1BalanceRaw, dec.Asset1)
	totalSupply := numeric.Normalize(snap.TotalSupplyRaw, dec.LPToken)

	asset0ValueUSD := asset0Balance * prices.Asset0.PriceUSD
	asset1ValueUSD := asset1Balance * prices.Asset1.PriceUSD

	tvl := TVL(asset0Balance, asset1Balance, prices.Asset0.PriceUSD, prices.Asset1.PriceUSD)
	prop0, prop1 := Proportion(asset0ValueUSD, asset1ValueUSD)

	// Das Strategy-Value-Verhältnis ist skalenfrei, daher keine
	// Normalisierung nötig.
	apy := ProtocolAPY(
		numeric.ParseFloat(snap.CurrentStrategyValueRaw),
		numeric.ParseFloat(snap.PreviousStrategyValueRaw),
		float64(snap.DaysLive),
	)

	collectedAt := snap.CollectedAt
	if prices.CollectedAt > collectedAt {
		collectedAt = prices.CollectedAt
	}

	out := &model.DerivedMetrics{
		TVL:            tvl,
		ProtocolAPY:    apy,
		RatioDeviation: RatioDeviation(asset0ValueUSD, asset1ValueUSD),
		PriceDeviation: IntradayPriceDeviation(prices.Asset0.ChangePct24h, prices.Asset1.ChangePct24h),
		Proportion0:    prop0,
		Proportion1:    prop1,
		Asset0Balance:  asset0Balance,
		Asset1Balance:  asset1Balance,
		Price0:         prices.Asset0.PriceUSD,
		Price1:         prices.Asset1.PriceUSD,
		Change0Pct:     prices.Asset0.ChangePct24h,
		Change1Pct:     prices.Asset1.ChangePct24h,
		ValuePerShare:  ValuePerShare(tvl, totalSupply),

		Volume24h:        snap.Volume24hRaw,
		TotalDeposits:    snap.TotalDeposits,
		TotalWithdrawals: snap.TotalWithdrawals,
		TotalRebalances:  snap.TotalRebalances,
		Paused:           snap.Paused,

		CollectedAt: collectedAt,
	}

	if user != nil {
		out.User = deriveUser(user, tvl, totalSupply, asset0Balance, asset1Balance, dec, now)
	}

	return out
}

// deriveUser baut die nutzerspezifischen Metriken. Ergebnis nil, solange
// der Nutzer keine Position hält.
func deriveUser(user *model.UserPosition, tvl, totalSupply, asset0Balance, asset1Balance float64, dec types.Decimals, now time.Time) *model.UserMetrics {
	lpBalance := numeric.Normalize(user.LpBalanceRaw, dec.LPToken)
	totalDeposited := numeric.Normalize(user.TotalDepositedRaw, dec.DepositedUSD)

	gainLoss := UserGainLoss(lpBalance, totalSupply, tvl, totalDeposited)
	holdings := UserHoldings(lpBalance, totalSupply, asset0Balance, asset1Balance)
	if gainLoss == nil || holdings == nil {
		return nil
	}

	um := &model.UserMetrics{
		CurrentValue:   gainLoss.CurrentValue,
		TotalDeposited: gainLoss.TotalDeposited,
		Profit:         gainLoss.Profit,
		ProfitPct:      gainLoss.ProfitPct,
		IsProfit:       gainLoss.IsProfit,
		SharePct:       holdings.SharePct,
		Asset0Holdings: holdings.Asset0Holdings,
		Asset1Holdings: holdings.Asset1Holdings,
	}

	if y := UserAPY(lpBalance, totalSupply, tvl, totalDeposited, user.FirstDepositAt, now.Unix()); y != nil {
		apy := y.APY
		um.APY = &apy
		um.DaysSinceFirstDeposit = y.DaysSinceFirstDeposit
	} else {
		um.DaysSinceFirstDeposit = float64(now.Unix()-user.FirstDepositAt) / 86400
	}

	return um
}
