// Package validation provides plausibility checks for indexer and price
// feed data before it reaches the derivation layer.
package validation

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/numeric"
)

// Options holds configuration for the validation process
type Options struct {
	// MaxAge defines how recent fetched data must be to be considered valid
	MaxAge time.Duration

	// MaxRatioPct is the upper bound for per-asset ratio fields (percent)
	MaxRatioPct float64

	// EnableOutlierDetection enables statistical outlier detection on
	// daily snapshot TVL values before charting
	EnableOutlierDetection bool

	// OutlierIQRMultiplier defines sensitivity for outlier detection (1.5 is standard)
	OutlierIQRMultiplier float64
}

// DefaultOptions returns sensible defaults for validation
func DefaultOptions() Options {
	return Options{
		MaxAge:                 24 * time.Hour,
		MaxRatioPct:            100,
		EnableOutlierDetection: true,
		OutlierIQRMultiplier:   1.5,
	}
}

// ValidateSnapshot checks the protocol snapshot invariants: balances and
// supply non-negative, ratio parameters inside [0,100].
func ValidateSnapshot(s model.ProtocolSnapshot) error {
	if numeric.ParseFloat(s.Asset0BalanceRaw) < 0 {
		return fmt.Errorf("negative asset0 balance: %s", s.Asset0BalanceRaw)
	}
	if numeric.ParseFloat(s.Asset1BalanceRaw) < 0 {
		return fmt.Errorf("negative asset1 balance: %s", s.Asset1BalanceRaw)
	}
	if numeric.ParseFloat(s.TotalSupplyRaw) < 0 {
		return fmt.Errorf("negative total supply: %s", s.TotalSupplyRaw)
	}
	if s.TargetRatio < 0 || s.TargetRatio > 100 {
		return fmt.Errorf("target ratio out of range: %d", s.TargetRatio)
	}
	if s.RebalanceThreshold < 0 || s.RebalanceThreshold > 100 {
		return fmt.Errorf("rebalance threshold out of range: %d", s.RebalanceThreshold)
	}
	if s.DaysLive < 0 {
		return fmt.Errorf("negative days live: %d", s.DaysLive)
	}
	return nil
}

// ValidatePrices checks that both asset prices are positive and the pair
// is recent enough to derive from.
func ValidatePrices(p model.PricePair, maxAge time.Duration) error {
	if p.Asset0.PriceUSD <= 0 {
		return fmt.Errorf("non-positive %s price: %f", p.Asset0.Symbol, p.Asset0.PriceUSD)
	}
	if p.Asset1.PriceUSD <= 0 {
		return fmt.Errorf("non-positive %s price: %f", p.Asset1.Symbol, p.Asset1.PriceUSD)
	}
	if !p.IsFresh(maxAge) {
		return fmt.Errorf("price data too old: %d", p.CollectedAt)
	}
	return nil
}

// FilterSnapshots removes daily snapshots that fail basic validation
// criteria. This is the main entrypoint before series building.
func FilterSnapshots(snapshots []model.DailySnapshot) []model.DailySnapshot {
	return FilterSnapshotsWithOptions(snapshots, DefaultOptions())
}

// FilterSnapshotsWithOptions removes daily snapshots with custom validation options.
func FilterSnapshotsWithOptions(snapshots []model.DailySnapshot, opts Options) []model.DailySnapshot {
	valid := filterBasicCriteria(snapshots, opts)

	if opts.EnableOutlierDetection && len(valid) > 3 {
		return filterOutliers(valid, opts.OutlierIQRMultiplier)
	}

	return valid
}

// filterBasicCriteria applies fundamental validation rules to each snapshot
func filterBasicCriteria(snapshots []model.DailySnapshot, opts Options) []model.DailySnapshot {
	valid := make([]model.DailySnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if isValidSnapshot(s, opts) {
			valid = append(valid, s)
		} else {
			logrus.WithFields(logrus.Fields{
				"date": s.Date,
				"tvl":  s.TotalValueLocked,
			}).Debug("Filtered invalid daily snapshot")
		}
	}
	return valid
}

// isValidSnapshot checks if a single daily snapshot meets all validation criteria
func isValidSnapshot(s model.DailySnapshot, opts Options) bool {
	if numeric.ParseInt(s.Date) <= 0 {
		return false
	}

	if numeric.ParseFloat(s.TotalValueLocked) < 0 {
		return false
	}

	if numeric.ParseFloat(s.Asset0Balance) < 0 || numeric.ParseFloat(s.Asset1Balance) < 0 {
		return false
	}

	if numeric.ParseFloat(s.Asset0Price) < 0 || numeric.ParseFloat(s.Asset1Price) < 0 {
		return false
	}

	if r := numeric.ParseFloat(s.CurrentRatio0); r < 0 || r > opts.MaxRatioPct {
		return false
	}
	if r := numeric.ParseFloat(s.CurrentRatio1); r < 0 || r > opts.MaxRatioPct {
		return false
	}

	return true
}

// filterOutliers removes statistical TVL outliers using the IQR method.
// A single indexer glitch in the history would otherwise distort the
// chart scale for the whole window.
func filterOutliers(snapshots []model.DailySnapshot, iqrMultiplier float64) []model.DailySnapshot {
	if len(snapshots) <= 3 {
		return snapshots // Need at least 4 points for meaningful outlier detection
	}

	tvls := make([]float64, len(snapshots))
	for i, s := range snapshots {
		tvls[i] = numeric.ParseFloat(s.TotalValueLocked)
	}

	// Calculate Q1, Q3, and IQR
	sort.Float64s(tvls)
	q1 := tvls[len(tvls)/4]
	q3 := tvls[len(tvls)*3/4]
	iqr := q3 - q1

	lowerBound := q1 - iqrMultiplier*iqr
	upperBound := q3 + iqrMultiplier*iqr

	valid := make([]model.DailySnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		tvl := numeric.ParseFloat(s.TotalValueLocked)
		if tvl >= lowerBound && tvl <= upperBound {
			valid = append(valid, s)
		} else {
			logrus.WithFields(logrus.Fields{
				"date":   s.Date,
				"tvl":    tvl,
				"bounds": []float64{lowerBound, upperBound},
			}).Info("Filtered outlier snapshot")
		}
	}

	logrus.WithFields(logrus.Fields{
		"total":    len(snapshots),
		"filtered": len(snapshots) - len(valid),
	}).Debug("Outlier filtering complete")

	return valid
}

// ValidatePosition checks a user position for obviously broken indexer
// data. The engine trusts the cumulative fields otherwise.
func ValidatePosition(p model.UserPosition) error {
	if numeric.ParseFloat(p.LpBalanceRaw) < 0 {
		return fmt.Errorf("negative LP balance: %s", p.LpBalanceRaw)
	}
	if numeric.ParseFloat(p.TotalDepositedRaw) < 0 {
		return fmt.Errorf("negative total deposited: %s", p.TotalDepositedRaw)
	}
	if numeric.ParseFloat(p.TotalWithdrawnRaw) < 0 {
		return fmt.Errorf("negative total withdrawn: %s", p.TotalWithdrawnRaw)
	}
	if p.FirstDepositAt < 0 {
		return fmt.Errorf("invalid first deposit timestamp: %d", p.FirstDepositAt)
	}
	return nil
}
