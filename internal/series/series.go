// Package series turns the indexer's daily snapshot history into
// plotting-ready chart series for a selected metric.
package series

import (
	"time"

	"github.com/yourorg/goldbtc-metrics/internal/derive"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/numeric"
)

// Metric keys recognized by Build.
const (
	MetricTVL       = "tvl"
	MetricAPY       = "apy"
	MetricDeviation = "deviation"
)

// Point is a single chart point; X is a short date label.
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Series is one named line on the performance chart.
type Series struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Points []Point `json:"points"`
}

// Build transforms daily snapshots into chart series for the given metric
// key. The indexer delivers snapshots descending by date; Build reverses
// them to chronological order before any pairwise computation. currentAPY
// is an optional flat comparison line for the APY chart. Unknown metric
// keys produce an empty slice, not an error.
func Build(snapshots []model.DailySnapshot, metricKey string, currentAPY *float64) []Series {
	if len(snapshots) == 0 {
		return []Series{}
	}

	sorted := reversed(snapshots)

	switch metricKey {
	case MetricTVL:
		return buildTVL(sorted)
	case MetricAPY:
		return buildAPY(sorted, currentAPY)
	case MetricDeviation:
		return buildDeviation(sorted)
	default:
		return []Series{}
	}
}

// Labels derives the chronological x-axis labels for a snapshot history.
func Labels(snapshots []model.DailySnapshot) []string {
	sorted := reversed(snapshots)
	labels := make([]string, len(sorted))
	for i, snap := range sorted {
		labels[i] = formatDate(snap.Date)
	}
	return labels
}

func buildTVL(sorted []model.DailySnapshot) []Series {
	points := make([]Point, len(sorted))
	for i, snap := range sorted {
		points[i] = Point{
			X: formatDate(snap.Date),
			Y: numeric.ParseFloat(snap.TotalValueLocked),
		}
	}

	return []Series{{ID: "tvl", Label: "TVL", Points: points}}
}

func buildAPY(sorted []model.DailySnapshot, currentAPY *float64) []Series {
	historical := Series{ID: "historical-apy", Label: "Historical APY"}

	// The first snapshot has no predecessor to diff against and is skipped.
	for i := 1; i < len(sorted); i++ {
		curSV := numeric.ParseFloat(sorted[i].StrategyValue)
		prevSV := numeric.ParseFloat(sorted[i-1].StrategyValue)

		daysDiff := float64(numeric.ParseInt(sorted[i].Date)-numeric.ParseInt(sorted[i-1].Date)) / 86400

		historical.Points = append(historical.Points, Point{
			X: formatDate(sorted[i].Date),
			Y: derive.ProtocolAPY(curSV, prevSV, daysDiff),
		})
	}
	if historical.Points == nil {
		historical.Points = []Point{}
	}

	out := []Series{historical}

	if currentAPY != nil {
		flat := Series{ID: "current-apy", Label: "Current APY", Points: make([]Point, len(sorted))}
		for i, snap := range sorted {
			flat.Points[i] = Point{X: formatDate(snap.Date), Y: *currentAPY}
		}
		out = append(out, flat)
	}

	return out
}

func buildDeviation(sorted []model.DailySnapshot) []Series {
	ratio := Series{ID: "ratio-deviation", Label: "Ratio Deviation", Points: make([]Point, len(sorted))}
	price := Series{ID: "price-deviation", Label: "Price Deviation", Points: make([]Point, len(sorted))}

	for i, snap := range sorted {
		bal0 := numeric.ParseFloat(snap.Asset0Balance)
		bal1 := numeric.ParseFloat(snap.Asset1Balance)
		p0 := numeric.ParseFloat(snap.Asset0Price)
		p1 := numeric.ParseFloat(snap.Asset1Price)

		ratio.Points[i] = Point{
			X: formatDate(snap.Date),
			Y: derive.RatioDeviation(bal0*p0, bal1*p1),
		}

		// First snapshot yields 0 for lack of a predecessor.
		deviation := 0.0
		if i > 0 {
			deviation = derive.SnapshotPriceDeviation(
				numeric.ParseFloat(sorted[i-1].Asset0Price),
				numeric.ParseFloat(sorted[i-1].Asset1Price),
				p0, p1,
			)
		}
		price.Points[i] = Point{X: formatDate(snap.Date), Y: deviation}
	}

	return []Series{ratio, price}
}

// reversed returns a copy of the snapshots in ascending date order,
// assuming indexer-descending input.
func reversed(snapshots []model.DailySnapshot) []model.DailySnapshot {
	out := make([]model.DailySnapshot, len(snapshots))
	for i, snap := range snapshots {
		out[len(snapshots)-1-i] = snap
	}
	return out
}

// formatDate renders a string-encoded Unix timestamp as a short
// month+day label, e.g. "Jan 15".
func formatDate(timestamp string) string {
	return time.Unix(numeric.ParseInt(timestamp), 0).UTC().Format("Jan 2")
}
