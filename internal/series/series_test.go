package series

import (
	"math"
	"testing"

	"github.com/yourorg/goldbtc-metrics/internal/model"
)

// descending-by-date history, the order the indexer delivers
func testSnapshots() []model.DailySnapshot {
	return []model.DailySnapshot{
		{
			Date:             "1705363200", // Jan 16 2024
			TotalValueLocked: "820000",
			StrategyValue:    "1020",
			Asset0Balance:    "10",
			Asset1Balance:    "100",
			Asset0Price:      "62000",
			Asset1Price:      "2000",
		},
		{
			Date:             "1705276800", // Jan 15 2024
			TotalValueLocked: "810000",
			StrategyValue:    "1010",
			Asset0Balance:    "10",
			Asset1Balance:    "100",
			Asset0Price:      "61000",
			Asset1Price:      "2000",
		},
		{
			Date:             "1705190400", // Jan 14 2024
			TotalValueLocked: "800000",
			StrategyValue:    "1000",
			Asset0Balance:    "10",
			Asset1Balance:    "100",
			Asset0Price:      "60000",
			Asset1Price:      "2000",
		},
	}
}

func TestBuildTVL(t *testing.T) {
	got := Build(testSnapshots(), MetricTVL, nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 series, got %d", len(got))
	}

	points := got[0].Points
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}

	// Chronological order: reversed relative to indexer input
	wantY := []float64{800000, 810000, 820000}
	wantX := []string{"Jan 14", "Jan 15", "Jan 16"}
	for i, p := range points {
		if p.Y != wantY[i] {
			t.Errorf("point %d: y = %v, want %v", i, p.Y, wantY[i])
		}
		if p.X != wantX[i] {
			t.Errorf("point %d: x = %q, want %q", i, p.X, wantX[i])
		}
	}
}

func TestBuildAPY(t *testing.T) {
	currentAPY := 12.5
	got := Build(testSnapshots(), MetricAPY, &currentAPY)
	if len(got) != 2 {
		t.Fatalf("expected 2 series, got %d", len(got))
	}

	historical := got[0]
	if historical.ID != "historical-apy" {
		t.Errorf("series id = %q", historical.ID)
	}
	// First snapshot has no predecessor and is skipped
	if len(historical.Points) != 2 {
		t.Fatalf("expected 2 historical points, got %d", len(historical.Points))
	}

	// 1010/1000 over one day, annualized: (1.01^365 - 1) * 100
	wantFirst := (math.Pow(1.01, 365) - 1) * 100
	if math.Abs(historical.Points[0].Y-wantFirst) > 1e-6 {
		t.Errorf("first historical APY = %v, want %v", historical.Points[0].Y, wantFirst)
	}

	flat := got[1]
	if len(flat.Points) != 3 {
		t.Fatalf("expected 3 flat points, got %d", len(flat.Points))
	}
	for _, p := range flat.Points {
		if p.Y != currentAPY {
			t.Errorf("flat point y = %v, want %v", p.Y, currentAPY)
		}
	}
}

func TestBuildAPYSingleSnapshot(t *testing.T) {
	got := Build(testSnapshots()[:1], MetricAPY, nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 series, got %d", len(got))
	}
	if len(got[0].Points) != 0 {
		t.Errorf("historical series with 1 snapshot must be empty, got %d points", len(got[0].Points))
	}
}

func TestBuildDeviation(t *testing.T) {
	got := Build(testSnapshots(), MetricDeviation, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 series, got %d", len(got))
	}

	ratio, price := got[0], got[1]
	if len(ratio.Points) != 3 || len(price.Points) != 3 {
		t.Fatalf("expected 3 points per series, got %d and %d", len(ratio.Points), len(price.Points))
	}

	// Jan 14: asset values 600000 vs 200000 -> 25 point deviation
	if math.Abs(ratio.Points[0].Y-25) > 1e-9 {
		t.Errorf("ratio deviation = %v, want 25", ratio.Points[0].Y)
	}

	// First point has no predecessor
	if price.Points[0].Y != 0 {
		t.Errorf("first price deviation = %v, want 0", price.Points[0].Y)
	}

	// Jan 15: asset0 +1.666..%, asset1 flat
	wantSpread := (61000.0 - 60000.0) / 60000.0 * 100
	if math.Abs(price.Points[1].Y-wantSpread) > 1e-9 {
		t.Errorf("price deviation = %v, want %v", price.Points[1].Y, wantSpread)
	}
}

func TestBuildUnknownMetric(t *testing.T) {
	if got := Build(testSnapshots(), "volume", nil); len(got) != 0 {
		t.Errorf("unknown metric key must yield empty series list, got %d", len(got))
	}
}

func TestBuildEmptyInput(t *testing.T) {
	if got := Build(nil, MetricTVL, nil); len(got) != 0 {
		t.Errorf("empty input must yield empty series list, got %d", len(got))
	}
}

func TestLabels(t *testing.T) {
	got := Labels(testSnapshots())
	want := []string{"Jan 14", "Jan 15", "Jan 16"}
	if len(got) != len(want) {
		t.Fatalf("expected %d labels, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label %d = %q, want %q", i, got[i], want[i])
		}
	}
}
