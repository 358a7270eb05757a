package labeling

import (
	"math"
	"testing"
	"time"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
)

func day(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func fixture() ([]domain.Bar, []domain.Bar) {
	assets := []domain.Bar{
		{Symbol: "AAA", Timestamp: day(0), Close: 100},
		{Symbol: "AAA", Timestamp: day(1), Close: 110},
		{Symbol: "AAA", Timestamp: day(2), Close: 121},
		{Symbol: "AAA", Timestamp: day(3), Close: 108.9},
	}
	bench := []domain.Bar{
		{Symbol: "SPY", Timestamp: day(0), Close: 200},
		{Symbol: "SPY", Timestamp: day(1), Close: 202},
		{Symbol: "SPY", Timestamp: day(2), Close: 204.02},
		{Symbol: "SPY", Timestamp: day(3), Close: 204.02},
	}
	return assets, bench
}

func TestExcessReturnsBenchmark(t *testing.T) {
	assets, bench := fixture()
	labels, err := ExcessReturns(assets, bench, config.LabelConfig{HorizonDays: 1, ExcessOver: "benchmark"})
	if err != nil {
		t.Fatalf("ExcessReturns returned error: %v", err)
	}
	if len(labels) != 3 {
		t.Fatalf("got %d labels, want 3", len(labels))
	}

	// Label at day 0 is the day-1 return (10%) minus the benchmark's 1%.
	want := []float64{0.10 - 0.01, 0.10 - 0.01, -0.10 - 0}
	for i, l := range labels {
		if !l.Date.Equal(day(i)) {
			t.Errorf("labels[%d].Date = %s, want %s", i, l.Date.Format("2006-01-02"), day(i).Format("2006-01-02"))
		}
		if math.Abs(l.Label-want[i]) > 1e-9 {
			t.Errorf("labels[%d].Label = %v, want %v", i, l.Label, want[i])
		}
	}
}

func TestExcessReturnsHorizonAndCash(t *testing.T) {
	assets, bench := fixture()
	labels, err := ExcessReturns(assets, bench, config.LabelConfig{HorizonDays: 2, ExcessOver: "cash"})
	if err != nil {
		t.Fatalf("ExcessReturns returned error: %v", err)
	}
	if len(labels) != 2 {
		t.Fatalf("got %d labels, want 2", len(labels))
	}
	// Strictly forward: the label dated day 0 uses the return realised on day 2.
	if math.Abs(labels[0].Label-0.10) > 1e-9 {
		t.Errorf("labels[0].Label = %v, want 0.10", labels[0].Label)
	}
	if math.Abs(labels[1].Label+0.10) > 1e-9 {
		t.Errorf("labels[1].Label = %v, want -0.10", labels[1].Label)
	}
}

func TestExcessReturnsUnknownReference(t *testing.T) {
	assets, bench := fixture()
	if _, err := ExcessReturns(assets, bench, config.LabelConfig{HorizonDays: 1, ExcessOver: "risk_free"}); err == nil {
		t.Fatal("ExcessReturns accepted unknown excess_over")
	}
}
