package domain

import (
	"reflect"
	"testing"
)

func TestPriceSeriesDates(t *testing.T) {
	p := PriceSeries{
		"AAA": {"2024-01-03": 10, "2024-01-02": 9},
		"BBB": {"2024-01-02": 50, "2024-01-04": 51},
	}

	got := p.Dates()
	want := []string{"2024-01-02", "2024-01-03", "2024-01-04"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dates() = %v, want %v", got, want)
	}
}

func TestPriceSeriesEmpty(t *testing.T) {
	if !(PriceSeries{}).Empty() {
		t.Error("empty PriceSeries should report Empty() = true")
	}
	// Missing symbols are represented as empty inner maps by convention.
	if !(PriceSeries{"AAA": {}}).Empty() {
		t.Error("PriceSeries with only empty inner maps should report Empty() = true")
	}
	if (PriceSeries{"AAA": {"2024-01-02": 1}}).Empty() {
		t.Error("non-empty PriceSeries should report Empty() = false")
	}
}

func TestConstraintsNormalizeDefault(t *testing.T) {
	var c *Constraints
	if !c.Normalize() {
		t.Error("nil Constraints should default Normalize() to true")
	}

	off := false
	c = &Constraints{NormalizeWeights: &off}
	if c.Normalize() {
		t.Error("Normalize() should be false when explicitly disabled")
	}
}
