package estimate

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWeighted(t *testing.T) {
	tests := []struct {
		best, likely, worst, want float64
	}{
		{2, 4, 6, 4.0},
		{0, 0, 0, 0},
		{1, 2, 9, 3},
		{3, 3, 3, 3},
	}
	for _, tc := range tests {
		if got := Weighted(tc.best, tc.likely, tc.worst); !almostEqual(got, tc.want) {
			t.Errorf("Weighted(%v, %v, %v) = %v, want %v", tc.best, tc.likely, tc.worst, got, tc.want)
		}
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev(2, 4, 6); !almostEqual(got, 4.0/6.0) {
		t.Errorf("StdDev(2,4,6) = %v, want %v", got, 4.0/6.0)
	}
	if got := StdDev(5, 5, 5); !almostEqual(got, 0) {
		t.Errorf("StdDev(5,5,5) = %v, want 0", got)
	}
	// Mis-ordered inputs are not rejected; the result is simply negative.
	if got := StdDev(6, 4, 2); !almostEqual(got, -4.0/6.0) {
		t.Errorf("StdDev(6,4,2) = %v", got)
	}
}

func TestLatest(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	estimations := []Estimation{
		{ID: "est-1", CreatedAt: base},
		{ID: "est-3", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "est-2", CreatedAt: base.Add(time.Hour)},
	}
	latest, ok := Latest(estimations)
	if !ok || latest.ID != "est-3" {
		t.Fatalf("Latest = %+v ok=%v, want est-3", latest, ok)
	}
	if _, ok := Latest(nil); ok {
		t.Error("Latest(nil) reported ok")
	}
}

func TestFeatureTotalSingleUnit(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	components := []Component{
		{
			ID: "cmp-1",
			Estimations: []Estimation{
				{BestCase: 2, MostLikely: 4, WorstCase: 6, Unit: UnitHours, CreatedAt: base},
				// Superseded estimate must not contribute.
				{BestCase: 100, MostLikely: 100, WorstCase: 100, Unit: UnitHours, CreatedAt: base.Add(-time.Hour)},
			},
		},
		{
			ID: "cmp-2",
			Estimations: []Estimation{
				{BestCase: 1, MostLikely: 2, WorstCase: 9, Unit: UnitHours, CreatedAt: base},
			},
		},
	}
	total := FeatureTotal(components)
	if !almostEqual(total.Weighted, 7) {
		t.Errorf("Weighted = %v, want 7", total.Weighted)
	}
	if total.Unit != UnitHours {
		t.Errorf("Unit = %q, want %q", total.Unit, UnitHours)
	}
	if total.Components != 2 {
		t.Errorf("Components = %d, want 2", total.Components)
	}
}

func TestFeatureTotalMixedUnits(t *testing.T) {
	base := time.Now()
	components := []Component{
		{Estimations: []Estimation{{BestCase: 1, MostLikely: 1, WorstCase: 1, Unit: UnitHours, CreatedAt: base}}},
		{Estimations: []Estimation{{BestCase: 1, MostLikely: 1, WorstCase: 1, Unit: UnitDays, CreatedAt: base}}},
	}
	total := FeatureTotal(components)
	if total.Unit != UnitMixed {
		t.Errorf("Unit = %q, want %q", total.Unit, UnitMixed)
	}
}

func TestFeatureTotalArchivedExcluded(t *testing.T) {
	base := time.Now()
	components := []Component{
		{Estimations: []Estimation{{BestCase: 2, MostLikely: 4, WorstCase: 6, Unit: UnitDays, CreatedAt: base}}},
		{Archived: true, Estimations: []Estimation{{BestCase: 10, MostLikely: 10, WorstCase: 10, Unit: UnitDays, CreatedAt: base}}},
	}
	total := FeatureTotal(components)
	if !almostEqual(total.Weighted, 4) || total.Components != 1 {
		t.Errorf("default total = %+v, want archived excluded", total)
	}
	withArchived := FeatureTotalWith(components, true)
	if !almostEqual(withArchived.Weighted, 14) || withArchived.Components != 2 {
		t.Errorf("includeArchived total = %+v", withArchived)
	}
}

func TestFeatureTotalEmpty(t *testing.T) {
	total := FeatureTotal(nil)
	if total.Weighted != 0 || total.Unit != "" || total.Components != 0 {
		t.Errorf("empty total = %+v", total)
	}
	// Components without estimations contribute nothing.
	total = FeatureTotal([]Component{{ID: "cmp-1"}})
	if total.Components != 0 {
		t.Errorf("component without estimations counted: %+v", total)
	}
}

func TestDiff(t *testing.T) {
	old := Estimation{BestCase: 2, MostLikely: 4, WorstCase: 6}
	updated := Estimation{BestCase: 2, MostLikely: 5, WorstCase: 8}
	changes := Diff(old, updated)
	if len(changes) != 2 {
		t.Fatalf("Diff = %+v, want 2 changes", changes)
	}
	if changes[0].Field != FieldMostLikely || changes[0].Old != 4 || changes[0].New != 5 {
		t.Errorf("first change %+v", changes[0])
	}
	if changes[1].Field != FieldWorstCase || changes[1].Old != 6 || changes[1].New != 8 {
		t.Errorf("second change %+v", changes[1])
	}
	if changes := Diff(old, old); len(changes) != 0 {
		t.Errorf("Diff(x, x) = %+v, want none", changes)
	}
}
