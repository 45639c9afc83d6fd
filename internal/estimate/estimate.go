// Package estimate turns three-point estimates into comparable numbers and
// aggregates component estimates into feature-level totals.
package estimate

import (
	"math"
	"time"
)

// Estimation units. A feature aggregate that mixes units is tagged UnitMixed
// instead of silently summing incompatible numbers.
const (
	UnitHours       = "hours"
	UnitDays        = "days"
	UnitStoryPoints = "story_points"
	UnitMixed       = "mixed"
)

// Estimation is one three-point estimate for a component. Values are not
// required to satisfy worst >= likely >= best; the calculator computes
// whatever it is given and ordering is a boundary concern.
type Estimation struct {
	ID          string
	ComponentID string
	BestCase    float64
	MostLikely  float64
	WorstCase   float64
	Unit        string
	CreatedAt   time.Time
}

// Component is an estimation component with its estimate series. Archived
// components are excluded from default totals.
type Component struct {
	ID          string
	Name        string
	Archived    bool
	Estimations []Estimation
}

// Total is a feature-level estimate summary.
type Total struct {
	Weighted   float64 `json:"weighted"`
	StdDev     float64 `json:"stdDev"`
	Unit       string  `json:"unit"`
	Components int     `json:"components"`
}

// Weighted computes the PERT weighted estimate: (best + 4*likely + worst) / 6.
func Weighted(best, likely, worst float64) float64 {
	return (best + 4*likely + worst) / 6
}

// StdDev computes the PERT spread measure: (worst - best) / 6.
func StdDev(best, likely, worst float64) float64 {
	return (worst - best) / 6
}

// Variance is the square of the PERT standard deviation.
func Variance(best, likely, worst float64) float64 {
	sd := StdDev(best, likely, worst)
	return sd * sd
}

// Latest returns the most recently created estimation of a component. Older
// estimations stay for audit but do not contribute to current totals. With
// equal timestamps the later entry wins.
func Latest(estimations []Estimation) (Estimation, bool) {
	if len(estimations) == 0 {
		return Estimation{}, false
	}
	latest := estimations[0]
	for _, e := range estimations[1:] {
		if !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	return latest, true
}

// FeatureTotal sums the weighted values of all active components' latest
// estimations. See FeatureTotalWith for archived components.
func FeatureTotal(components []Component) Total {
	return FeatureTotalWith(components, false)
}

// FeatureTotalWith aggregates component estimates into a feature total.
// The combined spread is sqrt of the summed variances. The unit is the
// single unit shared by all contributing estimations, or UnitMixed when more
// than one unit appears.
func FeatureTotalWith(components []Component, includeArchived bool) Total {
	var total Total
	var variance float64
	units := make(map[string]struct{})

	for _, component := range components {
		if component.Archived && !includeArchived {
			continue
		}
		latest, ok := Latest(component.Estimations)
		if !ok {
			continue
		}
		total.Weighted += Weighted(latest.BestCase, latest.MostLikely, latest.WorstCase)
		variance += Variance(latest.BestCase, latest.MostLikely, latest.WorstCase)
		total.Components++
		units[latest.Unit] = struct{}{}
	}

	total.StdDev = math.Sqrt(variance)
	switch len(units) {
	case 0:
		total.Unit = ""
	case 1:
		for unit := range units {
			total.Unit = unit
		}
	default:
		total.Unit = UnitMixed
	}
	return total
}

// FieldChange records one audited field edit on an estimation.
type FieldChange struct {
	Field string
	Old   float64
	New   float64
}

// Audited estimation field names, matching the history rows' field_name.
const (
	FieldBestCase   = "best_case"
	FieldMostLikely = "most_likely"
	FieldWorstCase  = "worst_case"
)

// Diff returns one FieldChange per estimate field that differs between old
// and updated. Unchanged fields produce no entry.
func Diff(old, updated Estimation) []FieldChange {
	var changes []FieldChange
	if old.BestCase != updated.BestCase {
		changes = append(changes, FieldChange{Field: FieldBestCase, Old: old.BestCase, New: updated.BestCase})
	}
	if old.MostLikely != updated.MostLikely {
		changes = append(changes, FieldChange{Field: FieldMostLikely, Old: old.MostLikely, New: updated.MostLikely})
	}
	if old.WorstCase != updated.WorstCase {
		changes = append(changes, FieldChange{Field: FieldWorstCase, Old: old.WorstCase, New: updated.WorstCase})
	}
	return changes
}
