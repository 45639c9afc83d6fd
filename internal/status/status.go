// Package status is the single source of truth for workflow states:
// per-kind state sets, display metadata, and legal transitions.
package status

// Kind identifies which entity a status value belongs to.
type Kind string

const (
	KindFeature    Kind = "feature"
	KindPlanning   Kind = "planning"
	KindCommitment Kind = "commitment"
)

// Feature states.
const (
	FeatureInPlanning  = "in-planning"
	FeatureApproved    = "approved"
	FeatureRejected    = "rejected"
	FeatureImplemented = "implemented"
	FeatureObsolete    = "obsolete"
	FeatureArchived    = "archived"
	FeatureDeleted     = "deleted"
)

// Planning states.
const (
	PlanningInPlanning  = "in-planning"
	PlanningInExecution = "in-execution"
	PlanningCompleted   = "completed"
)

// Commitment states.
const (
	CommitmentSuggested = "suggested"
	CommitmentAccepted  = "accepted"
	CommitmentCompleted = "completed"
)

// Detail is the display metadata for one status value.
type Detail struct {
	Value string `json:"value"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type entry struct {
	detail  Detail
	targets []string
}

// Table order matters: TransitionTargets returns targets in declaration order,
// and entries() preserves listing order for presentation.
var tables = map[Kind][]entry{
	KindFeature: {
		{Detail{FeatureInPlanning, "In Planung", "#2196f3"}, []string{FeatureApproved, FeatureRejected, FeatureObsolete, FeatureArchived, FeatureDeleted}},
		{Detail{FeatureApproved, "Genehmigt", "#4caf50"}, []string{FeatureImplemented, FeatureRejected, FeatureObsolete, FeatureArchived, FeatureDeleted}},
		{Detail{FeatureRejected, "Abgelehnt", "#f44336"}, nil},
		{Detail{FeatureImplemented, "Umgesetzt", "#8bc34a"}, nil},
		{Detail{FeatureObsolete, "Obsolet", "#9e9e9e"}, nil},
		{Detail{FeatureArchived, "Archiviert", "#607d8b"}, nil},
		{Detail{FeatureDeleted, "Gelöscht", "#424242"}, nil},
	},
	KindPlanning: {
		{Detail{PlanningInPlanning, "In Planung", "#2196f3"}, []string{PlanningInExecution}},
		{Detail{PlanningInExecution, "In Durchführung", "#ff9800"}, []string{PlanningCompleted}},
		{Detail{PlanningCompleted, "Abgeschlossen", "#4caf50"}, nil},
	},
	KindCommitment: {
		{Detail{CommitmentSuggested, "Vorgeschlagen", "#ffc107"}, []string{CommitmentAccepted}},
		{Detail{CommitmentAccepted, "Angenommen", "#4caf50"}, []string{CommitmentCompleted}},
		{Detail{CommitmentCompleted, "Abgeschlossen", "#2196f3"}, nil},
	},
}

// Default returns the status a freshly created entity of the given kind carries.
func Default(kind Kind) string {
	switch kind {
	case KindFeature:
		return FeatureInPlanning
	case KindPlanning:
		return PlanningInPlanning
	case KindCommitment:
		return CommitmentSuggested
	default:
		return ""
	}
}

// Known reports whether value is a recognized status for kind.
func Known(kind Kind, value string) bool {
	_, ok := lookup(kind, value)
	return ok
}

// Details returns the display metadata for (kind, value). The second return
// is false when the value is not part of the kind's state set; callers should
// degrade to showing the raw value rather than failing.
func Details(kind Kind, value string) (Detail, bool) {
	return lookup(kind, value)
}

// DetailsOr returns the metadata for value, falling back to the entry for
// fallback when value is unrecognized. When both are unknown it returns an
// unlabeled detail carrying the raw value.
func DetailsOr(kind Kind, value, fallback string) Detail {
	if detail, ok := lookup(kind, value); ok {
		return detail
	}
	if detail, ok := lookup(kind, fallback); ok {
		return detail
	}
	return Detail{Value: value}
}

// TransitionTargets returns the status values reachable in one step from
// current, in table order. Terminal and unrecognized states yield an empty
// slice.
func TransitionTargets(kind Kind, current string) []string {
	for _, e := range tables[kind] {
		if e.detail.Value == current {
			targets := make([]string, len(e.targets))
			copy(targets, e.targets)
			return targets
		}
	}
	return []string{}
}

// CanTransition reports whether requested is a legal one-step move from
// current. A no-op (requested == current) is legal for any known state.
func CanTransition(kind Kind, current, requested string) bool {
	if !Known(kind, current) || !Known(kind, requested) {
		return false
	}
	if current == requested {
		return true
	}
	for _, target := range TransitionTargets(kind, current) {
		if target == requested {
			return true
		}
	}
	return false
}

// Values lists every status value of a kind in table order.
func Values(kind Kind) []string {
	entries := tables[kind]
	values := make([]string, 0, len(entries))
	for _, e := range entries {
		values = append(values, e.detail.Value)
	}
	return values
}

func lookup(kind Kind, value string) (Detail, bool) {
	for _, e := range tables[kind] {
		if e.detail.Value == value {
			return e.detail, true
		}
	}
	return Detail{}, false
}
