// Package votes derives the planning creator's representative vote from
// stakeholder votes and reports WSJF rating coverage.
package votes

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Type is one WSJF score dimension.
type Type string

const (
	BusinessValue   Type = "BUSINESS_VALUE"
	TimeCriticality Type = "TIME_CRITICALITY"
	RiskOpportunity Type = "RISK_OPPORTUNITY"
)

// AllTypes lists the three score dimensions; a feature counts as rated once
// the creator holds a derived vote for every one of them.
var AllTypes = []Type{BusinessValue, TimeCriticality, RiskOpportunity}

// ParseType validates a raw dimension value.
func ParseType(raw string) (Type, bool) {
	switch Type(raw) {
	case BusinessValue, TimeCriticality, RiskOpportunity:
		return Type(raw), true
	default:
		return "", false
	}
}

// Vote is one vote row. The planning creator's rows are derived output of
// the aggregation, never input to it.
type Vote struct {
	UserID     string
	FeatureID  string
	PlanningID string
	Type       Type
	Value      float64
	VotedAt    time.Time
}

// Pair names one (feature, dimension) whose creator vote needs recomputing.
type Pair struct {
	FeatureID string
	Type      Type
}

// Coverage is the WSJF rating report for one planning. A planning without
// features reports all zeroes.
type Coverage struct {
	Total int `json:"total"`
	Rated int `json:"rated"`
	Open  int `json:"open"`
}

// Store is the persistence the aggregator needs. UpsertCreatorVotes must
// apply the whole batch in a single transaction so one triggering submission
// cannot half-land; cross-submission races stay last-write-wins.
type Store interface {
	PlanningCreator(ctx context.Context, planningID string) (string, error)
	PlanningFeatureIDs(ctx context.Context, planningID string) ([]string, error)
	VoteValues(ctx context.Context, planningID, featureID string, voteType Type, excludeUserID string) ([]float64, error)
	UpsertCreatorVotes(ctx context.Context, votes []Vote) error
	CreatorRatedTypeCounts(ctx context.Context, planningID, creatorID string) (map[string]int, error)
}

// CeilMean returns the integer ceiling of the arithmetic mean. The ceiling
// biases prioritization scores upward instead of averaging borderline items
// down. The second return is false for an empty set.
func CeilMean(values []float64) (int, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, value := range values {
		sum += value
	}
	return int(math.Ceil(sum / float64(len(values)))), true
}

// Aggregator keeps the creator's derived vote rows in sync with stakeholder
// votes.
type Aggregator struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// RecomputeCreatorVotes recomputes the creator's derived vote for the given
// (feature, dimension) pairs of a planning. A nil pairs slice recomputes the
// whole planning. Pairs without any stakeholder vote are skipped: no creator
// row is created or updated for them.
func (a *Aggregator) RecomputeCreatorVotes(ctx context.Context, planningID string, pairs []Pair) error {
	creatorID, err := a.store.PlanningCreator(ctx, planningID)
	if err != nil {
		return fmt.Errorf("load planning creator %s: %w", planningID, err)
	}

	if pairs == nil {
		featureIDs, err := a.store.PlanningFeatureIDs(ctx, planningID)
		if err != nil {
			return fmt.Errorf("list planning features %s: %w", planningID, err)
		}
		for _, featureID := range featureIDs {
			for _, voteType := range AllTypes {
				pairs = append(pairs, Pair{FeatureID: featureID, Type: voteType})
			}
		}
	}

	votedAt := a.now().UTC()
	upserts := make([]Vote, 0, len(pairs))
	for _, pair := range pairs {
		values, err := a.store.VoteValues(ctx, planningID, pair.FeatureID, pair.Type, creatorID)
		if err != nil {
			return fmt.Errorf("load votes %s/%s/%s: %w", planningID, pair.FeatureID, pair.Type, err)
		}
		derived, ok := CeilMean(values)
		if !ok {
			continue
		}
		upserts = append(upserts, Vote{
			UserID:     creatorID,
			FeatureID:  pair.FeatureID,
			PlanningID: planningID,
			Type:       pair.Type,
			Value:      float64(derived),
			VotedAt:    votedAt,
		})
	}

	if len(upserts) == 0 {
		return nil
	}
	if err := a.store.UpsertCreatorVotes(ctx, upserts); err != nil {
		return fmt.Errorf("upsert creator votes %s: %w", planningID, err)
	}
	return nil
}

// Coverage reports how many of a planning's features carry a complete
// creator rating across all three dimensions.
func (a *Aggregator) Coverage(ctx context.Context, planningID string) (Coverage, error) {
	creatorID, err := a.store.PlanningCreator(ctx, planningID)
	if err != nil {
		return Coverage{}, fmt.Errorf("load planning creator %s: %w", planningID, err)
	}
	featureIDs, err := a.store.PlanningFeatureIDs(ctx, planningID)
	if err != nil {
		return Coverage{}, fmt.Errorf("list planning features %s: %w", planningID, err)
	}
	counts, err := a.store.CreatorRatedTypeCounts(ctx, planningID, creatorID)
	if err != nil {
		return Coverage{}, fmt.Errorf("count creator votes %s: %w", planningID, err)
	}

	coverage := Coverage{Total: len(featureIDs)}
	for _, featureID := range featureIDs {
		if counts[featureID] >= len(AllTypes) {
			coverage.Rated++
		}
	}
	coverage.Open = coverage.Total - coverage.Rated
	return coverage, nil
}
