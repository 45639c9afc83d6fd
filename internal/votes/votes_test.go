package votes

import (
	"context"
	"testing"
	"time"
)

type voteKey struct {
	featureID string
	voteType  Type
}

type fakeVoteStore struct {
	creatorID    string
	featureIDs   []string
	values       map[voteKey][]float64
	upserted     []Vote
	upsertCalls  int
	ratedCounts  map[string]int
}

func (f *fakeVoteStore) PlanningCreator(context.Context, string) (string, error) {
	return f.creatorID, nil
}

func (f *fakeVoteStore) PlanningFeatureIDs(context.Context, string) ([]string, error) {
	return f.featureIDs, nil
}

func (f *fakeVoteStore) VoteValues(_ context.Context, _, featureID string, voteType Type, excludeUserID string) ([]float64, error) {
	if excludeUserID != f.creatorID {
		return nil, nil
	}
	return f.values[voteKey{featureID, voteType}], nil
}

func (f *fakeVoteStore) UpsertCreatorVotes(_ context.Context, votes []Vote) error {
	f.upsertCalls++
	f.upserted = append(f.upserted, votes...)
	return nil
}

func (f *fakeVoteStore) CreatorRatedTypeCounts(context.Context, string, string) (map[string]int, error) {
	return f.ratedCounts, nil
}

func TestCeilMean(t *testing.T) {
	tests := []struct {
		values []float64
		want   int
	}{
		{[]float64{3, 5}, 4},
		{[]float64{8, 7}, 8},
		{[]float64{5}, 5},
		{[]float64{1, 1, 2}, 2},
		{[]float64{0, 0}, 0},
	}
	for _, tc := range tests {
		got, ok := CeilMean(tc.values)
		if !ok || got != tc.want {
			t.Errorf("CeilMean(%v) = %d ok=%v, want %d", tc.values, got, ok, tc.want)
		}
	}
	if _, ok := CeilMean(nil); ok {
		t.Error("CeilMean(nil) reported ok")
	}
}

func TestRecomputeCreatorVotes(t *testing.T) {
	store := &fakeVoteStore{
		creatorID:  "usr-owner",
		featureIDs: []string{"ft-1"},
		values: map[voteKey][]float64{
			{"ft-1", BusinessValue}:   {3, 5},
			{"ft-1", TimeCriticality}: {8, 7},
		},
	}
	aggregator := New(store)
	aggregator.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

	pairs := []Pair{
		{FeatureID: "ft-1", Type: BusinessValue},
		{FeatureID: "ft-1", Type: TimeCriticality},
		{FeatureID: "ft-1", Type: RiskOpportunity},
	}
	if err := aggregator.RecomputeCreatorVotes(context.Background(), "pln-1", pairs); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	// RiskOpportunity has no stakeholder votes: no creator row for it.
	if len(store.upserted) != 2 {
		t.Fatalf("upserted %d rows, want 2: %+v", len(store.upserted), store.upserted)
	}
	byType := map[Type]Vote{}
	for _, vote := range store.upserted {
		byType[vote.Type] = vote
	}
	if vote := byType[BusinessValue]; vote.Value != 4 {
		t.Errorf("BusinessValue derived = %v, want 4", vote.Value)
	}
	if vote := byType[TimeCriticality]; vote.Value != 8 {
		t.Errorf("TimeCriticality derived = %v, want 8", vote.Value)
	}
	for _, vote := range store.upserted {
		if vote.UserID != "usr-owner" || vote.PlanningID != "pln-1" || vote.FeatureID != "ft-1" {
			t.Errorf("derived vote keyed wrong: %+v", vote)
		}
		if vote.VotedAt.IsZero() {
			t.Error("derived vote missing votedAt")
		}
	}
	// One submission, one batched write.
	if store.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", store.upsertCalls)
	}
}

func TestRecomputeSingleVoteEqualsItself(t *testing.T) {
	store := &fakeVoteStore{
		creatorID:  "usr-owner",
		featureIDs: []string{"ft-1"},
		values: map[voteKey][]float64{
			{"ft-1", BusinessValue}: {5},
		},
	}
	aggregator := New(store)
	pairs := []Pair{{FeatureID: "ft-1", Type: BusinessValue}}
	if err := aggregator.RecomputeCreatorVotes(context.Background(), "pln-1", pairs); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(store.upserted) != 1 || store.upserted[0].Value != 5 {
		t.Fatalf("upserted = %+v, want single value 5", store.upserted)
	}
}

func TestRecomputeEmptyVoteSetSkipsWrite(t *testing.T) {
	store := &fakeVoteStore{creatorID: "usr-owner", featureIDs: []string{"ft-1"}}
	if err := New(store).RecomputeCreatorVotes(context.Background(), "pln-1", nil); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if store.upsertCalls != 0 {
		t.Errorf("expected no write for empty vote sets, got %d calls", store.upsertCalls)
	}
}

func TestRecomputeFullPlanning(t *testing.T) {
	store := &fakeVoteStore{
		creatorID:  "usr-owner",
		featureIDs: []string{"ft-1", "ft-2"},
		values: map[voteKey][]float64{
			{"ft-1", BusinessValue}:   {2},
			{"ft-2", RiskOpportunity}: {1, 2},
		},
	}
	if err := New(store).RecomputeCreatorVotes(context.Background(), "pln-1", nil); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(store.upserted) != 2 {
		t.Fatalf("upserted = %+v, want 2 rows", store.upserted)
	}
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		name       string
		featureIDs []string
		counts     map[string]int
		want       Coverage
	}{
		{"no features", nil, nil, Coverage{Total: 0, Rated: 0, Open: 0}},
		{"two of three dimensions", []string{"ft-1"}, map[string]int{"ft-1": 2}, Coverage{Total: 1, Rated: 0, Open: 1}},
		{"all three dimensions", []string{"ft-1"}, map[string]int{"ft-1": 3}, Coverage{Total: 1, Rated: 1, Open: 0}},
		{"unvoted feature stays open", []string{"ft-1", "ft-2"}, map[string]int{"ft-1": 3}, Coverage{Total: 2, Rated: 1, Open: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeVoteStore{creatorID: "usr-owner", featureIDs: tc.featureIDs, ratedCounts: tc.counts}
			got, err := New(store).Coverage(context.Background(), "pln-1")
			if err != nil {
				t.Fatalf("coverage: %v", err)
			}
			if got != tc.want {
				t.Errorf("Coverage = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	for _, voteType := range AllTypes {
		if parsed, ok := ParseType(string(voteType)); !ok || parsed != voteType {
			t.Errorf("ParseType(%s) = %v, %v", voteType, parsed, ok)
		}
	}
	if _, ok := ParseType("EFFORT"); ok {
		t.Error("ParseType accepted unknown dimension")
	}
}
