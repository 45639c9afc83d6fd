package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"planwise/api/internal/config"
	"planwise/api/internal/dataver"
	"planwise/api/internal/estimate"
	"planwise/api/internal/export"
	"planwise/api/internal/status"
	"planwise/api/internal/store"
	"planwise/api/internal/votes"
	"planwise/api/internal/workflow"
)

type fakeStore struct {
	ensureUserByNameFn       func(context.Context, string) (store.User, error)
	getUserByIDFn            func(context.Context, string) (store.User, error)
	getProjectFn             func(context.Context, string) (store.Project, error)
	getPlanningFn            func(context.Context, string) (store.Planning, error)
	isStakeholderFn          func(context.Context, string, string) (bool, error)
	attachFeatureFn          func(context.Context, string, string) (bool, error)
	getFeatureFn             func(context.Context, string) (store.Feature, error)
	insertFeatureFn          func(context.Context, store.Feature) error
	listPlanningFeaturesFn   func(context.Context, string) ([]store.Feature, error)
	insertCommitmentFn       func(context.Context, store.Commitment) error
	getCommitmentFn          func(context.Context, string) (store.Commitment, error)
	deleteCommitmentFn       func(context.Context, string) (bool, error)
	getComponentFn           func(context.Context, string) (store.EstimationComponent, error)
	listComponentsFn         func(context.Context, string) ([]store.EstimationComponent, error)
	insertEstimationFn       func(context.Context, store.Estimation) error
	getEstimationFn          func(context.Context, string) (store.Estimation, error)
	updateEstimationFn       func(context.Context, store.Estimation, []store.EstimationHistoryEntry) error
	listFeatureEstimationsFn func(context.Context, string) ([]store.Estimation, error)
	upsertVoteFn             func(context.Context, store.VoteRow) error
	listVotesFn              func(context.Context, string, string) ([]store.VoteRow, error)
	planningCreatorFn        func(context.Context, string) (string, error)
	planningFeatureIDsFn     func(context.Context, string) ([]string, error)
	voteValuesFn             func(context.Context, string, string, votes.Type, string) ([]float64, error)
	upsertCreatorVotesFn     func(context.Context, []votes.Vote) error
	creatorRatedTypeCountsFn func(context.Context, string, string) (map[string]int, error)
	entityStatusFn           func(context.Context, workflow.EntityRef) (string, error)
	applyTransitionFn        func(context.Context, workflow.EntityRef, string, string, time.Time) error
	listStatusHistoryFn      func(context.Context, string, string) ([]store.StatusHistoryEntry, error)
	summaryCountsFn          func(context.Context) (int, int, int, error)
}

func (f *fakeStore) EnsureUserByName(ctx context.Context, name string) (store.User, error) {
	if f.ensureUserByNameFn != nil {
		return f.ensureUserByNameFn(ctx, name)
	}
	return store.User{ID: "usr_fake", DisplayName: name, Role: "member"}, nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Fake", Role: "member"}, nil
}
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error         { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) ListProjects(context.Context) ([]store.Project, error) { return nil, nil }
func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{ID: projectID, Name: "Projekt"}, nil
}
func (f *fakeStore) InsertProject(context.Context, store.Project) error   { return nil }
func (f *fakeStore) InsertPlanning(context.Context, store.Planning) error { return nil }
func (f *fakeStore) GetPlanning(ctx context.Context, planningID string) (store.Planning, error) {
	if f.getPlanningFn != nil {
		return f.getPlanningFn(ctx, planningID)
	}
	return store.Planning{}, sql.ErrNoRows
}
func (f *fakeStore) ListPlannings(context.Context, string) ([]store.Planning, error) {
	return nil, nil
}
func (f *fakeStore) AddStakeholder(context.Context, string, string) error    { return nil }
func (f *fakeStore) RemoveStakeholder(context.Context, string, string) error { return nil }
func (f *fakeStore) ListStakeholders(context.Context, string) ([]store.Stakeholder, error) {
	return nil, nil
}
func (f *fakeStore) IsStakeholder(ctx context.Context, planningID, userID string) (bool, error) {
	if f.isStakeholderFn != nil {
		return f.isStakeholderFn(ctx, planningID, userID)
	}
	return false, nil
}
func (f *fakeStore) AttachFeature(ctx context.Context, planningID, featureID string) (bool, error) {
	if f.attachFeatureFn != nil {
		return f.attachFeatureFn(ctx, planningID, featureID)
	}
	return true, nil
}
func (f *fakeStore) DetachFeature(context.Context, string, string) error { return nil }
func (f *fakeStore) ListPlanningFeatures(ctx context.Context, planningID string) ([]store.Feature, error) {
	if f.listPlanningFeaturesFn != nil {
		return f.listPlanningFeaturesFn(ctx, planningID)
	}
	return nil, nil
}
func (f *fakeStore) InsertFeature(ctx context.Context, feature store.Feature) error {
	if f.insertFeatureFn != nil {
		return f.insertFeatureFn(ctx, feature)
	}
	return nil
}
func (f *fakeStore) GetFeature(ctx context.Context, featureID string) (store.Feature, error) {
	if f.getFeatureFn != nil {
		return f.getFeatureFn(ctx, featureID)
	}
	return store.Feature{}, sql.ErrNoRows
}
func (f *fakeStore) ListFeatures(context.Context, string) ([]store.Feature, error) {
	return nil, nil
}
func (f *fakeStore) InsertFeatureDependency(context.Context, store.FeatureDependency) error {
	return nil
}
func (f *fakeStore) ListFeatureDependencies(context.Context, string) ([]store.FeatureDependency, error) {
	return nil, nil
}
func (f *fakeStore) InsertCommitment(ctx context.Context, commitment store.Commitment) error {
	if f.insertCommitmentFn != nil {
		return f.insertCommitmentFn(ctx, commitment)
	}
	return nil
}
func (f *fakeStore) GetCommitment(ctx context.Context, commitmentID string) (store.Commitment, error) {
	if f.getCommitmentFn != nil {
		return f.getCommitmentFn(ctx, commitmentID)
	}
	return store.Commitment{}, sql.ErrNoRows
}
func (f *fakeStore) ListCommitments(context.Context, string) ([]store.Commitment, error) {
	return nil, nil
}
func (f *fakeStore) DeleteCommitment(ctx context.Context, commitmentID string) (bool, error) {
	if f.deleteCommitmentFn != nil {
		return f.deleteCommitmentFn(ctx, commitmentID)
	}
	return true, nil
}
func (f *fakeStore) InsertComponent(context.Context, store.EstimationComponent) error { return nil }
func (f *fakeStore) GetComponent(ctx context.Context, componentID string) (store.EstimationComponent, error) {
	if f.getComponentFn != nil {
		return f.getComponentFn(ctx, componentID)
	}
	return store.EstimationComponent{ID: componentID}, nil
}
func (f *fakeStore) ListComponents(ctx context.Context, featureID string) ([]store.EstimationComponent, error) {
	if f.listComponentsFn != nil {
		return f.listComponentsFn(ctx, featureID)
	}
	return nil, nil
}
func (f *fakeStore) SetComponentArchived(context.Context, string, bool) (bool, error) {
	return true, nil
}
func (f *fakeStore) InsertEstimation(ctx context.Context, estimation store.Estimation) error {
	if f.insertEstimationFn != nil {
		return f.insertEstimationFn(ctx, estimation)
	}
	return nil
}
func (f *fakeStore) GetEstimation(ctx context.Context, estimationID string) (store.Estimation, error) {
	if f.getEstimationFn != nil {
		return f.getEstimationFn(ctx, estimationID)
	}
	return store.Estimation{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateEstimation(ctx context.Context, estimation store.Estimation, history []store.EstimationHistoryEntry) error {
	if f.updateEstimationFn != nil {
		return f.updateEstimationFn(ctx, estimation, history)
	}
	return nil
}
func (f *fakeStore) ListEstimations(context.Context, string) ([]store.Estimation, error) {
	return nil, nil
}
func (f *fakeStore) ListFeatureEstimations(ctx context.Context, featureID string) ([]store.Estimation, error) {
	if f.listFeatureEstimationsFn != nil {
		return f.listFeatureEstimationsFn(ctx, featureID)
	}
	return nil, nil
}
func (f *fakeStore) ListEstimationHistory(context.Context, string) ([]store.EstimationHistoryEntry, error) {
	return nil, nil
}
func (f *fakeStore) UpsertVote(ctx context.Context, vote store.VoteRow) error {
	if f.upsertVoteFn != nil {
		return f.upsertVoteFn(ctx, vote)
	}
	return nil
}
func (f *fakeStore) ListVotes(ctx context.Context, planningID, featureID string) ([]store.VoteRow, error) {
	if f.listVotesFn != nil {
		return f.listVotesFn(ctx, planningID, featureID)
	}
	return nil, nil
}
func (f *fakeStore) PlanningCreator(ctx context.Context, planningID string) (string, error) {
	if f.planningCreatorFn != nil {
		return f.planningCreatorFn(ctx, planningID)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) PlanningFeatureIDs(ctx context.Context, planningID string) ([]string, error) {
	if f.planningFeatureIDsFn != nil {
		return f.planningFeatureIDsFn(ctx, planningID)
	}
	return nil, nil
}
func (f *fakeStore) VoteValues(ctx context.Context, planningID, featureID string, voteType votes.Type, excludeUserID string) ([]float64, error) {
	if f.voteValuesFn != nil {
		return f.voteValuesFn(ctx, planningID, featureID, voteType, excludeUserID)
	}
	return nil, nil
}
func (f *fakeStore) UpsertCreatorVotes(ctx context.Context, derived []votes.Vote) error {
	if f.upsertCreatorVotesFn != nil {
		return f.upsertCreatorVotesFn(ctx, derived)
	}
	return nil
}
func (f *fakeStore) CreatorRatedTypeCounts(ctx context.Context, planningID, creatorID string) (map[string]int, error) {
	if f.creatorRatedTypeCountsFn != nil {
		return f.creatorRatedTypeCountsFn(ctx, planningID, creatorID)
	}
	return nil, nil
}
func (f *fakeStore) EntityStatus(ctx context.Context, ref workflow.EntityRef) (string, error) {
	if f.entityStatusFn != nil {
		return f.entityStatusFn(ctx, ref)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) ApplyTransition(ctx context.Context, ref workflow.EntityRef, fromStatus, toStatus string, changedAt time.Time) error {
	if f.applyTransitionFn != nil {
		return f.applyTransitionFn(ctx, ref, fromStatus, toStatus, changedAt)
	}
	return nil
}
func (f *fakeStore) ListStatusHistory(ctx context.Context, kind, entityID string) ([]store.StatusHistoryEntry, error) {
	if f.listStatusHistoryFn != nil {
		return f.listStatusHistoryFn(ctx, kind, entityID)
	}
	return nil, nil
}
func (f *fakeStore) FeatureStatusOccupancy(context.Context, string, time.Time) ([]store.OccupancyBucket, error) {
	return nil, nil
}
func (f *fakeStore) SummaryCounts(ctx context.Context) (int, int, int, error) {
	if f.summaryCountsFn != nil {
		return f.summaryCountsFn(ctx)
	}
	return 0, 0, 0, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fs *fakeStore) *Service {
	svc := &Service{
		cfg:      config.Config{JWTSecret: "test-secret", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		store:    fs,
		sessions: fs,
		engine:   workflow.New(fs),
		agg:      votes.New(fs),
		version:  dataver.NewCounter(nil),
	}
	svc.export = export.NewService(&reportStore{svc: svc})
	return svc
}

func TestSubmitVoteRejectsPlanningCreator(t *testing.T) {
	fs := &fakeStore{
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, CreatedBy: "usr_franzi", OwnerID: "usr_franzi"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitVote(context.Background(), Session{UserID: "usr_franzi"}, "pln_1", SubmitVoteInput{
		FeatureID: "fea_1",
		VoteType:  "BUSINESS_VALUE",
		Value:     5,
	})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "CREATOR_VOTE_DERIVED" {
		t.Fatalf("expected CREATOR_VOTE_DERIVED, got %s", domainErr.Code)
	}
	if domainErr.Status != 422 {
		t.Fatalf("expected status 422, got %d", domainErr.Status)
	}
}

func TestSubmitVoteDerivesCreatorVote(t *testing.T) {
	var derived []votes.Vote
	fs := &fakeStore{
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, CreatedBy: "usr_franzi", OwnerID: "usr_franzi"}, nil
		},
		isStakeholderFn: func(context.Context, string, string) (bool, error) { return true, nil },
		planningFeatureIDsFn: func(context.Context, string) ([]string, error) {
			return []string{"fea_1"}, nil
		},
		planningCreatorFn: func(context.Context, string) (string, error) { return "usr_franzi", nil },
		voteValuesFn: func(_ context.Context, _, featureID string, voteType votes.Type, excludeUserID string) ([]float64, error) {
			if excludeUserID != "usr_franzi" {
				t.Fatalf("expected creator excluded from inputs, got %q", excludeUserID)
			}
			if featureID == "fea_1" && voteType == votes.BusinessValue {
				return []float64{3, 5}, nil
			}
			return nil, nil
		},
		upsertCreatorVotesFn: func(_ context.Context, batch []votes.Vote) error {
			derived = append(derived, batch...)
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitVote(context.Background(), Session{UserID: "usr_tobi"}, "pln_1", SubmitVoteInput{
		FeatureID: "fea_1",
		VoteType:  "BUSINESS_VALUE",
		Value:     5,
	})
	if err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}

	if len(derived) != 1 {
		t.Fatalf("expected 1 derived vote, got %d", len(derived))
	}
	if derived[0].UserID != "usr_franzi" {
		t.Fatalf("expected derived vote for creator, got %s", derived[0].UserID)
	}
	if derived[0].Value != 4 {
		t.Fatalf("expected ceil(mean(3,5)) = 4, got %v", derived[0].Value)
	}
}

func TestSubmitVoteRejectsUnknownType(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SubmitVote(context.Background(), Session{UserID: "usr_tobi"}, "pln_1", SubmitVoteInput{
		FeatureID: "fea_1",
		VoteType:  "EFFORT",
		Value:     3,
	})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestTransitionInvalidRequestMapsToDomainError(t *testing.T) {
	applied := 0
	fs := &fakeStore{
		entityStatusFn: func(_ context.Context, ref workflow.EntityRef) (string, error) {
			return status.FeatureApproved, nil
		},
		applyTransitionFn: func(context.Context, workflow.EntityRef, string, string, time.Time) error {
			applied++
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Transition(context.Background(), status.KindFeature, "fea_1", status.FeatureInPlanning)

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %s", domainErr.Code)
	}
	details, ok := domainErr.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", domainErr.Details)
	}
	allowed, ok := details["allowed"].([]string)
	if !ok {
		t.Fatalf("expected allowed list in details, got %T", details["allowed"])
	}
	want := []string{status.FeatureImplemented, status.FeatureRejected, status.FeatureObsolete, status.FeatureArchived, status.FeatureDeleted}
	if len(allowed) != len(want) {
		t.Fatalf("expected %d allowed targets, got %v", len(want), allowed)
	}
	for i := range want {
		if allowed[i] != want[i] {
			t.Fatalf("allowed[%d] = %s, want %s", i, allowed[i], want[i])
		}
	}
	if applied != 0 {
		t.Fatalf("expected no transition applied, got %d", applied)
	}
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	applied := 0
	fs := &fakeStore{
		entityStatusFn: func(context.Context, workflow.EntityRef) (string, error) {
			return status.PlanningInExecution, nil
		},
		applyTransitionFn: func(context.Context, workflow.EntityRef, string, string, time.Time) error {
			applied++
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.Transition(context.Background(), status.KindPlanning, "pln_1", status.PlanningInExecution)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if payload["changed"] != false {
		t.Fatalf("expected changed=false, got %v", payload["changed"])
	}
	if applied != 0 {
		t.Fatalf("expected no store write on no-op, got %d", applied)
	}
}

func TestTransitionReturnsGermanLabel(t *testing.T) {
	fs := &fakeStore{
		entityStatusFn: func(context.Context, workflow.EntityRef) (string, error) {
			return status.CommitmentSuggested, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.Transition(context.Background(), status.KindCommitment, "cmt_1", status.CommitmentAccepted)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	details, ok := payload["statusDetails"].(map[string]any)
	if !ok {
		t.Fatalf("expected statusDetails map, got %T", payload["statusDetails"])
	}
	if details["name"] != "Angenommen" {
		t.Fatalf("expected label Angenommen, got %v", details["name"])
	}
}

func TestUpdateEstimationWritesHistoryPerChangedField(t *testing.T) {
	var gotHistory []store.EstimationHistoryEntry
	fs := &fakeStore{
		getEstimationFn: func(_ context.Context, estimationID string) (store.Estimation, error) {
			return store.Estimation{ID: estimationID, ComponentID: "cmp_1", BestCase: 2, MostLikely: 4, WorstCase: 8, Unit: estimate.UnitDays}, nil
		},
		updateEstimationFn: func(_ context.Context, _ store.Estimation, history []store.EstimationHistoryEntry) error {
			gotHistory = history
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateEstimation(context.Background(), Session{UserID: "usr_franzi"}, "est_1", UpdateEstimationInput{
		BestCase:   3,
		MostLikely: 4,
		WorstCase:  9,
	})
	if err != nil {
		t.Fatalf("UpdateEstimation() error = %v", err)
	}

	if len(gotHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(gotHistory))
	}
	if gotHistory[0].FieldName != estimate.FieldBestCase || gotHistory[0].OldValue != 2 || gotHistory[0].NewValue != 3 {
		t.Fatalf("unexpected first history entry: %+v", gotHistory[0])
	}
	if gotHistory[1].FieldName != estimate.FieldWorstCase || gotHistory[1].OldValue != 8 || gotHistory[1].NewValue != 9 {
		t.Fatalf("unexpected second history entry: %+v", gotHistory[1])
	}
	if gotHistory[0].ChangedBy != "usr_franzi" {
		t.Fatalf("expected changedBy usr_franzi, got %s", gotHistory[0].ChangedBy)
	}
}

func TestUpdateEstimationNoChangeSkipsWrite(t *testing.T) {
	writes := 0
	fs := &fakeStore{
		getEstimationFn: func(_ context.Context, estimationID string) (store.Estimation, error) {
			return store.Estimation{ID: estimationID, BestCase: 2, MostLikely: 4, WorstCase: 8, Unit: estimate.UnitDays}, nil
		},
		updateEstimationFn: func(context.Context, store.Estimation, []store.EstimationHistoryEntry) error {
			writes++
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateEstimation(context.Background(), Session{UserID: "usr_franzi"}, "est_1", UpdateEstimationInput{
		BestCase:   2,
		MostLikely: 4,
		WorstCase:  8,
	})
	if err != nil {
		t.Fatalf("UpdateEstimation() error = %v", err)
	}
	if writes != 0 {
		t.Fatalf("expected no store write for unchanged values, got %d", writes)
	}
}

func TestAttachFeatureRejectsProjectMismatch(t *testing.T) {
	fs := &fakeStore{
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, ProjectID: "prj_a", CreatedBy: "usr_franzi", OwnerID: "usr_franzi"}, nil
		},
		getFeatureFn: func(_ context.Context, featureID string) (store.Feature, error) {
			return store.Feature{ID: featureID, ProjectID: "prj_b"}, nil
		},
		attachFeatureFn: func(context.Context, string, string) (bool, error) { return false, nil },
	}
	svc := newTestService(fs)

	err := svc.AttachFeature(context.Background(), Session{UserID: "usr_franzi"}, "pln_1", "fea_1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "PROJECT_MISMATCH" {
		t.Fatalf("expected PROJECT_MISMATCH, got %s", domainErr.Code)
	}
}

func TestDeleteCommitmentForeignRequiresElevatedRole(t *testing.T) {
	fs := &fakeStore{
		getCommitmentFn: func(_ context.Context, commitmentID string) (store.Commitment, error) {
			return store.Commitment{ID: commitmentID, PlanningID: "pln_1", UserID: "usr_other"}, nil
		},
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, CreatedBy: "usr_franzi", OwnerID: "usr_franzi"}, nil
		},
		isStakeholderFn: func(context.Context, string, string) (bool, error) { return true, nil },
	}
	svc := newTestService(fs)

	err := svc.DeleteCommitment(context.Background(), Session{UserID: "usr_tobi"}, "cmt_1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}
}

func TestDeleteCommitmentOwnAllowedForStakeholder(t *testing.T) {
	deleted := 0
	fs := &fakeStore{
		getCommitmentFn: func(_ context.Context, commitmentID string) (store.Commitment, error) {
			return store.Commitment{ID: commitmentID, PlanningID: "pln_1", UserID: "usr_tobi"}, nil
		},
		deleteCommitmentFn: func(context.Context, string) (bool, error) {
			deleted++
			return true, nil
		},
	}
	svc := newTestService(fs)

	if err := svc.DeleteCommitment(context.Background(), Session{UserID: "usr_tobi"}, "cmt_1"); err != nil {
		t.Fatalf("DeleteCommitment() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 delete, got %d", deleted)
	}
}

func TestCoverageCountsFullyRatedFeatures(t *testing.T) {
	fs := &fakeStore{
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, CreatedBy: "usr_franzi"}, nil
		},
		planningFeatureIDsFn: func(context.Context, string) ([]string, error) {
			return []string{"fea_1", "fea_2", "fea_3"}, nil
		},
		planningCreatorFn: func(context.Context, string) (string, error) { return "usr_franzi", nil },
		creatorRatedTypeCountsFn: func(context.Context, string, string) (map[string]int, error) {
			return map[string]int{"fea_1": 3, "fea_2": 2}, nil
		},
	}
	svc := newTestService(fs)

	coverage, err := svc.Coverage(context.Background(), "pln_1")
	if err != nil {
		t.Fatalf("Coverage() error = %v", err)
	}
	if coverage.Total != 3 || coverage.Rated != 1 || coverage.Open != 2 {
		t.Fatalf("unexpected coverage: %+v", coverage)
	}
}

func TestFeatureEstimateSkipsArchivedComponents(t *testing.T) {
	fs := &fakeStore{
		listComponentsFn: func(context.Context, string) ([]store.EstimationComponent, error) {
			return []store.EstimationComponent{
				{ID: "cmp_1", Name: "Backend"},
				{ID: "cmp_2", Name: "Altlast", Archived: true},
			}, nil
		},
		listFeatureEstimationsFn: func(context.Context, string) ([]store.Estimation, error) {
			return []store.Estimation{
				{ID: "est_1", ComponentID: "cmp_1", BestCase: 2, MostLikely: 4, WorstCase: 8, Unit: estimate.UnitDays, CreatedAt: time.Unix(100, 0)},
				{ID: "est_2", ComponentID: "cmp_2", BestCase: 10, MostLikely: 10, WorstCase: 10, Unit: estimate.UnitDays, CreatedAt: time.Unix(100, 0)},
			}, nil
		},
	}
	svc := newTestService(fs)

	total, err := svc.FeatureEstimate(context.Background(), "fea_1", false)
	if err != nil {
		t.Fatalf("FeatureEstimate() error = %v", err)
	}
	want := (2.0 + 4*4.0 + 8.0) / 6
	if total.Weighted != want {
		t.Fatalf("expected weighted %v, got %v", want, total.Weighted)
	}
	if total.Unit != estimate.UnitDays {
		t.Fatalf("expected unit days, got %s", total.Unit)
	}
}

func TestExportReportOrdersByScore(t *testing.T) {
	fs := &fakeStore{
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, ProjectID: "prj_1", Title: "Q2 Planung", CreatedBy: "usr_franzi"}, nil
		},
		listPlanningFeaturesFn: func(context.Context, string) ([]store.Feature, error) {
			return []store.Feature{
				{ID: "fea_low", Title: "Low", Status: status.FeatureInPlanning},
				{ID: "fea_high", Title: "High", Status: status.FeatureApproved},
			}, nil
		},
		listVotesFn: func(context.Context, string, string) ([]store.VoteRow, error) {
			return []store.VoteRow{
				{UserID: "usr_franzi", FeatureID: "fea_low", VoteType: "BUSINESS_VALUE", Value: 2},
				{UserID: "usr_franzi", FeatureID: "fea_high", VoteType: "BUSINESS_VALUE", Value: 8},
				{UserID: "usr_franzi", FeatureID: "fea_high", VoteType: "TIME_CRITICALITY", Value: 4},
				{UserID: "usr_tobi", FeatureID: "fea_low", VoteType: "BUSINESS_VALUE", Value: 9},
			}, nil
		},
		listComponentsFn: func(context.Context, string) ([]store.EstimationComponent, error) {
			return []store.EstimationComponent{{ID: "cmp_1", Name: "Umsetzung"}}, nil
		},
		listFeatureEstimationsFn: func(context.Context, string) ([]store.Estimation, error) {
			return []store.Estimation{
				{ID: "est_1", ComponentID: "cmp_1", BestCase: 3, MostLikely: 3, WorstCase: 3, Unit: estimate.UnitDays, CreatedAt: time.Unix(100, 0)},
			}, nil
		},
	}
	svc := newTestService(fs)

	report, err := svc.PrioritizationReport(context.Background(), "pln_1")
	if err != nil {
		t.Fatalf("PrioritizationReport() error = %v", err)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report.Rows))
	}
	if report.Rows[0].FeatureID != "fea_high" {
		t.Fatalf("expected fea_high first, got %s", report.Rows[0].FeatureID)
	}
	// (8+4+0)/3 = 4 for the top row; the non-creator vote on fea_low is ignored.
	if report.Rows[0].Score != 4 {
		t.Fatalf("expected score 4, got %v", report.Rows[0].Score)
	}
	if report.Rows[1].StatusLabel != "In Planung" {
		t.Fatalf("expected label In Planung, got %s", report.Rows[1].StatusLabel)
	}
}

func TestCreateCommitmentStartsSuggested(t *testing.T) {
	var inserted store.Commitment
	fs := &fakeStore{
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, CreatedBy: "usr_franzi", OwnerID: "usr_franzi"}, nil
		},
		isStakeholderFn: func(context.Context, string, string) (bool, error) { return true, nil },
		planningFeatureIDsFn: func(context.Context, string) ([]string, error) {
			return []string{"fea_1"}, nil
		},
		insertCommitmentFn: func(_ context.Context, commitment store.Commitment) error {
			inserted = commitment
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateCommitment(context.Background(), Session{UserID: "usr_tobi"}, "pln_1", CreateCommitmentInput{
		FeatureID:      "fea_1",
		CommitmentType: "B",
	})
	if err != nil {
		t.Fatalf("CreateCommitment() error = %v", err)
	}
	if inserted.Status != status.CommitmentSuggested {
		t.Fatalf("expected initial status suggested, got %s", inserted.Status)
	}
	if payload["commitmentType"] != "B" {
		t.Fatalf("expected type B, got %v", payload["commitmentType"])
	}
	details := payload["statusDetails"].(map[string]any)
	if details["name"] != "Vorgeschlagen" {
		t.Fatalf("expected label Vorgeschlagen, got %v", details["name"])
	}
}

func TestCreateCommitmentRejectsUnknownType(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateCommitment(context.Background(), Session{UserID: "usr_tobi"}, "pln_1", CreateCommitmentInput{
		FeatureID:      "fea_1",
		CommitmentType: "E",
	})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestSummaryCounts(t *testing.T) {
	fs := &fakeStore{
		summaryCountsFn: func(context.Context) (int, int, int, error) { return 12, 2, 5, nil },
	}
	svc := newTestService(fs)

	payload, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if payload["features"] != 12 || payload["activePlannings"] != 2 || payload["completedPlannings"] != 5 {
		t.Fatalf("unexpected summary: %v", payload)
	}
}
