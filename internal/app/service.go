package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"planwise/api/internal/auth"
	"planwise/api/internal/authpw"
	"planwise/api/internal/config"
	"planwise/api/internal/dataver"
	"planwise/api/internal/estimate"
	"planwise/api/internal/export"
	"planwise/api/internal/rbac"
	"planwise/api/internal/search"
	"planwise/api/internal/status"
	"planwise/api/internal/store"
	"planwise/api/internal/util"
	"planwise/api/internal/votes"
	"planwise/api/internal/workflow"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreatePlanningInput struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	DeputyID  string `json:"deputyId"`
}

type CreateFeatureInput struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
}

type CreateDependencyInput struct {
	ToFeature      string `json:"toFeature"`
	DependencyType string `json:"dependencyType"`
}

type CreateCommitmentInput struct {
	FeatureID      string `json:"featureId"`
	CommitmentType string `json:"commitmentType"`
}

type CreateComponentInput struct {
	Name string `json:"name"`
}

type CreateEstimationInput struct {
	BestCase   float64 `json:"bestCase"`
	MostLikely float64 `json:"mostLikely"`
	WorstCase  float64 `json:"worstCase"`
	Unit       string  `json:"unit"`
}

type UpdateEstimationInput struct {
	BestCase   float64 `json:"bestCase"`
	MostLikely float64 `json:"mostLikely"`
	WorstCase  float64 `json:"worstCase"`
}

type SubmitVoteInput struct {
	FeatureID string  `json:"featureId"`
	VoteType  string  `json:"voteType"`
	Value     float64 `json:"value"`
}

type TransitionInput struct {
	Status string `json:"status"`
}

// Commitment types are the priority/urgency quadrant labels A through D,
// orthogonal to the commitment's workflow status.
var allowedCommitmentTypes = map[string]struct{}{
	"A": {},
	"B": {},
	"C": {},
	"D": {},
}

var allowedEstimationUnits = map[string]struct{}{
	estimate.UnitHours:       {},
	estimate.UnitDays:        {},
	estimate.UnitStoryPoints: {},
}

var allowedDependencyTypes = map[string]struct{}{
	store.DependencyEnables:  {},
	store.DependencyBlocks:   {},
	store.DependencyRequires: {},
	store.DependencyReplaces: {},
}

type dataStore interface {
	// users and sessions
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	// projects
	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error

	// plannings
	InsertPlanning(context.Context, store.Planning) error
	GetPlanning(context.Context, string) (store.Planning, error)
	ListPlannings(context.Context, string) ([]store.Planning, error)
	AddStakeholder(context.Context, string, string) error
	RemoveStakeholder(context.Context, string, string) error
	ListStakeholders(context.Context, string) ([]store.Stakeholder, error)
	IsStakeholder(context.Context, string, string) (bool, error)
	AttachFeature(context.Context, string, string) (bool, error)
	DetachFeature(context.Context, string, string) error
	ListPlanningFeatures(context.Context, string) ([]store.Feature, error)

	// features
	InsertFeature(context.Context, store.Feature) error
	GetFeature(context.Context, string) (store.Feature, error)
	ListFeatures(context.Context, string) ([]store.Feature, error)
	InsertFeatureDependency(context.Context, store.FeatureDependency) error
	ListFeatureDependencies(context.Context, string) ([]store.FeatureDependency, error)

	// commitments
	InsertCommitment(context.Context, store.Commitment) error
	GetCommitment(context.Context, string) (store.Commitment, error)
	ListCommitments(context.Context, string) ([]store.Commitment, error)
	DeleteCommitment(context.Context, string) (bool, error)

	// estimation
	InsertComponent(context.Context, store.EstimationComponent) error
	GetComponent(context.Context, string) (store.EstimationComponent, error)
	ListComponents(context.Context, string) ([]store.EstimationComponent, error)
	SetComponentArchived(context.Context, string, bool) (bool, error)
	InsertEstimation(context.Context, store.Estimation) error
	GetEstimation(context.Context, string) (store.Estimation, error)
	UpdateEstimation(context.Context, store.Estimation, []store.EstimationHistoryEntry) error
	ListEstimations(context.Context, string) ([]store.Estimation, error)
	ListFeatureEstimations(context.Context, string) ([]store.Estimation, error)
	ListEstimationHistory(context.Context, string) ([]store.EstimationHistoryEntry, error)

	// votes
	UpsertVote(context.Context, store.VoteRow) error
	ListVotes(context.Context, string, string) ([]store.VoteRow, error)
	PlanningCreator(context.Context, string) (string, error)
	PlanningFeatureIDs(context.Context, string) ([]string, error)
	VoteValues(context.Context, string, string, votes.Type, string) ([]float64, error)
	UpsertCreatorVotes(context.Context, []votes.Vote) error
	CreatorRatedTypeCounts(context.Context, string, string) (map[string]int, error)

	// workflow and history
	EntityStatus(context.Context, workflow.EntityRef) (string, error)
	ApplyTransition(context.Context, workflow.EntityRef, string, string, time.Time) error
	ListStatusHistory(context.Context, string, string) ([]store.StatusHistoryEntry, error)
	FeatureStatusOccupancy(context.Context, string, time.Time) ([]store.OccupancyBucket, error)

	SummaryCounts(context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions; Redis in production, Postgres as
// fallback when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	engine   *workflow.Engine
	agg      *votes.Aggregator
	search   *search.Service
	export   *export.Service
	version  *dataver.Counter
	authPW   *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		engine:   workflow.New(dataStore),
		agg:      votes.New(dataStore),
		version:  dataver.NewCounter(nil),
	}
	s.export = export.NewService(&reportStore{svc: s})
	return s
}

// WithSessions swaps in an external refresh session store.
func (s *Service) WithSessions(sessions sessionStore) *Service {
	s.sessions = sessions
	return s
}

// WithSearch attaches the search facade.
func (s *Service) WithSearch(searchSvc *search.Service) *Service {
	s.search = searchSvc
	return s
}

// WithDataVersion attaches the shared data-version counter.
func (s *Service) WithDataVersion(counter *dataver.Counter) *Service {
	s.version = counter
	return s
}

// WithAuthPassword attaches email/password authentication.
func (s *Service) WithAuthPassword(authSvc *authpw.Service) *Service {
	s.authPW = authSvc
	return s
}

// AuthPasswordService returns the password auth service, or nil when not configured.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPW
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds a demo project with a running planning when the database
// is empty.
func (s *Service) Bootstrap(ctx context.Context) error {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) > 0 {
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Franziska")
	if err != nil {
		return err
	}
	stakeholder, err := s.store.EnsureUserByName(ctx, "Tobias")
	if err != nil {
		return err
	}

	project := store.Project{ID: util.NewID("prj"), Name: "Atlas Platform", Slug: "atlas"}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return err
	}

	featureSeeds := []string{
		"Mandantenfähige Anmeldung",
		"Priorisierungs-Dashboard",
		"CSV-Export der Roadmap",
	}
	featureIDs := make([]string, 0, len(featureSeeds))
	for _, title := range featureSeeds {
		feature := store.Feature{
			ID:        util.NewID("fea"),
			ProjectID: project.ID,
			Title:     title,
			Status:    status.Default(status.KindFeature),
			CreatedBy: owner.ID,
		}
		if err := s.store.InsertFeature(ctx, feature); err != nil {
			return err
		}
		featureIDs = append(featureIDs, feature.ID)
	}

	planning := store.Planning{
		ID:        util.NewID("pln"),
		ProjectID: project.ID,
		Title:     "Q2 Planung",
		Status:    status.Default(status.KindPlanning),
		CreatedBy: owner.ID,
		OwnerID:   owner.ID,
	}
	if err := s.store.InsertPlanning(ctx, planning); err != nil {
		return err
	}
	if err := s.store.AddStakeholder(ctx, planning.ID, stakeholder.ID); err != nil {
		return err
	}
	for _, featureID := range featureIDs {
		if _, err := s.store.AttachFeature(ctx, planning.ID, featureID); err != nil {
			return err
		}
	}
	return nil
}

// ---- sessions ----

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

// CreateSession issues tokens for a user authenticated by other means.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	if user.DisplayName == "" {
		if loaded, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = loaded
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// PlanningRole derives the session user's effective role on a planning.
func (s *Service) PlanningRole(ctx context.Context, planning store.Planning, userID string) (rbac.Role, error) {
	if userID == planning.OwnerID || userID == planning.CreatedBy {
		return rbac.RoleOwner, nil
	}
	if planning.DeputyID != "" && userID == planning.DeputyID {
		return rbac.RoleDeputy, nil
	}
	member, err := s.store.IsStakeholder(ctx, planning.ID, userID)
	if err != nil {
		return rbac.RoleViewer, err
	}
	return rbac.PlanningRole(planning.OwnerID, planning.DeputyID, userID, member), nil
}

func (s *Service) bump(ctx context.Context) {
	if s.version != nil {
		s.version.Bump(ctx)
	}
}

// DataVersion returns the current change counter value.
func (s *Service) DataVersion(ctx context.Context) (int64, error) {
	if s.version == nil {
		return 0, nil
	}
	return s.version.Value(ctx)
}

// ---- projects ----

func (s *Service) ListProjects(ctx context.Context) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, map[string]any{
			"id":   project.ID,
			"name": project.Name,
			"slug": project.Slug,
		})
	}
	return items, nil
}

func (s *Service) CreateProject(ctx context.Context, name, slug string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		slug = strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	}
	project := store.Project{ID: util.NewID("prj"), Name: name, Slug: slug}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	s.bump(ctx)
	return map[string]any{"id": project.ID, "name": project.Name, "slug": project.Slug}, nil
}

// ---- plannings ----

func (s *Service) CreatePlanning(ctx context.Context, session Session, input CreatePlanningInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if _, err := s.store.GetProject(ctx, input.ProjectID); err != nil {
		return nil, err
	}

	planning := store.Planning{
		ID:        util.NewID("pln"),
		ProjectID: input.ProjectID,
		Title:     title,
		Status:    status.Default(status.KindPlanning),
		CreatedBy: session.UserID,
		OwnerID:   session.UserID,
		DeputyID:  strings.TrimSpace(input.DeputyID),
	}
	if err := s.store.InsertPlanning(ctx, planning); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexPlanning(search.PlanningRecord{ID: planning.ID, Title: planning.Title, ProjectID: planning.ProjectID, Status: planning.Status})
	}
	s.bump(ctx)
	return s.planningPayload(planning), nil
}

func (s *Service) ListPlannings(ctx context.Context, projectID string) ([]map[string]any, error) {
	plannings, err := s.store.ListPlannings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(plannings))
	for _, planning := range plannings {
		items = append(items, s.planningPayload(planning))
	}
	return items, nil
}

func (s *Service) planningPayload(planning store.Planning) map[string]any {
	detail := status.DetailsOr(status.KindPlanning, planning.Status, planning.Status)
	return map[string]any{
		"id":        planning.ID,
		"projectId": planning.ProjectID,
		"title":     planning.Title,
		"status":    planning.Status,
		"statusDetails": map[string]any{
			"value": detail.Value,
			"name":  detail.Name,
			"color": detail.Color,
		},
		"createdBy": planning.CreatedBy,
		"ownerId":   planning.OwnerID,
		"deputyId":  planning.DeputyID,
	}
}

func (s *Service) GetPlanningDetail(ctx context.Context, planningID string) (map[string]any, error) {
	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return nil, err
	}
	stakeholders, err := s.store.ListStakeholders(ctx, planningID)
	if err != nil {
		return nil, err
	}
	features, err := s.store.ListPlanningFeatures(ctx, planningID)
	if err != nil {
		return nil, err
	}
	coverage, err := s.agg.Coverage(ctx, planningID)
	if err != nil {
		return nil, err
	}

	stakeholderItems := make([]map[string]any, 0, len(stakeholders))
	for _, item := range stakeholders {
		stakeholderItems = append(stakeholderItems, map[string]any{
			"userId":      item.UserID,
			"displayName": item.DisplayName,
		})
	}
	featureItems := make([]map[string]any, 0, len(features))
	for _, feature := range features {
		featureItems = append(featureItems, s.featurePayload(feature))
	}

	payload := s.planningPayload(planning)
	payload["stakeholders"] = stakeholderItems
	payload["features"] = featureItems
	payload["coverage"] = coverage
	return payload, nil
}

func (s *Service) AddStakeholder(ctx context.Context, session Session, planningID, userName string) (map[string]any, error) {
	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionManage); err != nil {
		return nil, err
	}
	user, err := s.store.EnsureUserByName(ctx, strings.TrimSpace(userName))
	if err != nil {
		return nil, err
	}
	if err := s.store.AddStakeholder(ctx, planningID, user.ID); err != nil {
		return nil, err
	}
	s.bump(ctx)
	return map[string]any{"userId": user.ID, "displayName": user.DisplayName}, nil
}

func (s *Service) RemoveStakeholder(ctx context.Context, session Session, planningID, userID string) error {
	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return err
	}
	if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.store.RemoveStakeholder(ctx, planningID, userID); err != nil {
		return err
	}
	s.bump(ctx)
	return nil
}

func (s *Service) AttachFeature(ctx context.Context, session Session, planningID, featureID string) error {
	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return err
	}
	if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionManage); err != nil {
		return err
	}
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return err
	}
	attached, err := s.store.AttachFeature(ctx, planningID, featureID)
	if err != nil {
		return err
	}
	if !attached {
		if feature.ProjectID != planning.ProjectID {
			return domainError(http.StatusUnprocessableEntity, "PROJECT_MISMATCH", "feature belongs to a different project", map[string]any{
				"featureProjectId":  feature.ProjectID,
				"planningProjectId": planning.ProjectID,
			})
		}
		// Already attached; idempotent.
		return nil
	}
	s.bump(ctx)
	return nil
}

func (s *Service) DetachFeature(ctx context.Context, session Session, planningID, featureID string) error {
	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return err
	}
	if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.store.DetachFeature(ctx, planningID, featureID); err != nil {
		return err
	}
	s.bump(ctx)
	return nil
}

func (s *Service) requirePlanningAction(ctx context.Context, planning store.Planning, session Session, action rbac.Action) error {
	role, err := s.PlanningRole(ctx, planning, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// ---- features ----

func (s *Service) CreateFeature(ctx context.Context, session Session, input CreateFeatureInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if _, err := s.store.GetProject(ctx, input.ProjectID); err != nil {
		return nil, err
	}

	feature := store.Feature{
		ID:        util.NewID("fea"),
		ProjectID: input.ProjectID,
		Title:     title,
		Status:    status.Default(status.KindFeature),
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertFeature(ctx, feature); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexFeature(search.FeatureRecord{ID: feature.ID, Title: feature.Title, ProjectID: feature.ProjectID, Status: feature.Status})
	}
	s.bump(ctx)
	return s.featurePayload(feature), nil
}

func (s *Service) ListFeatures(ctx context.Context, projectID string) ([]map[string]any, error) {
	features, err := s.store.ListFeatures(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(features))
	for _, feature := range features {
		items = append(items, s.featurePayload(feature))
	}
	return items, nil
}

func (s *Service) featurePayload(feature store.Feature) map[string]any {
	detail := status.DetailsOr(status.KindFeature, feature.Status, feature.Status)
	return map[string]any{
		"id":        feature.ID,
		"projectId": feature.ProjectID,
		"title":     feature.Title,
		"status":    feature.Status,
		"statusDetails": map[string]any{
			"value": detail.Value,
			"name":  detail.Name,
			"color": detail.Color,
		},
		"createdBy": feature.CreatedBy,
	}
}

func (s *Service) GetFeatureDetail(ctx context.Context, featureID string) (map[string]any, error) {
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return nil, err
	}
	total, err := s.FeatureEstimate(ctx, featureID, false)
	if err != nil {
		return nil, err
	}
	dependencies, err := s.store.ListFeatureDependencies(ctx, featureID)
	if err != nil {
		return nil, err
	}

	dependencyItems := make([]map[string]any, 0, len(dependencies))
	for _, dep := range dependencies {
		dependencyItems = append(dependencyItems, map[string]any{
			"id":             dep.ID,
			"fromFeature":    dep.FromFeature,
			"toFeature":      dep.ToFeature,
			"dependencyType": dep.DependencyType,
		})
	}

	payload := s.featurePayload(feature)
	payload["estimate"] = total
	payload["dependencies"] = dependencyItems
	return payload, nil
}

func (s *Service) AddFeatureDependency(ctx context.Context, fromFeature string, input CreateDependencyInput) (map[string]any, error) {
	if _, ok := allowedDependencyTypes[input.DependencyType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown dependency type", map[string]any{"dependencyType": input.DependencyType})
	}
	if fromFeature == input.ToFeature {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "feature cannot depend on itself", nil)
	}
	if _, err := s.store.GetFeature(ctx, fromFeature); err != nil {
		return nil, err
	}
	if _, err := s.store.GetFeature(ctx, input.ToFeature); err != nil {
		return nil, err
	}

	dep := store.FeatureDependency{
		ID:             util.NewID("dep"),
		FromFeature:    fromFeature,
		ToFeature:      input.ToFeature,
		DependencyType: input.DependencyType,
	}
	if err := s.store.InsertFeatureDependency(ctx, dep); err != nil {
		return nil, err
	}
	s.bump(ctx)
	return map[string]any{
		"id":             dep.ID,
		"fromFeature":    dep.FromFeature,
		"toFeature":      dep.ToFeature,
		"dependencyType": dep.DependencyType,
	}, nil
}

// ---- workflow ----

func parseEntityKind(raw string) (status.Kind, bool) {
	switch status.Kind(raw) {
	case status.KindFeature, status.KindPlanning, status.KindCommitment:
		return status.Kind(raw), true
	default:
		return "", false
	}
}

// Transition moves an entity to the requested status. Illegal requests map
// to a 422 with the allowed targets in the details.
func (s *Service) Transition(ctx context.Context, kind status.Kind, entityID, requested string) (map[string]any, error) {
	result, err := s.engine.Transition(ctx, workflow.EntityRef{Kind: kind, ID: entityID}, requested)
	if err != nil {
		var invalid *workflow.InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil, domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION", "status transition not allowed", map[string]any{
				"current":   invalid.From,
				"requested": invalid.Requested,
				"allowed":   invalid.Allowed,
			})
		}
		return nil, err
	}

	if kind == status.KindFeature && result.Changed && s.search != nil {
		if feature, err := s.store.GetFeature(ctx, entityID); err == nil {
			s.search.IndexFeature(search.FeatureRecord{ID: feature.ID, Title: feature.Title, ProjectID: feature.ProjectID, Status: feature.Status})
		}
	}
	if result.Changed {
		s.bump(ctx)
	}

	detail := status.DetailsOr(kind, result.To, result.To)
	return map[string]any{
		"from":    result.From,
		"to":      result.To,
		"changed": result.Changed,
		"statusDetails": map[string]any{
			"value": detail.Value,
			"name":  detail.Name,
			"color": detail.Color,
		},
	}, nil
}

// StatusHistory lists an entity's transitions oldest first, with labels.
func (s *Service) StatusHistory(ctx context.Context, kind status.Kind, entityID string) ([]map[string]any, error) {
	entries, err := s.store.ListStatusHistory(ctx, string(kind), entityID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"fromStatus": entry.FromStatus,
			"toStatus":   entry.ToStatus,
			"changedAt":  entry.ChangedAt,
		}
		if detail, ok := status.Details(kind, entry.ToStatus); ok {
			item["toStatusName"] = detail.Name
		}
		items = append(items, item)
	}
	return items, nil
}

// StatusCatalog lists the known statuses of a kind in presentation order.
func (s *Service) StatusCatalog(kind status.Kind) []map[string]any {
	values := status.Values(kind)
	items := make([]map[string]any, 0, len(values))
	for _, value := range values {
		detail, _ := status.Details(kind, value)
		items = append(items, map[string]any{
			"value":   detail.Value,
			"name":    detail.Name,
			"color":   detail.Color,
			"targets": status.TransitionTargets(kind, value),
		})
	}
	return items
}

// Occupancy reconstructs per-status feature counts at end of the given day.
func (s *Service) Occupancy(ctx context.Context, projectID string, asOf time.Time) ([]map[string]any, error) {
	buckets, err := s.store.FeatureStatusOccupancy(ctx, projectID, asOf)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(buckets))
	for _, bucket := range buckets {
		detail := status.DetailsOr(status.KindFeature, bucket.Status, bucket.Status)
		items = append(items, map[string]any{
			"status": bucket.Status,
			"name":   detail.Name,
			"color":  detail.Color,
			"count":  bucket.Count,
		})
	}
	return items, nil
}

// ---- commitments ----

func (s *Service) CreateCommitment(ctx context.Context, session Session, planningID string, input CreateCommitmentInput) (map[string]any, error) {
	if _, ok := allowedCommitmentTypes[input.CommitmentType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown commitment type", map[string]any{"commitmentType": input.CommitmentType})
	}
	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionCommit); err != nil {
		return nil, err
	}
	if err := s.requireFeatureInPlanning(ctx, planningID, input.FeatureID); err != nil {
		return nil, err
	}

	commitment := store.Commitment{
		ID:             util.NewID("cmt"),
		PlanningID:     planningID,
		FeatureID:      input.FeatureID,
		UserID:         session.UserID,
		CommitmentType: input.CommitmentType,
		Status:         status.Default(status.KindCommitment),
	}
	if err := s.store.InsertCommitment(ctx, commitment); err != nil {
		return nil, err
	}
	s.bump(ctx)
	return s.commitmentPayload(commitment), nil
}

func (s *Service) ListCommitments(ctx context.Context, planningID string) ([]map[string]any, error) {
	commitments, err := s.store.ListCommitments(ctx, planningID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commitments))
	for _, commitment := range commitments {
		items = append(items, s.commitmentPayload(commitment))
	}
	return items, nil
}

func (s *Service) commitmentPayload(commitment store.Commitment) map[string]any {
	detail := status.DetailsOr(status.KindCommitment, commitment.Status, commitment.Status)
	return map[string]any{
		"id":             commitment.ID,
		"planningId":     commitment.PlanningID,
		"featureId":      commitment.FeatureID,
		"userId":         commitment.UserID,
		"commitmentType": commitment.CommitmentType,
		"status":         commitment.Status,
		"statusDetails": map[string]any{
			"value": detail.Value,
			"name":  detail.Name,
			"color": detail.Color,
		},
	}
}

// DeleteCommitment removes a commitment permanently. Owners and deputies can
// delete any commitment of the planning; other users only their own.
func (s *Service) DeleteCommitment(ctx context.Context, session Session, commitmentID string) error {
	commitment, err := s.store.GetCommitment(ctx, commitmentID)
	if err != nil {
		return err
	}
	if commitment.UserID != session.UserID {
		planning, err := s.store.GetPlanning(ctx, commitment.PlanningID)
		if err != nil {
			return err
		}
		if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionTransition); err != nil {
			return err
		}
	}
	deleted, err := s.store.DeleteCommitment(ctx, commitmentID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	s.bump(ctx)
	return nil
}

func (s *Service) requireFeatureInPlanning(ctx context.Context, planningID, featureID string) error {
	featureIDs, err := s.store.PlanningFeatureIDs(ctx, planningID)
	if err != nil {
		return err
	}
	for _, id := range featureIDs {
		if id == featureID {
			return nil
		}
	}
	return domainError(http.StatusUnprocessableEntity, "FEATURE_NOT_IN_PLANNING", "feature is not part of this planning", map[string]any{"featureId": featureID})
}

// ---- estimation ----

func (s *Service) CreateComponent(ctx context.Context, featureID string, input CreateComponentInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, err := s.store.GetFeature(ctx, featureID); err != nil {
		return nil, err
	}

	component := store.EstimationComponent{ID: util.NewID("cmp"), FeatureID: featureID, Name: name}
	if err := s.store.InsertComponent(ctx, component); err != nil {
		return nil, err
	}
	s.bump(ctx)
	return map[string]any{"id": component.ID, "featureId": component.FeatureID, "name": component.Name, "archived": false}, nil
}

func (s *Service) SetComponentArchived(ctx context.Context, componentID string, archived bool) error {
	updated, err := s.store.SetComponentArchived(ctx, componentID, archived)
	if err != nil {
		return err
	}
	if !updated {
		return sql.ErrNoRows
	}
	s.bump(ctx)
	return nil
}

func validateEstimateValues(best, likely, worst float64) error {
	if best < 0 || likely < 0 || worst < 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "estimate values must not be negative", map[string]any{
			"bestCase": best, "mostLikely": likely, "worstCase": worst,
		})
	}
	return nil
}

func (s *Service) CreateEstimation(ctx context.Context, session Session, componentID string, input CreateEstimationInput) (map[string]any, error) {
	if err := validateEstimateValues(input.BestCase, input.MostLikely, input.WorstCase); err != nil {
		return nil, err
	}
	if _, ok := allowedEstimationUnits[input.Unit]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown estimation unit", map[string]any{"unit": input.Unit})
	}
	if _, err := s.store.GetComponent(ctx, componentID); err != nil {
		return nil, err
	}
	if input.BestCase > input.MostLikely || input.MostLikely > input.WorstCase {
		log.Printf("estimate: component %s received out-of-order values best=%v likely=%v worst=%v", componentID, input.BestCase, input.MostLikely, input.WorstCase)
	}

	estimation := store.Estimation{
		ID:          util.NewID("est"),
		ComponentID: componentID,
		BestCase:    input.BestCase,
		MostLikely:  input.MostLikely,
		WorstCase:   input.WorstCase,
		Unit:        input.Unit,
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertEstimation(ctx, estimation); err != nil {
		return nil, err
	}
	s.bump(ctx)
	return s.estimationPayload(estimation), nil
}

func (s *Service) estimationPayload(estimation store.Estimation) map[string]any {
	return map[string]any{
		"id":          estimation.ID,
		"componentId": estimation.ComponentID,
		"bestCase":    estimation.BestCase,
		"mostLikely":  estimation.MostLikely,
		"worstCase":   estimation.WorstCase,
		"unit":        estimation.Unit,
		"weighted":    estimate.Weighted(estimation.BestCase, estimation.MostLikely, estimation.WorstCase),
		"stdDev":      estimate.StdDev(estimation.BestCase, estimation.MostLikely, estimation.WorstCase),
	}
}

// UpdateEstimation writes the new values and one audit row per changed
// field, atomically.
func (s *Service) UpdateEstimation(ctx context.Context, session Session, estimationID string, input UpdateEstimationInput) (map[string]any, error) {
	if err := validateEstimateValues(input.BestCase, input.MostLikely, input.WorstCase); err != nil {
		return nil, err
	}
	current, err := s.store.GetEstimation(ctx, estimationID)
	if err != nil {
		return nil, err
	}

	updated := current
	updated.BestCase = input.BestCase
	updated.MostLikely = input.MostLikely
	updated.WorstCase = input.WorstCase

	changes := estimate.Diff(
		estimate.Estimation{BestCase: current.BestCase, MostLikely: current.MostLikely, WorstCase: current.WorstCase},
		estimate.Estimation{BestCase: updated.BestCase, MostLikely: updated.MostLikely, WorstCase: updated.WorstCase},
	)
	if len(changes) == 0 {
		return s.estimationPayload(current), nil
	}

	history := make([]store.EstimationHistoryEntry, 0, len(changes))
	for _, change := range changes {
		history = append(history, store.EstimationHistoryEntry{
			EstimationID: estimationID,
			FieldName:    change.Field,
			OldValue:     change.Old,
			NewValue:     change.New,
			ChangedBy:    session.UserID,
		})
	}
	if err := s.store.UpdateEstimation(ctx, updated, history); err != nil {
		return nil, err
	}
	s.bump(ctx)
	return s.estimationPayload(updated), nil
}

func (s *Service) ListEstimationHistory(ctx context.Context, estimationID string) ([]map[string]any, error) {
	entries, err := s.store.ListEstimationHistory(ctx, estimationID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"field":     entry.FieldName,
			"oldValue":  entry.OldValue,
			"newValue":  entry.NewValue,
			"changedBy": entry.ChangedBy,
			"changedAt": entry.ChangedAt,
		})
	}
	return items, nil
}

// FeatureEstimate aggregates a feature's component estimates. Only each
// component's latest estimation counts; archived components are skipped
// unless includeArchived is set.
func (s *Service) FeatureEstimate(ctx context.Context, featureID string, includeArchived bool) (estimate.Total, error) {
	components, err := s.store.ListComponents(ctx, featureID)
	if err != nil {
		return estimate.Total{}, err
	}
	estimations, err := s.store.ListFeatureEstimations(ctx, featureID)
	if err != nil {
		return estimate.Total{}, err
	}

	byComponent := make(map[string][]estimate.Estimation)
	for _, row := range estimations {
		byComponent[row.ComponentID] = append(byComponent[row.ComponentID], estimate.Estimation{
			ID:          row.ID,
			ComponentID: row.ComponentID,
			BestCase:    row.BestCase,
			MostLikely:  row.MostLikely,
			WorstCase:   row.WorstCase,
			Unit:        row.Unit,
			CreatedAt:   row.CreatedAt,
		})
	}

	assembled := make([]estimate.Component, 0, len(components))
	for _, component := range components {
		assembled = append(assembled, estimate.Component{
			ID:          component.ID,
			Name:        component.Name,
			Archived:    component.Archived,
			Estimations: byComponent[component.ID],
		})
	}
	return estimate.FeatureTotalWith(assembled, includeArchived), nil
}

// ---- votes ----

// SubmitVote records a stakeholder's vote and synchronously recomputes the
// creator's derived vote for the touched (feature, dimension).
func (s *Service) SubmitVote(ctx context.Context, session Session, planningID string, input SubmitVoteInput) (map[string]any, error) {
	voteType, ok := votes.ParseType(input.VoteType)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown vote type", map[string]any{"voteType": input.VoteType})
	}
	if input.Value < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "vote value must not be negative", map[string]any{"value": input.Value})
	}

	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return nil, err
	}
	if session.UserID == planning.CreatedBy {
		return nil, domainError(http.StatusUnprocessableEntity, "CREATOR_VOTE_DERIVED", "the planning creator's vote is derived from stakeholder votes", nil)
	}
	if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionVote); err != nil {
		return nil, err
	}
	if err := s.requireFeatureInPlanning(ctx, planningID, input.FeatureID); err != nil {
		return nil, err
	}

	vote := store.VoteRow{
		ID:         util.NewID("vot"),
		UserID:     session.UserID,
		FeatureID:  input.FeatureID,
		PlanningID: planningID,
		VoteType:   string(voteType),
		Value:      input.Value,
	}
	if err := s.store.UpsertVote(ctx, vote); err != nil {
		return nil, err
	}

	pairs := []votes.Pair{{FeatureID: input.FeatureID, Type: voteType}}
	if err := s.agg.RecomputeCreatorVotes(ctx, planningID, pairs); err != nil {
		return nil, err
	}
	s.bump(ctx)

	return map[string]any{
		"featureId": input.FeatureID,
		"voteType":  string(voteType),
		"value":     input.Value,
	}, nil
}

func (s *Service) ListVotes(ctx context.Context, planningID, featureID string) ([]map[string]any, error) {
	rows, err := s.store.ListVotes(ctx, planningID, featureID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, map[string]any{
			"userId":    row.UserID,
			"featureId": row.FeatureID,
			"voteType":  row.VoteType,
			"value":     row.Value,
			"votedAt":   row.VotedAt,
		})
	}
	return items, nil
}

func (s *Service) Coverage(ctx context.Context, planningID string) (votes.Coverage, error) {
	if _, err := s.store.GetPlanning(ctx, planningID); err != nil {
		return votes.Coverage{}, err
	}
	return s.agg.Coverage(ctx, planningID)
}

// RecomputePlanningVotes refreshes every creator vote of a planning, e.g.
// after bulk imports.
func (s *Service) RecomputePlanningVotes(ctx context.Context, session Session, planningID string) error {
	planning, err := s.store.GetPlanning(ctx, planningID)
	if err != nil {
		return err
	}
	if err := s.requirePlanningAction(ctx, planning, session, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.agg.RecomputeCreatorVotes(ctx, planningID, nil); err != nil {
		return err
	}
	s.bump(ctx)
	return nil
}

// ---- search, export, dashboard ----

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Export(ctx context.Context, planningID string, format export.Format) (*export.Result, error) {
	return s.export.Export(ctx, export.Request{PlanningID: planningID, Format: format})
}

// PrioritizationReport returns the scored report rows without rendering.
func (s *Service) PrioritizationReport(ctx context.Context, planningID string) (*export.Report, error) {
	return s.export.BuildReport(ctx, planningID)
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	totalFeatures, activePlannings, completedPlannings, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"features":           totalFeatures,
		"activePlannings":    activePlannings,
		"completedPlannings": completedPlannings,
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// reportStore adapts the service to the export package's data needs.
type reportStore struct {
	svc *Service
}

func (r *reportStore) GetPlanningInfo(ctx context.Context, planningID string) (export.PlanningInfo, error) {
	planning, err := r.svc.store.GetPlanning(ctx, planningID)
	if err != nil {
		return export.PlanningInfo{}, err
	}
	projectName := planning.ProjectID
	if project, err := r.svc.store.GetProject(ctx, planning.ProjectID); err == nil {
		projectName = project.Name
	}
	return export.PlanningInfo{ID: planning.ID, Title: planning.Title, ProjectName: projectName}, nil
}

func (r *reportStore) ListFeatureRows(ctx context.Context, planningID string) ([]export.FeatureRow, error) {
	planning, err := r.svc.store.GetPlanning(ctx, planningID)
	if err != nil {
		return nil, err
	}
	features, err := r.svc.store.ListPlanningFeatures(ctx, planningID)
	if err != nil {
		return nil, err
	}
	voteRows, err := r.svc.store.ListVotes(ctx, planningID, "")
	if err != nil {
		return nil, err
	}

	creatorVotes := make(map[string]map[string]float64)
	for _, row := range voteRows {
		if row.UserID != planning.CreatedBy {
			continue
		}
		if creatorVotes[row.FeatureID] == nil {
			creatorVotes[row.FeatureID] = make(map[string]float64)
		}
		creatorVotes[row.FeatureID][row.VoteType] = row.Value
	}

	rows := make([]export.FeatureRow, 0, len(features))
	for _, feature := range features {
		total, err := r.svc.FeatureEstimate(ctx, feature.ID, false)
		if err != nil {
			return nil, fmt.Errorf("aggregate feature %s: %w", feature.ID, err)
		}
		detail := status.DetailsOr(status.KindFeature, feature.Status, feature.Status)
		derived := creatorVotes[feature.ID]
		rows = append(rows, export.FeatureRow{
			FeatureID:       feature.ID,
			Title:           feature.Title,
			Status:          feature.Status,
			StatusLabel:     detail.Name,
			BusinessValue:   derived[string(votes.BusinessValue)],
			TimeCriticality: derived[string(votes.TimeCriticality)],
			RiskOpportunity: derived[string(votes.RiskOpportunity)],
			Effort:          total.Weighted,
			EffortStdDev:    total.StdDev,
			EffortUnit:      total.Unit,
		})
	}
	return rows, nil
}
