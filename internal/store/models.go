package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Project is the tenant boundary: plannings and features are scoped to one
// project.
type Project struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Planning struct {
	ID        string
	ProjectID string
	Title     string
	Status    string
	CreatedBy string
	OwnerID   string
	DeputyID  string
	CreatedAt time.Time
}

// Stakeholder is a user attached to a planning, joined with display data.
type Stakeholder struct {
	UserID      string
	DisplayName string
	AddedAt     time.Time
}

type Feature struct {
	ID        string
	ProjectID string
	Title     string
	Status    string
	CreatedBy string
	CreatedAt time.Time
}

// FeatureDependency is a typed edge between two features.
type FeatureDependency struct {
	ID             string
	FromFeature    string
	ToFeature      string
	DependencyType string
	CreatedAt      time.Time
}

// Dependency edge types.
const (
	DependencyEnables  = "enables"
	DependencyBlocks   = "blocks"
	DependencyRequires = "requires"
	DependencyReplaces = "replaces"
)

type Commitment struct {
	ID             string
	PlanningID     string
	FeatureID      string
	UserID         string
	CommitmentType string
	Status         string
	CreatedAt      time.Time
}

type EstimationComponent struct {
	ID        string
	FeatureID string
	Name      string
	Archived  bool
	CreatedAt time.Time
}

type Estimation struct {
	ID          string
	ComponentID string
	BestCase    float64
	MostLikely  float64
	WorstCase   float64
	Unit        string
	CreatedBy   string
	CreatedAt   time.Time
}

// EstimationHistoryEntry is one audited field edit, appended only for fields
// whose value actually changed.
type EstimationHistoryEntry struct {
	ID           int64
	EstimationID string
	FieldName    string
	OldValue     float64
	NewValue     float64
	ChangedBy    string
	ChangedAt    time.Time
}

type VoteRow struct {
	ID         string
	UserID     string
	FeatureID  string
	PlanningID string
	VoteType   string
	Value      float64
	VotedAt    time.Time
}

// StatusHistoryEntry is one append-only workflow transition record. A row
// with empty FromStatus marks entity creation.
type StatusHistoryEntry struct {
	ID         int64
	EntityKind string
	EntityID   string
	FromStatus string
	ToStatus   string
	ChangedAt  time.Time
}

// OccupancyBucket is one state's feature count in the occupancy read-model.
type OccupancyBucket struct {
	Status string
	Count  int
}
