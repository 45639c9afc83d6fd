package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"planwise/api/internal/status"
	"planwise/api/internal/votes"
	"planwise/api/internal/workflow"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email, role)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.planwise.dev'), 'member')
		RETURNING id, display_name, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, COALESCE(email, ''), COALESCE(password_hash, ''), role, is_email_verified
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, COALESCE(email, ''), COALESCE(password_hash, ''), role, is_email_verified
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- projects ----

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM projects
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Slug, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, project.ID, project.Name, project.Slug)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// ---- plannings ----

func (s *PostgresStore) InsertPlanning(ctx context.Context, planning Planning) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert planning: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plannings (id, project_id, title, status, created_by, owner_id, deputy_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, planning.ID, planning.ProjectID, planning.Title, planning.Status, planning.CreatedBy, planning.OwnerID, planning.DeputyID); err != nil {
		return fmt.Errorf("insert planning: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (entity_kind, entity_id, from_status, to_status)
		VALUES ('planning', $1, '', $2)
	`, planning.ID, planning.Status); err != nil {
		return fmt.Errorf("insert planning created row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert planning: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPlanning(ctx context.Context, planningID string) (Planning, error) {
	var item Planning
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, status, created_by, owner_id, COALESCE(deputy_id, ''), created_at
		FROM plannings
		WHERE id=$1
	`, planningID).Scan(&item.ID, &item.ProjectID, &item.Title, &item.Status, &item.CreatedBy, &item.OwnerID, &item.DeputyID, &item.CreatedAt)
	if err != nil {
		return Planning{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListPlannings(ctx context.Context, projectID string) ([]Planning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, status, created_by, owner_id, COALESCE(deputy_id, ''), created_at
		FROM plannings
		WHERE ($1='' OR project_id=$1)
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list plannings: %w", err)
	}
	defer rows.Close()

	items := make([]Planning, 0)
	for rows.Next() {
		var item Planning
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Status, &item.CreatedBy, &item.OwnerID, &item.DeputyID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan planning: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plannings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddStakeholder(ctx context.Context, planningID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO planning_stakeholders (planning_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (planning_id, user_id) DO NOTHING
	`, planningID, userID)
	if err != nil {
		return fmt.Errorf("add stakeholder: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveStakeholder(ctx context.Context, planningID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM planning_stakeholders WHERE planning_id=$1 AND user_id=$2
	`, planningID, userID)
	if err != nil {
		return fmt.Errorf("remove stakeholder: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStakeholders(ctx context.Context, planningID string) ([]Stakeholder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.user_id, u.display_name, ps.added_at
		FROM planning_stakeholders ps
		JOIN users u ON u.id = ps.user_id
		WHERE ps.planning_id=$1
		ORDER BY ps.added_at ASC
	`, planningID)
	if err != nil {
		return nil, fmt.Errorf("list stakeholders: %w", err)
	}
	defer rows.Close()

	items := make([]Stakeholder, 0)
	for rows.Next() {
		var item Stakeholder
		if err := rows.Scan(&item.UserID, &item.DisplayName, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan stakeholder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stakeholders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsStakeholder(ctx context.Context, planningID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM planning_stakeholders WHERE planning_id=$1 AND user_id=$2)
	`, planningID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check stakeholder: %w", err)
	}
	return member, nil
}

// AttachFeature links a feature to a planning. The insert is guarded so only
// features of the planning's own project can be attached.
func (s *PostgresStore) AttachFeature(ctx context.Context, planningID, featureID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO planning_features (planning_id, feature_id)
		SELECT p.id, f.id
		FROM plannings p
		JOIN features f ON f.project_id = p.project_id
		WHERE p.id=$1 AND f.id=$2
		ON CONFLICT (planning_id, feature_id) DO NOTHING
	`, planningID, featureID)
	if err != nil {
		return false, fmt.Errorf("attach feature: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach feature rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DetachFeature(ctx context.Context, planningID, featureID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM planning_features WHERE planning_id=$1 AND feature_id=$2
	`, planningID, featureID)
	if err != nil {
		return fmt.Errorf("detach feature: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPlanningFeatures(ctx context.Context, planningID string) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.project_id, f.title, f.status, f.created_by, f.created_at
		FROM planning_features pf
		JOIN features f ON f.id = pf.feature_id
		WHERE pf.planning_id=$1
		ORDER BY pf.added_at ASC
	`, planningID)
	if err != nil {
		return nil, fmt.Errorf("list planning features: %w", err)
	}
	defer rows.Close()

	items := make([]Feature, 0)
	for rows.Next() {
		var item Feature
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Status, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan planning feature: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate planning features: %w", err)
	}
	return items, nil
}

// ---- features ----

func (s *PostgresStore) InsertFeature(ctx context.Context, feature Feature) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert feature: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO features (id, project_id, title, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, feature.ID, feature.ProjectID, feature.Title, feature.Status, feature.CreatedBy); err != nil {
		return fmt.Errorf("insert feature: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (entity_kind, entity_id, from_status, to_status)
		VALUES ('feature', $1, '', $2)
	`, feature.ID, feature.Status); err != nil {
		return fmt.Errorf("insert feature created row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert feature: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFeature(ctx context.Context, featureID string) (Feature, error) {
	var item Feature
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, status, created_by, created_at
		FROM features
		WHERE id=$1
	`, featureID).Scan(&item.ID, &item.ProjectID, &item.Title, &item.Status, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Feature{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListFeatures(ctx context.Context, projectID string) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, status, created_by, created_at
		FROM features
		WHERE ($1='' OR project_id=$1)
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	items := make([]Feature, 0)
	for rows.Next() {
		var item Feature
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Status, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertFeatureDependency(ctx context.Context, dep FeatureDependency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_dependencies (id, from_feature, to_feature, dependency_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_feature, to_feature, dependency_type) DO NOTHING
	`, dep.ID, dep.FromFeature, dep.ToFeature, dep.DependencyType)
	if err != nil {
		return fmt.Errorf("insert feature dependency: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeatureDependencies(ctx context.Context, featureID string) ([]FeatureDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_feature, to_feature, dependency_type, created_at
		FROM feature_dependencies
		WHERE from_feature=$1 OR to_feature=$1
		ORDER BY created_at ASC
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("list feature dependencies: %w", err)
	}
	defer rows.Close()

	items := make([]FeatureDependency, 0)
	for rows.Next() {
		var item FeatureDependency
		if err := rows.Scan(&item.ID, &item.FromFeature, &item.ToFeature, &item.DependencyType, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feature dependency: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature dependencies: %w", err)
	}
	return items, nil
}

// ---- commitments ----

func (s *PostgresStore) InsertCommitment(ctx context.Context, commitment Commitment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert commitment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commitments (id, planning_id, feature_id, user_id, commitment_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, commitment.ID, commitment.PlanningID, commitment.FeatureID, commitment.UserID, commitment.CommitmentType, commitment.Status); err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (entity_kind, entity_id, from_status, to_status)
		VALUES ('commitment', $1, '', $2)
	`, commitment.ID, commitment.Status); err != nil {
		return fmt.Errorf("insert commitment created row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert commitment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCommitment(ctx context.Context, commitmentID string) (Commitment, error) {
	var item Commitment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, planning_id, feature_id, user_id, commitment_type, status, created_at
		FROM commitments
		WHERE id=$1
	`, commitmentID).Scan(&item.ID, &item.PlanningID, &item.FeatureID, &item.UserID, &item.CommitmentType, &item.Status, &item.CreatedAt)
	if err != nil {
		return Commitment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCommitments(ctx context.Context, planningID string) ([]Commitment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, planning_id, feature_id, user_id, commitment_type, status, created_at
		FROM commitments
		WHERE planning_id=$1
		ORDER BY created_at ASC
	`, planningID)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	items := make([]Commitment, 0)
	for rows.Next() {
		var item Commitment
		if err := rows.Scan(&item.ID, &item.PlanningID, &item.FeatureID, &item.UserID, &item.CommitmentType, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commitments: %w", err)
	}
	return items, nil
}

// DeleteCommitment removes a commitment for good. Commitments are the one
// entity without a history retention requirement; their status_history rows
// go with them.
func (s *PostgresStore) DeleteCommitment(ctx context.Context, commitmentID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete commitment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM commitments WHERE id=$1`, commitmentID)
	if err != nil {
		return false, fmt.Errorf("delete commitment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete commitment rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM status_history WHERE entity_kind='commitment' AND entity_id=$1
	`, commitmentID); err != nil {
		return false, fmt.Errorf("delete commitment history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete commitment: %w", err)
	}
	return true, nil
}

// ---- estimation ----

func (s *PostgresStore) InsertComponent(ctx context.Context, component EstimationComponent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO estimation_components (id, feature_id, name, archived)
		VALUES ($1, $2, $3, $4)
	`, component.ID, component.FeatureID, component.Name, component.Archived)
	if err != nil {
		return fmt.Errorf("insert component: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComponent(ctx context.Context, componentID string) (EstimationComponent, error) {
	var item EstimationComponent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, feature_id, name, archived, created_at
		FROM estimation_components
		WHERE id=$1
	`, componentID).Scan(&item.ID, &item.FeatureID, &item.Name, &item.Archived, &item.CreatedAt)
	if err != nil {
		return EstimationComponent{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListComponents(ctx context.Context, featureID string) ([]EstimationComponent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feature_id, name, archived, created_at
		FROM estimation_components
		WHERE feature_id=$1
		ORDER BY created_at ASC
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	items := make([]EstimationComponent, 0)
	for rows.Next() {
		var item EstimationComponent
		if err := rows.Scan(&item.ID, &item.FeatureID, &item.Name, &item.Archived, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate components: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetComponentArchived(ctx context.Context, componentID string, archived bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE estimation_components SET archived=$2 WHERE id=$1
	`, componentID, archived)
	if err != nil {
		return false, fmt.Errorf("set component archived: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set component archived rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertEstimation(ctx context.Context, estimation Estimation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO estimations (id, component_id, best_case, most_likely, worst_case, unit, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, estimation.ID, estimation.ComponentID, estimation.BestCase, estimation.MostLikely, estimation.WorstCase, estimation.Unit, estimation.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert estimation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEstimation(ctx context.Context, estimationID string) (Estimation, error) {
	var item Estimation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, component_id, best_case, most_likely, worst_case, unit, created_by, created_at
		FROM estimations
		WHERE id=$1
	`, estimationID).Scan(&item.ID, &item.ComponentID, &item.BestCase, &item.MostLikely, &item.WorstCase, &item.Unit, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Estimation{}, err
	}
	return item, nil
}

// UpdateEstimation writes the new three-point values and the per-field audit
// rows in a single transaction.
func (s *PostgresStore) UpdateEstimation(ctx context.Context, estimation Estimation, history []EstimationHistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update estimation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE estimations SET best_case=$2, most_likely=$3, worst_case=$4
		WHERE id=$1
	`, estimation.ID, estimation.BestCase, estimation.MostLikely, estimation.WorstCase); err != nil {
		return fmt.Errorf("update estimation: %w", err)
	}
	for _, entry := range history {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO estimation_history (estimation_id, field_name, old_value, new_value, changed_by)
			VALUES ($1, $2, $3, $4, $5)
		`, estimation.ID, entry.FieldName, entry.OldValue, entry.NewValue, entry.ChangedBy); err != nil {
			return fmt.Errorf("insert estimation history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update estimation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEstimations(ctx context.Context, componentID string) ([]Estimation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, component_id, best_case, most_likely, worst_case, unit, created_by, created_at
		FROM estimations
		WHERE component_id=$1
		ORDER BY created_at ASC
	`, componentID)
	if err != nil {
		return nil, fmt.Errorf("list estimations: %w", err)
	}
	defer rows.Close()
	return scanEstimations(rows)
}

// ListFeatureEstimations loads every estimation of every component of a
// feature in one query.
func (s *PostgresStore) ListFeatureEstimations(ctx context.Context, featureID string) ([]Estimation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.component_id, e.best_case, e.most_likely, e.worst_case, e.unit, e.created_by, e.created_at
		FROM estimations e
		JOIN estimation_components c ON c.id = e.component_id
		WHERE c.feature_id=$1
		ORDER BY e.created_at ASC
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("list feature estimations: %w", err)
	}
	defer rows.Close()
	return scanEstimations(rows)
}

func scanEstimations(rows *sql.Rows) ([]Estimation, error) {
	items := make([]Estimation, 0)
	for rows.Next() {
		var item Estimation
		if err := rows.Scan(&item.ID, &item.ComponentID, &item.BestCase, &item.MostLikely, &item.WorstCase, &item.Unit, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan estimation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListEstimationHistory(ctx context.Context, estimationID string) ([]EstimationHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, estimation_id, field_name, old_value, new_value, changed_by, changed_at
		FROM estimation_history
		WHERE estimation_id=$1
		ORDER BY changed_at ASC, id ASC
	`, estimationID)
	if err != nil {
		return nil, fmt.Errorf("list estimation history: %w", err)
	}
	defer rows.Close()

	items := make([]EstimationHistoryEntry, 0)
	for rows.Next() {
		var item EstimationHistoryEntry
		if err := rows.Scan(&item.ID, &item.EstimationID, &item.FieldName, &item.OldValue, &item.NewValue, &item.ChangedBy, &item.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan estimation history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimation history: %w", err)
	}
	return items, nil
}

// ---- votes ----

func (s *PostgresStore) UpsertVote(ctx context.Context, vote VoteRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (id, user_id, feature_id, planning_id, vote_type, value, voted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, feature_id, planning_id, vote_type)
		DO UPDATE SET value=EXCLUDED.value, voted_at=NOW()
	`, vote.ID, vote.UserID, vote.FeatureID, vote.PlanningID, vote.VoteType, vote.Value)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, planningID, featureID string) ([]VoteRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, feature_id, planning_id, vote_type, value, voted_at
		FROM votes
		WHERE planning_id=$1 AND ($2='' OR feature_id=$2)
		ORDER BY voted_at ASC, id ASC
	`, planningID, featureID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]VoteRow, 0)
	for rows.Next() {
		var item VoteRow
		if err := rows.Scan(&item.ID, &item.UserID, &item.FeatureID, &item.PlanningID, &item.VoteType, &item.Value, &item.VotedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

// PlanningCreator implements votes.Store.
func (s *PostgresStore) PlanningCreator(ctx context.Context, planningID string) (string, error) {
	var creatorID string
	err := s.db.QueryRowContext(ctx, `SELECT created_by FROM plannings WHERE id=$1`, planningID).Scan(&creatorID)
	if err != nil {
		return "", err
	}
	return creatorID, nil
}

// PlanningFeatureIDs implements votes.Store.
func (s *PostgresStore) PlanningFeatureIDs(ctx context.Context, planningID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feature_id FROM planning_features WHERE planning_id=$1 ORDER BY added_at ASC
	`, planningID)
	if err != nil {
		return nil, fmt.Errorf("list planning feature ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan planning feature id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate planning feature ids: %w", err)
	}
	return ids, nil
}

// VoteValues implements votes.Store: stakeholder vote values for one
// (feature, dimension), excluding the creator's derived row.
func (s *PostgresStore) VoteValues(ctx context.Context, planningID, featureID string, voteType votes.Type, excludeUserID string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value
		FROM votes
		WHERE planning_id=$1 AND feature_id=$2 AND vote_type=$3 AND user_id <> $4
		ORDER BY voted_at ASC
	`, planningID, featureID, string(voteType), excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("list vote values: %w", err)
	}
	defer rows.Close()

	values := make([]float64, 0)
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan vote value: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote values: %w", err)
	}
	return values, nil
}

// UpsertCreatorVotes implements votes.Store. The batch lands in one
// transaction so a triggering submission cannot half-apply.
func (s *PostgresStore) UpsertCreatorVotes(ctx context.Context, derived []votes.Vote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin creator votes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, vote := range derived {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO votes (id, user_id, feature_id, planning_id, vote_type, value, voted_at)
			VALUES (CONCAT('vot_', MD5(RANDOM()::text)), $1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, feature_id, planning_id, vote_type)
			DO UPDATE SET value=EXCLUDED.value, voted_at=EXCLUDED.voted_at
		`, vote.UserID, vote.FeatureID, vote.PlanningID, string(vote.Type), vote.Value, vote.VotedAt); err != nil {
			return fmt.Errorf("upsert creator vote: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit creator votes: %w", err)
	}
	return nil
}

// CreatorRatedTypeCounts implements votes.Store: distinct dimension count of
// the creator's rows per feature.
func (s *PostgresStore) CreatorRatedTypeCounts(ctx context.Context, planningID, creatorID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feature_id, COUNT(DISTINCT vote_type)::int
		FROM votes
		WHERE planning_id=$1 AND user_id=$2
		GROUP BY feature_id
	`, planningID, creatorID)
	if err != nil {
		return nil, fmt.Errorf("count creator vote types: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var featureID string
		var count int
		if err := rows.Scan(&featureID, &count); err != nil {
			return nil, fmt.Errorf("scan creator vote count: %w", err)
		}
		counts[featureID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate creator vote counts: %w", err)
	}
	return counts, nil
}

// ---- workflow ----

func statusTable(kind status.Kind) (string, bool) {
	switch kind {
	case status.KindFeature:
		return "features", true
	case status.KindPlanning:
		return "plannings", true
	case status.KindCommitment:
		return "commitments", true
	default:
		return "", false
	}
}

// EntityStatus implements workflow.Store.
func (s *PostgresStore) EntityStatus(ctx context.Context, ref workflow.EntityRef) (string, error) {
	table, ok := statusTable(ref.Kind)
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", ref.Kind)
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM `+table+` WHERE id=$1`, ref.ID).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// ApplyTransition implements workflow.Store: the status update and its
// history row commit together or not at all. The update is guarded on the
// expected current status so a lost race cannot forge history.
func (s *PostgresStore) ApplyTransition(ctx context.Context, ref workflow.EntityRef, fromStatus, toStatus string, changedAt time.Time) error {
	table, ok := statusTable(ref.Kind)
	if !ok {
		return fmt.Errorf("unknown entity kind %q", ref.Kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `UPDATE `+table+` SET status=$2 WHERE id=$1 AND status=$3`, ref.ID, toStatus, fromStatus)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s modified concurrently", ref.Kind, ref.ID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (entity_kind, entity_id, from_status, to_status, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, string(ref.Kind), ref.ID, fromStatus, toStatus, changedAt); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStatusHistory(ctx context.Context, kind, entityID string) ([]StatusHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_kind, entity_id, from_status, to_status, changed_at
		FROM status_history
		WHERE entity_kind=$1 AND entity_id=$2
		ORDER BY changed_at ASC, id ASC
	`, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	items := make([]StatusHistoryEntry, 0)
	for rows.Next() {
		var item StatusHistoryEntry
		if err := rows.Scan(&item.ID, &item.EntityKind, &item.EntityID, &item.FromStatus, &item.ToStatus, &item.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return items, nil
}

// FeatureStatusOccupancy reconstructs how many features of a project sat in
// each state at the end of the given day, replaying the append-only history.
func (s *PostgresStore) FeatureStatusOccupancy(ctx context.Context, projectID string, asOf time.Time) ([]OccupancyBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT latest.to_status, COUNT(*)::int
		FROM (
			SELECT DISTINCT ON (sh.entity_id) sh.entity_id, sh.to_status
			FROM status_history sh
			JOIN features f ON f.id = sh.entity_id
			WHERE sh.entity_kind='feature'
			  AND sh.changed_at <= $2
			  AND ($1='' OR f.project_id=$1)
			ORDER BY sh.entity_id, sh.changed_at DESC, sh.id DESC
		) latest
		GROUP BY latest.to_status
		ORDER BY latest.to_status ASC
	`, projectID, asOf)
	if err != nil {
		return nil, fmt.Errorf("feature occupancy: %w", err)
	}
	defer rows.Close()

	items := make([]OccupancyBucket, 0)
	for rows.Next() {
		var item OccupancyBucket
		if err := rows.Scan(&item.Status, &item.Count); err != nil {
			return nil, fmt.Errorf("scan occupancy bucket: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occupancy buckets: %w", err)
	}
	return items, nil
}

// ---- dashboard ----

func (s *PostgresStore) SummaryCounts(ctx context.Context) (totalFeatures int, activePlannings int, completedPlannings int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE status <> 'deleted'`).Scan(&totalFeatures); err != nil {
		err = fmt.Errorf("count features: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plannings WHERE status <> 'completed'`).Scan(&activePlannings); err != nil {
		err = fmt.Errorf("count active plannings: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plannings WHERE status = 'completed'`).Scan(&completedPlannings); err != nil {
		err = fmt.Errorf("count completed plannings: %w", err)
		return
	}
	return
}
