package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across features and plannings using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultFeature {
		featureWhere := "f.fts @@ " + tsQuery
		if q.FilterProjectID != "" {
			featureWhere += fmt.Sprintf(" AND f.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'feature'::text AS type, f.id, f.title,
				ts_headline('simple', coalesce(f.title, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.project_id, f.status,
				ts_rank(f.fts, %s) AS rank
			FROM features f
			WHERE %s`, tsQuery, tsQuery, featureWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultPlanning {
		planningWhere := "p.fts @@ " + tsQuery
		if q.FilterProjectID != "" {
			planningWhere += fmt.Sprintf(" AND p.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'planning'::text AS type, p.id, p.title,
				ts_headline('simple', coalesce(p.title, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.project_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM plannings p
			WHERE %s`, tsQuery, tsQuery, planningWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FeatureRecord, []PlanningRecord, error) {
	featureRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, project_id, status
		FROM features
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load features: %w", err)
	}
	defer featureRows.Close()

	features := make([]FeatureRecord, 0)
	for featureRows.Next() {
		var f FeatureRecord
		if err := featureRows.Scan(&f.ID, &f.Title, &f.ProjectID, &f.Status); err != nil {
			return nil, nil, fmt.Errorf("scan feature: %w", err)
		}
		features = append(features, f)
	}
	if err := featureRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate features: %w", err)
	}

	planningRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, project_id, status
		FROM plannings
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load plannings: %w", err)
	}
	defer planningRows.Close()

	plannings := make([]PlanningRecord, 0)
	for planningRows.Next() {
		var pr PlanningRecord
		if err := planningRows.Scan(&pr.ID, &pr.Title, &pr.ProjectID, &pr.Status); err != nil {
			return nil, nil, fmt.Errorf("scan planning: %w", err)
		}
		plannings = append(plannings, pr)
	}
	if err := planningRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate plannings: %w", err)
	}

	return features, plannings, nil
}
