package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetPlanningInfo(ctx context.Context, planningID string) (PlanningInfo, error)
	ListFeatureRows(ctx context.Context, planningID string) ([]FeatureRow, error)
}

// PlanningInfo holds planning metadata for the report header
type PlanningInfo struct {
	ID          string
	Title       string
	ProjectName string
}

// FeatureRow holds one feature's raw report inputs: the creator's derived
// vote per dimension and the feature's aggregated effort.
type FeatureRow struct {
	FeatureID       string
	Title           string
	Status          string
	StatusLabel     string
	BusinessValue   float64
	TimeCriticality float64
	RiskOpportunity float64
	Effort          float64
	EffortStdDev    float64
	EffortUnit      string
}

// Service provides prioritization report export functionality
type Service struct {
	store DataStore
	now   func() time.Time
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	report, err := s.BuildReport(ctx, req.PlanningID)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatCSV:
		return exportCSV(report)
	case FormatPDF:
		html, err := renderReportHTML(report)
		if err != nil {
			return nil, fmt.Errorf("render report: %w", err)
		}
		return exportPDF(html, report.PlanningTitle)
	default:
		return nil, fmt.Errorf("unsupported export format %q", req.Format)
	}
}

// BuildReport assembles and scores the report rows, highest score first.
func (s *Service) BuildReport(ctx context.Context, planningID string) (*Report, error) {
	info, err := s.store.GetPlanningInfo(ctx, planningID)
	if err != nil {
		return nil, fmt.Errorf("%w: load planning: %v", ErrContentUnavailable, err)
	}
	features, err := s.store.ListFeatureRows(ctx, planningID)
	if err != nil {
		return nil, fmt.Errorf("%w: load features: %v", ErrContentUnavailable, err)
	}

	rows := make([]Row, 0, len(features))
	for _, f := range features {
		rows = append(rows, Row{
			FeatureID:       f.FeatureID,
			Title:           f.Title,
			Status:          f.Status,
			StatusLabel:     f.StatusLabel,
			BusinessValue:   f.BusinessValue,
			TimeCriticality: f.TimeCriticality,
			RiskOpportunity: f.RiskOpportunity,
			Effort:          f.Effort,
			EffortStdDev:    f.EffortStdDev,
			EffortUnit:      f.EffortUnit,
			Score:           Score(f.BusinessValue, f.TimeCriticality, f.RiskOpportunity, f.Effort),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Score > rows[j].Score
	})

	return &Report{
		PlanningID:    info.ID,
		PlanningTitle: info.Title,
		ProjectName:   info.ProjectName,
		GeneratedAt:   s.now().UTC(),
		Rows:          rows,
	}, nil
}

// Score computes the weighted-shortest-job-first score: cost of delay over
// job size. Features without a usable effort fall back to the raw cost of
// delay so unestimated work still sorts.
func Score(businessValue, timeCriticality, riskOpportunity, effort float64) float64 {
	costOfDelay := businessValue + timeCriticality + riskOpportunity
	if effort <= 0 {
		return costOfDelay
	}
	return costOfDelay / effort
}

func exportCSV(report *Report) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"rank", "feature", "status", "business_value", "time_criticality", "risk_opportunity", "effort", "effort_stddev", "effort_unit", "score"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i, row := range report.Rows {
		record := []string{
			strconv.Itoa(i + 1),
			row.Title,
			row.StatusLabel,
			formatFloat(row.BusinessValue),
			formatFloat(row.TimeCriticality),
			formatFloat(row.RiskOpportunity),
			formatFloat(row.Effort),
			formatFloat(row.EffortStdDev),
			row.EffortUnit,
			formatFloat(row.Score),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(report.PlanningTitle) + ".csv",
		MimeType: "text/csv",
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
