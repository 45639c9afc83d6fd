package export

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeReportStore struct {
	info     PlanningInfo
	infoErr  error
	rows     []FeatureRow
	rowsErr  error
	lastLoad string
}

func (f *fakeReportStore) GetPlanningInfo(ctx context.Context, planningID string) (PlanningInfo, error) {
	f.lastLoad = planningID
	return f.info, f.infoErr
}

func (f *fakeReportStore) ListFeatureRows(ctx context.Context, planningID string) ([]FeatureRow, error) {
	return f.rows, f.rowsErr
}

func fixedService(store DataStore) *Service {
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return svc
}

func TestScore(t *testing.T) {
	if got := Score(5, 3, 2, 4); got != 2.5 {
		t.Fatalf("Score = %v, want 2.5", got)
	}
	// No effort: raw cost of delay keeps unestimated features sortable.
	if got := Score(5, 3, 2, 0); got != 10 {
		t.Fatalf("Score with zero effort = %v, want 10", got)
	}
}

func TestBuildReportOrdersByScore(t *testing.T) {
	store := &fakeReportStore{
		info: PlanningInfo{ID: "pln_q2", Title: "Q2 Planung", ProjectName: "Atlas"},
		rows: []FeatureRow{
			{FeatureID: "fea_a", Title: "Login", BusinessValue: 2, TimeCriticality: 2, RiskOpportunity: 2, Effort: 6, EffortUnit: "days"},
			{FeatureID: "fea_b", Title: "Export", BusinessValue: 8, TimeCriticality: 5, RiskOpportunity: 3, Effort: 4, EffortUnit: "days"},
		},
	}
	svc := fixedService(store)

	report, err := svc.BuildReport(context.Background(), "pln_q2")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if store.lastLoad != "pln_q2" {
		t.Errorf("loaded planning %q, want pln_q2", store.lastLoad)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report.Rows))
	}
	if report.Rows[0].FeatureID != "fea_b" {
		t.Errorf("expected fea_b first (score 4.0), got %s", report.Rows[0].FeatureID)
	}
	if report.Rows[0].Score != 4.0 {
		t.Errorf("expected score 4.0, got %v", report.Rows[0].Score)
	}
	if report.Rows[1].Score != 1.0 {
		t.Errorf("expected score 1.0, got %v", report.Rows[1].Score)
	}
}

func TestExportCSV(t *testing.T) {
	store := &fakeReportStore{
		info: PlanningInfo{ID: "pln_q2", Title: "Q2 Planung", ProjectName: "Atlas"},
		rows: []FeatureRow{
			{FeatureID: "fea_a", Title: "Login", StatusLabel: "In Planung", BusinessValue: 5, TimeCriticality: 3, RiskOpportunity: 2, Effort: 4, EffortStdDev: 0.5, EffortUnit: "days"},
		},
	}
	svc := fixedService(store)

	result, err := svc.Export(context.Background(), Request{PlanningID: "pln_q2", Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.MimeType != "text/csv" {
		t.Errorf("expected text/csv, got %s", result.MimeType)
	}
	if result.Filename != "Q2-Planung.csv" {
		t.Errorf("unexpected filename %s", result.Filename)
	}

	body := string(result.Data)
	if !strings.Contains(body, "rank,feature,status") {
		t.Errorf("missing header in %q", body)
	}
	if !strings.Contains(body, "1,Login,In Planung,5.00,3.00,2.00,4.00,0.50,days,2.50") {
		t.Errorf("missing data row in %q", body)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	svc := fixedService(&fakeReportStore{})
	if _, err := svc.Export(context.Background(), Request{PlanningID: "pln_q2", Format: "docx"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestRenderReportHTML(t *testing.T) {
	report := &Report{
		PlanningTitle: "Q2 Planung",
		ProjectName:   "Atlas",
		GeneratedAt:   time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Rows: []Row{
			{Title: "Login <script>", StatusLabel: "Genehmigt", BusinessValue: 5, Score: 2.5, EffortUnit: "days"},
		},
	}

	html, err := renderReportHTML(report)
	if err != nil {
		t.Fatalf("renderReportHTML failed: %v", err)
	}
	if !strings.Contains(html, "Q2 Planung") {
		t.Error("missing planning title")
	}
	if !strings.Contains(html, "Genehmigt") {
		t.Error("missing status label")
	}
	if strings.Contains(html, "<script>") {
		t.Error("title was not escaped")
	}
	if !strings.Contains(html, "14.03.2026 09:30") {
		t.Error("missing formatted date")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Q2 Planung":  "Q2-Planung",
		"a/b:c":       "abc",
		"":            "document",
		"Release 2.0": "Release-20",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
