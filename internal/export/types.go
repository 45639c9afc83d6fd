// Package export renders prioritization reports for a planning as PDF or CSV.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

// Request contains parameters for an export operation
type Request struct {
	PlanningID string
	Format     Format
}

// Row is one feature line in the prioritization report, ordered by score.
type Row struct {
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
	Score           float64
}

// Report is the assembled prioritization report for one planning.
type Report struct {
	PlanningID    string
	PlanningTitle string
	ProjectName   string
	GeneratedAt   time.Time
	Rows          []Row
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates report data could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
