// Package export renders issue reports as PDF or CSV.
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

// IssueRow is one issue as it appears in a report
type IssueRow struct {
	ID          string
	Title       string
	Description string
	Priority    string
	Status      string
	AssignedTo  string
	CreatedBy   string
	CreatedAt   time.Time
}

// Report describes the report to generate
type Report struct {
	Title  string
	Format Format
	Issues []IssueRow
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
