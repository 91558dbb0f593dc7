package export

import (
	"fmt"
	"time"
)

// Service generates issue reports
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export generates a report in the requested format
func (s *Service) Export(report Report) (*Result, error) {
	title := report.Title
	if title == "" {
		title = "Issue Report"
	}

	switch report.Format {
	case FormatCSV:
		return exportCSV(title, report.Issues)
	case FormatPDF:
		html, err := RenderReportHTML(TemplateData{
			Title:       title,
			GeneratedAt: time.Now(),
			Issues:      report.Issues,
		})
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", report.Format)
	}
}
