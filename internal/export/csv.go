package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// exportCSV renders issues as a CSV file
func exportCSV(title string, issues []IssueRow) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "title", "description", "priority", "status", "assigned_to", "created_by", "created_at"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, issue := range issues {
		record := []string{
			issue.ID,
			issue.Title,
			issue.Description,
			issue.Priority,
			issue.Status,
			issue.AssignedTo,
			issue.CreatedBy,
			issue.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(title) + ".csv",
		MimeType: "text/csv",
	}, nil
}
