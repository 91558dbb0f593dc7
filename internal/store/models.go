package store

import (
	"time"

	"issuedesk/api/internal/workflow"
)

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Issue is the persisted record. Every field except Status is immutable
// after creation.
type Issue struct {
	ID           string
	Title        string
	Description  string
	Priority     workflow.Priority
	Status       workflow.Status
	AssignedTo   string
	CreatedBy    string
	CreatedAt    time.Time
	SearchTokens []string
}

// IssueFilter narrows a listing. Zero values mean no filter; supplied
// filters are ANDed.
type IssueFilter struct {
	Status   workflow.Status
	Priority workflow.Priority
}
