// Package workflow holds the issue domain rules: tokenization for the
// duplicate gate, the status transition table, and draft validation.
package workflow

import (
	"errors"
	"strings"
)

type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "InProgress"
	StatusDone       Status = "Done"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

var (
	ErrUnknownStatus   = errors.New("unknown status")
	ErrUnknownPriority = errors.New("unknown priority")
	// ErrSkipsInProgress is returned for the one forbidden move: an issue
	// cannot go straight from Open to Done.
	ErrSkipsInProgress = errors.New("issue must move to InProgress first")
)

func ParseStatus(value string) (Status, error) {
	switch Status(strings.TrimSpace(value)) {
	case StatusOpen, StatusInProgress, StatusDone:
		return Status(strings.TrimSpace(value)), nil
	default:
		return "", ErrUnknownStatus
	}
}

// ParsePriority maps the wire value to a Priority. A blank value defaults
// to Medium.
func ParsePriority(value string) (Priority, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return PriorityMedium, nil
	}
	switch Priority(trimmed) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(trimmed), nil
	default:
		return "", ErrUnknownPriority
	}
}

type move struct {
	from Status
	to   Status
}

// allowedMoves enumerates every accepted (current, requested) pair,
// including self-moves. The only directed pair among the three states that
// is absent is Open -> Done.
var allowedMoves = map[move]struct{}{
	{StatusOpen, StatusOpen}:             {},
	{StatusOpen, StatusInProgress}:       {},
	{StatusInProgress, StatusOpen}:       {},
	{StatusInProgress, StatusInProgress}: {},
	{StatusInProgress, StatusDone}:       {},
	{StatusDone, StatusOpen}:             {},
	{StatusDone, StatusInProgress}:       {},
	{StatusDone, StatusDone}:             {},
}

// CheckTransition validates a requested status move. The current status is
// the caller's view of the issue, not re-read from the store.
func CheckTransition(current, requested Status) error {
	if _, err := ParseStatus(string(current)); err != nil {
		return err
	}
	if _, err := ParseStatus(string(requested)); err != nil {
		return err
	}
	if _, ok := allowedMoves[move{current, requested}]; !ok {
		return ErrSkipsInProgress
	}
	return nil
}

// Tokenize lowercases title and description and splits each on runs of
// whitespace, concatenating title tokens before description tokens.
// Duplicate tokens are kept; empty tokens are dropped so that issues with
// blank fields never match everything in the duplicate query.
func Tokenize(title, description string) []string {
	tokens := make([]string, 0, 8)
	for _, field := range []string{title, description} {
		tokens = append(tokens, strings.Fields(strings.ToLower(field))...)
	}
	return tokens
}

// Draft is a candidate issue before the duplicate gate has run.
type Draft struct {
	Title       string
	Description string
	Priority    Priority
	AssignedTo  string
}

// NewDraft validates and normalizes creation input. Title and description
// are required; priority defaults to Medium; assignedTo stays free-form
// (an email-shaped reference with no existence check).
func NewDraft(title, description, priority, assignedTo string) (Draft, error) {
	draft := Draft{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		AssignedTo:  strings.TrimSpace(assignedTo),
	}
	if draft.Title == "" {
		return Draft{}, errors.New("title is required")
	}
	if draft.Description == "" {
		return Draft{}, errors.New("description is required")
	}
	parsed, err := ParsePriority(priority)
	if err != nil {
		return Draft{}, err
	}
	draft.Priority = parsed
	return draft, nil
}

// Tokens computes the draft's search tokens.
func (d Draft) Tokens() []string {
	return Tokenize(d.Title, d.Description)
}
