package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"issuedesk/api/internal/auth"
	"issuedesk/api/internal/authpw"
	"issuedesk/api/internal/config"
	"issuedesk/api/internal/email"
	"issuedesk/api/internal/export"
	"issuedesk/api/internal/rbac"
	"issuedesk/api/internal/search"
	"issuedesk/api/internal/store"
	"issuedesk/api/internal/util"
	"issuedesk/api/internal/workflow"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateIssueInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	AssignedTo  string `json:"assignedTo"`
}

type TransitionInput struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertIssue(context.Context, store.Issue) (store.Issue, error)
	GetIssue(context.Context, string) (store.Issue, error)
	ListIssues(context.Context, store.IssueFilter) ([]store.Issue, error)
	AnyIssueSharesToken(context.Context, []string) (bool, error)
	UpdateIssueStatus(context.Context, string, workflow.Status) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Backed by Redis when configured,
// otherwise by Postgres.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authPw   *authpw.Service
	search   *search.Service
	email    *email.Service
	export   *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchSvc *search.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, searchSvc)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authPw:   authpw.NewService(dataStore),
		search:   searchSvc,
		email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		export: export.NewService(),
	}
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ping checks the health of service dependencies.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateIssue runs the duplicate gate and persists a new issue. The caller
// must already hold a session; new issues always start in Open.
func (s *Service) CreateIssue(ctx context.Context, session Session, input CreateIssueInput) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Sign in to report issues", nil)
	}

	draft, err := workflow.NewDraft(input.Title, input.Description, input.Priority, input.AssignedTo)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	tokens := draft.Tokens()
	duplicate, err := s.store.AnyIssueSharesToken(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if duplicate {
		return nil, domainError(http.StatusConflict, "DUPLICATE_DETECTED", "A similar issue already exists", nil)
	}

	issue := store.Issue{
		ID:           util.NewID("iss"),
		Title:        draft.Title,
		Description:  draft.Description,
		Priority:     draft.Priority,
		Status:       workflow.StatusOpen,
		AssignedTo:   draft.AssignedTo,
		CreatedBy:    session.Email,
		SearchTokens: tokens,
	}

	created, err := s.store.InsertIssue(ctx, issue)
	if err != nil {
		return nil, fmt.Errorf("insert issue: %w", err)
	}

	s.indexIssue(created)
	s.notifyAssignee(created)

	return issueJSON(created), nil
}

// ListIssues returns issues matching the supplied filters, newest first.
// Blank filters match everything; supplied filters are exact and ANDed.
func (s *Service) ListIssues(ctx context.Context, statusRaw, priorityRaw string) (map[string]any, error) {
	var filter store.IssueFilter
	if strings.TrimSpace(statusRaw) != "" {
		status, err := workflow.ParseStatus(statusRaw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status filter", nil)
		}
		filter.Status = status
	}
	if strings.TrimSpace(priorityRaw) != "" {
		priority, err := workflow.ParsePriority(priorityRaw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown priority filter", nil)
		}
		filter.Priority = priority
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	items := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		items = append(items, issueJSON(issue))
	}
	return map[string]any{"issues": items}, nil
}

func (s *Service) GetIssue(ctx context.Context, issueID string) (map[string]any, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	return issueJSON(issue), nil
}

// TransitionIssue moves an issue to a new status. The caller supplies both
// sides of the move; the store is not re-read, so a stale "from" is the
// caller's race to lose.
func (s *Service) TransitionIssue(ctx context.Context, session Session, issueID string, input TransitionInput) (map[string]any, error) {
	if session.UserID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Sign in to update issues", nil)
	}

	from, err := workflow.ParseStatus(input.From)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown current status", nil)
	}
	to, err := workflow.ParseStatus(input.To)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown requested status", nil)
	}
	if err := workflow.CheckTransition(from, to); err != nil {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", err.Error(), map[string]any{
			"from": from,
			"to":   to,
		})
	}

	updated, err := s.store.UpdateIssueStatus(ctx, issueID, to)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if !updated {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "issue not found", nil)
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	s.indexIssue(issue)

	return issueJSON(issue), nil
}

func (s *Service) SearchIssues(ctx context.Context, q, statusRaw, priorityRaw string, limit, offset int) (search.Response, error) {
	if strings.TrimSpace(statusRaw) != "" {
		if _, err := workflow.ParseStatus(statusRaw); err != nil {
			return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status filter", nil)
		}
	}
	if strings.TrimSpace(priorityRaw) != "" {
		if _, err := workflow.ParsePriority(priorityRaw); err != nil {
			return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown priority filter", nil)
		}
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(search.Query{
		Text:           q,
		FilterStatus:   strings.TrimSpace(statusRaw),
		FilterPriority: strings.TrimSpace(priorityRaw),
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// ExportIssues renders the current issue list as a downloadable report.
func (s *Service) ExportIssues(ctx context.Context, format, statusRaw, priorityRaw string) (*export.Result, error) {
	var filter store.IssueFilter
	if strings.TrimSpace(statusRaw) != "" {
		status, err := workflow.ParseStatus(statusRaw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status filter", nil)
		}
		filter.Status = status
	}
	if strings.TrimSpace(priorityRaw) != "" {
		priority, err := workflow.ParsePriority(priorityRaw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown priority filter", nil)
		}
		filter.Priority = priority
	}

	var exportFormat export.Format
	switch export.Format(strings.ToLower(strings.TrimSpace(format))) {
	case export.FormatPDF:
		exportFormat = export.FormatPDF
	case export.FormatCSV:
		exportFormat = export.FormatCSV
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or csv", nil)
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	rows := make([]export.IssueRow, 0, len(issues))
	for _, issue := range issues {
		rows = append(rows, export.IssueRow{
			ID:          issue.ID,
			Title:       issue.Title,
			Description: issue.Description,
			Priority:    string(issue.Priority),
			Status:      string(issue.Status),
			AssignedTo:  issue.AssignedTo,
			CreatedBy:   issue.CreatedBy,
			CreatedAt:   issue.CreatedAt,
		})
	}

	result, err := s.export.Export(export.Report{
		Title:  "Issue Report",
		Format: exportFormat,
		Issues: rows,
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil)
		}
		return nil, fmt.Errorf("export: %w", err)
	}
	return result, nil
}

func (s *Service) indexIssue(issue store.Issue) {
	if s.search == nil {
		return
	}
	s.search.IndexIssue(search.IssueRecord{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Status:      string(issue.Status),
		Priority:    string(issue.Priority),
		AssignedTo:  issue.AssignedTo,
	})
}

func (s *Service) sendVerificationEmail(to, displayName, token string) {
	verifyURL := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/verify-email?token=" + token
	if err := s.email.SendVerificationEmail(to, displayName, verifyURL); err != nil {
		log.Printf("email: verification for %s: %v", to, err)
	}
}

func (s *Service) sendPasswordResetEmail(to, token string) {
	resetURL := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/reset-password?token=" + token
	if err := s.email.SendPasswordResetEmail(to, to, resetURL); err != nil {
		log.Printf("email: password reset for %s: %v", to, err)
	}
}

func (s *Service) notifyAssignee(issue store.Issue) {
	if issue.AssignedTo == "" || !s.SMTPConfigured() {
		return
	}
	go func() {
		issueURL := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/issues/" + issue.ID
		if err := s.email.SendAssignmentEmail(issue.AssignedTo, issue.AssignedTo, issue.Title, string(issue.Priority), issueURL); err != nil {
			log.Printf("email: assignment notice for %s: %v", issue.ID, err)
		}
	}()
}

func issueJSON(issue store.Issue) map[string]any {
	return map[string]any{
		"id":          issue.ID,
		"title":       issue.Title,
		"description": issue.Description,
		"priority":    issue.Priority,
		"status":      issue.Status,
		"assignedTo":  issue.AssignedTo,
		"createdBy":   issue.CreatedBy,
		"createdAt":   issue.CreatedAt.UTC().Format(time.RFC3339),
	}
}
