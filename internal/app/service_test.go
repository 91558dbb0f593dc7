package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"issuedesk/api/internal/config"
	"issuedesk/api/internal/export"
	"issuedesk/api/internal/store"
	"issuedesk/api/internal/workflow"
)

type fakeStore struct {
	getUserByIDFn           func(context.Context, string) (store.User, error)
	isAccessTokenRevokedFn  func(context.Context, string) (bool, error)
	insertIssueFn           func(context.Context, store.Issue) (store.Issue, error)
	getIssueFn              func(context.Context, string) (store.Issue, error)
	listIssuesFn            func(context.Context, store.IssueFilter) ([]store.Issue, error)
	anyIssueSharesTokenFn   func(context.Context, []string) (bool, error)
	updateIssueStatusFn     func(context.Context, string, workflow.Status) (bool, error)
	saveRefreshSessionFn    func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn  func(context.Context, string) (string, error)
	revokeRefreshSessionFn  func(context.Context, string) error
	pingFn                  func(context.Context) error
	revokedRefreshSessions  []string
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) InsertIssue(ctx context.Context, issue store.Issue) (store.Issue, error) {
	if f.insertIssueFn != nil {
		return f.insertIssueFn(ctx, issue)
	}
	issue.CreatedAt = time.Now()
	return issue, nil
}
func (f *fakeStore) GetIssue(ctx context.Context, issueID string) (store.Issue, error) {
	if f.getIssueFn != nil {
		return f.getIssueFn(ctx, issueID)
	}
	return store.Issue{}, sql.ErrNoRows
}
func (f *fakeStore) ListIssues(ctx context.Context, filter store.IssueFilter) ([]store.Issue, error) {
	if f.listIssuesFn != nil {
		return f.listIssuesFn(ctx, filter)
	}
	return nil, nil
}
func (f *fakeStore) AnyIssueSharesToken(ctx context.Context, tokens []string) (bool, error) {
	if f.anyIssueSharesTokenFn != nil {
		return f.anyIssueSharesTokenFn(ctx, tokens)
	}
	return false, nil
}
func (f *fakeStore) UpdateIssueStatus(ctx context.Context, issueID string, status workflow.Status) (bool, error) {
	if f.updateIssueStatusFn != nil {
		return f.updateIssueStatusFn(ctx, issueID, status)
	}
	return true, nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.revokedRefreshSessions = append(f.revokedRefreshSessions, tokenHash)
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   time.Hour,
			RefreshTTL:  30 * 24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
		export:   export.NewService(),
	}
}

func reporterSession() Session {
	return Session{UserID: "usr_1", Email: "dana@example.com", Role: "reporter"}
}

func TestCreateIssueRequiresSession(t *testing.T) {
	storeTouched := false
	fs := &fakeStore{
		anyIssueSharesTokenFn: func(context.Context, []string) (bool, error) {
			storeTouched = true
			return false, nil
		},
		insertIssueFn: func(_ context.Context, issue store.Issue) (store.Issue, error) {
			storeTouched = true
			return issue, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateIssue(context.Background(), Session{}, CreateIssueInput{
		Title:       "Broken login",
		Description: "Login fails on submit",
	})

	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "UNAUTHENTICATED" || domainErr.Status != 401 {
		t.Fatalf("expected 401 UNAUTHENTICATED, got %d %s", domainErr.Status, domainErr.Code)
	}
	if storeTouched {
		t.Fatal("store must not be touched for unauthenticated requests")
	}
}

func TestCreateIssueRejectsDuplicate(t *testing.T) {
	insertCalled := false
	var checkedTokens []string
	fs := &fakeStore{
		anyIssueSharesTokenFn: func(_ context.Context, tokens []string) (bool, error) {
			checkedTokens = tokens
			return true, nil
		},
		insertIssueFn: func(_ context.Context, issue store.Issue) (store.Issue, error) {
			insertCalled = true
			return issue, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateIssue(context.Background(), reporterSession(), CreateIssueInput{
		Title:       "Checkout Fails",
		Description: "Payment declined",
	})

	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "DUPLICATE_DETECTED" || domainErr.Status != 409 {
		t.Fatalf("expected 409 DUPLICATE_DETECTED, got %d %s", domainErr.Status, domainErr.Code)
	}
	if insertCalled {
		t.Fatal("insert must not run when the duplicate gate rejects")
	}

	want := []string{"checkout", "fails", "payment", "declined"}
	if len(checkedTokens) != len(want) {
		t.Fatalf("checked tokens = %v, want %v", checkedTokens, want)
	}
	for i, token := range want {
		if checkedTokens[i] != token {
			t.Fatalf("checked tokens = %v, want %v", checkedTokens, want)
		}
	}
}

func TestCreateIssueStartsOpenWithDefaults(t *testing.T) {
	var inserted store.Issue
	fs := &fakeStore{
		insertIssueFn: func(_ context.Context, issue store.Issue) (store.Issue, error) {
			inserted = issue
			issue.CreatedAt = time.Now()
			return issue, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateIssue(context.Background(), reporterSession(), CreateIssueInput{
		Title:       "  Slow dashboard  ",
		Description: "Loading takes 20s",
		AssignedTo:  "lee@example.com",
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	if inserted.Status != workflow.StatusOpen {
		t.Errorf("new issues must start Open, got %s", inserted.Status)
	}
	if inserted.Priority != workflow.PriorityMedium {
		t.Errorf("blank priority must default to Medium, got %s", inserted.Priority)
	}
	if inserted.Title != "Slow dashboard" {
		t.Errorf("title should be trimmed, got %q", inserted.Title)
	}
	if inserted.CreatedBy != "dana@example.com" {
		t.Errorf("createdBy = %q, want the creator's email", inserted.CreatedBy)
	}
	if inserted.ID == "" {
		t.Error("issue ID must be generated")
	}
	if len(inserted.SearchTokens) == 0 {
		t.Error("search tokens must be stored with the issue")
	}
	if payload["status"] != workflow.StatusOpen {
		t.Errorf("payload status = %v, want Open", payload["status"])
	}
}

func TestCreateIssueValidation(t *testing.T) {
	gateCalled := false
	fs := &fakeStore{
		anyIssueSharesTokenFn: func(context.Context, []string) (bool, error) {
			gateCalled = true
			return false, nil
		},
	}
	svc := newTestService(fs)

	cases := []CreateIssueInput{
		{Title: "", Description: "desc"},
		{Title: "title", Description: "   "},
		{Title: "title", Description: "desc", Priority: "Urgent"},
	}
	for _, input := range cases {
		_, err := svc.CreateIssue(context.Background(), reporterSession(), input)
		domainErr, ok := err.(*DomainError)
		if !ok {
			t.Fatalf("input %+v: expected DomainError, got %v", input, err)
		}
		if domainErr.Code != "VALIDATION_ERROR" || domainErr.Status != 422 {
			t.Fatalf("input %+v: expected 422 VALIDATION_ERROR, got %d %s", input, domainErr.Status, domainErr.Code)
		}
	}
	if gateCalled {
		t.Fatal("duplicate gate must not run for invalid drafts")
	}
}

func TestTransitionIssueClosedSet(t *testing.T) {
	statuses := []string{"Open", "InProgress", "Done"}

	for _, from := range statuses {
		for _, to := range statuses {
			updateCalled := false
			fs := &fakeStore{
				updateIssueStatusFn: func(_ context.Context, issueID string, status workflow.Status) (bool, error) {
					updateCalled = true
					return true, nil
				},
				getIssueFn: func(_ context.Context, issueID string) (store.Issue, error) {
					return store.Issue{ID: issueID, Status: workflow.Status(to), Priority: workflow.PriorityMedium}, nil
				},
			}
			svc := newTestService(fs)

			_, err := svc.TransitionIssue(context.Background(), reporterSession(), "iss_1", TransitionInput{From: from, To: to})

			forbidden := from == "Open" && to == "Done"
			if forbidden {
				domainErr, ok := err.(*DomainError)
				if !ok {
					t.Fatalf("%s -> %s: expected DomainError, got %v", from, to, err)
				}
				if domainErr.Code != "INVALID_TRANSITION" || domainErr.Status != 409 {
					t.Fatalf("%s -> %s: expected 409 INVALID_TRANSITION, got %d %s", from, to, domainErr.Status, domainErr.Code)
				}
				if updateCalled {
					t.Fatalf("%s -> %s: store must not be updated for a rejected move", from, to)
				}
				continue
			}

			if err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
			}
			if !updateCalled {
				t.Fatalf("%s -> %s: expected store update", from, to)
			}
		}
	}
}

func TestTransitionIssueUnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})

	for _, input := range []TransitionInput{
		{From: "Closed", To: "Done"},
		{From: "Open", To: "Finished"},
		{From: "", To: "Done"},
	} {
		_, err := svc.TransitionIssue(context.Background(), reporterSession(), "iss_1", input)
		domainErr, ok := err.(*DomainError)
		if !ok {
			t.Fatalf("%+v: expected DomainError, got %v", input, err)
		}
		if domainErr.Code != "VALIDATION_ERROR" || domainErr.Status != 422 {
			t.Fatalf("%+v: expected 422 VALIDATION_ERROR, got %d %s", input, domainErr.Status, domainErr.Code)
		}
	}
}

func TestTransitionIssueNotFound(t *testing.T) {
	fs := &fakeStore{
		updateIssueStatusFn: func(context.Context, string, workflow.Status) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.TransitionIssue(context.Background(), reporterSession(), "iss_missing", TransitionInput{From: "Open", To: "InProgress"})
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "NOT_FOUND" || domainErr.Status != 404 {
		t.Fatalf("expected 404 NOT_FOUND, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestListIssuesPassesFilters(t *testing.T) {
	var gotFilter store.IssueFilter
	fs := &fakeStore{
		listIssuesFn: func(_ context.Context, filter store.IssueFilter) ([]store.Issue, error) {
			gotFilter = filter
			return []store.Issue{
				{ID: "iss_2", Status: workflow.StatusOpen, Priority: workflow.PriorityHigh, CreatedAt: time.Now()},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ListIssues(context.Background(), "Open", "High")
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	if gotFilter.Status != workflow.StatusOpen || gotFilter.Priority != workflow.PriorityHigh {
		t.Fatalf("filter = %+v, want Open/High", gotFilter)
	}
	items, ok := payload["issues"].([]map[string]any)
	if !ok || len(items) != 1 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestListIssuesRejectsUnknownFilter(t *testing.T) {
	svc := newTestService(&fakeStore{})

	for _, args := range [][2]string{{"Closed", ""}, {"", "Urgent"}} {
		_, err := svc.ListIssues(context.Background(), args[0], args[1])
		domainErr, ok := err.(*DomainError)
		if !ok {
			t.Fatalf("filters %v: expected DomainError, got %v", args, err)
		}
		if domainErr.Code != "VALIDATION_ERROR" {
			t.Fatalf("filters %v: expected VALIDATION_ERROR, got %s", args, domainErr.Code)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	user := store.User{ID: "usr_1", Email: "dana@example.com", DisplayName: "Dana", Role: "reporter"}
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			if userID != user.ID {
				return store.User{}, sql.ErrNoRows
			}
			return user, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("session must carry access and refresh tokens")
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != user.ID || parsed.Email != user.Email || parsed.Role != "reporter" {
		t.Fatalf("parsed session = %+v", parsed)
	}
}

func TestSessionFromRevokedToken(t *testing.T) {
	user := store.User{ID: "usr_1", Email: "dana@example.com", Role: "reporter"}
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) { return user, nil },
		isAccessTokenRevokedFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("revoked token must be rejected")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	user := store.User{ID: "usr_1", Email: "dana@example.com", Role: "reporter"}
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) { return user, nil },
		lookupRefreshSessionFn: func(context.Context, string) (string, error) {
			return user.ID, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if session.RefreshToken == "" || session.RefreshToken == "old-refresh-token" {
		t.Fatal("refresh must rotate the token")
	}
	if len(fs.revokedRefreshSessions) != 1 {
		t.Fatalf("expected the old refresh session to be revoked, got %v", fs.revokedRefreshSessions)
	}
}
