package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"issuedesk/api/internal/store"
	"issuedesk/api/internal/workflow"
)

func issueTestServer(t *testing.T, fs *fakeStore) (*httptest.Server, string) {
	t.Helper()

	user := store.User{ID: "usr_1", Email: "dana@example.com", DisplayName: "Dana", Role: "reporter"}
	if fs.getUserByIDFn == nil {
		fs.getUserByIDFn = func(context.Context, string) (store.User, error) { return user, nil }
	}

	svc := newTestService(fs)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)

	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return server, session.Token
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func TestIssuesRequireAuthentication(t *testing.T) {
	server, _ := issueTestServer(t, &fakeStore{})

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/issues", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHENTICATED" {
		t.Fatalf("code = %v, want UNAUTHENTICATED", payload["code"])
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/issues", "", `{"title":"x","description":"y"}`)
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "UNAUTHENTICATED" {
		t.Fatalf("create without session: %d %v", resp.StatusCode, payload["code"])
	}
}

func TestCreateIssueEndpoint(t *testing.T) {
	fs := &fakeStore{
		insertIssueFn: func(_ context.Context, issue store.Issue) (store.Issue, error) {
			issue.CreatedAt = time.Now()
			return issue, nil
		},
	}
	server, token := issueTestServer(t, fs)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/issues", token,
		`{"title":"Broken search","description":"No results for valid queries","priority":"High","assignedTo":"lee@example.com"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (payload %v)", resp.StatusCode, payload)
	}
	if payload["status"] != "Open" {
		t.Errorf("status = %v, want Open", payload["status"])
	}
	if payload["priority"] != "High" {
		t.Errorf("priority = %v, want High", payload["priority"])
	}
	if payload["createdBy"] != "dana@example.com" {
		t.Errorf("createdBy = %v, want the creator's email", payload["createdBy"])
	}
}

func TestCreateIssueEndpointDuplicate(t *testing.T) {
	fs := &fakeStore{
		anyIssueSharesTokenFn: func(context.Context, []string) (bool, error) { return true, nil },
	}
	server, token := issueTestServer(t, fs)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/issues", token,
		`{"title":"Broken search","description":"No results"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if payload["code"] != "DUPLICATE_DETECTED" {
		t.Fatalf("code = %v, want DUPLICATE_DETECTED", payload["code"])
	}
}

func TestTransitionEndpointRejectsOpenToDone(t *testing.T) {
	fs := &fakeStore{}
	server, token := issueTestServer(t, fs)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/issues/iss_1/status", token,
		`{"from":"Open","to":"Done"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if payload["code"] != "INVALID_TRANSITION" {
		t.Fatalf("code = %v, want INVALID_TRANSITION", payload["code"])
	}
}

func TestTransitionEndpointAcceptsForwardMove(t *testing.T) {
	fs := &fakeStore{
		getIssueFn: func(_ context.Context, issueID string) (store.Issue, error) {
			return store.Issue{
				ID:        issueID,
				Title:     "Broken search",
				Status:    workflow.StatusInProgress,
				Priority:  workflow.PriorityMedium,
				CreatedAt: time.Now(),
			}, nil
		},
	}
	server, token := issueTestServer(t, fs)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/issues/iss_1/status", token,
		`{"from":"Open","to":"InProgress"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (payload %v)", resp.StatusCode, payload)
	}
	if payload["status"] != "InProgress" {
		t.Errorf("status = %v, want InProgress", payload["status"])
	}
}

func TestGetIssueEndpointNotFound(t *testing.T) {
	fs := &fakeStore{
		getIssueFn: func(context.Context, string) (store.Issue, error) {
			return store.Issue{}, sql.ErrNoRows
		},
	}
	server, token := issueTestServer(t, fs)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/issues/iss_missing", token, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("code = %v, want NOT_FOUND", payload["code"])
	}
}

func TestListIssuesEndpointFilters(t *testing.T) {
	var gotFilter store.IssueFilter
	fs := &fakeStore{
		listIssuesFn: func(_ context.Context, filter store.IssueFilter) ([]store.Issue, error) {
			gotFilter = filter
			return []store.Issue{
				{ID: "iss_1", Status: workflow.StatusOpen, Priority: workflow.PriorityHigh, CreatedAt: time.Now()},
			}, nil
		},
	}
	server, token := issueTestServer(t, fs)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/issues?status=Open&priority=High", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if gotFilter.Status != workflow.StatusOpen || gotFilter.Priority != workflow.PriorityHigh {
		t.Fatalf("filter = %+v, want Open/High", gotFilter)
	}
	issues, ok := payload["issues"].([]any)
	if !ok || len(issues) != 1 {
		t.Fatalf("unexpected issues payload %v", payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/issues?status=Closed", token, "")
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("bad filter: %d %v", resp.StatusCode, payload["code"])
	}
}

func TestExportEndpointCSV(t *testing.T) {
	fs := &fakeStore{
		listIssuesFn: func(context.Context, store.IssueFilter) ([]store.Issue, error) {
			return []store.Issue{
				{ID: "iss_1", Title: "Broken search", Description: "No results", Status: workflow.StatusOpen, Priority: workflow.PriorityHigh, CreatedAt: time.Now()},
			}, nil
		},
	}
	server, token := issueTestServer(t, fs)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/issues/export?format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q, want a csv attachment", cd)
	}
}

func TestExportEndpointRejectsUnknownFormat(t *testing.T) {
	server, token := issueTestServer(t, &fakeStore{})

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/issues/export?format=xlsx", token, "")
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unknown format: %d %v", resp.StatusCode, payload["code"])
	}
}
