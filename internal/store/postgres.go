package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"issuedesk/api/internal/workflow"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, is_email_verified
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, is_email_verified
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- Refresh sessions (fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- Issues ----

// InsertIssue writes one issue row and returns the record with the
// store-assigned creation timestamp filled in.
func (s *PostgresStore) InsertIssue(ctx context.Context, issue Issue) (Issue, error) {
	encodedTokens, err := json.Marshal(nonNilTokens(issue.SearchTokens))
	if err != nil {
		return Issue{}, fmt.Errorf("encode search tokens: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO issues (id, title, description, priority, status, assigned_to, created_by, search_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		RETURNING created_at
	`, issue.ID, issue.Title, issue.Description, string(issue.Priority), string(issue.Status),
		issue.AssignedTo, issue.CreatedBy, string(encodedTokens)).Scan(&issue.CreatedAt)
	if err != nil {
		return Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	return issue, nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, issueID string) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, priority, status, assigned_to, created_by, created_at, search_tokens
		FROM issues
		WHERE id = $1
	`, issueID)
	return scanIssue(row)
}

// ListIssues returns all issues matching the filter, newest first. Filters
// are exact-match and ANDed; there is no pagination.
func (s *PostgresStore) ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, error) {
	query := `
		SELECT id, title, description, priority, status, assigned_to, created_by, created_at, search_tokens
		FROM issues
	`
	var clauses []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		clauses = append(clauses, fmt.Sprintf("priority = $%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	items := make([]Issue, 0)
	for rows.Next() {
		item, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return items, nil
}

// AnyIssueSharesToken reports whether any stored issue's search_tokens
// intersect the candidate tokens. A single shared token is a match; there
// is no similarity threshold.
func (s *PostgresStore) AnyIssueSharesToken(ctx context.Context, tokens []string) (bool, error) {
	if len(tokens) == 0 {
		return false, nil
	}
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return false, fmt.Errorf("encode candidate tokens: %w", err)
	}
	var found bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM issues i
			WHERE EXISTS(
				SELECT 1
				FROM jsonb_array_elements_text(i.search_tokens) stored
				WHERE stored IN (SELECT jsonb_array_elements_text($1::jsonb))
			)
		)
	`, string(encoded)).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("token overlap query: %w", err)
	}
	return found, nil
}

// UpdateIssueStatus sets only the status field. Returns false when the
// issue does not exist.
func (s *PostgresStore) UpdateIssueStatus(ctx context.Context, issueID string, status workflow.Status) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issues SET status = $2 WHERE id = $1
	`, issueID, string(status))
	if err != nil {
		return false, fmt.Errorf("update issue status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update issue status rows: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (Issue, error) {
	var item Issue
	var priority, status string
	var tokensRaw []byte
	err := row.Scan(&item.ID, &item.Title, &item.Description, &priority, &status,
		&item.AssignedTo, &item.CreatedBy, &item.CreatedAt, &tokensRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return Issue{}, err
	}
	if err != nil {
		return Issue{}, fmt.Errorf("scan issue: %w", err)
	}
	item.Priority = workflow.Priority(priority)
	item.Status = workflow.Status(status)
	if len(tokensRaw) > 0 {
		_ = json.Unmarshal(tokensRaw, &item.SearchTokens)
	}
	return item, nil
}

func nonNilTokens(tokens []string) []string {
	if tokens == nil {
		return []string{}
	}
	return tokens
}
