package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS is the fallback search backend, using PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery against the issues fts column, with ts_rank
// for ordering and ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "i.fts @@ " + tsQuery
	if q.FilterStatus != "" {
		where += fmt.Sprintf(" AND i.status = $%d", argN)
		args = append(args, q.FilterStatus)
		argN++
	}
	if q.FilterPriority != "" {
		where += fmt.Sprintf(" AND i.priority = $%d", argN)
		args = append(args, q.FilterPriority)
		argN++
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM issues i WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT i.id, i.title,
			ts_headline('english', coalesce(i.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			i.status, i.priority
		FROM issues i
		WHERE %s
		ORDER BY ts_rank(i.fts, %s) DESC
		LIMIT %d OFFSET %d`,
		tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.Priority); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all issues as index records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IssueRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, assigned_to
		FROM issues
	`)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	defer rows.Close()

	records := make([]IssueRecord, 0)
	for rows.Next() {
		var rec IssueRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Status, &rec.Priority, &rec.AssignedTo); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}

	return records, nil
}
