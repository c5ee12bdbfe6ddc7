package search

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PgFTS is the Postgres full-text fallback. It queries the generated
// tsvector column on nodes directly, so it needs no separate index feed.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates the Postgres fallback searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy reports whether the database answers a ping.
func (p *PgFTS) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.db.PingContext(ctx) == nil
}

// Search runs an owner-scoped full-text query. Folders are excluded;
// only document nodes carry searchable prose.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	where := "owner_id = $1 AND NOT is_folder AND fts @@ plainto_tsquery('english', $2)"
	args := []any{q.OwnerID, q.Text}
	if q.FilterKind != "" {
		where += fmt.Sprintf(" AND metadata->>'type' = $%d", len(args)+1)
		args = append(args, q.FilterKind)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM nodes WHERE " + where
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	dataQuery := fmt.Sprintf(`
		SELECT id, title, path,
		       COALESCE(metadata->>'type', 'note'),
		       COALESCE(metadata->>'status', 'draft'),
		       ts_headline('english', COALESCE(NULLIF(metadata->>'synopsis', ''), content),
		                   plainto_tsquery('english', $2),
		                   'StartSel=<mark>, StopSel=</mark>, MaxWords=30, MinWords=10')
		FROM nodes
		WHERE %s
		ORDER BY ts_rank(fts, plainto_tsquery('english', $2)) DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, q.Offset)

	rows, err := p.db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search nodes: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Path, &r.Kind, &r.Status, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords pulls every document node into index records. Used to
// seed or rebuild the Meilisearch index.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NodeRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, title, content, path,
		       COALESCE(metadata->>'synopsis', ''),
		       COALESCE(metadata->>'type', 'note'),
		       COALESCE(metadata->>'status', 'draft')
		FROM nodes
		WHERE NOT is_folder`)
	if err != nil {
		return nil, fmt.Errorf("load node records: %w", err)
	}
	defer rows.Close()

	var records []NodeRecord
	for rows.Next() {
		var rec NodeRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Title, &rec.Content, &rec.Path,
			&rec.Synopsis, &rec.Kind, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan node record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
