package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches forum_posts with PostgreSQL full-text search. Posts use the
// generated fts column; replies are pulled out of the stored document with a
// JSON path and matched on the fly.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Healthy() bool {
	return p != nil && p.db != nil
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
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

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}

	categoryClause := ""
	if q.Category != "" {
		args = append(args, q.Category)
		categoryClause = fmt.Sprintf(" AND p.category = $%d", len(args))
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultPost {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.id AS post_id,
				coalesce(p.document->>'title', '') AS title,
				ts_headline('simple', coalesce(p.document->>'content', ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.category,
				ts_rank(p.fts, %[1]s) AS rank
			FROM forum_posts p
			WHERE p.fts @@ %[1]s%[2]s`, tsQuery, categoryClause))
	}
	if q.FilterType == "" || q.FilterType == ResultReply {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'reply'::text AS type, r.node->>'id', p.id AS post_id,
				coalesce(p.document->>'title', '') AS title,
				ts_headline('simple', r.node->>'text', %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.category,
				ts_rank(to_tsvector('simple', r.node->>'text'), %[1]s) AS rank
			FROM forum_posts p
			CROSS JOIN LATERAL jsonb_path_query(p.document, 'strict $.replies.** ? (exists (@.text))') AS r(node)
			WHERE to_tsvector('simple', r.node->>'text') @@ %[1]s%[2]s`, tsQuery, categoryClause))
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, post_id, title, snippet, category
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

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
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.PostID, &r.Title, &r.Snippet, &r.Category); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}
