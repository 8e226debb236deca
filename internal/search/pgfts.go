package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"
)

// PgFTS implements Searcher over the generated organizations.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks organizations with ts_rank over a prefix-matching tsquery, so
// partial names typed in a join dialog still match.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	tsq := prefixQuery(q.Text)
	if tsq == "" {
		return nil, 0, nil
	}
	q = q.normalized()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM organizations WHERE fts @@ to_tsquery('simple', $1)
	`, tsq).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, slug, description,
			ts_headline('simple', coalesce(description, ''), to_tsquery('simple', $1),
				'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet
		FROM organizations
		WHERE fts @@ to_tsquery('simple', $1)
		ORDER BY ts_rank(fts, to_tsquery('simple', $1)) DESC, id
		LIMIT $2 OFFSET $3
	`, tsq, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &r.Description, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// prefixQuery turns free text into an AND of prefix terms for to_tsquery.
// Everything but letters and digits is dropped so user input can never form
// tsquery operators.
func prefixQuery(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, f+":*")
	}
	return strings.Join(terms, " & ")
}

// LoadAllRecords returns every organization for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, slug, description FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load organizations: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &r.Description); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return records, nil
}
