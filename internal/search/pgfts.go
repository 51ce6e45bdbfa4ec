package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PgFTS searches analyses with PostgreSQL full-text search. It is the
// fallback path when Meilisearch is absent or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search ranks a profile's analyses against the query via the stored fts
// column on analyses.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const baseWhere = `s.profile_id = $1 AND a.fts @@ plainto_tsquery('english', $2)`

	var total int
	countSQL := `SELECT count(*) FROM analyses a JOIN sessions s ON s.id = a.session_id WHERE ` + baseWhere
	if err := p.db.QueryRowContext(ctx, countSQL, q.ProfileID, q.Text).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := fmt.Sprintf(`
		SELECT a.id, a.session_id, s.profile_id,
			a.vision_inspirational, a.vision_measurable,
			coalesce(a.meta->'keywords', '[]'::jsonb), a.created_at
		FROM analyses a
		JOIN sessions s ON s.id = a.session_id
		WHERE %s
		ORDER BY ts_rank(a.fts, plainto_tsquery('english', $2)) DESC, a.created_at DESC
		LIMIT %d`, baseWhere, limit)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.ProfileID, q.Text)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rawKeywords []byte
		if err := rows.Scan(&r.AnalysisID, &r.SessionID, &r.ProfileID,
			&r.VisionInspirational, &r.VisionMeasurable, &rawKeywords, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(rawKeywords, &r.Keywords); err != nil {
			r.Keywords = []string{}
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
