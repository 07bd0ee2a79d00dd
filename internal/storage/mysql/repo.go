package mysql

import (
	"context"
	"database/sql"
	"time"
	"unicode/utf8"

	"marketfeed/internal/domain"
)

const maxReasonLen = 512

func valStatus(s int) any {
	if s == 0 {
		return nil
	}
	return s
}

// clip keeps reason within the column width without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// Repo is the MySQL-backed source miss log.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) LogMiss(ctx context.Context, m domain.SourceMiss) error {
	_, err := r.db.ExecContext(ctx, insertMissSQL, m.Category, m.Page, valStatus(m.Status), clip(m.Reason, maxReasonLen))
	return err
}

func (r *Repo) ListMisses(ctx context.Context, limit int) ([]domain.SourceMiss, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listMissesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SourceMiss, 0, limit)
	for rows.Next() {
		var m domain.SourceMiss
		var status sql.NullInt64
		if err := rows.Scan(&m.Category, &m.Page, &status, &m.Reason, &m.SeenAt); err != nil {
			return nil, err
		}
		if status.Valid {
			m.Status = int(status.Int64)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneMisses deletes misses seen before cutoff and reports how many went.
func (r *Repo) PruneMisses(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, pruneMissesSQL, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
