package history

import (
	"context"
	"database/sql"
	"time"
)

// DefaultRecentLimit is how many entries /stats returns.
const DefaultRecentLimit = 20

type Repository interface {
	Record(ctx context.Context, e *Entry) error
	Stats(ctx context.Context) (*Stats, error)
	Recent(ctx context.Context, limit int) ([]*Entry, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e and sets its ID. A zero CreatedAt is set to now.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO requests (request_id, status, kind, mime_type, size_bytes, language, duration, segments, processing_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RequestID, e.Status, e.Kind, e.MimeType, e.SizeBytes, e.Language, e.Duration, e.Segments, e.ProcessingMS, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByKind: make(map[string]int)}

	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       AVG(processing_ms),
		       COALESCE(SUM(CASE WHEN status = ? THEN duration ELSE 0 END), 0)
		FROM requests
	`, StatusSuccess, StatusSuccess).Scan(&s.Total, &s.Succeeded, &avg, &s.TotalAudioSeconds)
	if err != nil {
		return nil, err
	}
	s.Failed = s.Total - s.Succeeded
	s.AvgProcessingMS = avg.Float64

	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM requests WHERE status = ? GROUP BY kind
	`, StatusError)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		s.ByKind[kind] = n
	}
	return s, rows.Err()
}

// Recent returns the newest entries first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, status, kind, mime_type, size_bytes, language, duration, segments, processing_ms, created_at
		FROM requests ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Status, &e.Kind, &e.MimeType, &e.SizeBytes,
			&e.Language, &e.Duration, &e.Segments, &e.ProcessingMS, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
