package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"promptgallery/internal/models"
)

// SQLite is the default single-file metadata store.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	const op = "storage.NewSQLite"

	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, "sqlite3", "sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	s.db.Close()
}

func (s *SQLite) Insert(ctx context.Context, rec *models.ImageRecord) (int64, error) {
	const op = "storage.SQLite.Insert"

	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO images (filename, prompt, model, size, quality, generation_timestamp, parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Filename, rec.Prompt, rec.Model, rec.Size, rec.Quality,
		rec.GenerationTimestamp.Format(time.RFC3339Nano), string(params))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rec.ID = id
	return id, nil
}

func (s *SQLite) All(ctx context.Context) ([]models.ImageRecord, error) {
	const op = "storage.SQLite.All"
	recs, err := s.query(ctx,
		`SELECT id, filename, prompt, model, size, quality, generation_timestamp, parameters FROM images`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

func (s *SQLite) ByFilename(ctx context.Context, filename string) ([]models.ImageRecord, error) {
	const op = "storage.SQLite.ByFilename"
	recs, err := s.query(ctx,
		`SELECT id, filename, prompt, model, size, quality, generation_timestamp, parameters
		 FROM images WHERE filename = ? ORDER BY id`, filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

func (s *SQLite) DeleteByFilename(ctx context.Context, filename string) (int64, error) {
	const op = "storage.SQLite.DeleteByFilename"
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE filename = ?`, filename)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	const op = "storage.SQLite.Count"
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]models.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.ImageRecord
	for rows.Next() {
		var (
			rec    models.ImageRecord
			ts     string
			params string
		)
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Prompt, &rec.Model, &rec.Size, &rec.Quality, &ts, &params); err != nil {
			return nil, err
		}
		if rec.GenerationTimestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("record %d: bad generation_timestamp %q: %w", rec.ID, ts, err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("record %d: bad parameters: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
