package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"promptgallery/internal/models"
)

type Postgres struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	const op = "storage.NewPostgres"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db, "postgres", "postgres"); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Postgres{pool: pool, db: db}, nil
}

func (s *Postgres) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Postgres) Insert(ctx context.Context, rec *models.ImageRecord) (int64, error) {
	const op = "storage.Postgres.Insert"

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO images (filename, prompt, model, size, quality, generation_timestamp, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rec.Filename, rec.Prompt, rec.Model, rec.Size, rec.Quality, rec.GenerationTimestamp, rec.Parameters,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rec.ID = id
	return id, nil
}

func (s *Postgres) All(ctx context.Context) ([]models.ImageRecord, error) {
	const op = "storage.Postgres.All"

	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, prompt, model, size, quality, generation_timestamp, parameters FROM images`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

func (s *Postgres) ByFilename(ctx context.Context, filename string) ([]models.ImageRecord, error) {
	const op = "storage.Postgres.ByFilename"

	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, prompt, model, size, quality, generation_timestamp, parameters
		 FROM images WHERE filename = $1 ORDER BY id`, filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

func (s *Postgres) DeleteByFilename(ctx context.Context, filename string) (int64, error) {
	const op = "storage.Postgres.DeleteByFilename"
	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE filename = $1`, filename)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	const op = "storage.Postgres.Count"
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func collectRecords(rows pgx.Rows) ([]models.ImageRecord, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ImageRecord, error) {
		var rec models.ImageRecord
		err := row.Scan(&rec.ID, &rec.Filename, &rec.Prompt, &rec.Model, &rec.Size, &rec.Quality,
			&rec.GenerationTimestamp, &rec.Parameters)
		return rec, err
	})
}
