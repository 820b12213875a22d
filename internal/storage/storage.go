package storage

import (
	"context"
	"fmt"

	"promptgallery/internal/models"
)

// Store persists image metadata records. Implementations are safe for
// concurrent use.
type Store interface {
	Insert(ctx context.Context, rec *models.ImageRecord) (int64, error)
	All(ctx context.Context) ([]models.ImageRecord, error)
	ByFilename(ctx context.Context, filename string) ([]models.ImageRecord, error)
	DeleteByFilename(ctx context.Context, filename string) (int64, error)
	Count(ctx context.Context) (int, error)
	Close()
}

// Open returns the store selected by cfg.Driver with migrations applied.
func Open(ctx context.Context, cfg models.GalleryConfig) (Store, error) {
	const op = "storage.Open"

	switch cfg.Driver {
	case models.DriverSQLite, "":
		return NewSQLite(cfg.DBFile)
	case models.DriverPostgres:
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
}
