// Package gallery is the catalog of generated images: it records metadata,
// stores image bytes, and answers paginated, searchable gallery queries
// enriched with live filesystem data.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"

	"promptgallery/internal/models"
	"promptgallery/internal/thumbnail"
)

const (
	defaultMethod = "Euler"
	timeLayout    = "2006-01-02 15:04:05"
)

// qualitySteps maps a quality tier to the sampling steps shown in the UI.
var qualitySteps = map[string]int{
	"low":    4,
	"medium": 10,
	"high":   20,
}

// Store is the persistence the gallery needs.
type Store interface {
	Insert(ctx context.Context, rec *models.ImageRecord) (int64, error)
	All(ctx context.Context) ([]models.ImageRecord, error)
	ByFilename(ctx context.Context, filename string) ([]models.ImageRecord, error)
	DeleteByFilename(ctx context.Context, filename string) (int64, error)
	Count(ctx context.Context) (int, error)
}

type Service struct {
	store  Store
	thumbs *thumbnail.Cache
	index  *SearchIndex

	outputDir      string
	defaultModel   string
	defaultSize    string
	defaultQuality string
	perPage        int

	now func() time.Time
}

// New builds the service and loads every stored record into the search
// index.
func New(ctx context.Context, cfg *models.Config, store Store, thumbs *thumbnail.Cache) (*Service, error) {
	const op = "gallery.New"

	if err := os.MkdirAll(cfg.Files.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	index, err := NewSearchIndex()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Service{
		store:          store,
		thumbs:         thumbs,
		index:          index,
		outputDir:      cfg.Files.OutputDir,
		defaultModel:   cfg.SDAPI.Model,
		defaultSize:    cfg.SDAPI.DefaultSize,
		defaultQuality: cfg.Gallery.DefaultQuality,
		perPage:        cfg.Gallery.ItemsPerPage,
		now:            time.Now,
	}

	recs, err := store.All(ctx)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, rec := range recs {
		if err := index.Add(rec); err != nil {
			index.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	log.WithField("records", len(recs)).Info("Gallery loaded")
	return s, nil
}

func (s *Service) Close() error {
	return s.index.Close()
}

// Add records a newly generated image. Filenames are not checked for
// uniqueness.
func (s *Service) Add(ctx context.Context, filename, prompt, model, size, quality string, seed, actualSeed *int64) (int64, error) {
	if model == "" {
		model = s.defaultModel
	}
	if size == "" {
		size = s.defaultSize
	}
	if quality == "" {
		quality = s.defaultQuality
	}
	params := ParametersFor(quality)
	params.Seed = actualSeed
	params.UserSeed = seed

	return s.Insert(ctx, &models.ImageRecord{
		Filename:            filename,
		Prompt:              prompt,
		Model:               model,
		Size:                size,
		Quality:             quality,
		GenerationTimestamp: s.now(),
		Parameters:          params,
	})
}

// ParametersFor returns the sampling parameters recorded for a quality tier.
// Unknown tiers get the low tier's steps. Seeds are left unset.
func ParametersFor(quality string) models.Parameters {
	steps, ok := qualitySteps[quality]
	if !ok {
		steps = qualitySteps["low"]
	}
	return models.Parameters{Steps: steps, Method: defaultMethod}
}

// Insert stores rec as given and indexes it.
func (s *Service) Insert(ctx context.Context, rec *models.ImageRecord) (int64, error) {
	const op = "gallery.Insert"

	id, err := s.store.Insert(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.index.Add(*rec); err != nil {
		log.WithError(err).WithField("id", id).Warn("Failed to index gallery record")
	}
	return id, nil
}

// Records returns every record, newest generation first.
func (s *Service) Records(ctx context.Context) ([]models.ImageRecord, error) {
	const op = "gallery.Records"

	recs, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	SortNewestFirst(recs)
	return recs, nil
}

// Filenames returns the set of filenames that have at least one record.
func (s *Service) Filenames(ctx context.Context) (map[string]bool, error) {
	recs, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("gallery.Filenames: %w", err)
	}
	names := make(map[string]bool, len(recs))
	for _, rec := range recs {
		names[rec.Filename] = true
	}
	return names, nil
}

func (s *Service) ListPaginated(ctx context.Context, page, perPage int) (RecordPage, error) {
	recs, err := s.Records(ctx)
	if err != nil {
		return RecordPage{}, err
	}
	return Paginate(recs, page, s.resolvePerPage(perPage)), nil
}

// Gallery returns one page enriched with thumbnail URLs and live file info.
// Thumbnails are generated lazily here.
func (s *Service) Gallery(ctx context.Context, page, perPage int) (*models.GalleryPage, error) {
	p, err := s.ListPaginated(ctx, page, perPage)
	if err != nil {
		return nil, err
	}
	return s.enrich(p), nil
}

// Search runs a full-text prompt query and pages through the hits in
// relevance order.
func (s *Service) Search(ctx context.Context, query string, page, perPage int) (*models.GalleryPage, error) {
	const op = "gallery.Search"

	recs, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	byID := make(map[int64]models.ImageRecord, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}

	ids, err := s.index.Search(query, len(recs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	hits := make([]models.ImageRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			hits = append(hits, rec)
		}
	}
	return s.enrich(Paginate(hits, page, s.resolvePerPage(perPage))), nil
}

func (s *Service) enrich(p RecordPage) *models.GalleryPage {
	out := &models.GalleryPage{
		Items:   make([]models.GalleryItem, 0, len(p.Items)),
		Total:   p.Total,
		Page:    p.Page,
		PerPage: p.PerPage,
		HasNext: p.HasNext,
		HasPrev: p.HasPrev,
	}
	for _, rec := range p.Items {
		item := models.GalleryItem{
			ImageRecord:  rec,
			ThumbnailURL: s.thumbs.URL(rec.Filename),
			ImageURL:     "/images/" + rec.Filename,
		}
		if info := s.FileInfo(rec.Filename); info != nil {
			item.FileExists = true
			item.FileInfo = info
			if dims, err := s.thumbs.Info(rec.Filename); err == nil {
				info.Width, info.Height, info.Format = dims.Width, dims.Height, dims.Format
			} else {
				log.WithError(err).WithField("filename", rec.Filename).Debug("Image dimensions unavailable")
			}
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// Stats cross-references records with the content directory. Records whose
// file is gone count toward Total only.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	const op = "gallery.Stats"

	recs, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	stats := &models.Stats{Total: len(recs)}
	for _, rec := range recs {
		if info := s.FileInfo(rec.Filename); info != nil {
			stats.ValidFiles++
			stats.TotalSize += info.FileSize
		}
	}
	stats.TotalSizeMB = math.Round(float64(stats.TotalSize)/(1024*1024)*100) / 100

	if stats.ThumbsSize, err = s.thumbs.Size(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

// Count is the number of stored records.
func (s *Service) Count(ctx context.Context) (int, error) {
	const op = "gallery.Count"

	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Remove deletes every record for filename together with the image and its
// thumbnail. Files that are already gone are ignored.
func (s *Service) Remove(ctx context.Context, filename string) (int64, error) {
	const op = "gallery.Remove"

	recs, err := s.store.ByFilename(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(recs) == 0 {
		return 0, fmt.Errorf("%s: %s: %w", op, filename, models.ErrNotFound)
	}
	n, err := s.store.DeleteByFilename(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	for _, rec := range recs {
		if err := s.index.Delete(rec.ID); err != nil {
			log.WithError(err).WithField("id", rec.ID).Warn("Failed to unindex gallery record")
		}
	}

	if path, err := s.ImagePath(filename); err == nil {
		removeQuietly(path)
	}
	removeQuietly(s.thumbs.Path(filename))
	log.WithFields(log.Fields{"filename": filename, "records": n}).Info("Image removed from gallery")
	return n, nil
}

// SaveImage writes data to the content directory under filename, replacing
// any file of the same name, and returns the stored size. The bytes must be
// an image.
func (s *Service) SaveImage(filename string, data []byte) (int64, error) {
	const op = "gallery.SaveImage"

	path, err := s.ImagePath(filename)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return 0, fmt.Errorf("%s: generated payload is %s, not an image", op, mt.String())
	}

	tmp, err := os.CreateTemp(s.outputDir, ".upload-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	renamed := false
	defer func() {
		if !renamed {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	renamed = true
	return int64(len(data)), nil
}

// ImagePath resolves filename inside the content directory, rejecting
// anything that is not a bare file name.
func (s *Service) ImagePath(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." || filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid filename %q: %w", filename, models.ErrNotFound)
	}
	return filepath.Join(s.outputDir, filename), nil
}

// FileInfo returns live data for filename, or nil if the file is missing.
func (s *Service) FileInfo(filename string) *models.FileInfo {
	path, err := s.ImagePath(filename)
	if err != nil {
		return nil
	}
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return nil
	}
	mod := st.ModTime().Format(timeLayout)
	return &models.FileInfo{
		FileSize:   st.Size(),
		CreatedAt:  mod,
		ModifiedAt: mod,
	}
}

func (s *Service) ThumbnailURL(filename string) string {
	return s.thumbs.URL(filename)
}

func (s *Service) Thumbnails() *thumbnail.Cache {
	return s.thumbs
}

func (s *Service) resolvePerPage(perPage int) int {
	if perPage < 1 {
		return s.perPage
	}
	return perPage
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).WithField("path", path).Warn("Failed to remove file")
	}
}

// SortNewestFirst orders records by generation time descending; ties go to
// the higher id.
func SortNewestFirst(recs []models.ImageRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		ti, tj := recs[i].GenerationTimestamp, recs[j].GenerationTimestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return recs[i].ID > recs[j].ID
	})
}
