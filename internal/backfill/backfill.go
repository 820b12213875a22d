// Package backfill records images that exist in the content directory but
// have no gallery metadata, reconstructing what it can from the filename.
package backfill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"promptgallery/internal/gallery"
	"promptgallery/internal/models"
)

// word1_word2_word3_MMDD_HHMM.png
var namePattern = regexp.MustCompile(`^(.+?)_(\d{4})_(\d{4})\.png$`)

type Gallery interface {
	Filenames(ctx context.Context) (map[string]bool, error)
	Insert(ctx context.Context, rec *models.ImageRecord) (int64, error)
}

type Result struct {
	Found   int // png files in the directory
	Known   int // already recorded
	Added   int
	Entries []models.ImageRecord
}

type Backfiller struct {
	gallery Gallery
	dir     string
	model   string
	size    string
	quality string
	now     func() time.Time
}

func New(g Gallery, cfg *models.Config) *Backfiller {
	return &Backfiller{
		gallery: g,
		dir:     cfg.Files.OutputDir,
		model:   cfg.SDAPI.Model,
		size:    cfg.SDAPI.DefaultSize,
		quality: cfg.Gallery.DefaultQuality,
		now:     time.Now,
	}
}

// Run inserts a record for every unrecorded *.png file. Files are visited in
// name order so ids are assigned deterministically.
func (b *Backfiller) Run(ctx context.Context) (*Result, error) {
	const op = "backfill.Run"

	known, err := b.gallery.Filenames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	matches, err := filepath.Glob(filepath.Join(b.dir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sort.Strings(matches)

	res := &Result{Found: len(matches)}
	for _, path := range matches {
		name := filepath.Base(path)
		if known[name] {
			res.Known++
			continue
		}
		st, err := os.Stat(path)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}

		prompt, ts := b.reconstruct(name, st.ModTime())
		rec := &models.ImageRecord{
			Filename:            name,
			Prompt:              prompt,
			Model:               b.model,
			Size:                b.size,
			Quality:             b.quality,
			GenerationTimestamp: ts,
			Parameters:          gallery.ParametersFor(b.quality),
		}
		if _, err := b.gallery.Insert(ctx, rec); err != nil {
			return res, fmt.Errorf("%s: %s: %w", op, name, err)
		}
		log.WithFields(log.Fields{"filename": name, "prompt": prompt}).Info("Backfilled gallery record")
		res.Added++
		res.Entries = append(res.Entries, *rec)
	}
	return res, nil
}

// reconstruct guesses prompt and timestamp from a generated filename. Names
// that do not parse fall back to the file modification time.
func (b *Backfiller) reconstruct(name string, modTime time.Time) (string, time.Time) {
	fallback := "Generated image from " + name

	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return fallback, modTime
	}
	ts, ok := stamp(b.now().Year(), m[2], m[3], b.now().Location())
	if !ok {
		return fallback, modTime
	}
	words := strings.ReplaceAll(m[1], "_", " ")
	return cases.Title(language.Und).String(words), ts
}

// stamp builds a time from MMDD and HHMM, rejecting out-of-range fields.
func stamp(year int, date, clock string, loc *time.Location) (time.Time, bool) {
	month, _ := strconv.Atoi(date[:2])
	day, _ := strconv.Atoi(date[2:])
	hour, _ := strconv.Atoi(clock[:2])
	minute, _ := strconv.Atoi(clock[2:])
	if month < 1 || month > 12 || hour > 23 || minute > 59 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
