// Package thumbnail derives fixed-size JPEG previews from stored images and
// caches them on disk. A thumbnail is never authoritative: when it is
// missing it is rebuilt from its source.
package thumbnail

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"promptgallery/internal/metrics"
	"promptgallery/internal/models"
)

const thumbExt = ".jpg"

// sourceExts are the extensions a thumbnail's source may carry.
var sourceExts = []string{".png", ".jpg", ".jpeg", ".webp"}

type Cache struct {
	sourceDir string
	thumbDir  string
	width     int
	height    int
	quality   int

	group    singleflight.Group
	rendered atomic.Int64
}

func New(sourceDir, thumbDir string, width, height, quality int) (*Cache, error) {
	const op = "thumbnail.New"

	for _, dir := range []string{sourceDir, thumbDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &Cache{
		sourceDir: sourceDir,
		thumbDir:  thumbDir,
		width:     width,
		height:    height,
		quality:   quality,
	}, nil
}

// Name returns the thumbnail filename for a source filename.
func Name(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + thumbExt
}

func (c *Cache) Path(filename string) string {
	return filepath.Join(c.thumbDir, Name(filename))
}

// GetOrCreate returns the path of the thumbnail for filename, rendering it
// from the source image when absent. Concurrent calls for one filename
// render once.
func (c *Cache) GetOrCreate(filename string) (string, error) {
	const op = "thumbnail.GetOrCreate"

	if !validName(filename) {
		return "", fmt.Errorf("%s: invalid filename %q: %w", op, filename, models.ErrNotFound)
	}
	dst := c.Path(filename)
	if fileExists(dst) {
		return dst, nil
	}

	_, err, _ := c.group.Do(filename, func() (any, error) {
		// another caller may have finished while we waited on the stat
		if fileExists(dst) {
			return nil, nil
		}
		return nil, c.render(filename, dst)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return dst, nil
}

// URL returns the public thumbnail URL for filename, or the original image
// URL when the thumbnail cannot be produced.
func (c *Cache) URL(filename string) string {
	if _, err := c.GetOrCreate(filename); err != nil {
		metrics.ThumbnailFailuresTotal.Inc()
		log.WithError(err).WithField("filename", filename).Warn("Thumbnail unavailable, falling back to original image")
		return "/images/" + filename
	}
	return "/thumbs/" + Name(filename)
}

func (c *Cache) render(filename, dst string) error {
	src := filepath.Join(c.sourceDir, filename)
	if !fileExists(src) {
		return fmt.Errorf("%s: %w", filename, models.ErrSourceMissing)
	}

	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}

	thumb := imaging.Fill(flatten(img), c.width, c.height, imaging.Center, imaging.Lanczos)

	tmp, err := os.CreateTemp(c.thumbDir, ".thumb-*.tmp")
	if err != nil {
		return err
	}
	renamed := false
	defer func() {
		if !renamed {
			os.Remove(tmp.Name())
		}
	}()

	if err := imaging.Encode(tmp, thumb, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	renamed = true

	c.rendered.Add(1)
	metrics.ThumbnailsGeneratedTotal.Inc()
	log.WithField("filename", filename).Debug("Thumbnail generated")
	return nil
}

// flatten composites images that may carry transparency onto opaque white.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// Cleanup removes thumbnails whose source image no longer exists and
// returns how many were deleted.
func (c *Cache) Cleanup() (int, error) {
	const op = "thumbnail.Cleanup"

	entries, err := os.ReadDir(c.thumbDir)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != thumbExt {
			continue
		}
		if c.hasSource(strings.TrimSuffix(name, thumbExt)) {
			continue
		}
		if err := os.Remove(filepath.Join(c.thumbDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("%s: %w", op, err)
		}
		removed++
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("Removed orphaned thumbnails")
	}
	return removed, nil
}

func (c *Cache) hasSource(stem string) bool {
	for _, ext := range sourceExts {
		if fileExists(filepath.Join(c.sourceDir, stem+ext)) {
			return true
		}
	}
	return false
}

// Info reads the dimensions and format of a source image.
func (c *Cache) Info(filename string) (*models.ImageInfo, error) {
	const op = "thumbnail.Info"

	if !validName(filename) {
		return nil, fmt.Errorf("%s: invalid filename %q: %w", op, filename, models.ErrNotFound)
	}
	path := filepath.Join(c.sourceDir, filename)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %s: %w", op, filename, models.ErrSourceMissing)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.ImageInfo{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		FileSize: st.Size(),
	}, nil
}

// Size is the disk usage of the thumbnail directory.
func (c *Cache) Size() (int64, error) {
	return DirSize(c.thumbDir)
}

// DirSize returns the total size of regular files under dir. A missing
// directory has size zero.
func DirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func validName(filename string) bool {
	return filename != "" && filename != "." && filename != ".." && filepath.Base(filename) == filename
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
