package models

import "time"

// ImageRecord is the stored metadata of one generated image. The file it
// names may no longer exist on disk.
type ImageRecord struct {
	ID                  int64      `json:"id"`
	Filename            string     `json:"filename"`
	Prompt              string     `json:"prompt"`
	Model               string     `json:"model"`
	Size                string     `json:"size"`
	Quality             string     `json:"quality"`
	GenerationTimestamp time.Time  `json:"generation_timestamp"`
	Parameters          Parameters `json:"parameters"`
}

type Parameters struct {
	Steps    int    `json:"steps"`
	Seed     *int64 `json:"seed"`      // seed actually used
	UserSeed *int64 `json:"user_seed"` // seed requested, nil when random
	Method   string `json:"method"`
}

// FileInfo is live filesystem data for a stored image.
type FileInfo struct {
	FileSize   int64  `json:"file_size"`
	CreatedAt  string `json:"created_at"`
	ModifiedAt string `json:"modified_at"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Format     string `json:"format,omitempty"`
}

type GalleryItem struct {
	ImageRecord
	ThumbnailURL string `json:"thumbnail_url"`
	ImageURL     string `json:"image_url"`
	FileExists   bool   `json:"file_exists"`
	*FileInfo
}

type GalleryPage struct {
	Items   []GalleryItem `json:"images"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
	HasNext bool          `json:"has_next"`
	HasPrev bool          `json:"has_prev"`
}

type Stats struct {
	Total       int     `json:"total"`
	ValidFiles  int     `json:"valid_files"`
	TotalSize   int64   `json:"total_size"`
	TotalSizeMB float64 `json:"total_size_mb"`
	ThumbsSize  int64   `json:"thumbs_size"`
}

// ImageInfo describes a source image on disk.
type ImageInfo struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	FileSize int64  `json:"file_size"`
}
