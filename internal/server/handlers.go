package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"promptgallery/internal/models"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	const op = "server.handleGenerate"

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("%s: invalid request body: %w", op, err))
		return
	}

	id, err := s.jobs.Submit(req.Prompt, req.Size)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": models.JobPending})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, err := s.jobs.Poll(c.Param("job_id"))
	if err != nil {
		abortWithError(c, statusFor(err), errors.New("job not found"))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleImage(c *gin.Context) {
	name := c.Param("filename")
	if !safeName(name) {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid filename %q", name))
		return
	}
	path, err := s.gallery.ImagePath(name)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	serveFile(c, path)
}

func (s *Server) handleThumbnail(c *gin.Context) {
	name := c.Param("filename")
	if !safeName(name) {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid filename %q", name))
		return
	}
	serveFile(c, s.gallery.Thumbnails().Path(name))
}

func (s *Server) handleGallery(c *gin.Context) {
	page, perPage := pageParams(c)
	res, err := s.gallery.Gallery(c.Request.Context(), page, perPage)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleSearch(c *gin.Context) {
	page, perPage := pageParams(c)
	res, err := s.gallery.Search(c.Request.Context(), c.Query("q"), page, perPage)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.gallery.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleHealth reports unavailable when the metadata store cannot be read.
func (s *Server) handleHealth(c *gin.Context) {
	images, err := s.gallery.Count(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"images": images,
		"jobs":   s.jobs.Tracked(),
	})
}

func (s *Server) handleDelete(c *gin.Context) {
	name := c.Param("filename")
	if !safeName(name) {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid filename %q", name))
		return
	}
	n, err := s.gallery.Remove(c.Request.Context(), name)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name, "records": n})
}

func (s *Server) handleThumbnailCleanup(c *gin.Context) {
	removed, err := s.gallery.Thumbnails().Cleanup()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func serveFile(c *gin.Context, path string) {
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		abortWithError(c, http.StatusNotFound, errors.New("file not found"))
		return
	}
	c.File(path)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// safeName accepts bare file names only.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

// pageParams reads page and per_page; bad values fall back to the defaults.
func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}
	perPage, err := strconv.Atoi(c.Query("per_page"))
	if err != nil {
		perPage = 0
	}
	return page, perPage
}
