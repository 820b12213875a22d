package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"promptgallery/internal/gallery"
	"promptgallery/internal/models"
)

// Jobs is the part of the job tracker the handlers use.
type Jobs interface {
	Submit(prompt, size string) (string, error)
	Poll(id string) (models.Job, error)
	Tracked() int
}

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	http    *http.Server
	jobs    Jobs
	gallery *gallery.Service
}

func NewServer(cfg *models.Config, jobs Jobs, g *gallery.Service) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{cfg: cfg, router: r, jobs: jobs, gallery: g}

	r.POST("/generate", s.handleGenerate)
	r.GET("/generate/status/:job_id", s.handleJobStatus)

	r.GET("/images/:filename", s.handleImage)
	r.GET("/thumbs/:filename", s.handleThumbnail)

	api := r.Group("/api")
	api.GET("/gallery", s.handleGallery)
	api.GET("/gallery/stats", s.handleStats)
	api.GET("/gallery/search", s.handleSearch)
	api.DELETE("/gallery/:filename", s.handleDelete)
	api.POST("/thumbnails/cleanup", s.handleThumbnailCleanup)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	log.WithField("addr", s.cfg.ServerAddr).Info("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Stop drains open connections until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Stop: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("HTTP request")
	}
}

func abortWithError(c *gin.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
