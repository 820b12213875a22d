package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptgallery/internal/gallery"
	"promptgallery/internal/generator"
	"promptgallery/internal/jobs"
	"promptgallery/internal/models"
	"promptgallery/internal/storage"
	"promptgallery/internal/thumbnail"
)

type testEnv struct {
	srv     *Server
	gallery *gallery.Service
	tracker *jobs.Tracker
	cfg     *models.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	cfg := &models.Config{
		SDAPI: models.SDAPIConfig{Backend: models.BackendPlaceholder},
		Files: models.FilesConfig{
			OutputDir:       filepath.Join(root, "images"),
			ThumbsDir:       filepath.Join(root, "thumbs"),
			MaxPromptLength: 50,
		},
		Gallery: models.GalleryConfig{DBFile: filepath.Join(root, "gallery.db"), ThumbnailSize: []int{40, 40}},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	store, err := storage.NewSQLite(cfg.Gallery.DBFile)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	thumbs, err := thumbnail.New(cfg.Files.OutputDir, cfg.Files.ThumbsDir, 40, 40, 85)
	require.NoError(t, err)
	g, err := gallery.New(context.Background(), cfg, store, thumbs)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	tracker := jobs.NewTracker(cfg, jobs.NewRegistry(), generator.NewPlaceholder(), g, nil)
	t.Cleanup(func() { _ = tracker.Wait(context.Background()) })

	return &testEnv{srv: NewServer(cfg, tracker, g), gallery: g, tracker: tracker, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, filename, prompt string) {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(64, 48, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	_, err := e.gallery.SaveImage(filename, buf.Bytes())
	require.NoError(t, err)
	_, err = e.gallery.Add(context.Background(), filename, prompt, "", "", "", nil, nil)
	require.NoError(t, err)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestGenerateAndPoll(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/generate", `{"prompt":"red fox","size":"128x128"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decode(t, w, &accepted)
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, "pending", accepted.Status)

	var job models.Job
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/generate/status/"+accepted.JobID, "")
		if w.Code != http.StatusOK {
			return false
		}
		job = models.Job{}
		return json.Unmarshal(w.Body.Bytes(), &job) == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, models.JobCompleted, job.Status, job.Error)
	require.NotNil(t, job.Result)
	assert.True(t, strings.HasPrefix(job.Result.Filename, "red_fox_"))
	assert.Equal(t, "/images/"+job.Result.Filename, job.Result.URL)

	img := env.do(t, http.MethodGet, job.Result.URL, "")
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))

	thumb := env.do(t, http.MethodGet, job.Result.ThumbnailURL, "")
	assert.Equal(t, http.StatusOK, thumb.Code)
	assert.Equal(t, "image/jpeg", thumb.Header().Get("Content-Type"))
}

func TestGenerateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		`{"prompt":""}`,
		`{"prompt":"   "}`,
		`{"prompt":"` + strings.Repeat("a", 51) + `"}`,
		`{"prompt":"fox","size":"big"}`,
		`{"prompt":"fox","size":"100000x100000"}`,
		`not json`,
	} {
		w := env.do(t, http.MethodPost, "/generate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		var resp map[string]string
		decode(t, w, &resp)
		assert.NotEmpty(t, resp["error"])
	}
}

func TestJobStatusUnknown(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/generate/status/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestServeFiles(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "cat.png", "a cat")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/images/cat.png", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/images/missing.png", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/images/..", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/images/..%5Cgallery.db", "").Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/thumbs/cat.jpg", "").Code)
	env.gallery.ThumbnailURL("cat.png")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/thumbs/cat.jpg", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/thumbs/..", "").Code)
}

func TestGalleryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "cat.png", "a sleepy cat")
	env.seed(t, "dog.png", "a happy dog")
	env.seed(t, "owl.png", "an owl at night")

	w := env.do(t, http.MethodGet, "/api/gallery?page=1&per_page=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page models.GalleryPage
	decode(t, w, &page)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)
	assert.True(t, page.Items[0].FileExists)

	w = env.do(t, http.MethodGet, "/api/gallery?page=abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Items, 3)

	w = env.do(t, http.MethodGet, "/api/gallery?page=9223372036854775807&per_page=9223372036854775807", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page = models.GalleryPage{}
	decode(t, w, &page)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNext)

	w = env.do(t, http.MethodGet, "/api/gallery/search?q=dog", "")
	require.Equal(t, http.StatusOK, w.Code)
	page = models.GalleryPage{}
	decode(t, w, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "dog.png", page.Items[0].Filename)

	w = env.do(t, http.MethodGet, "/api/gallery/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.Stats
	decode(t, w, &stats)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ValidFiles)
	assert.Positive(t, stats.TotalSize)
	assert.Positive(t, stats.ThumbsSize, "gallery listing rendered thumbnails")
}

func TestDeleteImage(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "cat.png", "a cat")

	w := env.do(t, http.MethodDelete, "/api/gallery/cat.png", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/images/cat.png", "").Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/gallery/cat.png", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/api/gallery/..", "").Code)
}

func TestThumbnailCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "cat.png", "a cat")
	env.gallery.ThumbnailURL("cat.png")
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Files.ThumbsDir, "ghost.jpg"), []byte("x"), 0644))

	w := env.do(t, http.MethodPost, "/api/thumbnails/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Removed int `json:"removed"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Removed)
	assert.NoFileExists(t, filepath.Join(env.cfg.Files.ThumbsDir, "ghost.jpg"))
	assert.FileExists(t, filepath.Join(env.cfg.Files.ThumbsDir, "cat.jpg"))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","images":0,"jobs":0}`, w.Body.String())

	env.seed(t, "cat.png", "a cat")
	id, err := env.tracker.Submit("a fox", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, err := env.tracker.Poll(id)
		return err == nil && job.Status == models.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","images":2,"jobs":1}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "promptgallery_jobs_in_flight")
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://example.test")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
