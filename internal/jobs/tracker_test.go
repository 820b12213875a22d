package jobs

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptgallery/internal/gallery"
	"promptgallery/internal/generator"
	"promptgallery/internal/models"
	"promptgallery/internal/storage"
	"promptgallery/internal/thumbnail"
)

func testConfig(root string) *models.Config {
	cfg := &models.Config{
		SDAPI: models.SDAPIConfig{Backend: models.BackendPlaceholder, TimeoutSec: 2},
		Files: models.FilesConfig{
			OutputDir:       filepath.Join(root, "images"),
			ThumbsDir:       filepath.Join(root, "thumbs"),
			MaxPromptLength: 20,
		},
		Gallery: models.GalleryConfig{DBFile: filepath.Join(root, "gallery.db"), ThumbnailSize: []int{32, 32}},
	}
	cfg.ApplyDefaults()
	return cfg
}

// stubGenerator answers with fixed bytes, an error, or blocks until released.
type stubGenerator struct {
	payload string
	err     error
	block   chan struct{}
	panics  bool
}

func (g *stubGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Response, error) {
	if g.panics {
		panic("backend exploded")
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &generator.Response{Data: []generator.ImageData{{B64JSON: g.payload}}}, nil
}

type fakeGallery struct {
	mu      sync.Mutex
	saved   map[string][]byte
	records []string
	saveErr error
}

func newFakeGallery() *fakeGallery {
	return &fakeGallery{saved: map[string][]byte{}}
}

func (g *fakeGallery) SaveImage(filename string, data []byte) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return 0, g.saveErr
	}
	g.saved[filename] = data
	return int64(len(data)), nil
}

func (g *fakeGallery) Add(_ context.Context, filename, prompt, model, size, quality string, seed, actualSeed *int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = append(g.records, filename)
	return int64(len(g.records)), nil
}

func (g *fakeGallery) ThumbnailURL(filename string) string {
	return "/thumbs/" + thumbnail.Name(filename)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (n *recordingNotifier) Publish(_ context.Context, ev models.JobEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) snapshot() []models.JobEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.JobEvent(nil), n.events...)
}

func waitTerminal(t *testing.T, tr *Tracker, id string) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = tr.Poll(id)
		require.NoError(t, err)
		return job.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

var pngPayload = base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n fake"))

func TestSubmitReturnsPendingImmediately(t *testing.T) {
	gen := &stubGenerator{payload: pngPayload, block: make(chan struct{})}
	tr := NewTracker(testConfig(t.TempDir()), NewRegistry(), gen, newFakeGallery(), nil)

	id, err := tr.Submit("red fox", "512x512")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	job, err := tr.Poll(id)
	require.NoError(t, err)
	assert.Contains(t, []models.JobStatus{models.JobPending, models.JobProcessing}, job.Status)
	assert.Nil(t, job.Result)
	assert.Empty(t, job.Error)

	close(gen.block)
	job = waitTerminal(t, tr, id)
	assert.Equal(t, models.JobCompleted, job.Status)
	require.NoError(t, tr.Wait(context.Background()))
}

func TestSubmitValidation(t *testing.T) {
	reg := NewRegistry()
	tr := NewTracker(testConfig(t.TempDir()), reg, &stubGenerator{payload: pngPayload}, newFakeGallery(), nil)

	for _, tc := range []struct{ prompt, size string }{
		{"", ""},
		{"   \t ", ""},
		{strings.Repeat("x", 21), ""},
		{"ok", "huge"},
		{"ok", "100000x100000"},
	} {
		_, err := tr.Submit(tc.prompt, tc.size)
		assert.ErrorIs(t, err, models.ErrValidation, "%q %q", tc.prompt, tc.size)
	}
	assert.Zero(t, reg.Len(), "no job is created for invalid input")

	id, err := tr.Submit(strings.Repeat("é", 20), "")
	require.NoError(t, err)
	job := waitTerminal(t, tr, id)
	assert.Equal(t, "512x512", job.Size, "default size applied")
}

func TestPollUnknownJob(t *testing.T) {
	tr := NewTracker(testConfig(t.TempDir()), NewRegistry(), &stubGenerator{}, newFakeGallery(), nil)

	_, err := tr.Poll(uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobCompletes(t *testing.T) {
	g := newFakeGallery()
	n := &recordingNotifier{}
	tr := NewTracker(testConfig(t.TempDir()), NewRegistry(), &stubGenerator{payload: pngPayload}, g, n)
	tr.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC) }

	id, err := tr.Submit("Red Fox!", "256x256")
	require.NoError(t, err)
	job := waitTerminal(t, tr, id)

	require.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.Result)
	assert.Equal(t, models.JobResult{
		Filename:     "red_fox_0314_0926.png",
		URL:          "/images/red_fox_0314_0926.png",
		ThumbnailURL: "/thumbs/red_fox_0314_0926.jpg",
		Prompt:       "Red Fox!",
		Size:         "256x256",
		FileSize:     int64(len("\x89PNG\r\n\x1a\n fake")),
	}, *job.Result)
	assert.Equal(t, []string{"red_fox_0314_0926.png"}, g.records)

	require.NoError(t, tr.Wait(context.Background()))
	events := n.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].JobID)
	assert.Equal(t, models.JobCompleted, events[0].Status)
	assert.Equal(t, "red_fox_0314_0926.png", events[0].Filename)
}

func TestJobFailures(t *testing.T) {
	tests := []struct {
		name    string
		gen     *stubGenerator
		saveErr error
		want    string
	}{
		{"service error", &stubGenerator{err: generator.ErrServiceError}, nil, "image generation failed"},
		{"bad base64", &stubGenerator{payload: "%%%"}, nil, "decode image"},
		{"disk error", &stubGenerator{payload: pngPayload}, errors.New("disk full"), "disk full"},
		{"panic", &stubGenerator{panics: true}, nil, "internal error: backend exploded"},
		{"timeout", &stubGenerator{block: make(chan struct{})}, nil, "deadline exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t.TempDir())
			cfg.SDAPI.TimeoutSec = 1
			g := newFakeGallery()
			g.saveErr = tt.saveErr
			n := &recordingNotifier{}
			tr := NewTracker(cfg, NewRegistry(), tt.gen, g, n)

			id, err := tr.Submit("red fox", "")
			require.NoError(t, err)
			job := waitTerminal(t, tr, id)

			assert.Equal(t, models.JobFailed, job.Status)
			assert.Contains(t, job.Error, tt.want)
			assert.Nil(t, job.Result)
			assert.Empty(t, g.records)

			require.NoError(t, tr.Wait(context.Background()))
			events := n.snapshot()
			require.Len(t, events, 1)
			assert.Equal(t, models.JobFailed, events[0].Status)
		})
	}
}

func TestWaitRespectsContext(t *testing.T) {
	gen := &stubGenerator{payload: pngPayload, block: make(chan struct{})}
	tr := NewTracker(testConfig(t.TempDir()), NewRegistry(), gen, newFakeGallery(), nil)
	_, err := tr.Submit("slow", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(ctx), context.DeadlineExceeded)

	close(gen.block)
	assert.NoError(t, tr.Wait(context.Background()))
}

// End to end with the real gallery, SQLite store and placeholder backend.
func TestRedFoxScenario(t *testing.T) {
	cfg := testConfig(t.TempDir())
	store, err := storage.NewSQLite(cfg.Gallery.DBFile)
	require.NoError(t, err)
	defer store.Close()
	thumbs, err := thumbnail.New(cfg.Files.OutputDir, cfg.Files.ThumbsDir, 32, 32, 85)
	require.NoError(t, err)
	g, err := gallery.New(context.Background(), cfg, store, thumbs)
	require.NoError(t, err)
	defer g.Close()

	tr := NewTracker(cfg, NewRegistry(), generator.NewPlaceholder(), g, nil)

	id, err := tr.Submit("red fox", "512x512")
	require.NoError(t, err)
	job := waitTerminal(t, tr, id)

	require.Equal(t, models.JobCompleted, job.Status, job.Error)
	res := job.Result
	assert.True(t, strings.HasPrefix(res.Filename, "red_fox_"), res.Filename)
	assert.True(t, strings.HasSuffix(res.Filename, ".png"), res.Filename)
	assert.Equal(t, "/images/"+res.Filename, res.URL)
	assert.Equal(t, "/thumbs/"+thumbnail.Name(res.Filename), res.ThumbnailURL)
	assert.FileExists(t, filepath.Join(cfg.Files.OutputDir, res.Filename))
	assert.Positive(t, res.FileSize)

	recs, err := g.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "red fox", recs[0].Prompt)
	assert.Equal(t, "512x512", recs[0].Size)
}

func TestConcurrentJobsStayIsolated(t *testing.T) {
	g := newFakeGallery()
	tr := NewTracker(testConfig(t.TempDir()), NewRegistry(), generator.NewPlaceholder(), g, nil)

	prompts := []string{"red fox", "blue whale", "green owl", "amber moth"}
	ids := make([]string, len(prompts))
	for i, p := range prompts {
		id, err := tr.Submit(p, "64x64")
		require.NoError(t, err)
		ids[i] = id
	}

	for i, id := range ids {
		job := waitTerminal(t, tr, id)
		require.Equal(t, models.JobCompleted, job.Status, job.Error)
		assert.Equal(t, prompts[i], job.Result.Prompt)
		assert.Equal(t, prompts[i], job.Prompt)
		assert.True(t, strings.HasPrefix(job.Result.Filename, strings.ReplaceAll(prompts[i], " ", "_")+"_"), job.Result.Filename)
	}
	require.NoError(t, tr.Wait(context.Background()))
	assert.Len(t, g.records, len(prompts))
}
