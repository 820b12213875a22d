// Package jobs runs image generations in the background and tracks their
// progress for polling clients.
package jobs

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"promptgallery/internal/gallery"
	"promptgallery/internal/generator"
	"promptgallery/internal/metrics"
	"promptgallery/internal/models"
)

// Notifier receives terminal job transitions.
type Notifier interface {
	Publish(ctx context.Context, ev models.JobEvent) error
}

// Gallery is where finished images go.
type Gallery interface {
	SaveImage(filename string, data []byte) (int64, error)
	Add(ctx context.Context, filename, prompt, model, size, quality string, seed, actualSeed *int64) (int64, error)
	ThumbnailURL(filename string) string
}

type Tracker struct {
	registry *Registry
	gen      generator.Generator
	gallery  Gallery
	notifier Notifier

	model           string
	defaultSize     string
	count           int
	timeout         time.Duration
	maxPromptLength int
	quality         string

	wg  sync.WaitGroup
	now func() time.Time
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, models.JobEvent) error { return nil }

func NewTracker(cfg *models.Config, registry *Registry, gen generator.Generator, g Gallery, notifier Notifier) *Tracker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Tracker{
		registry:        registry,
		gen:             gen,
		gallery:         g,
		notifier:        notifier,
		model:           cfg.SDAPI.Model,
		defaultSize:     cfg.SDAPI.DefaultSize,
		count:           cfg.SDAPI.DefaultCount,
		timeout:         cfg.SDAPI.Timeout(),
		maxPromptLength: cfg.Files.MaxPromptLength,
		quality:         cfg.Gallery.DefaultQuality,
		now:             time.Now,
	}
}

// Submit validates the request, records a pending job and starts it in the
// background. It never waits for the generation itself.
func (t *Tracker) Submit(prompt, size string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", models.ErrValidation)
	}
	if utf8.RuneCountInString(prompt) > t.maxPromptLength {
		return "", fmt.Errorf("%w: prompt too long (max %d characters)", models.ErrValidation, t.maxPromptLength)
	}
	size = strings.TrimSpace(size)
	if size == "" {
		size = t.defaultSize
	}
	if _, _, err := generator.ParseSize(size); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	job := t.registry.Create(prompt, size, t.now())
	metrics.JobsSubmittedTotal.Inc()
	metrics.JobsInFlight.Inc()
	log.WithFields(log.Fields{"job_id": job.ID, "size": size}).Info("Generation job submitted")

	t.wg.Add(1)
	go t.run(job.ID)

	return job.ID, nil
}

// Poll returns a snapshot of the job.
func (t *Tracker) Poll(id string) (models.Job, error) {
	return t.registry.Snapshot(id)
}

// Tracked is the number of jobs held in the registry, finished ones included.
func (t *Tracker) Tracked() int {
	return t.registry.Len()
}

// Wait blocks until every started job has finished or ctx is done. Jobs are
// not cancelled.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run(id string) {
	defer t.wg.Done()
	defer metrics.JobsInFlight.Dec()

	logger := log.WithField("job_id", id)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Generation job panicked: %v", r)
			t.finish(id, nil, fmt.Errorf("internal error: %v", r))
		}
	}()

	job, err := t.registry.Update(id, func(j *models.Job) {
		j.Status = models.JobProcessing
		j.Progress = 10
		j.Message = "Generating image..."
	})
	if err != nil {
		logger.WithError(err).Error("Cannot start generation job")
		return
	}

	result, err := t.execute(job)
	if err != nil {
		logger.WithError(err).Warn("Generation job failed")
	} else {
		logger.WithField("filename", result.Filename).Info("Generation job completed")
	}
	t.finish(id, result, err)
}

func (t *Tracker) execute(job models.Job) (*models.JobResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	started := time.Now()
	resp, err := t.gen.Generate(ctx, generator.Request{Prompt: job.Prompt, Size: job.Size, Count: t.count})
	metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image generation failed: %w", generator.ErrMalformedResponse)
	}

	t.progress(job.ID, 60, "Saving image...")
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	filename := gallery.FilenameFor(job.Prompt, t.now())
	size, err := t.gallery.SaveImage(filename, data)
	if err != nil {
		return nil, fmt.Errorf("save image: %w", err)
	}

	t.progress(job.ID, 80, "Recording metadata...")
	if _, err := t.gallery.Add(context.Background(), filename, job.Prompt, t.model, job.Size, t.quality, nil, nil); err != nil {
		return nil, fmt.Errorf("record metadata: %w", err)
	}

	t.progress(job.ID, 90, "Creating thumbnail...")
	thumbURL := t.gallery.ThumbnailURL(filename)

	return &models.JobResult{
		Filename:     filename,
		URL:          "/images/" + filename,
		ThumbnailURL: thumbURL,
		Prompt:       job.Prompt,
		Size:         job.Size,
		FileSize:     size,
	}, nil
}

func (t *Tracker) progress(id string, pct int, msg string) {
	_, _ = t.registry.Update(id, func(j *models.Job) {
		j.Progress = pct
		j.Message = msg
	})
}

func (t *Tracker) finish(id string, result *models.JobResult, jobErr error) {
	job, err := t.registry.Update(id, func(j *models.Job) {
		if jobErr != nil {
			j.Status = models.JobFailed
			j.Message = "Generation failed"
			j.Error = jobErr.Error()
			return
		}
		j.Status = models.JobCompleted
		j.Progress = 100
		j.Message = "Done"
		j.Result = result
	})
	if err != nil {
		return
	}
	metrics.JobsFinishedTotal.WithLabelValues(string(job.Status)).Inc()

	ev := models.JobEvent{JobID: id, Status: job.Status, Error: job.Error, At: t.now()}
	if job.Result != nil {
		ev.Filename = job.Result.Filename
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.notifier.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("job_id", id).Warn("Failed to publish job event")
	}
}
