package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"promptgallery/internal/events"
	"promptgallery/internal/generator"
	"promptgallery/internal/jobs"
	"promptgallery/internal/models"
	"promptgallery/internal/server"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for requests and running jobs on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	g, closeGallery, err := openGallery(ctx)
	if err != nil {
		return err
	}
	defer closeGallery()

	var gen generator.Generator
	switch cfg.SDAPI.Backend {
	case models.BackendPlaceholder:
		log.Warn("Using the offline placeholder image generator")
		gen = generator.NewPlaceholder()
	default:
		gen = generator.NewClient(cfg.SDAPI, nil)
	}

	publisher := events.New(cfg.Kafka)
	defer publisher.Close()

	tracker := jobs.NewTracker(cfg, jobs.NewRegistry(), gen, g, publisher)
	srv := server.NewServer(cfg, tracker, g)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.WithField("signal", s.String()).Info("Shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not stop cleanly")
	}
	if err := tracker.Wait(stopCtx); err != nil {
		log.WithError(err).Warn("Abandoning unfinished generation jobs")
	}
	return nil
}
