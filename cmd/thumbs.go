package main

import (
	"fmt"
	"sync/atomic"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var thumbWorkers int

var thumbsCmd = &cobra.Command{
	Use:   "thumbs",
	Short: "Build missing thumbnails and remove orphaned ones",
	RunE:  runThumbs,
}

func init() {
	thumbsCmd.Flags().IntVar(&thumbWorkers, "workers", 4, "number of thumbnails rendered in parallel")
}

func runThumbs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	g, closeGallery, err := openGallery(ctx)
	if err != nil {
		return err
	}
	defer closeGallery()

	recs, err := g.Records(ctx)
	if err != nil {
		return err
	}
	thumbs := g.Thumbnails()

	writer := uilive.New()
	writer.Start()

	var done, failed atomic.Int64
	total := len(recs)
	report := func() {
		fmt.Fprintf(writer, "Thumbnails: %d/%d (%d failed)\n", done.Load(), total, failed.Load())
	}
	report()

	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(max(thumbWorkers, 1))
	for _, rec := range recs {
		rec := rec
		eg.Go(func() error {
			if _, err := thumbs.GetOrCreate(rec.Filename); err != nil {
				failed.Add(1)
				log.WithError(err).WithField("filename", rec.Filename).Debug("Thumbnail skipped")
			}
			done.Add(1)
			report()
			return nil
		})
	}
	_ = eg.Wait()
	writer.Stop()

	removed, err := thumbs.Cleanup()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"records": total,
		"failed":  failed.Load(),
		"removed": removed,
	}).Info("Thumbnail maintenance finished")
	return nil
}
