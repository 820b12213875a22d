package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"promptgallery/internal/backfill"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Record images in the output directory that have no gallery entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		g, closeGallery, err := openGallery(ctx)
		if err != nil {
			return err
		}
		defer closeGallery()

		res, err := backfill.New(g, cfg).Run(ctx)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"found": res.Found,
			"known": res.Known,
			"added": res.Added,
		}).Info("Backfill complete")
		return nil
	},
}
