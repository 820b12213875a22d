package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"promptgallery/internal/gallery"
	"promptgallery/internal/logging"
	"promptgallery/internal/models"
	"promptgallery/internal/storage"
	"promptgallery/internal/thumbnail"
)

var (
	cfgFile string
	cfg     *models.Config
)

var rootCmd = &cobra.Command{
	Use:           "promptgallery",
	Short:         "Prompt-to-image web app with a browsable gallery",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := models.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logging.Setup(loaded.LogLevel, loaded.LogFormat); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, thumbsCmd, backfillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// openGallery wires the metadata store, thumbnail cache and gallery service.
// The returned func releases all three.
func openGallery(ctx context.Context) (*gallery.Service, func(), error) {
	store, err := storage.Open(ctx, cfg.Gallery)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init storage: %w", err)
	}

	w, h := cfg.Gallery.ThumbnailBox()
	thumbs, err := thumbnail.New(cfg.Files.OutputDir, cfg.Files.ThumbsDir, w, h, cfg.Gallery.ThumbnailQuality)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to init thumbnails: %w", err)
	}

	g, err := gallery.New(ctx, cfg, store, thumbs)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to init gallery: %w", err)
	}

	closeAll := func() {
		if err := g.Close(); err != nil {
			log.WithError(err).Warn("Failed to close search index")
		}
		store.Close()
	}
	return g, closeAll, nil
}
