package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taxotag/internal/config"
	"taxotag/internal/datadir"
	"taxotag/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage embedding models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered embedding models",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, downloader, err := newModelTools(cfg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDIMENSIONS\tWEIGHTS\tDESCRIPTION")
		for _, m := range registry.List() {
			weights := "none needed"
			if m.HasWeights() {
				if downloader.Cached(m) {
					weights = "cached"
				} else {
					weights = "not downloaded"
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", m.Name, m.Dimensions, weights, m.Description)
		}
		return w.Flush()
	},
}

// modelsFetchCmd downloads model weights ahead of the first search.
var modelsFetchCmd = &cobra.Command{
	Use:   "fetch <model>",
	Short: "Download and cache a model's weights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, downloader, err := newModelTools(cfg)
		if err != nil {
			return err
		}

		m, err := registry.Get(args[0])
		if err != nil {
			return err
		}
		if !m.HasWeights() {
			fmt.Printf("Model %s needs no weights\n", m.Name)
			return nil
		}

		path, err := downloader.Ensure(cmd.Context(), m)
		if err != nil {
			return err
		}
		fmt.Printf("Weights for %s cached at %s\n", m.Name, path)
		return nil
	},
}

// newModelTools builds the registry and downloader the model commands share.
func newModelTools(cfg *config.Config) (*models.Registry, *models.Downloader, error) {
	dd, err := datadir.New(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := dd.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	registry := models.DefaultRegistry()
	if cfg.Models.ManifestPath != "" {
		registry, err = models.LoadManifest(cfg.Models.ManifestPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load model manifest: %w", err)
		}
	}

	downloader := models.NewDownloader(cfg.Models.BaseURL, dd.ModelsDir(),
		time.Duration(cfg.Models.DownloadTimeoutSeconds)*time.Second)
	return registry, downloader, nil
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsFetchCmd)
}
