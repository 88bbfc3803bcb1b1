package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taxotag/internal/config"
	"taxotag/internal/datadir"
	"taxotag/internal/maintenance"
	"taxotag/internal/models"
	"taxotag/internal/server"
	"taxotag/internal/tagger"
	"taxotag/internal/version"
)

var (
	cfgFile string
	verbose bool
	port    int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taxotag",
	Short: "TaxoTag - DNA barcode taxonomy identification server",
	Long: `TaxoTag identifies the taxonomy of fungal ITS barcode sequences.
Paste FASTA into the web page (or POST it to the API), and each sequence is
embedded and matched against pre-built per-rank vector databases.

The server mode hosts the web front-end; the other commands manage models
and reference databases, or run searches offline.`,
	Version: version.Full(),
}

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the TaxoTag web server",
	Long: `Start the TaxoTag HTTP server. This is the main mode: it serves the
search page, the JSON API, CSV exports, and progress streaming.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("TaxoTag %s\n", version.Full())
		buildInfo := version.GetBuildInfo()

		if buildInfo.GitCommit != "unknown" {
			fmt.Printf("Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Printf("Go version: %s\n", buildInfo.GoVersion)

		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	// Server command flags
	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (overrides config)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(modelsCmd)

	// If no command is specified, default to server
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

func initConfig() {
	// Load .env files early so every command gets env vars
	dd, err := datadir.New("")
	if err == nil {
		_ = datadir.LoadEnv(dd.Root())
	}

	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Verbose logging enabled")
	}
}

// loadConfig loads the configuration file after .env files have been applied,
// so ${ENV_VAR} expansion sees the full environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newService builds a standalone tagger service for the offline commands.
func newService(cfg *config.Config) (*tagger.Service, *datadir.DataDir, error) {
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

	svc, err := tagger.NewService(tagger.Config{
		DataDir:      dd,
		Registry:     registry,
		Downloader:   downloader,
		DefaultModel: cfg.Search.DefaultModel,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		MaxSequences: cfg.Search.MaxSequences,
		EfSearch:     cfg.Search.EfSearch,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, dd, nil
}

func runServer() error {
	// Resolve the data directory and load .env files before config so
	// environment variables are available for ${ENV_VAR} expansion.
	dd, err := datadir.New("")
	if err != nil {
		log.Printf("WARNING: Could not resolve data directory: %v", err)
	} else {
		if err := dd.EnsureDirs(); err != nil {
			log.Printf("WARNING: Could not create data directories: %v", err)
		}
		if err := datadir.LoadEnv(dd.Root()); err != nil {
			log.Printf("WARNING: Failed to load .env files: %v", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override port if specified
	if port != 0 {
		cfg.Port = port
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	scheduler, err := newMaintenanceScheduler(cfg)
	if err != nil {
		log.Printf("WARNING: Maintenance disabled: %v", err)
	} else {
		if err := scheduler.Start(); err != nil {
			log.Printf("WARNING: Failed to start maintenance scheduler: %v", err)
		}
		defer scheduler.Stop()
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	log.Printf("Starting TaxoTag on port %d", cfg.Port)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Server stopped gracefully")
	return nil
}

// newMaintenanceScheduler wires the background upkeep tasks from config.
func newMaintenanceScheduler(cfg *config.Config) (*maintenance.Scheduler, error) {
	dd, err := datadir.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	mcfg := maintenance.Config{
		Enabled:  cfg.Maintenance.Enabled,
		Schedule: cfg.Maintenance.Schedule,
		Files: maintenance.FileConfig{
			ExportTTL:      time.Duration(cfg.Maintenance.ExportTTLHours) * time.Hour,
			StalePartAfter: time.Duration(cfg.Maintenance.StalePartHours) * time.Hour,
		},
		Database: maintenance.DatabaseConfig{
			OptimizeEnabled: cfg.Maintenance.OptimizeDatabase,
		},
		Window: maintenance.WindowConfig{
			StartHour: cfg.Maintenance.WindowStartHour,
			EndHour:   cfg.Maintenance.WindowEndHour,
			TimeZone:  cfg.Timezone,
		},
	}

	scheduler := maintenance.NewScheduler(mcfg, log.Default())
	scheduler.RegisterTask(maintenance.NewFileCleanupTask(dd, mcfg.Files, log.Default()))
	scheduler.RegisterTask(maintenance.NewDatabaseOptimizeTask(dd, mcfg.Database, log.Default()))
	return scheduler, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
