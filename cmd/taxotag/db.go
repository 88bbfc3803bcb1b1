package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taxotag/internal/fasta"
)

var buildModel string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage reference vector databases",
}

// dbBuildCmd embeds a labelled reference FASTA and builds the per-rank
// database for one model.
var dbBuildCmd = &cobra.Command{
	Use:   "build <reference-fasta>",
	Short: "Build a reference database from a labelled FASTA file",
	Long: `Build the per-rank vector database for a model from a reference FASTA
file with UNITE-style headers (SEQID|k__...;p__...;...;s__...|SH...).
Every sequence is embedded once and indexed under each taxonomy rank.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, dd, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		model := buildModel
		if model == "" {
			model = cfg.Search.DefaultModel
		}

		fmt.Printf("Building database for model %s from %s...\n", model, args[0])
		counts, err := svc.Build(cmd.Context(), args[0], model)
		if err != nil {
			return err
		}

		fmt.Printf("Database written to %s\n", dd.DatabasePath(model))
		for _, rank := range fasta.Ranks {
			fmt.Printf("  %-8s %d vectors\n", rank, counts[rank])
		}
		return nil
	},
}

// dbInfoCmd lists the built databases and their per-rank vector counts.
var dbInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the built reference databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, dd, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		dbs, err := svc.ListDatabases()
		if err != nil {
			return err
		}
		if len(dbs) == 0 {
			fmt.Printf("No databases found under %s\n", dd.DatabasesDir())
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tRANK\tVECTORS")
		for _, db := range dbs {
			counts, err := svc.DatabaseCounts(cmd.Context(), db.Model)
			if err != nil {
				fmt.Fprintf(w, "%s\t-\terror: %v\n", db.Model, err)
				continue
			}
			for _, rank := range fasta.Ranks {
				fmt.Fprintf(w, "%s\t%s\t%d\n", db.Model, rank, counts[rank])
			}
		}
		return w.Flush()
	},
}

func init() {
	dbBuildCmd.Flags().StringVarP(&buildModel, "model", "m", "", "embedding model (default from config)")
	dbCmd.AddCommand(dbBuildCmd)
	dbCmd.AddCommand(dbInfoCmd)
}
