package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taxotag/internal/tagger"
)

var (
	searchModel string
	searchLimit int
)

// searchCmd runs a taxonomy search from the command line, without the server.
var searchCmd = &cobra.Command{
	Use:   "search <fasta-file>",
	Short: "Identify sequences from a FASTA file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, _, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		result, err := svc.Search(cmd.Context(), tagger.Request{
			FASTA: string(data),
			Model: searchModel,
			Limit: searchLimit,
			Progress: func(done, total int, seqID string) {
				fmt.Fprintf(os.Stderr, "Processed %d/%d (%s)\n", done, total, seqID)
			},
		})
		if err != nil {
			return err
		}

		printResult(result)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchModel, "model", "m", "", "embedding model (default from config)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "matches per rank (default from config)")
}

func printResult(result *tagger.Result) {
	fmt.Printf("Model: %s\n\n", result.Model)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQUENCE\tRANK\tLABEL\tSIMILARITY")
	for _, seq := range result.Sequences {
		for _, rank := range result.Ranks {
			for _, match := range seq.Ranks[rank] {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\n", seq.ID, rank, match.Label, match.Similarity)
			}
		}
	}
	w.Flush()

	if len(result.Unprocessed) > 0 {
		fmt.Printf("\nUnprocessed sequences: %v\n", result.Unprocessed)
	}
}
