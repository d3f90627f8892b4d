package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docqa/backend/internal/evaluation"
	"github.com/docqa/backend/pkg/logger"
)

var (
	evalOwner string
	evalJSON  bool
)

var evalCmd = &cobra.Command{
	Use:   "eval DATASET",
	Short: "Measure retrieval quality against a labeled question set",
	Long: `Runs every question of a JSON dataset through retrieval and reports the hit
rate and mean reciprocal rank. Items are labeled with expected_file and/or
expected_phrase; items without owner_id use --owner.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalOwner, "owner", "o", "", "default owner id for dataset items")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output the report as JSON")
	_ = evalCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	dataset, err := evaluation.LoadDataset(f)
	if err != nil {
		return err
	}

	a, err := newApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := evaluation.NewEvaluator(a.retriever, evalOwner, logger.Named("evaluation")).Run(ctx, dataset)
	if err != nil {
		return err
	}

	if evalJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Print(evaluation.FormatReport(report))
	for _, item := range report.Items {
		switch {
		case item.Error != "":
			cmd.Printf("ERR  %s: %s\n", item.Question, item.Error)
		case item.Hit:
			cmd.Printf("HIT  %s (rank %d)\n", item.Question, item.Rank)
		default:
			cmd.Printf("MISS %s\n", item.Question)
		}
	}
	return nil
}
