package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docqa/backend/internal/ingestion"
)

var (
	ingestOwner string
	ingestJSON  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Ingest local documents",
	Long: `Ingest PDF, Excel (.xlsx, .xls) and PowerPoint (.pptx) files for an owner.
A file with the same name as an existing document of that owner replaces it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestOwner, "owner", "o", "", "owner id the documents belong to")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output results as JSON")
	_ = ingestCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(ingestCmd)
}

type ingestOutput struct {
	File       string   `json:"file"`
	DocumentID string   `json:"document_id,omitempty"`
	Chunks     int      `json:"chunks"`
	Embedded   int      `json:"embedded"`
	Superseded []string `json:"superseded,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	var outputs []ingestOutput
	failed := 0
	for _, path := range args {
		out := ingestOutput{File: path}

		data, err := os.ReadFile(path)
		if err == nil {
			var res *ingestion.Result
			res, err = a.coordinator.Ingest(ctx, ingestion.Upload{
				OwnerID:  ingestOwner,
				FileName: filepath.Base(path),
				Data:     data,
			})
			if err == nil {
				out.DocumentID = res.Document.ID
				out.Chunks = res.Chunks
				out.Embedded = res.Embedded
				out.Superseded = res.Superseded
			}
		}
		if err != nil {
			out.Error = err.Error()
			failed++
		}
		outputs = append(outputs, out)
	}

	if ingestJSON {
		data, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
	} else {
		for _, o := range outputs {
			if o.Error != "" {
				cmd.Printf("FAIL %s: %s\n", o.File, o.Error)
				continue
			}
			cmd.Printf("OK   %s -> %s (%d chunks, %d embedded)\n", o.File, o.DocumentID, o.Chunks, o.Embedded)
			for _, id := range o.Superseded {
				cmd.Printf("     replaced %s\n", id)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}
