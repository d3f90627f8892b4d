package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docqa/backend/internal/query"
)

var (
	askOwner       string
	askContextOnly bool
	askJSON        bool
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a question about an owner's documents",
	Long: `Retrieves the chunks most similar to the question and answers from them.
Without an OpenAI API key, or with --context, only the retrieved context is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askOwner, "owner", "o", "", "owner id whose documents are searched")
	askCmd.Flags().BoolVar(&askContextOnly, "context", false, "print the retrieved context instead of an answer")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	_ = askCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := args[0]

	a, err := newApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	if askContextOnly || a.llmClient == nil {
		res, err := a.retriever.Search(ctx, question, askOwner)
		if err != nil {
			return err
		}
		cmd.Printf("[%s]\n%s\n", res.Mode, res.Context)
		return nil
	}

	resp, err := a.queryEngine.Ask(ctx, query.QueryRequest{Question: question, OwnerID: askOwner})
	if err != nil {
		return err
	}

	if askJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(resp.Answer)
	cmd.Println()
	cmd.Printf("mode: %s  model: %s  latency: %dms\n", resp.Mode, resp.Model, resp.LatencyMS)
	for _, s := range resp.Sources {
		cmd.Printf("  - %s chunk %d (%.3f)\n", s.FileName, s.ChunkNumber, s.Score)
	}
	return nil
}
