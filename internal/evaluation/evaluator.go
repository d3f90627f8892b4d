package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/retrieval"
)

var ErrEmptyDataset = errors.New("evaluation dataset has no items")

// Searcher is satisfied by *retrieval.Engine.
type Searcher interface {
	Search(ctx context.Context, question, ownerID string) (*retrieval.Result, error)
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem labels a question with where its answer lives. A match counts
// as a hit when it satisfies every label that is set.
type DatasetItem struct {
	Question       string `json:"question"`
	OwnerID        string `json:"owner_id,omitempty"`
	ExpectedFile   string `json:"expected_file,omitempty"`
	ExpectedPhrase string `json:"expected_phrase,omitempty"`
}

type ItemResult struct {
	Question string         `json:"question"`
	Mode     retrieval.Mode `json:"mode,omitempty"`
	Hit      bool           `json:"hit"`
	// Rank is 1-based; zero when no match satisfied the labels.
	Rank     int     `json:"rank"`
	TopScore float64 `json:"top_score"`
	Error    string  `json:"error,omitempty"`
}

type Report struct {
	TotalQuestions int                    `json:"total_questions"`
	Hits           int                    `json:"hits"`
	Failed         int                    `json:"failed"`
	HitRate        float64                `json:"hit_rate"`
	MRR            float64                `json:"mrr"`
	ModeCounts     map[retrieval.Mode]int `json:"mode_counts"`
	Items          []ItemResult           `json:"items"`
}

type Evaluator struct {
	searcher     Searcher
	defaultOwner string
	logger       *zap.Logger
}

// NewEvaluator runs items without an owner_id under defaultOwner.
func NewEvaluator(searcher Searcher, defaultOwner string, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{searcher: searcher, defaultOwner: defaultOwner, logger: logger}
}

func LoadDataset(r io.Reader) (*Dataset, error) {
	var dataset Dataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	if len(dataset.Items) == 0 {
		return nil, ErrEmptyDataset
	}
	for i, item := range dataset.Items {
		if strings.TrimSpace(item.Question) == "" {
			return nil, fmt.Errorf("dataset item %d: %w", i+1, retrieval.ErrBlankQuestion)
		}
	}
	return &dataset, nil
}

func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) ItemResult {
	owner := item.OwnerID
	if owner == "" {
		owner = e.defaultOwner
	}

	result := ItemResult{Question: item.Question}

	res, err := e.searcher.Search(ctx, item.Question, owner)
	if err != nil {
		e.logger.Warn("Failed to evaluate question", zap.String("question", item.Question), zap.Error(err))
		result.Error = err.Error()
		return result
	}

	result.Mode = res.Mode
	if len(res.Matches) > 0 {
		result.TopScore = res.Matches[0].Score
	}
	for i, m := range res.Matches {
		if matches(item, m) {
			result.Hit = true
			result.Rank = i + 1
			break
		}
	}
	return result
}

func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	if dataset == nil || len(dataset.Items) == 0 {
		return nil, ErrEmptyDataset
	}

	e.logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		TotalQuestions: len(dataset.Items),
		ModeCounts:     make(map[retrieval.Mode]int),
		Items:          make([]ItemResult, 0, len(dataset.Items)),
	}

	var reciprocal float64
	for _, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := e.EvaluateItem(ctx, item)
		report.Items = append(report.Items, result)

		if result.Error != "" {
			report.Failed++
			continue
		}
		report.ModeCounts[result.Mode]++
		if result.Hit {
			report.Hits++
			reciprocal += 1 / float64(result.Rank)
		}
	}

	report.HitRate = float64(report.Hits) / float64(report.TotalQuestions)
	report.MRR = reciprocal / float64(report.TotalQuestions)

	e.logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQuestions),
		zap.Int("hits", report.Hits),
		zap.Int("failed", report.Failed),
		zap.Float64("mrr", report.MRR),
	)
	return report, nil
}

func matches(item DatasetItem, m retrieval.Match) bool {
	if item.ExpectedFile != "" && !strings.EqualFold(m.Chunk.FileName, item.ExpectedFile) {
		return false
	}
	if item.ExpectedPhrase != "" &&
		!strings.Contains(strings.ToLower(m.Chunk.Content), strings.ToLower(item.ExpectedPhrase)) {
		return false
	}
	return true
}

func FormatReport(report *Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `
Retrieval Evaluation Report
===========================

Total Questions: %d
Hits: %d (%.1f%%)
Failed: %d
Mean Reciprocal Rank: %.3f

Retrieval Modes:
`,
		report.TotalQuestions,
		report.Hits, report.HitRate*100,
		report.Failed,
		report.MRR,
	)

	modes := make([]string, 0, len(report.ModeCounts))
	for m := range report.ModeCounts {
		modes = append(modes, string(m))
	}
	sort.Strings(modes)
	for _, m := range modes {
		fmt.Fprintf(&sb, "- %s: %d\n", m, report.ModeCounts[retrieval.Mode(m)])
	}
	return sb.String()
}
