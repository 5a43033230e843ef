// Package evaluation measures retrieval quality against a labelled dataset of
// queries and the documents each one should surface.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/casebot/backend/internal/retrieval"
	"github.com/casebot/backend/pkg/logger"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (retrieval.Outcome, error)
	RetrieveScoped(ctx context.Context, ids []string, query string, threshold float64, k int) (retrieval.Outcome, error)
	Threshold() float64
}

type Evaluator struct {
	retriever Retriever
	k         int
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem is one labelled query. Files, when set, scopes the query the way
// a chat request with group ids would.
type DatasetItem struct {
	Query    string   `json:"query"`
	Expected []string `json:"expected"`
	Files    []string `json:"files,omitempty"`
}

type ItemResult struct {
	Query          string   `json:"query"`
	Status         string   `json:"status"`
	Returned       []string `json:"returned"`
	Hit            bool     `json:"hit"`
	ReciprocalRank float64  `json:"reciprocal_rank"`
}

type Report struct {
	TotalQueries int            `json:"total_queries"`
	Hits         int            `json:"hits"`
	Errors       int            `json:"errors"`
	HitRate      float64        `json:"hit_rate"`
	MRR          float64        `json:"mrr"`
	Statuses     map[string]int `json:"statuses"`
	Items        []ItemResult   `json:"items"`
}

func NewEvaluator(retriever Retriever, k int) *Evaluator {
	return &Evaluator{retriever: retriever, k: k}
}

func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) (ItemResult, error) {
	var (
		out retrieval.Outcome
		err error
	)
	if len(item.Files) > 0 {
		out, err = e.retriever.RetrieveScoped(ctx, item.Files, item.Query, e.retriever.Threshold(), e.k)
	} else {
		out, err = e.retriever.Retrieve(ctx, item.Query, e.k)
	}
	if err != nil {
		return ItemResult{}, fmt.Errorf("failed to retrieve for %q: %w", item.Query, err)
	}

	res := ItemResult{
		Query:    item.Query,
		Status:   out.Status.String(),
		Returned: make([]string, 0, len(out.Results)),
	}

	expected := make(map[string]bool, len(item.Expected))
	for _, id := range item.Expected {
		expected[id] = true
	}
	for i, r := range out.Results {
		res.Returned = append(res.Returned, r.ID)
		if !res.Hit && expected[r.ID] {
			res.Hit = true
			res.ReciprocalRank = 1 / float64(i+1)
		}
	}
	return res, nil
}

// RunDataset evaluates every item. Items that fail to retrieve count as misses.
func (e *Evaluator) RunDataset(ctx context.Context, dataset *Dataset) (*Report, error) {
	logger.Info("Running retrieval evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		TotalQueries: len(dataset.Items),
		Statuses:     make(map[string]int),
	}

	var totalRR float64
	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := e.EvaluateItem(ctx, item)
		if err != nil {
			logger.Error("Failed to evaluate item", zap.Int("index", i), zap.Error(err))
			report.Errors++
			continue
		}

		report.Statuses[res.Status]++
		if res.Hit {
			report.Hits++
		}
		totalRR += res.ReciprocalRank
		report.Items = append(report.Items, res)
	}

	if report.TotalQueries > 0 {
		report.HitRate = float64(report.Hits) / float64(report.TotalQueries)
		report.MRR = totalRR / float64(report.TotalQueries)
	}

	logger.Info("Retrieval evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("hits", report.Hits),
		zap.Float64("mrr", report.MRR),
	)

	return report, nil
}

func LoadDataset(r io.Reader) (*Dataset, error) {
	var dataset Dataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	for i, item := range dataset.Items {
		if item.Query == "" {
			return nil, fmt.Errorf("item %d has an empty query", i)
		}
	}
	return &dataset, nil
}

func GenerateReport(report *Report) string {
	return fmt.Sprintf(`
Retrieval Evaluation
====================

Total Queries: %d
Errors: %d

Hit Rate@k: %.1f%% (%d/%d)
MRR: %.3f

Outcomes:
- found: %d
- no_matches: %d
- empty_scope: %d
- below_threshold: %d
`,
		report.TotalQueries,
		report.Errors,
		report.HitRate*100, report.Hits, report.TotalQueries,
		report.MRR,
		report.Statuses["found"],
		report.Statuses["no_matches"],
		report.Statuses["empty_scope"],
		report.Statuses["below_threshold"],
	)
}
