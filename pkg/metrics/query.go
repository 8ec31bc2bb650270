package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// FlowMetrics is an aggregated view of conversation activity over the
// scrape history, used by the support team's reporting job.
type FlowMetrics struct {
	TotalTurns     int64            `json:"total_turns"`
	Escalations    int64            `json:"escalations"`
	ErrorEntries   int64            `json:"error_entries"`
	ProblemsByKind map[string]int64 `json:"problems_by_kind"`
}

// QueryService queries aggregated conversation metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against the given
// Prometheus base URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetFlowMetrics aggregates turn, escalation, and problem counts.
func (q *QueryService) GetFlowMetrics(ctx context.Context) (*FlowMetrics, error) {
	metrics := &FlowMetrics{
		ProblemsByKind: make(map[string]int64),
	}

	turns, err := q.scalarQuery(ctx, `sum(chat_turns_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	metrics.TotalTurns = turns

	escalations, err := q.scalarQuery(ctx, `sum(chat_stage_transitions_total{to="ESCALATION"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	metrics.Escalations = escalations

	errorEntries, err := q.scalarQuery(ctx, `sum(chat_stage_transitions_total{to="ERROR"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query error entries: %w", err)
	}
	metrics.ErrorEntries = errorEntries

	problemsResult, _, err := q.queryAPI.Query(ctx, `sum by (kind) (chat_problem_events_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query problems: %w", err)
	}
	if vector, ok := problemsResult.(model.Vector); ok {
		for _, sample := range vector {
			if kind, ok := sample.Metric["kind"]; ok {
				metrics.ProblemsByKind[string(kind)] = int64(sample.Value)
			}
		}
	}

	return metrics, nil
}

// GetStageCompletionRate returns, per stage, the fraction of turns that
// advanced the conversation rather than re-prompting.
func (q *QueryService) GetStageCompletionRate(ctx context.Context) (map[string]float64, error) {
	result := make(map[string]float64)

	totalResult, _, err := q.queryAPI.Query(ctx, `sum by (stage) (chat_turns_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query turn totals: %w", err)
	}
	totals := make(map[string]float64)
	if vector, ok := totalResult.(model.Vector); ok {
		for _, sample := range vector {
			if stage, ok := sample.Metric["stage"]; ok {
				totals[string(stage)] = float64(sample.Value)
			}
		}
	}

	advancedResult, _, err := q.queryAPI.Query(ctx,
		`sum by (stage) (chat_turns_total{outcome="advanced"})`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query advanced turns: %w", err)
	}
	if vector, ok := advancedResult.(model.Vector); ok {
		for _, sample := range vector {
			stage, ok := sample.Metric["stage"]
			if !ok {
				continue
			}
			if total := totals[string(stage)]; total > 0 {
				result[string(stage)] = float64(sample.Value) / total
			}
		}
	}

	return result, nil
}

func (q *QueryService) scalarQuery(ctx context.Context, query string) (int64, error) {
	res, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := res.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
