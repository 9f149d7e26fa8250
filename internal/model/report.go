package model

import (
	"sort"
	"time"
)

// Summary keys used in AggregateResult.Summaries.
const (
	SummaryCount = "count"
	SummaryMean  = "mean"
	SummaryMin   = "min"
	SummaryMax   = "max"
	SummaryR     = "r"
	SummaryN     = "n"
)

// AggregateResult is one group row of a computed insight. Rows for an
// insight are ordered by SortKey ascending unless the insight defines a
// ranking, in which case SortKey breaks ties.
type AggregateResult struct {
	Name      string             `json:"name"`
	Dimension string             `json:"dimension"`
	GroupKey  string             `json:"group_key"`
	SortKey   int64              `json:"sort_key"`
	Summaries map[string]float64 `json:"summaries"`
}

// Manifest lists everything a run excluded or failed to compute, so report
// consumers can see exactly which records the numbers do not include.
type Manifest struct {
	JoinFailures      []JoinFailure     `json:"join_failures"`
	DroppedRecords    []DroppedRecord   `json:"dropped_records"`
	FailedInsights    map[string]string `json:"failed_insights,omitempty"`
	OrdersIn          int               `json:"orders_in"`
	RecordsAggregated int               `json:"records_aggregated"`
}

// InsightReport is the complete output of one pipeline run: every computed
// insight plus the exclusion manifest. Reports are assembled in full before
// being returned, never emitted partially.
type InsightReport struct {
	RunID       string                       `json:"run_id"`
	GeneratedAt time.Time                    `json:"generated_at"`
	Insights    map[string][]AggregateResult `json:"insights"`
	Manifest    Manifest                     `json:"manifest"`
}

// InsightNames returns the computed insight names in ascending order,
// for deterministic iteration over the Insights map.
func (r *InsightReport) InsightNames() []string {
	names := make([]string, 0, len(r.Insights))
	for name := range r.Insights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
