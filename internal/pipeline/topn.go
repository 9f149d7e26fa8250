package pipeline

import (
	"container/heap"
	"context"
	"fmt"

	"delivery-insights/internal/model"
)

// rankedRow pairs an aggregate row with the summary value it is ranked by.
type rankedRow struct {
	row   model.AggregateResult
	value float64
}

// bottomHeap is a min-heap keeping the weakest retained row at the root:
// lowest value first and, among equal values, highest sort key first. That
// makes eviction ties resolve in favor of the lower entity id.
type bottomHeap []rankedRow

func (h bottomHeap) Len() int { return len(h) }

func (h bottomHeap) Less(i, j int) bool {
	if h[i].value != h[j].value {
		return h[i].value < h[j].value
	}
	return h[i].row.SortKey > h[j].row.SortKey
}

func (h bottomHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *bottomHeap) Push(x any) { *h = append(*h, x.(rankedRow)) }

func (h *bottomHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopN aggregates req and returns its best req.TopN groups, ranked by the
// first listed op's summary value, best first. Only the current best rows
// stay resident while scanning. Ties rank the smaller sort key higher, so
// rankings are stable across reruns.
func (e *Engine) TopN(ctx context.Context, records []model.PipelineRecord, req Request) ([]model.AggregateResult, error) {
	if req.TopN <= 0 {
		return nil, fmt.Errorf("insight %q: top-n must be positive, got %d", req.Name, req.TopN)
	}
	rows, err := e.Aggregate(ctx, records, req)
	if err != nil {
		return nil, err
	}
	rankOp := req.Ops[0]

	h := make(bottomHeap, 0, req.TopN)
	for _, row := range rows {
		v := row.Summaries[rankOp]
		if h.Len() < req.TopN {
			heap.Push(&h, rankedRow{row: row, value: v})
			continue
		}
		weakest := h[0]
		if v > weakest.value || (v == weakest.value && row.SortKey < weakest.row.SortKey) {
			h[0] = rankedRow{row: row, value: v}
			heap.Fix(&h, 0)
		}
	}

	out := make([]model.AggregateResult, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(rankedRow).row
	}
	return out, nil
}
