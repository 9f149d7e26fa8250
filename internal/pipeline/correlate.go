package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	"delivery-insights/internal/model"
)

// corrAcc accumulates paired observations for Pearson correlation as
// online moments. Accumulators from different partitions combine exactly,
// so the parallel result matches a single sequential pass.
type corrAcc struct {
	n            int64
	meanX, meanY float64
	m2x, m2y     float64
	c            float64
}

func (a *corrAcc) add(x, y float64) {
	a.n++
	n := float64(a.n)
	dx := x - a.meanX
	dy := y - a.meanY
	a.meanX += dx / n
	a.meanY += dy / n
	a.m2x += dx * (x - a.meanX)
	a.m2y += dy * (y - a.meanY)
	a.c += dx * (y - a.meanY)
}

func (a *corrAcc) merge(b *corrAcc) {
	if b.n == 0 {
		return
	}
	if a.n == 0 {
		*a = *b
		return
	}
	na, nb := float64(a.n), float64(b.n)
	n := na + nb
	dx := b.meanX - a.meanX
	dy := b.meanY - a.meanY
	a.m2x += b.m2x + dx*dx*na*nb/n
	a.m2y += b.m2y + dy*dy*na*nb/n
	a.c += b.c + dx*dy*na*nb/n
	a.meanX += dx * nb / n
	a.meanY += dy * nb / n
	a.n += b.n
}

// Correlate computes the Pearson coefficient between two metrics across
// the whole dataset. Only records carrying both metrics contribute. Fewer
// than two paired observations fail with ErrInsufficientSample; a series
// that never varies fails with ErrZeroVariance since the coefficient is
// undefined there.
func (e *Engine) Correlate(ctx context.Context, records []model.PipelineRecord, name, xMetric, yMetric string) (model.AggregateResult, error) {
	xv, err := valueFunc(xMetric)
	if err != nil {
		return model.AggregateResult{}, fmt.Errorf("insight %q: %w", name, err)
	}
	yv, err := valueFunc(yMetric)
	if err != nil {
		return model.AggregateResult{}, fmt.Errorf("insight %q: %w", name, err)
	}

	parts := partition(len(records), e.workers)
	accs := make([]*corrAcc, len(parts))
	var wg sync.WaitGroup
	wg.Add(len(parts))
	for i, p := range parts {
		accs[i] = &corrAcc{}
		go func(acc *corrAcc, part []model.PipelineRecord) {
			defer wg.Done()
			for _, rec := range part {
				select {
				case <-ctx.Done():
					return
				default:
				}
				x, ok := xv(rec)
				if !ok {
					continue
				}
				y, ok := yv(rec)
				if !ok {
					continue
				}
				acc.add(x, y)
			}
		}(accs[i], records[p.lo:p.hi])
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return model.AggregateResult{}, fmt.Errorf("insight %q: %w", name, err)
	}

	total := &corrAcc{}
	for _, acc := range accs {
		total.merge(acc)
	}

	if total.n < 2 {
		return model.AggregateResult{}, fmt.Errorf("insight %q: %w: %d paired observations", name, ErrInsufficientSample, total.n)
	}
	if total.m2x == 0 || total.m2y == 0 {
		return model.AggregateResult{}, fmt.Errorf("insight %q: %w", name, ErrZeroVariance)
	}

	r := total.c / math.Sqrt(total.m2x*total.m2y)
	return model.AggregateResult{
		Name:      name,
		Dimension: "dataset",
		GroupKey:  xMetric + "~" + yMetric,
		Summaries: map[string]float64{
			model.SummaryR: r,
			model.SummaryN: float64(total.n),
		},
	}, nil
}
