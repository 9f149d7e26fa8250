package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"delivery-insights/internal/model"
)

// Group-by dimensions the engine defines.
const (
	DimHourOfDay     = "hour_of_day"
	DimDayOfWeek     = "day_of_week"
	DimRestaurant    = "restaurant"
	DimDriver        = "driver"
	DimTrafficBucket = "traffic_bucket"
)

// Metrics the engine summarizes. MetricOrders values every record at 1 so
// counting orders works like any other metric.
const (
	MetricOrders        = "orders"
	MetricDeliveryHours = "delivery_hours"
	MetricTravelMin     = "travel_estimate_min"
	MetricShiftHours    = "shift_hours"
	MetricDistanceKM    = "distance_km"
	MetricDensity       = "traffic_density"
)

// Aggregation operations.
const (
	OpCount = "count"
	OpMean  = "mean"
	OpMin   = "min"
	OpMax   = "max"
)

// Request describes one grouped aggregation over pipeline records.
type Request struct {
	Name      string    `json:"name"`
	Dimension string    `json:"dimension"`
	Metric    string    `json:"metric"`
	Ops       []string  `json:"ops"`
	TopN      int       `json:"top_n,omitempty"`
	Buckets   []float64 `json:"buckets,omitempty"`
}

// Engine evaluates aggregation requests. Each request fans records out to
// partition-local accumulators and merges them after all partitions finish,
// so no state is shared while workers run.
type Engine struct {
	workers int
	log     *zap.SugaredLogger
}

// NewEngine returns an Engine running up to workers partitions per request.
func NewEngine(workers int, log *zap.SugaredLogger) *Engine {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{workers: workers, log: log}
}

// groupAcc is the per-group state a single partition owns. Merging is
// associative and commutative, so partitioning never changes results.
type groupAcc struct {
	sortKey int64
	label   string
	count   int64
	sum     float64
	min     float64
	max     float64
}

func (g *groupAcc) add(v float64) {
	if g.count == 0 {
		g.min, g.max = v, v
	} else {
		if v < g.min {
			g.min = v
		}
		if v > g.max {
			g.max = v
		}
	}
	g.count++
	g.sum += v
}

func (g *groupAcc) merge(o *groupAcc) {
	if o.count == 0 {
		return
	}
	if g.count == 0 {
		g.min, g.max = o.min, o.max
	} else {
		if o.min < g.min {
			g.min = o.min
		}
		if o.max > g.max {
			g.max = o.max
		}
	}
	g.count += o.count
	g.sum += o.sum
}

// groupKey identifies a group: SortKey orders rows and breaks ranking ties,
// label is the display form.
type groupKey struct {
	sort  int64
	label string
}

// Aggregate evaluates req across records. Rows come back ordered by
// ascending sort key. Groups no value contributed to are omitted entirely;
// a request that yields no groups at all fails with ErrEmptyAggregateDomain.
func (e *Engine) Aggregate(ctx context.Context, records []model.PipelineRecord, req Request) ([]model.AggregateResult, error) {
	group, err := groupFunc(req)
	if err != nil {
		return nil, fmt.Errorf("insight %q: %w", req.Name, err)
	}
	value, err := valueFunc(req.Metric)
	if err != nil {
		return nil, fmt.Errorf("insight %q: %w", req.Name, err)
	}
	if len(req.Ops) == 0 {
		return nil, fmt.Errorf("insight %q: %w: request lists no ops", req.Name, ErrUnknownOp)
	}
	for _, op := range req.Ops {
		switch op {
		case OpCount, OpMean, OpMin, OpMax:
		default:
			return nil, fmt.Errorf("insight %q: %w: %q", req.Name, ErrUnknownOp, op)
		}
	}

	parts := partition(len(records), e.workers)
	accs := make([]map[int64]*groupAcc, len(parts))
	var wg sync.WaitGroup
	wg.Add(len(parts))
	for i, p := range parts {
		accs[i] = make(map[int64]*groupAcc)
		go func(acc map[int64]*groupAcc, part []model.PipelineRecord) {
			defer wg.Done()
			for _, rec := range part {
				select {
				case <-ctx.Done():
					return
				default:
				}
				key, ok := group(rec)
				if !ok {
					continue
				}
				v, ok := value(rec)
				if !ok {
					continue
				}
				g := acc[key.sort]
				if g == nil {
					g = &groupAcc{sortKey: key.sort, label: key.label}
					acc[key.sort] = g
				}
				g.add(v)
			}
		}(accs[i], records[p.lo:p.hi])
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("insight %q: %w", req.Name, err)
	}

	merged := make(map[int64]*groupAcc)
	for _, acc := range accs {
		for k, g := range acc {
			if m, ok := merged[k]; ok {
				m.merge(g)
			} else {
				merged[k] = g
			}
		}
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("insight %q: %w", req.Name, ErrEmptyAggregateDomain)
	}

	rows := make([]model.AggregateResult, 0, len(merged))
	for _, g := range merged {
		rows = append(rows, model.AggregateResult{
			Name:      req.Name,
			Dimension: req.Dimension,
			GroupKey:  g.label,
			SortKey:   g.sortKey,
			Summaries: summarize(g, req.Ops),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SortKey < rows[j].SortKey })

	e.log.Debugw("aggregation computed", "insight", req.Name, "groups", len(rows))
	return rows, nil
}

func summarize(g *groupAcc, ops []string) map[string]float64 {
	s := make(map[string]float64, len(ops))
	for _, op := range ops {
		switch op {
		case OpCount:
			s[model.SummaryCount] = float64(g.count)
		case OpMean:
			s[model.SummaryMean] = g.sum / float64(g.count)
		case OpMin:
			s[model.SummaryMin] = g.min
		case OpMax:
			s[model.SummaryMax] = g.max
		}
	}
	return s
}

// groupFunc resolves the dimension of a request into a keying function.
// The bool result is false when a record does not carry the dimension,
// such as driver grouping over an unassigned order; those records are
// skipped, not errors.
func groupFunc(req Request) (func(model.PipelineRecord) (groupKey, bool), error) {
	switch req.Dimension {
	case DimHourOfDay:
		return func(r model.PipelineRecord) (groupKey, bool) {
			h := int64(r.Order.PlacedAt.UTC().Hour())
			return groupKey{sort: h, label: fmt.Sprintf("%02d:00", h)}, true
		}, nil
	case DimDayOfWeek:
		return func(r model.PipelineRecord) (groupKey, bool) {
			wd := r.Order.PlacedAt.UTC().Weekday()
			iso := int64((int(wd)+6)%7 + 1) // Monday=1 .. Sunday=7
			return groupKey{sort: iso, label: wd.String()}, true
		}, nil
	case DimRestaurant:
		return func(r model.PipelineRecord) (groupKey, bool) {
			return groupKey{sort: r.Restaurant.ID, label: r.Restaurant.Name}, true
		}, nil
	case DimDriver:
		return func(r model.PipelineRecord) (groupKey, bool) {
			if r.Driver == nil {
				return groupKey{}, false
			}
			return groupKey{sort: r.Driver.ID, label: r.Driver.Name}, true
		}, nil
	case DimTrafficBucket:
		b, err := newBucketer(req.Buckets)
		if err != nil {
			return nil, err
		}
		return func(r model.PipelineRecord) (groupKey, bool) {
			idx := b.index(r.Traffic.Density.InexactFloat64())
			return groupKey{sort: int64(idx), label: b.label(idx)}, true
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, req.Dimension)
	}
}

// valueFunc resolves a metric name into an extractor. The bool result is
// false when the metric is absent for a record; absent values contribute
// to no operation, including count.
func valueFunc(metric string) (func(model.PipelineRecord) (float64, bool), error) {
	switch metric {
	case MetricOrders:
		return func(model.PipelineRecord) (float64, bool) { return 1, true }, nil
	case MetricDeliveryHours:
		return func(r model.PipelineRecord) (float64, bool) {
			if r.Metrics.DeliveryHours == nil {
				return 0, false
			}
			return *r.Metrics.DeliveryHours, true
		}, nil
	case MetricTravelMin:
		return func(r model.PipelineRecord) (float64, bool) {
			return float64(r.Metrics.TravelEstimateMin), true
		}, nil
	case MetricShiftHours:
		return func(r model.PipelineRecord) (float64, bool) {
			if r.Metrics.ShiftHours == nil {
				return 0, false
			}
			return *r.Metrics.ShiftHours, true
		}, nil
	case MetricDistanceKM:
		return func(r model.PipelineRecord) (float64, bool) {
			return r.Order.DistanceKM.InexactFloat64(), true
		}, nil
	case MetricDensity:
		return func(r model.PipelineRecord) (float64, bool) {
			return r.Traffic.Density.InexactFloat64(), true
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

type span struct{ lo, hi int }

// partition splits n records into at most workers contiguous spans.
func partition(n, workers int) []span {
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	spans := make([]span, 0, workers)
	size, rem := n/workers, n%workers
	lo := 0
	for i := 0; i < workers; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		spans = append(spans, span{lo: lo, hi: hi})
		lo = hi
	}
	return spans
}

// bucketer maps densities onto half-open intervals. K ascending boundaries
// define K+1 buckets: (-inf,b0) [b0,b1) ... [bK-1,+inf).
type bucketer struct {
	bounds []float64
}

func newBucketer(bounds []float64) (*bucketer, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("%w: no boundaries", ErrInvalidBucketBoundaries)
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return nil, fmt.Errorf("%w: %v not strictly ascending", ErrInvalidBucketBoundaries, bounds)
		}
	}
	return &bucketer{bounds: bounds}, nil
}

func (b *bucketer) index(v float64) int {
	return sort.Search(len(b.bounds), func(i int) bool { return b.bounds[i] > v })
}

func (b *bucketer) label(i int) string {
	switch {
	case i == 0:
		return "(-inf," + formatBound(b.bounds[0]) + ")"
	case i == len(b.bounds):
		return "[" + formatBound(b.bounds[len(b.bounds)-1]) + ",+inf)"
	default:
		return "[" + formatBound(b.bounds[i-1]) + "," + formatBound(b.bounds[i]) + ")"
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
