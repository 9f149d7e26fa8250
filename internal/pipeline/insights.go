package pipeline

import (
	"context"
	"time"

	"delivery-insights/internal/model"
)

// Names of the standard insight batch.
const (
	InsightDeliveryByRestaurant = "delivery_time_by_restaurant"
	InsightDeliveryByHour       = "delivery_time_by_hour"
	InsightOrdersByDay          = "orders_by_day_of_week"
	InsightPeakHours            = "peak_hours"
	InsightTopRestaurants       = "top_restaurants_by_orders"
	InsightTopDrivers           = "top_drivers_by_deliveries"
	InsightShiftByDriver        = "shift_length_by_driver"
	InsightTravelByTraffic      = "travel_estimate_by_traffic"
	InsightTrafficCorrelation   = "traffic_delivery_correlation"
)

type insightKind int

const (
	kindGrouped insightKind = iota
	kindTopN
	kindCorrelation
)

type insightDef struct {
	kind    insightKind
	req     Request
	xMetric string
	yMetric string
}

// defaultBatch assembles the standard insight set for the given options.
// Top-drivers counts delivery_hours so only delivered orders contribute.
func defaultBatch(opts model.Options) []insightDef {
	return []insightDef{
		{kind: kindGrouped, req: Request{Name: InsightDeliveryByRestaurant, Dimension: DimRestaurant, Metric: MetricDeliveryHours, Ops: []string{OpCount, OpMean, OpMin, OpMax}}},
		{kind: kindGrouped, req: Request{Name: InsightDeliveryByHour, Dimension: DimHourOfDay, Metric: MetricDeliveryHours, Ops: []string{OpMean}}},
		{kind: kindGrouped, req: Request{Name: InsightOrdersByDay, Dimension: DimDayOfWeek, Metric: MetricOrders, Ops: []string{OpCount}}},
		{kind: kindTopN, req: Request{Name: InsightPeakHours, Dimension: DimHourOfDay, Metric: MetricOrders, Ops: []string{OpCount}, TopN: opts.TopN}},
		{kind: kindTopN, req: Request{Name: InsightTopRestaurants, Dimension: DimRestaurant, Metric: MetricOrders, Ops: []string{OpCount}, TopN: opts.TopN}},
		{kind: kindTopN, req: Request{Name: InsightTopDrivers, Dimension: DimDriver, Metric: MetricDeliveryHours, Ops: []string{OpCount}, TopN: opts.TopN}},
		{kind: kindGrouped, req: Request{Name: InsightShiftByDriver, Dimension: DimDriver, Metric: MetricShiftHours, Ops: []string{OpMean, OpMax}}},
		{kind: kindGrouped, req: Request{Name: InsightTravelByTraffic, Dimension: DimTrafficBucket, Metric: MetricTravelMin, Ops: []string{OpMean, OpCount}, Buckets: opts.TrafficBucketBoundaries}},
		{kind: kindCorrelation, req: Request{Name: InsightTrafficCorrelation}, xMetric: MetricDensity, yMetric: MetricDeliveryHours},
	}
}

// DefaultInsightNames lists the standard batch in evaluation order.
func DefaultInsightNames() []string {
	defs := defaultBatch(model.Options{TopN: model.DefaultTopN, TrafficBucketBoundaries: model.DefaultTrafficBuckets})
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.req.Name
	}
	return names
}

// BuildReport evaluates the insight batch over records and assembles the
// complete report. An insight that fails structurally lands in the
// manifest's failed set and is omitted; it never aborts the others. The
// report is returned only once every selected insight has been evaluated.
// opts.Insights, when non-empty, narrows the batch by name.
func (e *Engine) BuildReport(ctx context.Context, runID string, records []model.PipelineRecord, opts model.Options, manifest model.Manifest) (*model.InsightReport, error) {
	if manifest.FailedInsights == nil {
		manifest.FailedInsights = make(map[string]string)
	}

	batch := defaultBatch(opts)
	selected := batch
	if len(opts.Insights) > 0 {
		byName := make(map[string]insightDef, len(batch))
		for _, def := range batch {
			byName[def.req.Name] = def
		}
		selected = make([]insightDef, 0, len(opts.Insights))
		for _, name := range opts.Insights {
			def, ok := byName[name]
			if !ok {
				manifest.FailedInsights[name] = "unknown insight"
				continue
			}
			selected = append(selected, def)
		}
	}

	insights := make(map[string][]model.AggregateResult, len(selected))
	for _, def := range selected {
		var (
			rows []model.AggregateResult
			err  error
		)
		switch def.kind {
		case kindTopN:
			rows, err = e.TopN(ctx, records, def.req)
		case kindCorrelation:
			var row model.AggregateResult
			row, err = e.Correlate(ctx, records, def.req.Name, def.xMetric, def.yMetric)
			rows = []model.AggregateResult{row}
		default:
			rows, err = e.Aggregate(ctx, records, def.req)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			manifest.FailedInsights[def.req.Name] = err.Error()
			e.log.Warnw("insight failed", "insight", def.req.Name, "error", err)
			continue
		}
		insights[def.req.Name] = rows
	}

	manifest.RecordsAggregated = len(records)
	return &model.InsightReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Insights:    insights,
		Manifest:    manifest,
	}, nil
}
