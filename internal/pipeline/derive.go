package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"delivery-insights/internal/model"
)

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalHundred = decimal.NewFromInt(100)
)

// TravelEstimateMin computes round(distance_km × (1 + density) / 100) as
// whole minutes, rounding half away from zero. The formula, including its
// scale, is the established business rule for ranking deliveries.
func TravelEstimateMin(distanceKM, density decimal.Decimal) (int64, error) {
	if density.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTrafficDensity, density)
	}
	if !distanceKM.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDistance, distanceKM)
	}
	est := distanceKM.Mul(decimalOne.Add(density)).Div(decimalHundred)
	return est.Round(0).IntPart(), nil
}

// ShiftHours returns the hours between shift start and end, adding a day
// when the end lands clock-earlier than the start (midnight crossing in
// same-day source data).
func ShiftHours(start, end time.Time) float64 {
	h := end.Sub(start).Hours()
	if h < 0 {
		h += 24
	}
	return h
}

// ComputeMetrics derives the per-order quantities for one enriched order.
// DeliveryHours is set only for delivered orders and ShiftHours only when
// a driver is joined; both stay nil otherwise, never zero.
func ComputeMetrics(e model.EnrichedOrder) (model.DerivedMetrics, error) {
	var m model.DerivedMetrics

	travel, err := TravelEstimateMin(e.Order.DistanceKM, e.Traffic.Density)
	if err != nil {
		return m, fmt.Errorf("order %d: %w", e.Order.ID, err)
	}
	m.TravelEstimateMin = travel

	if e.Order.Delivered() {
		h := e.Order.DeliveredAt.Sub(e.Order.PlacedAt).Hours()
		m.DeliveryHours = &h
	}
	if e.Driver != nil {
		h := ShiftHours(e.Driver.ShiftStart, e.Driver.ShiftEnd)
		m.ShiftHours = &h
	}
	return m, nil
}

// DeriveMetrics computes derived quantities for every enriched order.
// Orders whose metrics cannot be derived are dropped and reported; the
// batch itself never fails. Output is ordered by ascending order ID.
func DeriveMetrics(ctx context.Context, enriched []model.EnrichedOrder, cfg model.Concurrency, log *zap.SugaredLogger) ([]model.PipelineRecord, []model.DroppedRecord) {
	workers, buffer := stageSize(cfg.DeriveWorkers, cfg.ChannelBuffer)
	feed := make(chan model.EnrichedOrder, buffer)
	derived := make(chan model.PipelineRecord, buffer)
	rejected := make(chan model.DroppedRecord, buffer)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for e := range feed {
				select {
				case <-ctx.Done():
					return
				default:
				}
				metrics, err := ComputeMetrics(e)
				if err != nil {
					rejected <- model.DroppedRecord{
						Kind:   "order",
						RefID:  e.Order.ID,
						Stage:  "derive",
						Reason: err.Error(),
					}
					continue
				}
				derived <- model.PipelineRecord{EnrichedOrder: e, Metrics: metrics}
			}
		}()
	}

	go func() {
		defer close(feed)
		for _, e := range enriched {
			select {
			case <-ctx.Done():
				return
			case feed <- e:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(derived)
		close(rejected)
	}()

	var (
		records   []model.PipelineRecord
		dropped   []model.DroppedRecord
		collectWg sync.WaitGroup
	)
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for d := range rejected {
			dropped = append(dropped, d)
		}
	}()
	for r := range derived {
		records = append(records, r)
	}
	collectWg.Wait()

	sort.Slice(records, func(i, j int) bool { return records[i].Order.ID < records[j].Order.ID })
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].RefID < dropped[j].RefID })

	log.Infow("derive stage complete",
		"orders_in", len(enriched),
		"records_out", len(records),
		"dropped", len(dropped),
	)
	return records, dropped
}
