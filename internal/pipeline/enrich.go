package pipeline

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"delivery-insights/internal/model"
	"delivery-insights/internal/snapshot"
)

// EnrichOrders joins every order with its restaurant, traffic sample and
// driver. Restaurant and traffic are mandatory: an order that cannot
// resolve either is excluded and reported as a join failure. A driver
// reference that resolves to no loaded driver is also reported, but the
// order continues without driver data so it stays aggregatable.
//
// Failures never abort the batch and are returned to the caller, not
// logged per record. Output is ordered by ascending order ID regardless of
// worker scheduling.
func EnrichOrders(ctx context.Context, snap *snapshot.Snapshot, cfg model.Concurrency, log *zap.SugaredLogger) ([]model.EnrichedOrder, []model.JoinFailure) {
	workers, buffer := stageSize(cfg.EnrichWorkers, cfg.ChannelBuffer)
	orders := snap.Orders()
	feed := make(chan model.Order, buffer)
	joined := make(chan model.EnrichedOrder, buffer)
	failed := make(chan model.JoinFailure, buffer)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for o := range feed {
				select {
				case <-ctx.Done():
					return
				default:
				}
				enrichOne(snap, o, joined, failed)
			}
		}()
	}

	go func() {
		defer close(feed)
		for _, o := range orders {
			select {
			case <-ctx.Done():
				return
			case feed <- o:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(joined)
		close(failed)
	}()

	var (
		enriched  []model.EnrichedOrder
		failures  []model.JoinFailure
		collectWg sync.WaitGroup
	)
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for f := range failed {
			failures = append(failures, f)
		}
	}()
	for e := range joined {
		enriched = append(enriched, e)
	}
	collectWg.Wait()

	sort.Slice(enriched, func(i, j int) bool { return enriched[i].Order.ID < enriched[j].Order.ID })
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].OrderID != failures[j].OrderID {
			return failures[i].OrderID < failures[j].OrderID
		}
		return failures[i].MissingKind < failures[j].MissingKind
	})

	log.Infow("enrich stage complete",
		"orders_in", len(orders),
		"joined", len(enriched),
		"join_failures", len(failures),
	)
	return enriched, failures
}

// stageSize floors worker count and channel buffering so a zero-value
// Concurrency still moves every record through a stage instead of
// starting no workers at all.
func stageSize(workers, buffer int) (int, int) {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	return workers, buffer
}

func enrichOne(snap *snapshot.Snapshot, o model.Order, out chan<- model.EnrichedOrder, failures chan<- model.JoinFailure) {
	restaurant, ok := snap.Restaurant(o.RestaurantID)
	if !ok {
		failures <- model.JoinFailure{OrderID: o.ID, MissingKind: model.MissingRestaurant}
		return
	}
	traffic, ok := snap.Traffic(o.TrafficLocationID)
	if !ok {
		failures <- model.JoinFailure{OrderID: o.ID, MissingKind: model.MissingTraffic}
		return
	}

	e := model.EnrichedOrder{Order: o, Restaurant: restaurant, Traffic: traffic}
	if o.DriverID != nil {
		if driver, found := snap.Driver(*o.DriverID); found {
			e.Driver = &driver
		} else {
			failures <- model.JoinFailure{OrderID: o.ID, MissingKind: model.MissingDriver}
		}
	}
	out <- e
}
