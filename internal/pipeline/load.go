package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"delivery-insights/internal/ingest"
	"delivery-insights/internal/model"
	"delivery-insights/internal/snapshot"
)

// LoadSnapshot reads the four entity fixtures, validates order-state
// invariants and freezes the entity store. Per-record violations become
// dropped records; duplicate primary keys and unreadable sources abort
// the load.
func LoadSnapshot(loader *ingest.Loader, sources model.Sources, log *zap.SugaredLogger) (*snapshot.Snapshot, []model.DroppedRecord, error) {
	var dropped []model.DroppedRecord

	orders, d, err := loader.Orders(sources.Orders)
	if err != nil {
		return nil, nil, err
	}
	dropped = append(dropped, d...)

	drivers, d, err := loader.Drivers(sources.Drivers)
	if err != nil {
		return nil, nil, err
	}
	dropped = append(dropped, d...)

	restaurants, d, err := loader.Restaurants(sources.Restaurants)
	if err != nil {
		return nil, nil, err
	}
	dropped = append(dropped, d...)

	traffic, d, err := loader.Traffic(sources.Traffic)
	if err != nil {
		return nil, nil, err
	}
	dropped = append(dropped, d...)

	orders, d = validateOrders(orders)
	dropped = append(dropped, d...)

	b := snapshot.NewBuilder()
	if err := b.AddOrders(orders); err != nil {
		return nil, nil, fmt.Errorf("load orders: %w", err)
	}
	if err := b.AddDrivers(drivers); err != nil {
		return nil, nil, fmt.Errorf("load drivers: %w", err)
	}
	if err := b.AddRestaurants(restaurants); err != nil {
		return nil, nil, fmt.Errorf("load restaurants: %w", err)
	}
	if err := b.AddTraffic(traffic); err != nil {
		return nil, nil, fmt.Errorf("load traffic: %w", err)
	}

	snap := b.Build()
	log.Infow("snapshot loaded",
		"orders", snap.OrderCount(),
		"drivers", snap.DriverCount(),
		"restaurants", snap.RestaurantCount(),
		"traffic_locations", snap.TrafficCount(),
		"dropped", len(dropped),
	)
	return snap, dropped, nil
}

// validateOrders enforces order-state invariants before orders enter the
// store. Violators are excluded and reported, never silently repaired.
func validateOrders(orders []model.Order) ([]model.Order, []model.DroppedRecord) {
	valid := make([]model.Order, 0, len(orders))
	var dropped []model.DroppedRecord
	for _, o := range orders {
		if reason := orderInvariant(o); reason != "" {
			dropped = append(dropped, model.DroppedRecord{
				Kind:   "order",
				RefID:  o.ID,
				Stage:  "load",
				Reason: reason,
			})
			continue
		}
		valid = append(valid, o)
	}
	return valid, dropped
}

func orderInvariant(o model.Order) string {
	if !model.KnownStatus(o.Status) {
		return fmt.Sprintf("unknown status %q", o.Status)
	}
	if o.Status == model.StatusDelivered {
		if o.DeliveredAt == nil {
			return "delivered without delivery timestamp"
		}
		if o.DeliveredAt.Before(o.PlacedAt) {
			return "delivered before placement"
		}
	} else if o.DeliveredAt != nil {
		return fmt.Sprintf("delivery timestamp on %s order", o.Status)
	}
	return ""
}
