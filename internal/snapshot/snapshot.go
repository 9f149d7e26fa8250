// Package snapshot holds the immutable entity collections a pipeline run
// reads from. Entities are loaded once through a Builder, keyed by primary
// key, and never mutated afterwards; derived values live downstream.
package snapshot

import (
	"errors"
	"fmt"
	"sort"

	"delivery-insights/internal/model"
)

// ErrDuplicateKey reports a second entity arriving under an already-loaded
// primary key. Duplicate keys are a structural defect in the source data,
// so loading stops rather than silently keeping either row.
var ErrDuplicateKey = errors.New("duplicate key")

// Builder accumulates entities prior to Build. Use NewBuilder.
type Builder struct {
	orders      map[int64]model.Order
	drivers     map[int64]model.Driver
	restaurants map[int64]model.Restaurant
	traffic     map[int64]model.TrafficSample
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		orders:      make(map[int64]model.Order),
		drivers:     make(map[int64]model.Driver),
		restaurants: make(map[int64]model.Restaurant),
		traffic:     make(map[int64]model.TrafficSample),
	}
}

// AddOrders admits orders keyed by ID.
func (b *Builder) AddOrders(orders []model.Order) error {
	for _, o := range orders {
		if _, exists := b.orders[o.ID]; exists {
			return fmt.Errorf("%w: order %d", ErrDuplicateKey, o.ID)
		}
		b.orders[o.ID] = o
	}
	return nil
}

// AddDrivers admits drivers keyed by ID.
func (b *Builder) AddDrivers(drivers []model.Driver) error {
	for _, d := range drivers {
		if _, exists := b.drivers[d.ID]; exists {
			return fmt.Errorf("%w: driver %d", ErrDuplicateKey, d.ID)
		}
		b.drivers[d.ID] = d
	}
	return nil
}

// AddRestaurants admits restaurants keyed by ID.
func (b *Builder) AddRestaurants(restaurants []model.Restaurant) error {
	for _, r := range restaurants {
		if _, exists := b.restaurants[r.ID]; exists {
			return fmt.Errorf("%w: restaurant %d", ErrDuplicateKey, r.ID)
		}
		b.restaurants[r.ID] = r
	}
	return nil
}

// AddTraffic admits traffic samples keyed by location ID.
func (b *Builder) AddTraffic(samples []model.TrafficSample) error {
	for _, s := range samples {
		if _, exists := b.traffic[s.LocationID]; exists {
			return fmt.Errorf("%w: traffic location %d", ErrDuplicateKey, s.LocationID)
		}
		b.traffic[s.LocationID] = s
	}
	return nil
}

// Build freezes the accumulated entities. The Builder must not be reused.
// Referential integrity across collections is not checked here; dangling
// references surface as join failures downstream.
func (b *Builder) Build() *Snapshot {
	s := &Snapshot{
		orders:      b.orders,
		drivers:     b.drivers,
		restaurants: b.restaurants,
		traffic:     b.traffic,
	}
	s.orderIDs = sortedKeys(b.orders)
	s.driverIDs = sortedKeys(b.drivers)
	s.restaurantIDs = sortedKeys(b.restaurants)
	s.trafficIDs = sortedKeys(b.traffic)
	return s
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot is a read-only view over loaded entities. Lookups are O(1) and
// full scans run in ascending primary-key order, which keeps every
// downstream stage deterministic for a given input set.
type Snapshot struct {
	orders      map[int64]model.Order
	drivers     map[int64]model.Driver
	restaurants map[int64]model.Restaurant
	traffic     map[int64]model.TrafficSample

	orderIDs      []int64
	driverIDs     []int64
	restaurantIDs []int64
	trafficIDs    []int64
}

// Order looks up an order by ID.
func (s *Snapshot) Order(id int64) (model.Order, bool) {
	o, ok := s.orders[id]
	return o, ok
}

// Driver looks up a driver by ID.
func (s *Snapshot) Driver(id int64) (model.Driver, bool) {
	d, ok := s.drivers[id]
	return d, ok
}

// Restaurant looks up a restaurant by ID.
func (s *Snapshot) Restaurant(id int64) (model.Restaurant, bool) {
	r, ok := s.restaurants[id]
	return r, ok
}

// Traffic looks up a traffic sample by location ID.
func (s *Snapshot) Traffic(locationID int64) (model.TrafficSample, bool) {
	t, ok := s.traffic[locationID]
	return t, ok
}

// Orders returns all orders in ascending ID order.
func (s *Snapshot) Orders() []model.Order {
	out := make([]model.Order, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		out = append(out, s.orders[id])
	}
	return out
}

// Drivers returns all drivers in ascending ID order.
func (s *Snapshot) Drivers() []model.Driver {
	out := make([]model.Driver, 0, len(s.driverIDs))
	for _, id := range s.driverIDs {
		out = append(out, s.drivers[id])
	}
	return out
}

// Restaurants returns all restaurants in ascending ID order.
func (s *Snapshot) Restaurants() []model.Restaurant {
	out := make([]model.Restaurant, 0, len(s.restaurantIDs))
	for _, id := range s.restaurantIDs {
		out = append(out, s.restaurants[id])
	}
	return out
}

// TrafficSamples returns all traffic samples in ascending location ID order.
func (s *Snapshot) TrafficSamples() []model.TrafficSample {
	out := make([]model.TrafficSample, 0, len(s.trafficIDs))
	for _, id := range s.trafficIDs {
		out = append(out, s.traffic[id])
	}
	return out
}

// OrderCount returns the number of loaded orders.
func (s *Snapshot) OrderCount() int { return len(s.orders) }

// DriverCount returns the number of loaded drivers.
func (s *Snapshot) DriverCount() int { return len(s.drivers) }

// RestaurantCount returns the number of loaded restaurants.
func (s *Snapshot) RestaurantCount() int { return len(s.restaurants) }

// TrafficCount returns the number of loaded traffic samples.
func (s *Snapshot) TrafficCount() int { return len(s.traffic) }
