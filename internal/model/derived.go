package model

// EnrichedOrder is an order joined with its restaurant, traffic sample and,
// when one is assigned, its driver. Driver stays nil for unassigned orders.
type EnrichedOrder struct {
	Order      Order         `json:"order"`
	Restaurant Restaurant    `json:"restaurant"`
	Traffic    TrafficSample `json:"traffic"`
	Driver     *Driver       `json:"driver,omitempty"`
}

// DerivedMetrics holds the per-order quantities computed by the pipeline.
// Nil pointers mean the quantity does not exist for the order, which is
// different from zero: an undelivered order has no delivery duration at all.
type DerivedMetrics struct {
	TravelEstimateMin int64    `json:"travel_estimate_min"`
	DeliveryHours     *float64 `json:"delivery_hours,omitempty"`
	ShiftHours        *float64 `json:"shift_hours,omitempty"`
}

// PipelineRecord is the unit consumed by aggregation: one enriched order
// plus its derived metrics.
type PipelineRecord struct {
	EnrichedOrder
	Metrics DerivedMetrics `json:"metrics"`
}

// Join failure kinds name the entity an order failed to resolve.
const (
	MissingRestaurant = "restaurant"
	MissingTraffic    = "traffic_location"
	MissingDriver     = "driver"
)

// JoinFailure records an order excluded (or flagged) because a referenced
// entity was absent from the loaded snapshot.
type JoinFailure struct {
	OrderID     int64  `json:"order_id"`
	MissingKind string `json:"missing_kind"`
}

// DroppedRecord is a manifest entry for any record excluded before
// aggregation, with enough context to audit the exclusion.
type DroppedRecord struct {
	Kind   string `json:"kind"`   // order, driver, restaurant, traffic
	RefID  int64  `json:"ref_id"` // entity id, 0 when unparseable
	Stage  string `json:"stage"`  // ingest, load, derive
	Reason string `json:"reason"`
}
