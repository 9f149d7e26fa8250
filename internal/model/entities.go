package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPlaced    OrderStatus = "placed"
	StatusInTransit OrderStatus = "in_transit"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
	StatusPending   OrderStatus = "pending"
)

// KnownStatus reports whether s is a recognized order state.
func KnownStatus(s OrderStatus) bool {
	switch s {
	case StatusPlaced, StatusInTransit, StatusDelivered, StatusCancelled, StatusPending:
		return true
	}
	return false
}

// Order represents a single customer order as loaded from source data.
// Timestamps are normalized to UTC before an Order is constructed.
type Order struct {
	ID                  int64            `json:"id"`
	CustomerID          int64            `json:"customer_id"`
	Address             string           `json:"address"`
	Latitude            float64          `json:"latitude"`
	Longitude           float64          `json:"longitude"`
	PlacedAt            time.Time        `json:"placed_at"`
	Status              OrderStatus      `json:"status"`
	DriverID            *int64           `json:"driver_id,omitempty"`
	RestaurantID        int64            `json:"restaurant_id"`
	TrafficLocationID   int64            `json:"traffic_location_id"`
	DistanceKM          decimal.Decimal  `json:"distance_km"`
	RecordedDurationMin *decimal.Decimal `json:"recorded_duration_min,omitempty"`
	DeliveredAt         *time.Time       `json:"delivered_at,omitempty"`
}

// Delivered reports whether the order completed with a delivery timestamp.
func (o Order) Delivered() bool {
	return o.Status == StatusDelivered && o.DeliveredAt != nil
}

// TrafficSample represents the traffic density measured at a pickup location.
type TrafficSample struct {
	LocationID   int64           `json:"location_id"`
	LocationName string          `json:"location_name"`
	Density      decimal.Decimal `json:"density"`
}

// Driver represents a delivery driver and the shift they worked.
// ShiftEnd may be clock-earlier than ShiftStart when the shift crosses
// midnight; shift length computation accounts for that.
type Driver struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ShiftID    int64     `json:"shift_id"`
	ShiftStart time.Time `json:"shift_start"`
	ShiftEnd   time.Time `json:"shift_end"`
}

// Restaurant represents a partner restaurant.
type Restaurant struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}
