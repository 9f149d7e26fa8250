package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"delivery-insights/internal/model"
)

// Monday of a fixed reference week, so weekday-based tests stay readable.
var baseMonday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// placedOn returns a timestamp in the reference week at the given weekday
// and hour.
func placedOn(weekday time.Weekday, hour int) time.Time {
	offset := (int(weekday) - int(time.Monday) + 7) % 7
	return baseMonday.AddDate(0, 0, offset).Add(time.Duration(hour) * time.Hour)
}

func hoursPtr(v float64) *float64 { return &v }

// seed describes one pipeline record compactly; build fills the rest with
// workable defaults.
type seed struct {
	id        int64
	placedAt  time.Time
	rest      model.Restaurant
	driver    *model.Driver
	density   float64
	distance  float64
	travelMin int64
	delivery  *float64
	shift     *float64
}

func (s seed) build() model.PipelineRecord {
	if s.placedAt.IsZero() {
		s.placedAt = baseMonday.Add(12 * time.Hour)
	}
	if s.rest.ID == 0 {
		s.rest = model.Restaurant{ID: 1, Name: "Pizza Palace"}
	}
	if s.distance == 0 {
		s.distance = 5
	}
	var rec model.PipelineRecord
	rec.Order = model.Order{
		ID:                s.id,
		PlacedAt:          s.placedAt,
		Status:            model.StatusPlaced,
		RestaurantID:      s.rest.ID,
		TrafficLocationID: 1,
		DistanceKM:        decimal.NewFromFloat(s.distance),
	}
	rec.Restaurant = s.rest
	rec.Traffic = model.TrafficSample{
		LocationID:   1,
		LocationName: "downtown",
		Density:      decimal.NewFromFloat(s.density),
	}
	rec.Driver = s.driver
	rec.Metrics = model.DerivedMetrics{
		TravelEstimateMin: s.travelMin,
		DeliveryHours:     s.delivery,
		ShiftHours:        s.shift,
	}
	return rec
}

func buildRecords(seeds ...seed) []model.PipelineRecord {
	records := make([]model.PipelineRecord, len(seeds))
	for i, s := range seeds {
		records[i] = s.build()
	}
	return records
}
