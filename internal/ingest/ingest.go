// Package ingest reads entity fixtures (CSV or JSON) into typed records.
// Rows that fail to convert are reported as dropped records rather than
// failing the whole file; unreadable files are hard errors.
package ingest

import (
	"fmt"

	"go.uber.org/zap"

	"delivery-insights/internal/model"
	"delivery-insights/internal/timeparse"
)

// Loader converts raw source rows into model entities using a shared
// timestamp normalizer.
type Loader struct {
	norm *timeparse.Normalizer
	log  *zap.SugaredLogger
}

// NewLoader returns a Loader. A nil logger disables load logging.
func NewLoader(norm *timeparse.Normalizer, log *zap.SugaredLogger) *Loader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loader{norm: norm, log: log}
}

// Orders loads the orders fixture.
func (l *Loader) Orders(ref model.SourceRef) ([]model.Order, []model.DroppedRecord, error) {
	rows, err := readRows(ref.Path, ref.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("load orders: %w", err)
	}

	orders := make([]model.Order, 0, len(rows))
	var dropped []model.DroppedRecord
	for _, r := range rows {
		o, err := l.parseOrder(r)
		if err != nil {
			dropped = append(dropped, dropRecord("order", r, err))
			continue
		}
		orders = append(orders, o)
	}
	l.logLoaded("orders", ref.Path, len(orders), len(dropped))
	return orders, dropped, nil
}

// Drivers loads the drivers fixture.
func (l *Loader) Drivers(ref model.SourceRef) ([]model.Driver, []model.DroppedRecord, error) {
	rows, err := readRows(ref.Path, ref.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("load drivers: %w", err)
	}

	drivers := make([]model.Driver, 0, len(rows))
	var dropped []model.DroppedRecord
	for _, r := range rows {
		d, err := l.parseDriver(r)
		if err != nil {
			dropped = append(dropped, dropRecord("driver", r, err))
			continue
		}
		drivers = append(drivers, d)
	}
	l.logLoaded("drivers", ref.Path, len(drivers), len(dropped))
	return drivers, dropped, nil
}

// Restaurants loads the restaurants fixture.
func (l *Loader) Restaurants(ref model.SourceRef) ([]model.Restaurant, []model.DroppedRecord, error) {
	rows, err := readRows(ref.Path, ref.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("load restaurants: %w", err)
	}

	restaurants := make([]model.Restaurant, 0, len(rows))
	var dropped []model.DroppedRecord
	for _, r := range rows {
		rest, err := parseRestaurant(r)
		if err != nil {
			dropped = append(dropped, dropRecord("restaurant", r, err))
			continue
		}
		restaurants = append(restaurants, rest)
	}
	l.logLoaded("restaurants", ref.Path, len(restaurants), len(dropped))
	return restaurants, dropped, nil
}

// Traffic loads the traffic samples fixture.
func (l *Loader) Traffic(ref model.SourceRef) ([]model.TrafficSample, []model.DroppedRecord, error) {
	rows, err := readRows(ref.Path, ref.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("load traffic: %w", err)
	}

	samples := make([]model.TrafficSample, 0, len(rows))
	var dropped []model.DroppedRecord
	for _, r := range rows {
		s, err := parseTraffic(r)
		if err != nil {
			dropped = append(dropped, dropRecord("traffic", r, err))
			continue
		}
		samples = append(samples, s)
	}
	l.logLoaded("traffic", ref.Path, len(samples), len(dropped))
	return samples, dropped, nil
}

func (l *Loader) parseOrder(r row) (model.Order, error) {
	var o model.Order
	var err error

	if o.ID, err = r.int64("id"); err != nil {
		return o, err
	}
	if o.CustomerID, err = r.int64("customer_id"); err != nil {
		return o, err
	}
	o.Address, _ = r.optional("address")
	if o.Latitude, err = r.float64("latitude"); err != nil {
		return o, err
	}
	if o.Longitude, err = r.float64("longitude"); err != nil {
		return o, err
	}

	rawPlaced, err := r.str("placed_at")
	if err != nil {
		return o, err
	}
	if o.PlacedAt, err = l.norm.Normalize(rawPlaced); err != nil {
		return o, fmt.Errorf("placed_at: %w", err)
	}

	status, err := r.str("status")
	if err != nil {
		return o, err
	}
	o.Status = model.OrderStatus(status)

	if raw, ok := r.optional("driver_id"); ok {
		id, err := parseInt64(raw)
		if err != nil {
			return o, fmt.Errorf("driver_id: %w", err)
		}
		o.DriverID = &id
	}
	if o.RestaurantID, err = r.int64("restaurant_id"); err != nil {
		return o, err
	}
	if o.TrafficLocationID, err = r.int64("traffic_location_id"); err != nil {
		return o, err
	}
	if o.DistanceKM, err = r.decimal("distance_km"); err != nil {
		return o, err
	}
	if raw, ok := r.optional("recorded_duration_min"); ok {
		d, err := parseDecimal(raw)
		if err != nil {
			return o, fmt.Errorf("recorded_duration_min: %w", err)
		}
		o.RecordedDurationMin = &d
	}
	if raw, ok := r.optional("delivered_at"); ok {
		t, err := l.norm.Normalize(raw)
		if err != nil {
			return o, fmt.Errorf("delivered_at: %w", err)
		}
		o.DeliveredAt = &t
	}
	return o, nil
}

func (l *Loader) parseDriver(r row) (model.Driver, error) {
	var d model.Driver
	var err error

	if d.ID, err = r.int64("id"); err != nil {
		return d, err
	}
	if d.Name, err = r.str("name"); err != nil {
		return d, err
	}
	if d.ShiftID, err = r.int64("shift_id"); err != nil {
		return d, err
	}

	rawStart, err := r.str("shift_start")
	if err != nil {
		return d, err
	}
	if d.ShiftStart, err = l.norm.Normalize(rawStart); err != nil {
		return d, fmt.Errorf("shift_start: %w", err)
	}
	rawEnd, err := r.str("shift_end")
	if err != nil {
		return d, err
	}
	if d.ShiftEnd, err = l.norm.Normalize(rawEnd); err != nil {
		return d, fmt.Errorf("shift_end: %w", err)
	}
	return d, nil
}

func parseRestaurant(r row) (model.Restaurant, error) {
	var rest model.Restaurant
	var err error

	if rest.ID, err = r.int64("id"); err != nil {
		return rest, err
	}
	if rest.Name, err = r.str("name"); err != nil {
		return rest, err
	}
	rest.Address, _ = r.optional("address")
	return rest, nil
}

func parseTraffic(r row) (model.TrafficSample, error) {
	var s model.TrafficSample
	var err error

	if s.LocationID, err = r.int64("location_id"); err != nil {
		return s, err
	}
	if s.LocationName, err = r.str("location_name"); err != nil {
		return s, err
	}
	if s.Density, err = r.decimal("density"); err != nil {
		return s, err
	}
	return s, nil
}

// dropRecord builds a manifest entry for a row that failed to convert,
// salvaging the id column when it parsed.
func dropRecord(kind string, r row, cause error) model.DroppedRecord {
	var refID int64
	if id, err := r.int64("id"); err == nil {
		refID = id
	} else if id, err := r.int64("location_id"); err == nil {
		refID = id
	}
	return model.DroppedRecord{
		Kind:   kind,
		RefID:  refID,
		Stage:  "ingest",
		Reason: cause.Error(),
	}
}

func (l *Loader) logLoaded(kind, path string, loaded, dropped int) {
	if dropped > 0 {
		l.log.Infow("loaded source with drops", "kind", kind, "path", path, "loaded", loaded, "dropped", dropped)
		return
	}
	l.log.Debugw("loaded source", "kind", kind, "path", path, "loaded", loaded)
}
