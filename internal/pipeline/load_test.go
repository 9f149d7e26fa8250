package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"delivery-insights/internal/ingest"
	"delivery-insights/internal/model"
	"delivery-insights/internal/snapshot"
	"delivery-insights/internal/timeparse"
)

const orderHeader = "id,customer_id,address,latitude,longitude,placed_at,status,driver_id,restaurant_id,traffic_location_id,distance_km,recorded_duration_min,delivered_at\n"

func writeSourceFile(t *testing.T, dir, name, content string) model.SourceRef {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return model.SourceRef{Path: path, Format: "csv"}
}

// fixtureSources writes a minimal valid set of companion fixtures and the
// given orders file.
func fixtureSources(t *testing.T, orders string) model.Sources {
	t.Helper()
	dir := t.TempDir()
	return model.Sources{
		Orders: writeSourceFile(t, dir, "orders.csv", orderHeader+orders),
		Drivers: writeSourceFile(t, dir, "drivers.csv",
			"id,name,shift_id,shift_start,shift_end\n9,Maya,40,03/01/2024 08:00,03/01/2024 16:00\n"),
		Restaurants: writeSourceFile(t, dir, "restaurants.csv",
			"id,name,address\n3,Noodle Bar,\"5 Spui\"\n"),
		Traffic: writeSourceFile(t, dir, "traffic.csv",
			"location_id,location_name,density\n2,harbor,1.35\n"),
	}
}

func loadFixture(t *testing.T, orders string) (*snapshot.Snapshot, []model.DroppedRecord, error) {
	t.Helper()
	loader := ingest.NewLoader(timeparse.New(), nil)
	return LoadSnapshot(loader, fixtureSources(t, orders), zap.NewNop().Sugar())
}

func TestLoadSnapshotEnforcesOrderInvariants(t *testing.T) {
	snap, dropped, err := loadFixture(t, ""+
		"1,501,a,52.0,4.0,03/01/2024 11:30,delivered,9,3,2,4.25,38,03/01/2024 12:10\n"+
		"2,502,b,52.0,4.0,03/01/2024 11:45,placed,,3,2,2.1,,\n"+
		"3,503,c,52.0,4.0,03/01/2024 11:50,teleported,,3,2,1.5,,\n"+
		"4,504,d,52.0,4.0,03/01/2024 11:55,delivered,9,3,2,1.5,,\n"+
		"5,505,e,52.0,4.0,03/01/2024 12:00,delivered,9,3,2,1.5,,03/01/2024 11:00\n"+
		"6,506,f,52.0,4.0,03/01/2024 12:05,in_transit,9,3,2,1.5,,03/01/2024 12:40\n")
	require.NoError(t, err)

	assert.Equal(t, 2, snap.OrderCount())
	_, ok := snap.Order(1)
	assert.True(t, ok)
	_, ok = snap.Order(2)
	assert.True(t, ok)
	assert.Equal(t, 1, snap.DriverCount())
	assert.Equal(t, 1, snap.RestaurantCount())
	assert.Equal(t, 1, snap.TrafficCount())

	require.Len(t, dropped, 4)
	reasons := make(map[int64]string, len(dropped))
	for _, d := range dropped {
		assert.Equal(t, "order", d.Kind)
		assert.Equal(t, "load", d.Stage)
		reasons[d.RefID] = d.Reason
	}
	assert.Contains(t, reasons[3], `unknown status "teleported"`)
	assert.Contains(t, reasons[4], "delivered without delivery timestamp")
	assert.Contains(t, reasons[5], "delivered before placement")
	assert.Contains(t, reasons[6], "delivery timestamp on in_transit order")
}

func TestLoadSnapshotMergesIngestAndValidationDrops(t *testing.T) {
	snap, dropped, err := loadFixture(t, ""+
		"1,501,a,52.0,4.0,03/01/2024 11:30,placed,,3,2,oops,,\n"+
		"2,502,b,52.0,4.0,03/01/2024 11:45,delivered,9,3,2,2.1,,\n"+
		"3,503,c,52.0,4.0,03/01/2024 11:50,placed,,3,2,1.5,,\n")
	require.NoError(t, err)

	assert.Equal(t, 1, snap.OrderCount())
	require.Len(t, dropped, 2)
	// Conversion failures surface before invariant violations.
	assert.Equal(t, "ingest", dropped[0].Stage)
	assert.Equal(t, int64(1), dropped[0].RefID)
	assert.Equal(t, "load", dropped[1].Stage)
	assert.Equal(t, int64(2), dropped[1].RefID)
}

func TestLoadSnapshotDuplicateOrderKeyAborts(t *testing.T) {
	snap, dropped, err := loadFixture(t, ""+
		"1,501,a,52.0,4.0,03/01/2024 11:30,placed,,3,2,4.25,,\n"+
		"1,502,b,52.0,4.0,03/01/2024 11:45,placed,,3,2,2.1,,\n")

	require.ErrorIs(t, err, snapshot.ErrDuplicateKey)
	assert.Nil(t, snap)
	assert.Nil(t, dropped)
}

func TestLoadSnapshotUnreadableSourceAborts(t *testing.T) {
	sources := fixtureSources(t, "1,501,a,52.0,4.0,03/01/2024 11:30,placed,,3,2,4.25,,\n")
	sources.Traffic.Path = filepath.Join(t.TempDir(), "missing.csv")

	loader := ingest.NewLoader(timeparse.New(), nil)
	snap, _, err := LoadSnapshot(loader, sources, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load traffic")
	assert.Nil(t, snap)
}

func TestOrderInvariant(t *testing.T) {
	placed := time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC)
	after := placed.Add(40 * time.Minute)
	before := placed.Add(-40 * time.Minute)

	cases := []struct {
		name   string
		order  model.Order
		reason string
	}{
		{"delivered with timestamp", model.Order{Status: model.StatusDelivered, PlacedAt: placed, DeliveredAt: &after}, ""},
		{"pending without timestamp", model.Order{Status: model.StatusPending, PlacedAt: placed}, ""},
		{"unknown status", model.Order{Status: "beamed", PlacedAt: placed}, `unknown status "beamed"`},
		{"delivered without timestamp", model.Order{Status: model.StatusDelivered, PlacedAt: placed}, "delivered without delivery timestamp"},
		{"delivered before placement", model.Order{Status: model.StatusDelivered, PlacedAt: placed, DeliveredAt: &before}, "delivered before placement"},
		{"timestamp on cancelled order", model.Order{Status: model.StatusCancelled, PlacedAt: placed, DeliveredAt: &after}, "delivery timestamp on cancelled order"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.reason, orderInvariant(tc.order))
		})
	}
}
