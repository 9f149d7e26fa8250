package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-insights/internal/model"
)

func reportOpts() model.Options {
	return model.Options{
		TopN:                    model.DefaultTopN,
		TrafficBucketBoundaries: model.DefaultTrafficBuckets,
	}
}

// reportRecords is a fixture rich enough for every standard insight:
// delivered orders with drivers, varying densities and delivery times.
func reportRecords() []model.PipelineRecord {
	pizza := model.Restaurant{ID: 1, Name: "Pizza Palace"}
	soup := model.Restaurant{ID: 2, Name: "Soup Stop"}
	asha := &model.Driver{ID: 1, Name: "Asha"}
	badri := &model.Driver{ID: 2, Name: "Badri"}
	return buildRecords(
		seed{id: 1, placedAt: placedOn(time.Monday, 12), rest: pizza, driver: asha, density: 0.4, travelMin: 2, delivery: hoursPtr(0.5), shift: hoursPtr(8)},
		seed{id: 2, placedAt: placedOn(time.Monday, 18), rest: pizza, driver: badri, density: 1.2, travelMin: 5, delivery: hoursPtr(0.9), shift: hoursPtr(6)},
		seed{id: 3, placedAt: placedOn(time.Tuesday, 18), rest: soup, driver: asha, density: 2.1, travelMin: 8, delivery: hoursPtr(1.4), shift: hoursPtr(8)},
		seed{id: 4, placedAt: placedOn(time.Friday, 19), rest: soup, driver: badri, density: 0.8, travelMin: 3, delivery: hoursPtr(0.7), shift: hoursPtr(7)},
		seed{id: 5, placedAt: placedOn(time.Friday, 19), rest: pizza, density: 1.6, travelMin: 6},
	)
}

func TestDefaultInsightNamesOrder(t *testing.T) {
	assert.Equal(t, []string{
		"delivery_time_by_restaurant",
		"delivery_time_by_hour",
		"orders_by_day_of_week",
		"peak_hours",
		"top_restaurants_by_orders",
		"top_drivers_by_deliveries",
		"shift_length_by_driver",
		"travel_estimate_by_traffic",
		"traffic_delivery_correlation",
	}, DefaultInsightNames())
}

func TestBuildReportEvaluatesFullBatch(t *testing.T) {
	report, err := rankingEngine().BuildReport(context.Background(), "run-1", reportRecords(), reportOpts(), model.Manifest{})
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.False(t, report.GeneratedAt.IsZero())
	assert.Empty(t, report.Manifest.FailedInsights)
	assert.Equal(t, 5, report.Manifest.RecordsAggregated)

	require.Len(t, report.Insights, len(DefaultInsightNames()))
	for _, name := range DefaultInsightNames() {
		assert.NotEmpty(t, report.Insights[name], "insight %s has rows", name)
	}

	corr := report.Insights[InsightTrafficCorrelation]
	require.Len(t, corr, 1)
	assert.Equal(t, float64(4), corr[0].Summaries[model.SummaryN])
}

func TestBuildReportNarrowsToRequestedInsights(t *testing.T) {
	opts := reportOpts()
	opts.Insights = []string{InsightOrdersByDay, InsightPeakHours}

	report, err := rankingEngine().BuildReport(context.Background(), "run-1", reportRecords(), opts, model.Manifest{})
	require.NoError(t, err)

	assert.Len(t, report.Insights, 2)
	assert.Contains(t, report.Insights, InsightOrdersByDay)
	assert.Contains(t, report.Insights, InsightPeakHours)
	assert.Empty(t, report.Manifest.FailedInsights)
}

func TestBuildReportRecordsUnknownInsightName(t *testing.T) {
	opts := reportOpts()
	opts.Insights = []string{"made_up_insight", InsightOrdersByDay}

	report, err := rankingEngine().BuildReport(context.Background(), "run-1", reportRecords(), opts, model.Manifest{})
	require.NoError(t, err)

	assert.Len(t, report.Insights, 1)
	assert.Equal(t, "unknown insight", report.Manifest.FailedInsights["made_up_insight"])
}

func TestBuildReportKeepsGoingPastFailedInsights(t *testing.T) {
	// No deliveries, drivers or shifts: every delivery- and driver-based
	// insight fails structurally, the rest still compute.
	bare := buildRecords(
		seed{id: 1, placedAt: placedOn(time.Monday, 12), density: 0.4, travelMin: 2},
		seed{id: 2, placedAt: placedOn(time.Tuesday, 18), density: 1.2, travelMin: 5},
	)

	report, err := rankingEngine().BuildReport(context.Background(), "run-1", bare, reportOpts(), model.Manifest{})
	require.NoError(t, err)

	for _, name := range []string{InsightOrdersByDay, InsightPeakHours, InsightTopRestaurants, InsightTravelByTraffic} {
		assert.Contains(t, report.Insights, name)
	}
	for _, name := range []string{InsightDeliveryByRestaurant, InsightDeliveryByHour, InsightTopDrivers, InsightShiftByDriver} {
		assert.Contains(t, report.Manifest.FailedInsights[name], "empty aggregate domain")
		assert.NotContains(t, report.Insights, name)
	}
	assert.Contains(t, report.Manifest.FailedInsights[InsightTrafficCorrelation], "insufficient sample")
}

func TestBuildReportHonorsTopNOption(t *testing.T) {
	opts := reportOpts()
	opts.TopN = 1

	report, err := rankingEngine().BuildReport(context.Background(), "run-1", reportRecords(), opts, model.Manifest{})
	require.NoError(t, err)

	assert.Len(t, report.Insights[InsightPeakHours], 1)
	assert.Len(t, report.Insights[InsightTopRestaurants], 1)
}

func TestBuildReportAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := rankingEngine().BuildReport(ctx, "run-1", reportRecords(), reportOpts(), model.Manifest{})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildReportPreservesManifestCounts(t *testing.T) {
	manifest := model.Manifest{
		OrdersIn: 12,
		JoinFailures: []model.JoinFailure{
			{OrderID: 9, MissingKind: "driver"},
		},
		DroppedRecords: []model.DroppedRecord{
			{Kind: "order", RefID: 4, Stage: "load", Reason: "unknown status"},
		},
	}

	report, err := rankingEngine().BuildReport(context.Background(), "run-1", reportRecords(), reportOpts(), manifest)
	require.NoError(t, err)

	assert.Equal(t, 12, report.Manifest.OrdersIn)
	assert.Len(t, report.Manifest.JoinFailures, 1)
	assert.Len(t, report.Manifest.DroppedRecords, 1)
	assert.NotNil(t, report.Manifest.FailedInsights)
	assert.Equal(t, 5, report.Manifest.RecordsAggregated)
}
