package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delivery-insights/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string) model.Run {
	now := time.Now().UTC().Truncate(time.Second)
	spec := model.RunSpec{
		Sources: model.Sources{
			Orders:      model.SourceRef{Path: "orders.csv", Format: "csv"},
			Drivers:     model.SourceRef{Path: "drivers.csv", Format: "csv"},
			Restaurants: model.SourceRef{Path: "restaurants.csv", Format: "csv"},
			Traffic:     model.SourceRef{Path: "traffic.csv", Format: "csv"},
		},
	}
	spec.ApplyDefaults()
	return model.Run{
		ID:        id,
		Status:    model.RunPending,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)

	run := testRun("run-1")
	require.NoError(t, s.SaveRun(run))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, "run-1", got.ID)
	require.Equal(t, model.RunPending, got.Status)
	require.Equal(t, "orders.csv", got.Spec.Sources.Orders.Path)
	require.Equal(t, model.DefaultTopN, got.Spec.Options.TopN)
	require.Nil(t, got.FinishedAt)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRun("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRunStatusStampsTerminal(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveRun(testRun("run-1")))

	require.NoError(t, s.UpdateRunStatus("run-1", model.RunEnriching))
	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunEnriching, got.Status)
	require.Nil(t, got.FinishedAt)

	require.NoError(t, s.UpdateRunStatus("run-1", model.RunCompleted))
	got, err = s.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestSaveRunErrorRecordsCause(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveRun(testRun("run-1")))

	require.NoError(t, s.SaveRunError("run-1", errors.New("load orders: no such file")))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.Contains(t, got.Error, "no such file")
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	older := testRun("run-old")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	older.UpdatedAt = older.CreatedAt
	require.NoError(t, s.SaveRun(older))
	require.NoError(t, s.SaveRun(testRun("run-new")))

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-new", runs[0].ID)
	require.Equal(t, "run-old", runs[1].ID)
}

func TestStageProgressRoundTrip(t *testing.T) {
	s := openTestStore(t)
	started := time.Now().UTC().Truncate(time.Second)
	ended := started.Add(2 * time.Second)

	require.NoError(t, s.SaveStageProgress(model.StageProgress{
		RunID: "run-1", Stage: "load", Status: model.StageRunning, In: 10, StartedAt: started,
	}))
	require.NoError(t, s.SaveStageProgress(model.StageProgress{
		RunID: "run-1", Stage: "load", Status: model.StageCompleted,
		In: 10, Out: 8, Dropped: 2, StartedAt: started, EndedAt: &ended,
	}))

	progress, err := s.GetStageProgress("run-1")
	require.NoError(t, err)
	require.Len(t, progress, 2)
	require.Equal(t, model.StageRunning, progress[0].Status)
	require.Nil(t, progress[0].EndedAt)
	require.Equal(t, model.StageCompleted, progress[1].Status)
	require.Equal(t, 8, progress[1].Out)
	require.Equal(t, 2, progress[1].Dropped)
	require.NotNil(t, progress[1].EndedAt)
}

func testReport(runID string) *model.InsightReport {
	return &model.InsightReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
		Insights: map[string][]model.AggregateResult{
			"orders_by_day_of_week": {
				{
					Name: "orders_by_day_of_week", Dimension: "day_of_week",
					GroupKey: "Monday", SortKey: 1,
					Summaries: map[string]float64{"count": 4},
				},
				{
					Name: "orders_by_day_of_week", Dimension: "day_of_week",
					GroupKey: "Friday", SortKey: 5,
					Summaries: map[string]float64{"count": 9},
				},
			},
			"peak_hours": {
				{
					Name: "peak_hours", Dimension: "hour_of_day",
					GroupKey: "18:00", SortKey: 18,
					Summaries: map[string]float64{"count": 7},
				},
			},
		},
		Manifest: model.Manifest{
			JoinFailures: []model.JoinFailure{{OrderID: 42, MissingKind: model.MissingTraffic}},
			DroppedRecords: []model.DroppedRecord{
				{Kind: "order", RefID: 7, Stage: "ingest", Reason: "parse placed_at"},
			},
			FailedInsights:    map[string]string{},
			OrdersIn:          20,
			RecordsAggregated: 18,
		},
	}
}

func TestReportRoundTrip(t *testing.T) {
	s := openTestStore(t)

	report := testReport("run-1")
	require.NoError(t, s.SaveReport(report))

	got, err := s.GetReport("run-1")
	require.NoError(t, err)
	require.Equal(t, report.RunID, got.RunID)
	require.Equal(t, []string{"orders_by_day_of_week", "peak_hours"}, got.InsightNames())

	days := got.Insights["orders_by_day_of_week"]
	require.Len(t, days, 2)
	require.Equal(t, "Monday", days[0].GroupKey)
	require.Equal(t, float64(4), days[0].Summaries["count"])
	require.Equal(t, "Friday", days[1].GroupKey)

	require.Len(t, got.Manifest.JoinFailures, 1)
	require.Equal(t, int64(42), got.Manifest.JoinFailures[0].OrderID)
	require.Equal(t, 18, got.Manifest.RecordsAggregated)
}

func TestSaveReportReplacesExistingRows(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveReport(testReport("run-1")))

	updated := testReport("run-1")
	updated.Insights["peak_hours"][0].Summaries["count"] = 11
	require.NoError(t, s.SaveReportRows(context.Background(), updated))

	rows, err := s.GetInsight("run-1", "peak_hours")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, float64(11), rows[0].Summaries["count"])
}

func TestGetInsightNotFound(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveReport(testReport("run-1")))

	_, err := s.GetInsight("run-1", "no_such_insight")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExportResults(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.SaveExportResult("run-1", model.ExportResult{
		Type: "csv", Path: "/out/run-1/peak_hours.csv", RecordCount: 1, CreatedAt: now,
	}))
	require.NoError(t, s.SaveExportResult("run-1", model.ExportResult{
		Type: "json", Path: "/out/run-1/report.json", RecordCount: 3, CreatedAt: now,
	}))

	results, err := s.ListExportResults("run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "csv", results[0].Type)
	require.Equal(t, "json", results[1].Type)
}

func TestDeleteRunRemovesEverything(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveRun(testRun("run-1")))
	require.NoError(t, s.SaveReport(testReport("run-1")))
	require.NoError(t, s.SaveStageProgress(model.StageProgress{
		RunID: "run-1", Stage: "load", Status: model.StageRunning, StartedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.DeleteRun("run-1"))

	_, err := s.GetRun("run-1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetReport("run-1")
	require.ErrorIs(t, err, ErrNotFound)
	progress, err := s.GetStageProgress("run-1")
	require.NoError(t, err)
	require.Empty(t, progress)
}

func TestDeleteRunNotFound(t *testing.T) {
	s := openTestStore(t)
	require.ErrorIs(t, s.DeleteRun("missing"), ErrNotFound)
}
