package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"delivery-insights/internal/api"
	"delivery-insights/internal/api/handler"
	"delivery-insights/internal/model"
	"delivery-insights/internal/store"
	"delivery-insights/pkg/utils"
)

type testEnv struct {
	store    *store.Store
	server   *httptest.Server
	launched chan string
	outDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	launched := make(chan string, 8)
	launch := func(ctx context.Context, runID string, spec model.RunSpec) {
		launched <- runID
	}

	outDir := filepath.Join(dir, "outputs")
	outputs := utils.NewOutputManager(outDir)
	log := zap.NewNop().Sugar()

	h := handler.NewRunHandler(st, launch, outputs, log)
	srv := httptest.NewServer(api.NewRouter(h, log))
	t.Cleanup(srv.Close)

	return &testEnv{store: st, server: srv, launched: launched, outDir: outDir}
}

func validSpecJSON(t *testing.T, dir string) []byte {
	t.Helper()
	for _, name := range []string{"orders.csv", "drivers.csv", "restaurants.csv", "traffic.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("id\n"), 0o644))
	}
	spec := model.RunSpec{
		Sources: model.Sources{
			Orders:      model.SourceRef{Path: filepath.Join(dir, "orders.csv"), Format: "csv"},
			Drivers:     model.SourceRef{Path: filepath.Join(dir, "drivers.csv"), Format: "csv"},
			Restaurants: model.SourceRef{Path: filepath.Join(dir, "restaurants.csv"), Format: "csv"},
			Traffic:     model.SourceRef{Path: filepath.Join(dir, "traffic.csv"), Format: "csv"},
		},
	}
	body, err := json.Marshal(spec)
	require.NoError(t, err)
	return body
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateRunAcceptsAndLaunches(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/runs", "application/json",
		bytes.NewReader(validSpecJSON(t, t.TempDir())))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	runID, ok := body["run_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, runID)
	require.Equal(t, "pending", body["status"])

	select {
	case launched := <-env.launched:
		require.Equal(t, runID, launched)
	case <-time.After(time.Second):
		t.Fatal("launcher was not invoked")
	}

	run, err := env.store.GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, model.RunPending, run.Status)
	require.Equal(t, model.DefaultTopN, run.Spec.Options.TopN)
}

func TestCreateRunRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/runs", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateRunRejectsInvalidSpec(t *testing.T) {
	env := newTestEnv(t)

	spec := model.RunSpec{} // no sources
	body, err := json.Marshal(spec)
	require.NoError(t, err)

	resp, err := http.Post(env.server.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, decodeBody(t, resp)["error"], "orders")
}

func TestGetRunNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/v1/runs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/runs", "application/json",
		bytes.NewReader(validSpecJSON(t, t.TempDir())))
	require.NoError(t, err)
	resp.Body.Close()
	<-env.launched

	resp, err = http.Get(env.server.URL + "/api/v1/runs")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, float64(1), body["count"])
}

func TestRetryRunStartsFreshRun(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/runs", "application/json",
		bytes.NewReader(validSpecJSON(t, t.TempDir())))
	require.NoError(t, err)
	first := decodeBody(t, resp)["run_id"].(string)
	<-env.launched

	resp, err = http.Post(env.server.URL+"/api/v1/runs/"+first+"/retry", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	second := body["run_id"].(string)
	require.NotEqual(t, first, second)
	require.Equal(t, first, body["retried_from"])

	select {
	case launched := <-env.launched:
		require.Equal(t, second, launched)
	case <-time.After(time.Second):
		t.Fatal("launcher was not invoked for retry")
	}

	retried, err := env.store.GetRun(second)
	require.NoError(t, err)
	original, err := env.store.GetRun(first)
	require.NoError(t, err)
	require.Equal(t, original.Spec, retried.Spec)
}

func TestRetryRunNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/runs/missing/retry", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func storedReport(t *testing.T, env *testEnv, runID string) {
	t.Helper()
	require.NoError(t, env.store.SaveReportRows(context.Background(), &model.InsightReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Insights: map[string][]model.AggregateResult{
			"peak_hours": {
				{
					Name: "peak_hours", Dimension: "hour_of_day",
					GroupKey: "18:00", SortKey: 18,
					Summaries: map[string]float64{"count": 7},
				},
			},
		},
		Manifest: model.Manifest{
			JoinFailures:   []model.JoinFailure{{OrderID: 3, MissingKind: model.MissingRestaurant}},
			FailedInsights: map[string]string{},
			OrdersIn:       10,
		},
	}))
}

func TestGetReportAndInsight(t *testing.T) {
	env := newTestEnv(t)
	storedReport(t, env, "run-1")

	resp, err := http.Get(env.server.URL + "/api/v1/runs/run-1/report")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody(t, resp)
	require.Equal(t, "run-1", report["run_id"])

	resp, err = http.Get(env.server.URL + "/api/v1/runs/run-1/insights/peak_hours")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	insight := decodeBody(t, resp)
	require.Equal(t, float64(1), insight["count"])

	resp, err = http.Get(env.server.URL + "/api/v1/runs/run-1/insights/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetFailuresReturnsManifest(t *testing.T) {
	env := newTestEnv(t)
	storedReport(t, env, "run-1")

	resp, err := http.Get(env.server.URL + "/api/v1/runs/run-1/failures")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	manifest, ok := body["manifest"].(map[string]any)
	require.True(t, ok)
	failures, ok := manifest["join_failures"].([]any)
	require.True(t, ok)
	require.Len(t, failures, 1)
}

func TestGetProgress(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveStageProgress(model.StageProgress{
		RunID: "run-1", Stage: "load", Status: model.StageRunning,
		In: 5, StartedAt: time.Now().UTC(),
	}))

	resp, err := http.Get(env.server.URL + "/api/v1/runs/run-1/progress")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, float64(1), body["count"])
}

func TestDownloadFile(t *testing.T) {
	env := newTestEnv(t)

	runDir := filepath.Join(env.outDir, "run-1")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "peak_hours.csv"),
		[]byte("group_key,sort_key,count\n18:00,18,7\n"), 0o644))

	resp, err := http.Get(env.server.URL + "/api/v1/runs/run-1/files/peak_hours.csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "peak_hours.csv")

	resp, err = http.Get(env.server.URL + "/api/v1/runs/run-1/files/nothere.csv")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteRunRemovesRowsAndFiles(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/runs", "application/json",
		bytes.NewReader(validSpecJSON(t, t.TempDir())))
	require.NoError(t, err)
	runID := decodeBody(t, resp)["run_id"].(string)
	<-env.launched

	runDir := filepath.Join(env.outDir, runID)
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "report.json"), []byte("{}"), 0o644))

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/runs/%s", env.server.URL, runID), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = env.store.GetRun(runID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = os.Stat(runDir)
	require.True(t, os.IsNotExist(err))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decodeBody(t, resp)["status"])
}
