package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"delivery-insights/internal/model"
	"delivery-insights/internal/pipeline"
	"delivery-insights/internal/store"
	"delivery-insights/pkg/utils"
)

// RunLauncher executes a run in the background. The production launcher
// calls pipeline.Run; tests substitute a stub.
type RunLauncher func(ctx context.Context, runID string, spec model.RunSpec)

// RunHandler serves the run lifecycle endpoints.
type RunHandler struct {
	store   *store.Store
	launch  RunLauncher
	outputs *utils.OutputManager
	log     *zap.SugaredLogger
}

// NewRunHandler wires the handler with its dependencies.
func NewRunHandler(st *store.Store, launch RunLauncher, outputs *utils.OutputManager, log *zap.SugaredLogger) *RunHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RunHandler{store: st, launch: launch, outputs: outputs, log: log}
}

// CreateRun submits a new analytics run.
// @Summary Create a new run
// @Description Validate the run spec, persist it and start the pipeline asynchronously
// @Tags runs
// @Accept json
// @Produce json
// @Param spec body model.RunSpec true "Run configuration"
// @Success 202 {object} map[string]interface{} "Run accepted"
// @Failure 400 {object} map[string]string "Invalid run spec"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /runs [post]
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var spec model.RunSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	spec.ApplyDefaults()
	if err := pipeline.ValidateSpec(spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.New().String()
	now := time.Now().UTC()
	run := model.Run{
		ID:        runID,
		Status:    model.RunPending,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.SaveRun(run); err != nil {
		h.log.Errorw("save run", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save run")
		return
	}

	go h.launch(context.Background(), runID, spec)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     runID,
		"status":     model.RunPending,
		"created_at": now,
	})
}

// ListRuns returns all runs, newest first.
// @Summary List runs
// @Description Get all runs with their current status
// @Tags runs
// @Produce json
// @Success 200 {object} map[string]interface{} "List of runs"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /runs [get]
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns()
	if err != nil {
		h.log.Errorw("list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun returns one run's status and spec.
// @Summary Get run
// @Description Retrieve a run by id
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.Run "Run details"
// @Failure 404 {object} map[string]string "Run not found"
// @Router /runs/{id} [get]
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := h.store.GetRun(runID)
	if err != nil {
		h.respondStoreError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetReport returns a run's full insight report.
// @Summary Get run report
// @Description Retrieve the complete insight report of a finished run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.InsightReport "Insight report"
// @Failure 404 {object} map[string]string "Report not found"
// @Router /runs/{id}/report [get]
func (h *RunHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	report, err := h.store.GetReport(runID)
	if err != nil {
		h.respondStoreError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetInsight returns the rows of one named insight.
// @Summary Get one insight
// @Description Retrieve the rows of a single named insight from a run's report
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Param name path string true "Insight name"
// @Success 200 {object} map[string]interface{} "Insight rows"
// @Failure 404 {object} map[string]string "Insight not found"
// @Router /runs/{id}/insights/{name} [get]
func (h *RunHandler) GetInsight(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	rows, err := h.store.GetInsight(runID, name)
	if err != nil {
		h.respondStoreError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"insight": name,
		"rows":    rows,
		"count":   len(rows),
	})
}

// GetFailures returns the run manifest: join failures, dropped records and
// failed insights.
// @Summary Get run failures
// @Description Retrieve the manifest of records and insights the run could not process
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Run manifest"
// @Failure 404 {object} map[string]string "Report not found"
// @Router /runs/{id}/failures [get]
func (h *RunHandler) GetFailures(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	report, err := h.store.GetReport(runID)
	if err != nil {
		h.respondStoreError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"manifest": report.Manifest,
	})
}

// GetProgress returns a run's stage transitions.
// @Summary Get run progress
// @Description Retrieve per-stage progress records for a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Stage progress"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /runs/{id}/progress [get]
func (h *RunHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	progress, err := h.store.GetStageProgress(runID)
	if err != nil {
		h.log.Errorw("get progress", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"progress": progress,
		"count":    len(progress),
	})
}

// ListExports returns a run's export artifacts.
// @Summary List run exports
// @Description Retrieve the export artifacts produced by a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Export artifacts"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /runs/{id}/exports [get]
func (h *RunHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	exports, err := h.store.ListExportResults(runID)
	if err != nil {
		h.log.Errorw("list exports", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve exports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"exports": exports,
		"count":   len(exports),
	})
}

// DownloadFile serves one export artifact for download.
// @Summary Download export file
// @Description Download a single export artifact of a run
// @Tags runs
// @Produce application/octet-stream
// @Param id path string true "Run ID"
// @Param filename path string true "File name"
// @Success 200 {file} file "File download"
// @Failure 400 {object} map[string]string "Invalid file name"
// @Failure 404 {object} map[string]string "File not found"
// @Router /runs/{id}/files/{filename} [get]
func (h *RunHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	fileName := chi.URLParam(r, "filename")
	if fileName == "" || filepath.Base(fileName) != fileName {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	filePath := h.outputs.OutputFilePath(runID, fileName)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, filePath)
}

// RetryRun resubmits a stored spec as a brand new run.
// @Summary Retry run
// @Description Start a new run with the spec of an existing one
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} map[string]interface{} "Retry accepted"
// @Failure 404 {object} map[string]string "Run not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /runs/{id}/retry [post]
func (h *RunHandler) RetryRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	prev, err := h.store.GetRun(runID)
	if err != nil {
		h.respondStoreError(w, runID, err)
		return
	}

	newID := uuid.New().String()
	now := time.Now().UTC()
	run := model.Run{
		ID:        newID,
		Status:    model.RunPending,
		Spec:      prev.Spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.SaveRun(run); err != nil {
		h.log.Errorw("save retry run", "run_id", newID, "retried_from", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save run")
		return
	}

	go h.launch(context.Background(), newID, prev.Spec)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":       newID,
		"retried_from": runID,
		"status":       model.RunPending,
		"created_at":   now,
	})
}

// DeleteRun removes a run, its stored rows and its export artifacts.
// @Summary Delete run
// @Description Delete a run and everything recorded for it, including files on disk
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Run deleted"
// @Failure 404 {object} map[string]string "Run not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /runs/{id} [delete]
func (h *RunHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	if err := h.outputs.RemoveRunOutputs(runID); err != nil {
		h.log.Warnw("remove run outputs", "run_id", runID, "error", err)
	}
	if err := h.store.DeleteRun(runID); err != nil {
		h.respondStoreError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "run deleted",
		"run_id":  runID,
	})
}

func (h *RunHandler) respondStoreError(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.log.Errorw("store lookup", "run_id", runID, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
