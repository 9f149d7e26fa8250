package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"delivery-insights/internal/model"
)

// RunStore is the persistence the pipeline writes run lifecycle data into.
// Implementations must tolerate concurrent runs. A nil RunStore is valid
// and keeps a run entirely in memory.
type RunStore interface {
	UpdateRunStatus(runID string, status model.RunStatus) error
	SaveStageProgress(p model.StageProgress) error
	SaveRunError(runID string, cause error) error
	SaveReport(report *model.InsightReport) error
	SaveExportResult(runID string, res model.ExportResult) error
}

// ReportSink persists report rows into a relational database.
type ReportSink interface {
	SaveReportRows(ctx context.Context, report *model.InsightReport) error
}

// Tracker records status transitions and per-stage throughput for one run.
// Persistence failures are logged and never fail the run itself.
type Tracker struct {
	runID string
	store RunStore
	log   *zap.SugaredLogger
}

// NewTracker returns a Tracker for runID. store may be nil.
func NewTracker(runID string, store RunStore, log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{runID: runID, store: store, log: log}
}

// Status transitions the run's persisted status.
func (t *Tracker) Status(status model.RunStatus) {
	if t.store == nil {
		return
	}
	if err := t.store.UpdateRunStatus(t.runID, status); err != nil {
		t.log.Warnw("persist run status", "run_id", t.runID, "status", status, "error", err)
	}
}

// Begin marks a stage as running and returns its handle.
func (t *Tracker) Begin(stage string, in int) *StageRun {
	s := &StageRun{tracker: t, stage: stage, in: in, started: time.Now().UTC()}
	t.saveProgress(model.StageProgress{
		RunID:     t.runID,
		Stage:     stage,
		Status:    model.StageRunning,
		In:        in,
		StartedAt: s.started,
	})
	return s
}

// StageRun is one running stage of a tracked run.
type StageRun struct {
	tracker *Tracker
	stage   string
	in      int
	started time.Time
}

// Done marks the stage completed with its output counts.
func (s *StageRun) Done(out, dropped int) {
	end := time.Now().UTC()
	s.tracker.saveProgress(model.StageProgress{
		RunID:     s.tracker.runID,
		Stage:     s.stage,
		Status:    model.StageCompleted,
		In:        s.in,
		Out:       out,
		Dropped:   dropped,
		StartedAt: s.started,
		EndedAt:   &end,
	})
	s.tracker.log.Debugw("stage completed",
		"run_id", s.tracker.runID,
		"stage", s.stage,
		"in", s.in,
		"out", out,
		"dropped", dropped,
		"elapsed", end.Sub(s.started),
	)
}

// Failed marks the stage failed.
func (s *StageRun) Failed() {
	end := time.Now().UTC()
	s.tracker.saveProgress(model.StageProgress{
		RunID:     s.tracker.runID,
		Stage:     s.stage,
		Status:    model.StageFailed,
		In:        s.in,
		StartedAt: s.started,
		EndedAt:   &end,
	})
}

func (t *Tracker) saveProgress(p model.StageProgress) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveStageProgress(p); err != nil {
		t.log.Warnw("persist stage progress", "run_id", t.runID, "stage", p.Stage, "error", err)
	}
}
