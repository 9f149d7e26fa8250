package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"delivery-insights/internal/ingest"
	"delivery-insights/internal/model"
	"delivery-insights/internal/timeparse"
	"delivery-insights/pkg/utils"
)

// Deps bundles what a run needs beyond its spec. Store and Exporter may be
// nil for library callers that only want the report back.
type Deps struct {
	Store    RunStore
	Exporter *Exporter
	Log      *zap.SugaredLogger
}

// ValidateSpec rejects specs that cannot run at all. Per-record data
// problems are not checked here; they surface in the run manifest.
func ValidateSpec(spec model.RunSpec) error {
	sources := []struct {
		name string
		ref  model.SourceRef
	}{
		{"orders", spec.Sources.Orders},
		{"drivers", spec.Sources.Drivers},
		{"restaurants", spec.Sources.Restaurants},
		{"traffic", spec.Sources.Traffic},
	}
	for _, src := range sources {
		if src.ref.Path == "" {
			return fmt.Errorf("source %s: path required", src.name)
		}
		switch strings.ToLower(src.ref.Format) {
		case "csv", "json":
		default:
			return fmt.Errorf("source %s: unknown format %q", src.name, src.ref.Format)
		}
	}
	if spec.Concurrency.RunTimeout != "" {
		if _, err := time.ParseDuration(spec.Concurrency.RunTimeout); err != nil {
			return fmt.Errorf("run timeout %q: %w", spec.Concurrency.RunTimeout, err)
		}
	}
	if len(spec.Options.TrafficBucketBoundaries) > 0 {
		if _, err := newBucketer(spec.Options.TrafficBucketBoundaries); err != nil {
			return err
		}
	}
	for _, name := range spec.Export.Formats {
		switch name {
		case "csv", "json":
		default:
			return fmt.Errorf("export format %q not supported", name)
		}
	}
	switch spec.Export.Database {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("export database %q not supported", spec.Export.Database)
	}
	return nil
}

// Run executes one pipeline run end to end: load, enrich, derive,
// aggregate, export. It returns the completed report only when every stage
// succeeded; any failure yields an error, with the run store kept in step
// throughout. Per-record exclusions never fail a run, they land in the
// report manifest.
func Run(ctx context.Context, runID string, spec model.RunSpec, deps Deps) (report *model.InsightReport, err error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.With("run_id", runID)

	spec.ApplyDefaults()
	if err = ValidateSpec(spec); err != nil {
		return nil, fmt.Errorf("invalid run spec: %w", err)
	}

	tracker := NewTracker(runID, deps.Store, log)
	start := time.Now()
	log.Infow("run started")

	defer func() {
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			tracker.Status(model.RunCancelled)
		} else {
			tracker.Status(model.RunFailed)
		}
		if deps.Store != nil {
			if serr := deps.Store.SaveRunError(runID, err); serr != nil {
				log.Warnw("persist run error", "error", serr)
			}
		}
		log.Errorw("run stopped", "error", err, "elapsed", time.Since(start))
	}()

	timeout := utils.ParseDuration(spec.Concurrency.RunTimeout, 5*time.Minute)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	manifest := model.Manifest{FailedInsights: make(map[string]string)}

	// Load.
	tracker.Status(model.RunLoading)
	stage := tracker.Begin("load", 0)
	loader := ingest.NewLoader(timeparse.New(spec.Options.TimestampFormats...), log)
	snap, dropped, err := LoadSnapshot(loader, spec.Sources, log)
	if err != nil {
		stage.Failed()
		return nil, fmt.Errorf("load stage: %w", err)
	}
	manifest.DroppedRecords = append(manifest.DroppedRecords, dropped...)
	manifest.OrdersIn = snap.OrderCount()
	stage.Done(snap.OrderCount(), len(dropped))
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	// Enrich.
	tracker.Status(model.RunEnriching)
	stage = tracker.Begin("enrich", snap.OrderCount())
	enriched, joinFailures := EnrichOrders(ctx, snap, spec.Concurrency, log)
	manifest.JoinFailures = joinFailures
	stage.Done(len(enriched), len(joinFailures))
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	// Derive.
	tracker.Status(model.RunDeriving)
	stage = tracker.Begin("derive", len(enriched))
	records, deriveDrops := DeriveMetrics(ctx, enriched, spec.Concurrency, log)
	manifest.DroppedRecords = append(manifest.DroppedRecords, deriveDrops...)
	stage.Done(len(records), len(deriveDrops))
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	// Aggregate.
	tracker.Status(model.RunAggregating)
	stage = tracker.Begin("aggregate", len(records))
	engine := NewEngine(spec.Concurrency.AggregateWorkers, log)
	report, err = engine.BuildReport(ctx, runID, records, spec.Options, manifest)
	if err != nil {
		stage.Failed()
		return nil, fmt.Errorf("aggregate stage: %w", err)
	}
	stage.Done(reportRowCount(report), len(report.Manifest.FailedInsights))

	if deps.Store != nil {
		if err = deps.Store.SaveReport(report); err != nil {
			return nil, fmt.Errorf("persist report: %w", err)
		}
	}

	// Export.
	if deps.Exporter != nil {
		tracker.Status(model.RunExporting)
		stage = tracker.Begin("export", reportRowCount(report))
		results, exportErr := deps.Exporter.Export(ctx, report, spec.Export)
		for _, res := range results {
			if deps.Store != nil {
				if serr := deps.Store.SaveExportResult(runID, res); serr != nil {
					log.Warnw("persist export result", "error", serr)
				}
			}
		}
		if exportErr != nil {
			stage.Failed()
			err = fmt.Errorf("export stage: %w", exportErr)
			return nil, err
		}
		stage.Done(len(results), 0)
	}

	tracker.Status(model.RunCompleted)
	log.Infow("run completed",
		"elapsed", time.Since(start),
		"insights", len(report.Insights),
		"failed_insights", len(report.Manifest.FailedInsights),
		"join_failures", len(report.Manifest.JoinFailures),
		"dropped_records", len(report.Manifest.DroppedRecords),
	)
	return report, nil
}
