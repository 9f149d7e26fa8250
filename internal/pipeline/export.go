package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"delivery-insights/internal/model"
	"delivery-insights/pkg/utils"
)

// summaryColumns fixes the column order report CSVs use for summaries.
var summaryColumns = []string{
	model.SummaryCount,
	model.SummaryMean,
	model.SummaryMin,
	model.SummaryMax,
	model.SummaryR,
	model.SummaryN,
}

// Exporter writes completed reports to the sinks a run selects. File
// artifacts land under the run's output directory; database sinks are
// injected at construction.
type Exporter struct {
	outputs *utils.OutputManager
	sinks   map[string]ReportSink
	log     *zap.SugaredLogger
}

// NewExporter returns an Exporter writing file artifacts through outputs.
// sinks maps database names ("sqlite", "postgres") to their implementation.
func NewExporter(outputs *utils.OutputManager, sinks map[string]ReportSink, log *zap.SugaredLogger) *Exporter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Exporter{outputs: outputs, sinks: sinks, log: log}
}

// Export writes report artifacts for every selected sink. A failing sink
// is collected into the returned error; artifacts that succeeded are still
// returned. With nothing selected at all, a CSV export is produced so
// every completed run leaves at least one artifact.
func (ex *Exporter) Export(ctx context.Context, report *model.InsightReport, spec model.Export) ([]model.ExportResult, error) {
	formats := spec.Formats
	if len(formats) == 0 && spec.Database == "" {
		formats = []string{"csv"}
	}
	if len(formats) > 0 {
		if _, err := ex.outputs.CreateRunOutputDir(report.RunID); err != nil {
			return nil, err
		}
	}

	var (
		results []model.ExportResult
		errs    []error
	)
	for _, format := range formats {
		switch format {
		case "csv":
			res, err := ex.exportCSV(report)
			results = append(results, res...)
			if err != nil {
				errs = append(errs, err)
			}
		case "json":
			res, err := ex.exportJSON(report)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results = append(results, res)
		default:
			errs = append(errs, fmt.Errorf("unknown export format %q", format))
		}
	}

	if spec.Database != "" {
		if sink, ok := ex.sinks[spec.Database]; !ok {
			errs = append(errs, fmt.Errorf("no %q sink configured", spec.Database))
		} else if err := sink.SaveReportRows(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("export to %s: %w", spec.Database, err))
		} else {
			results = append(results, model.ExportResult{
				Type:        spec.Database,
				Path:        "insight_rows",
				RecordCount: reportRowCount(report),
				CreatedAt:   time.Now().UTC(),
			})
		}
	}

	for _, res := range results {
		ex.log.Infow("report exported", "run_id", report.RunID, "type", res.Type, "path", res.Path, "rows", res.RecordCount)
	}
	return results, errors.Join(errs...)
}

// exportCSV writes one file per insight, named after the insight.
func (ex *Exporter) exportCSV(report *model.InsightReport) ([]model.ExportResult, error) {
	var results []model.ExportResult
	for _, name := range report.InsightNames() {
		rows := report.Insights[name]
		path := ex.outputs.OutputFilePath(report.RunID, name+".csv")
		if err := writeInsightCSV(path, rows); err != nil {
			return results, fmt.Errorf("write %s: %w", path, err)
		}
		results = append(results, model.ExportResult{
			Type:        "csv",
			Path:        path,
			RecordCount: len(rows),
			CreatedAt:   time.Now().UTC(),
		})
	}
	return results, nil
}

func writeInsightCSV(path string, rows []model.AggregateResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	cols := presentSummaries(rows)
	if err := w.Write(append([]string{"group_key", "sort_key"}, cols...)); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, 0, 2+len(cols))
		rec = append(rec, row.GroupKey, strconv.FormatInt(row.SortKey, 10))
		for _, c := range cols {
			if v, ok := row.Summaries[c]; ok {
				rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				rec = append(rec, "")
			}
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// presentSummaries returns the summary columns any row carries, in fixed
// order, so files stay stable across reruns.
func presentSummaries(rows []model.AggregateResult) []string {
	present := make(map[string]bool)
	for _, r := range rows {
		for k := range r.Summaries {
			present[k] = true
		}
	}
	var cols []string
	for _, c := range summaryColumns {
		if present[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// exportJSON writes the whole report, manifest included, as one document.
func (ex *Exporter) exportJSON(report *model.InsightReport) (model.ExportResult, error) {
	path := ex.outputs.OutputFilePath(report.RunID, "report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return model.ExportResult{}, fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return model.ExportResult{}, fmt.Errorf("write report: %w", err)
	}
	return model.ExportResult{
		Type:        "json",
		Path:        path,
		RecordCount: reportRowCount(report),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func reportRowCount(report *model.InsightReport) int {
	total := 0
	for _, rows := range report.Insights {
		total += len(rows)
	}
	return total
}
