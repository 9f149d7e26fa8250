package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/logrusorgru/aurora"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"delivery-insights/internal/model"
	"delivery-insights/internal/pipeline"
	"delivery-insights/internal/store"
	"delivery-insights/pkg/utils"
)

var (
	au = aurora.NewAurora(true)

	ordersPath      = flag.String("orders", "data/orders.csv", "Path to the orders file (.csv or .json)")
	driversPath     = flag.String("drivers", "data/drivers.csv", "Path to the drivers file")
	restaurantsPath = flag.String("restaurants", "data/restaurants.csv", "Path to the restaurants file")
	trafficPath     = flag.String("traffic", "data/traffic.csv", "Path to the traffic samples file")
	outDir          = flag.String("out", "outputs", "Directory export artifacts are written to")
	storePath       = flag.String("store", "", "Optional SQLite database recording the run")
	topN            = flag.Int("top-n", model.DefaultTopN, "Rows kept by top-n insights")
	buckets         = flag.String("buckets", "", "Comma-separated traffic density bucket boundaries")
	insightNames    = flag.String("insights", "", "Comma-separated insight names (empty runs the default batch)")
	formats         = flag.String("formats", "csv,json", "Comma-separated export formats")
	database        = flag.String("database", "", "Database sink: sqlite (needs -store) or postgres (needs POSTGRES_DSN)")
	timeout         = flag.Duration("timeout", 5*time.Minute, "Run timeout")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	log := newLogger()
	defer log.Sync()

	spec := model.RunSpec{
		Sources: model.Sources{
			Orders:      sourceRef(*ordersPath),
			Drivers:     sourceRef(*driversPath),
			Restaurants: sourceRef(*restaurantsPath),
			Traffic:     sourceRef(*trafficPath),
		},
		Options: model.Options{TopN: *topN},
		Concurrency: model.Concurrency{
			RunTimeout: timeout.String(),
		},
		Export: model.Export{
			Formats:  utils.SplitList(*formats),
			Database: *database,
		},
	}
	if *buckets != "" {
		bounds, err := utils.ParseBuckets(*buckets)
		if err != nil {
			log.Fatalw("parse buckets", "error", err)
		}
		spec.Options.TrafficBucketBoundaries = bounds
	}
	if *insightNames != "" {
		spec.Options.Insights = utils.SplitList(*insightNames)
	}

	outputs := utils.NewOutputManager(*outDir)
	sinks := make(map[string]pipeline.ReportSink)
	deps := pipeline.Deps{Log: log}

	if *storePath != "" {
		st, err := store.Open(*storePath)
		if err != nil {
			log.Fatalw("open run store", "error", err)
		}
		defer st.Close()
		deps.Store = st
		sinks["sqlite"] = st
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		pg, err := store.OpenPostgres(dsn)
		if err != nil {
			log.Fatalw("connect postgres sink", "error", err)
		}
		defer pg.Close()
		sinks["postgres"] = pg
	}
	deps.Exporter = pipeline.NewExporter(outputs, sinks, log)

	runID := uuid.New().String()
	fmt.Print("Running analytics ... ")

	report, err := pipeline.Run(context.Background(), runID, spec, deps)
	if err != nil {
		fmt.Println(au.Red("failed."))
		log.Fatalw("run failed", "run_id", runID, "error", err)
	}

	printReport(os.Stdout, report)
}

// sourceRef infers the source format from the file extension.
func sourceRef(path string) model.SourceRef {
	format := "csv"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return model.SourceRef{Path: path, Format: format}
}

func printReport(w io.Writer, report *model.InsightReport) {
	p := message.NewPrinter(language.AmericanEnglish)

	fmt.Fprintf(w, "%s\n\n", au.Bold("Done."))
	fmt.Fprintln(w, p.Sprintf("%s  run %s",
		au.Cyan("Delivery insights"), au.Bold(report.RunID)))
	fmt.Fprintln(w, p.Sprintf("%s orders in %-8d  %s records aggregated %-8d",
		au.BgGreen("Loaded"), report.Manifest.OrdersIn,
		au.BgGreen("Kept"), report.Manifest.RecordsAggregated))

	for _, name := range report.InsightNames() {
		rows := report.Insights[name]
		fmt.Fprintf(w, "\n%s\n", au.BgGreen(fmt.Sprintf(" %-44s %6d rows ", name, len(rows))).Bold())
		for _, row := range rows {
			fmt.Fprintln(w, p.Sprintf("  %-28s %s", row.GroupKey, formatSummaries(p, row.Summaries)))
		}
	}

	printFailures(w, p, report.Manifest)
}

var summaryOrder = []string{
	model.SummaryCount,
	model.SummaryMean,
	model.SummaryMin,
	model.SummaryMax,
	model.SummaryR,
	model.SummaryN,
}

func formatSummaries(p *message.Printer, summaries map[string]float64) string {
	parts := make([]string, 0, len(summaries))
	for _, key := range summaryOrder {
		v, ok := summaries[key]
		if !ok {
			continue
		}
		switch key {
		case model.SummaryCount, model.SummaryN:
			parts = append(parts, p.Sprintf("%s=%d", key, int64(v)))
		default:
			parts = append(parts, p.Sprintf("%s=%.4f", key, v))
		}
	}
	return strings.Join(parts, "  ")
}

func printFailures(w io.Writer, p *message.Printer, manifest model.Manifest) {
	if len(manifest.JoinFailures) == 0 && len(manifest.DroppedRecords) == 0 && len(manifest.FailedInsights) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s\n", au.BgBrown(fmt.Sprintf(" %-58s ", "Failures")).Bold())
	if n := len(manifest.DroppedRecords); n > 0 {
		fmt.Fprintln(w, p.Sprintf("  %s %d", au.Brown("dropped records:"), n))
		for _, d := range manifest.DroppedRecords {
			fmt.Fprintln(w, p.Sprintf("    %-10s %-8s %-10d %s", d.Stage, d.Kind, d.RefID, d.Reason))
		}
	}
	if n := len(manifest.JoinFailures); n > 0 {
		fmt.Fprintln(w, p.Sprintf("  %s %d", au.Brown("join failures:"), n))
		for _, f := range manifest.JoinFailures {
			fmt.Fprintln(w, p.Sprintf("    order %-10d missing %s", f.OrderID, f.MissingKind))
		}
	}
	names := make([]string, 0, len(manifest.FailedInsights))
	for name := range manifest.FailedInsights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(w, p.Sprintf("  %s %s: %s", au.Red("insight failed"), name, manifest.FailedInsights[name]))
	}
}

func newLogger() *zap.SugaredLogger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		zap.InfoLevel,
	)
	return zap.New(core).Named("insights").Sugar()
}
