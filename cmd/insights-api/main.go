package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "delivery-insights/docs"
	"delivery-insights/internal/api"
	"delivery-insights/internal/api/handler"
	"delivery-insights/internal/model"
	"delivery-insights/internal/pipeline"
	"delivery-insights/internal/store"
	"delivery-insights/pkg/utils"
)

// @title Delivery Insights API
// @version 1.0
// @description Food delivery analytics: submit runs, track progress and fetch insight reports.
// @host localhost:8080
// @BasePath /api/v1

// main is the application composition root. It wires the run store, the
// export sinks and the pipeline behind the HTTP handlers.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if err := godotenv.Load(); err != nil {
		log.Infow("no .env file found, using environment variables")
	}

	dbPath := getEnv("DB_PATH", "data/insights.db")
	outputDir := getEnv("OUTPUT_DIR", "outputs")
	port := getEnv("PORT", "8080")

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalw("open run store", "path", dbPath, "error", err)
	}
	defer st.Close()

	outputs := utils.NewOutputManager(outputDir)
	if err := outputs.EnsureOutputDirExists(); err != nil {
		log.Fatalw("create output directory", "path", outputDir, "error", err)
	}

	sinks := map[string]pipeline.ReportSink{"sqlite": st}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		pg, err := store.OpenPostgres(dsn)
		if err != nil {
			log.Fatalw("connect postgres sink", "error", err)
		}
		defer pg.Close()
		sinks["postgres"] = pg
	}

	deps := pipeline.Deps{
		Store:    st,
		Exporter: pipeline.NewExporter(outputs, sinks, log),
		Log:      log,
	}
	launch := func(ctx context.Context, runID string, spec model.RunSpec) {
		// Run records its own failures in the store.
		_, _ = pipeline.Run(ctx, runID, spec, deps)
	}

	h := handler.NewRunHandler(st, launch, outputs, log)
	router := api.NewRouter(h, log)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	log.Infow("server listening", "addr", srv.Addr)
	log.Fatalw("server stopped", "error", srv.ListenAndServe())
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
