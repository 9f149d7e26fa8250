package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"delivery-insights/internal/model"
)

// PostgresSink ships completed report rows to a Postgres warehouse.
type PostgresSink struct {
	db *sql.DB
}

// OpenPostgres connects to the warehouse at dsn and prepares the report
// tables.
func OpenPostgres(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres sink: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres sink: %w", err)
	}
	if err := createPostgresSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresSink{db: db}, nil
}

// Close closes the underlying connection.
func (p *PostgresSink) Close() error { return p.db.Close() }

func createPostgresSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			generated_at TIMESTAMPTZ NOT NULL,
			manifest JSONB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS insight_rows (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			insight TEXT NOT NULL,
			dimension TEXT NOT NULL,
			group_key TEXT NOT NULL,
			sort_key BIGINT NOT NULL,
			position INTEGER NOT NULL,
			summaries JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_insight_rows_run ON insight_rows (run_id, insight, position);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create postgres schema: %w", err)
		}
	}
	return nil
}

// SaveReportRows writes the report and its rows in one transaction,
// replacing any earlier rows for the same run.
func (p *PostgresSink) SaveReportRows(ctx context.Context, report *model.InsightReport) error {
	manifestJSON, err := json.Marshal(report.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM insight_rows WHERE run_id = $1`, report.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE run_id = $1`, report.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (run_id, generated_at, manifest) VALUES ($1, $2, $3)`,
		report.RunID, report.GeneratedAt, string(manifestJSON),
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO insight_rows (run_id, insight, dimension, group_key, sort_key, position, summaries)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, name := range report.InsightNames() {
		for pos, row := range report.Insights[name] {
			summaries, err := json.Marshal(row.Summaries)
			if err != nil {
				return fmt.Errorf("encode summaries: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				report.RunID, row.Name, row.Dimension, row.GroupKey, row.SortKey, pos, string(summaries),
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
