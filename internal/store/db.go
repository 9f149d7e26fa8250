// Package store persists runs, their stage progress and completed insight
// reports. SQLite backs the run store; a Postgres sink is available for
// shipping report rows to a warehouse.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"delivery-insights/internal/model"
)

// ErrNotFound reports a lookup that matched no stored row.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed run store. Methods are safe for concurrent
// use; SQLite serializes writers underneath.
type Store struct {
	db *sql.DB
}

// Open opens the run database at path, creating file and schema as needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return NewStore(db)
}

// NewStore initializes the schema on an existing connection.
func NewStore(db *sql.DB) (*Store, error) {
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			spec TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			finished_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS run_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			error_message TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_stages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			records_in INTEGER NOT NULL,
			records_out INTEGER NOT NULL,
			records_dropped INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			generated_at DATETIME NOT NULL,
			manifest TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS insight_rows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			insight TEXT NOT NULL,
			dimension TEXT NOT NULL,
			group_key TEXT NOT NULL,
			sort_key INTEGER NOT NULL,
			position INTEGER NOT NULL,
			summaries TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_insight_rows_run ON insight_rows(run_id, insight, position);`,
		`CREATE TABLE IF NOT EXISTS export_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			path TEXT NOT NULL,
			record_count INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// SaveRun stores a newly submitted run.
func (s *Store) SaveRun(run model.Run) error {
	specJSON, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("encode run spec: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (id, spec, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(specJSON), string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// UpdateRunStatus transitions a run's status, stamping finished_at on
// terminal states.
func (s *Store) UpdateRunStatus(runID string, status model.RunStatus) error {
	now := time.Now().UTC()
	switch status {
	case model.RunCompleted, model.RunFailed, model.RunCancelled:
		_, err := s.db.Exec(
			`UPDATE runs SET status = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
			string(status), now, now, runID,
		)
		return err
	default:
		_, err := s.db.Exec(
			`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, runID,
		)
		return err
	}
}

// SaveRunError records why a run stopped.
func (s *Store) SaveRunError(runID string, cause error) error {
	if cause == nil {
		return nil
	}
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO run_errors (run_id, error_message, created_at) VALUES (?, ?, ?)`,
		runID, cause.Error(), now,
	); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE runs SET error = ?, updated_at = ? WHERE id = ?`, cause.Error(), now, runID)
	return err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, spec, status, error, created_at, updated_at, finished_at
		 FROM runs ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun fetches one run by id.
func (s *Store) GetRun(runID string) (model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, spec, status, error, created_at, updated_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var (
		run      model.Run
		specJSON string
		status   string
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &specJSON, &status, &run.Error, &run.CreatedAt, &run.UpdatedAt, &finished); err != nil {
		return model.Run{}, err
	}
	if err := json.Unmarshal([]byte(specJSON), &run.Spec); err != nil {
		return model.Run{}, fmt.Errorf("decode run spec: %w", err)
	}
	run.Status = model.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// SaveStageProgress appends one stage transition for a run.
func (s *Store) SaveStageProgress(p model.StageProgress) error {
	var ended any
	if p.EndedAt != nil {
		ended = *p.EndedAt
	}
	_, err := s.db.Exec(
		`INSERT INTO run_stages (run_id, stage, status, records_in, records_out, records_dropped, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Stage, p.Status, p.In, p.Out, p.Dropped, p.StartedAt, ended,
	)
	return err
}

// GetStageProgress returns a run's stage transitions in recording order.
func (s *Store) GetStageProgress(runID string) ([]model.StageProgress, error) {
	rows, err := s.db.Query(
		`SELECT stage, status, records_in, records_out, records_dropped, started_at, ended_at
		 FROM run_stages WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var progress []model.StageProgress
	for rows.Next() {
		p := model.StageProgress{RunID: runID}
		var ended sql.NullTime
		if err := rows.Scan(&p.Stage, &p.Status, &p.In, &p.Out, &p.Dropped, &p.StartedAt, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			p.EndedAt = &t
		}
		progress = append(progress, p)
	}
	return progress, rows.Err()
}

// SaveReport persists a completed report, replacing any earlier rows for
// the same run.
func (s *Store) SaveReport(report *model.InsightReport) error {
	return s.SaveReportRows(context.Background(), report)
}

// SaveReportRows writes the report and its rows in one transaction.
func (s *Store) SaveReportRows(ctx context.Context, report *model.InsightReport) error {
	manifestJSON, err := json.Marshal(report.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM insight_rows WHERE run_id = ?`, report.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE run_id = ?`, report.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (run_id, generated_at, manifest) VALUES (?, ?, ?)`,
		report.RunID, report.GeneratedAt, string(manifestJSON),
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO insight_rows (run_id, insight, dimension, group_key, sort_key, position, summaries)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
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

// GetReport reassembles a run's stored report.
func (s *Store) GetReport(runID string) (*model.InsightReport, error) {
	var (
		generatedAt  time.Time
		manifestJSON string
	)
	err := s.db.QueryRow(`SELECT generated_at, manifest FROM reports WHERE run_id = ?`, runID).
		Scan(&generatedAt, &manifestJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	report := &model.InsightReport{
		RunID:       runID,
		GeneratedAt: generatedAt,
		Insights:    make(map[string][]model.AggregateResult),
	}
	if err := json.Unmarshal([]byte(manifestJSON), &report.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT insight, dimension, group_key, sort_key, summaries
		 FROM insight_rows WHERE run_id = ? ORDER BY insight, position`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			result        model.AggregateResult
			summariesJSON string
		)
		if err := rows.Scan(&result.Name, &result.Dimension, &result.GroupKey, &result.SortKey, &summariesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summariesJSON), &result.Summaries); err != nil {
			return nil, fmt.Errorf("decode summaries: %w", err)
		}
		report.Insights[result.Name] = append(report.Insights[result.Name], result)
	}
	return report, rows.Err()
}

// GetInsight returns the stored rows of one named insight.
func (s *Store) GetInsight(runID, name string) ([]model.AggregateResult, error) {
	rows, err := s.db.Query(
		`SELECT insight, dimension, group_key, sort_key, summaries
		 FROM insight_rows WHERE run_id = ? AND insight = ? ORDER BY position`,
		runID, name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.AggregateResult
	for rows.Next() {
		var (
			result        model.AggregateResult
			summariesJSON string
		)
		if err := rows.Scan(&result.Name, &result.Dimension, &result.GroupKey, &result.SortKey, &summariesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summariesJSON), &result.Summaries); err != nil {
			return nil, fmt.Errorf("decode summaries: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("insight %s for run %s: %w", name, runID, ErrNotFound)
	}
	return results, nil
}

// SaveExportResult records one export artifact of a run.
func (s *Store) SaveExportResult(runID string, res model.ExportResult) error {
	_, err := s.db.Exec(
		`INSERT INTO export_results (run_id, type, path, record_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, res.Type, res.Path, res.RecordCount, res.CreatedAt,
	)
	return err
}

// ListExportResults returns a run's export artifacts in creation order.
func (s *Store) ListExportResults(runID string) ([]model.ExportResult, error) {
	rows, err := s.db.Query(
		`SELECT type, path, record_count, created_at FROM export_results WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ExportResult
	for rows.Next() {
		var res model.ExportResult
		if err := rows.Scan(&res.Type, &res.Path, &res.RecordCount, &res.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// DeleteRun removes a run and everything recorded for it.
func (s *Store) DeleteRun(runID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	for _, stmt := range []string{
		`DELETE FROM run_errors WHERE run_id = ?`,
		`DELETE FROM run_stages WHERE run_id = ?`,
		`DELETE FROM reports WHERE run_id = ?`,
		`DELETE FROM insight_rows WHERE run_id = ?`,
		`DELETE FROM export_results WHERE run_id = ?`,
	} {
		if _, err := tx.Exec(stmt, runID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
