package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"wheelslip/internal/models"
	"wheelslip/internal/pipeline"
)

// ErrNotFound is returned when a run id does not exist
var ErrNotFound = errors.New("run not found")

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and foreign keys via connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		config TEXT NOT NULL,
		diagnostics TEXT NOT NULL,
		input_rows INTEGER NOT NULL,
		rejected_rows INTEGER NOT NULL,
		gaps INTEGER NOT NULL,
		slip_events INTEGER NOT NULL,
		diff_load_events INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grid_points (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		time REAL NOT NULL,
		left_rpm REAL,
		right_rpm REAL,
		steering REAL,
		gap INTEGER NOT NULL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS slip_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		time REAL NOT NULL,
		wheel TEXT NOT NULL,
		prior_rpm REAL NOT NULL,
		current_rpm REAL NOT NULL,
		delta_rpm REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS diff_load_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		time REAL NOT NULL,
		left_rpm REAL NOT NULL,
		right_rpm REAL NOT NULL,
		delta_rpm REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_slip_events_run ON slip_events(run_id, time);
	CREATE INDEX IF NOT EXISTS idx_slip_events_wheel ON slip_events(run_id, wheel);
	CREATE INDEX IF NOT EXISTS idx_diff_load_events_run ON diff_load_events(run_id, time);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// SaveRun stores a pipeline result and its config snapshot in one
// transaction and returns the new run.
func (db *Database) SaveRun(source, config string, res pipeline.Result) (*models.Run, error) {
	diag := res.Diagnostics
	diag.Issues = nil // per-row detail stays in the log and diagnostics file
	diagJSON, err := json.Marshal(diag)
	if err != nil {
		return nil, fmt.Errorf("failed to encode diagnostics: %w", err)
	}

	run := &models.Run{
		ID:          uuid.NewString(),
		Source:      source,
		CreatedAt:   time.Now().UTC(),
		Config:      config,
		Diagnostics: diag,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs
		(id, source, created_at, config, diagnostics, input_rows, rejected_rows,
		 gaps, slip_events, diff_load_events)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.CreatedAt, run.Config, string(diagJSON),
		diag.InputRows, diag.TotalRejected(), diag.Gaps, diag.SlipEvents, diag.DiffLoadEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	if err := insertGrid(tx, run.ID, res.Grid); err != nil {
		return nil, err
	}
	if err := insertSlips(tx, run.ID, res.Slips); err != nil {
		return nil, err
	}
	if err := insertDiffLoads(tx, run.ID, res.DiffLoads); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

func insertGrid(tx *sql.Tx, runID string, grid []models.GridPoint) error {
	stmt, err := tx.Prepare(`
		INSERT INTO grid_points (run_id, idx, time, left_rpm, right_rpm, steering, gap)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, gp := range grid {
		if _, err := stmt.Exec(runID, gp.Index, gp.Time,
			nullFloat(gp.LeftRPM), nullFloat(gp.RightRPM), nullFloat(gp.Steering), gp.Gap); err != nil {
			return fmt.Errorf("failed to insert grid point %d: %w", gp.Index, err)
		}
	}
	return nil
}

func insertSlips(tx *sql.Tx, runID string, events []models.SlipEvent) error {
	stmt, err := tx.Prepare(`
		INSERT INTO slip_events (run_id, time, wheel, prior_rpm, current_rpm, delta_rpm)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(runID, e.Time, string(e.Wheel), e.PriorRPM, e.CurrentRPM, e.DeltaRPM); err != nil {
			return fmt.Errorf("failed to insert slip event: %w", err)
		}
	}
	return nil
}

func insertDiffLoads(tx *sql.Tx, runID string, events []models.DiffLoadEvent) error {
	stmt, err := tx.Prepare(`
		INSERT INTO diff_load_events (run_id, time, left_rpm, right_rpm, delta_rpm)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(runID, e.Time, e.LeftRPM, e.RightRPM, e.DeltaRPM); err != nil {
			return fmt.Errorf("failed to insert diff load event: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *Database) GetRun(id string) (*models.Run, error) {
	row := db.conn.QueryRow(`SELECT id, source, created_at, config, diagnostics FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns stored runs, newest first
func (db *Database) ListRuns(q models.RunQuery) ([]models.Run, error) {
	query := `SELECT id, source, created_at, config, diagnostics FROM runs`
	var args []interface{}

	if q.Source != "" {
		query += " WHERE source = ?"
		args = append(args, q.Source)
	}
	query += " ORDER BY created_at DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*models.Run, error) {
	var run models.Run
	var diagJSON string
	if err := s.Scan(&run.ID, &run.Source, &run.CreatedAt, &run.Config, &diagJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(diagJSON), &run.Diagnostics); err != nil {
		return nil, fmt.Errorf("run %s: bad diagnostics: %w", run.ID, err)
	}
	return &run, nil
}

// DeleteRun removes a run and everything stored with it
func (db *Database) DeleteRun(id string) error {
	res, err := db.conn.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSeries returns the stored grid of a run in index order
func (db *Database) GetSeries(runID string) ([]models.GridPoint, error) {
	if err := db.requireRun(runID); err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(`
		SELECT idx, time, left_rpm, right_rpm, steering, gap
		FROM grid_points WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grid []models.GridPoint
	for rows.Next() {
		var gp models.GridPoint
		var left, right, steering sql.NullFloat64
		if err := rows.Scan(&gp.Index, &gp.Time, &left, &right, &steering, &gp.Gap); err != nil {
			return nil, err
		}
		gp.LeftRPM = floatPtr(left)
		gp.RightRPM = floatPtr(right)
		gp.Steering = floatPtr(steering)
		grid = append(grid, gp)
	}
	return grid, rows.Err()
}

// GetSlipEvents returns slip events of a run, optionally for one wheel only
func (db *Database) GetSlipEvents(runID string, wheel models.Wheel) ([]models.SlipEvent, error) {
	if err := db.requireRun(runID); err != nil {
		return nil, err
	}

	query := `SELECT time, wheel, prior_rpm, current_rpm, delta_rpm FROM slip_events WHERE run_id = ?`
	args := []interface{}{runID}
	if wheel != "" {
		query += " AND wheel = ?"
		args = append(args, string(wheel))
	}
	query += " ORDER BY time, id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.SlipEvent
	for rows.Next() {
		var e models.SlipEvent
		var w string
		if err := rows.Scan(&e.Time, &w, &e.PriorRPM, &e.CurrentRPM, &e.DeltaRPM); err != nil {
			return nil, err
		}
		e.Wheel = models.Wheel(w)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetDiffLoadEvents returns differential-load events of a run with
// |delta| >= minDelta (all events when minDelta <= 0)
func (db *Database) GetDiffLoadEvents(runID string, minDelta float64) ([]models.DiffLoadEvent, error) {
	if err := db.requireRun(runID); err != nil {
		return nil, err
	}

	query := `SELECT time, left_rpm, right_rpm, delta_rpm FROM diff_load_events WHERE run_id = ?`
	args := []interface{}{runID}
	if minDelta > 0 {
		query += " AND ABS(delta_rpm) >= ?"
		args = append(args, minDelta)
	}
	query += " ORDER BY time, id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.DiffLoadEvent
	for rows.Next() {
		var e models.DiffLoadEvent
		if err := rows.Scan(&e.Time, &e.LeftRPM, &e.RightRPM, &e.DeltaRPM); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (db *Database) requireRun(id string) error {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM runs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"total_runs", "SELECT COUNT(*) FROM runs"},
		{"total_grid_points", "SELECT COUNT(*) FROM grid_points"},
		{"total_slip_events", "SELECT COUNT(*) FROM slip_events"},
		{"total_diff_load_events", "SELECT COUNT(*) FROM diff_load_events"},
		{"total_rejected_rows", "SELECT COALESCE(SUM(rejected_rows), 0) FROM runs"},
	}
	for _, c := range counts {
		var n int64
		if err := db.conn.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("%s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
