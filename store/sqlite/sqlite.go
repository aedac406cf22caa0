// Package sqlite implements labflow.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/scidag/labflow"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs on open, Init, and workflow/step
// creates and updates, with timing on Init and on workflow creates and
// workflow/step updates. Reads, listings, attachment, bag and report
// operations are not logged. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements labflow.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ labflow.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so
// that all goroutines serialize through one connection, eliminating
// SQLITE_BUSY errors caused by concurrent writers opening independent
// connections — the daemon and any CLI invocation share the same file.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	tables := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			pk INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user TEXT NOT NULL,
			module TEXT NOT NULL,
			module_class TEXT NOT NULL,
			script_path TEXT NOT NULL,
			script_md5 TEXT NOT NULL,
			status TEXT NOT NULL,
			ctime INTEGER NOT NULL,
			report TEXT NOT NULL DEFAULT '',
			parent_step_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			user TEXT NOT NULL,
			status TEXT NOT NULL,
			next_call TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(workflow_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS calc_attachments (
			step_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			calc_id TEXT NOT NULL,
			PRIMARY KEY (step_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS sub_attachments (
			step_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			child_workflow_id TEXT NOT NULL,
			PRIMARY KEY (step_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS params (
			workflow_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (workflow_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS attrs (
			workflow_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (workflow_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			workflow_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (workflow_id, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_workflow ON steps(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows(user)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}

	s.logger.Debug("sqlite: init finished", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// --- Workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, w labflow.WorkflowRecord) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user, module, module_class, script_path, script_md5, status, ctime, report, parent_step_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.User, w.Module, w.ModuleClass, w.ScriptPath, w.ScriptMD5, string(w.Status), w.CTime, w.Report, nullable(w.ParentStepID))
	if err != nil {
		return fmt.Errorf("sqlite: create workflow: %w", err)
	}
	s.logger.Debug("sqlite: workflow created", "id", w.ID, "duration", time.Since(start))
	_, _ = res.LastInsertId()
	return nil
}

func scanWorkflow(row interface {
	Scan(dest ...any) error
}) (labflow.WorkflowRecord, error) {
	var w labflow.WorkflowRecord
	var status string
	var parentStepID sql.NullString
	if err := row.Scan(&w.PK, &w.ID, &w.User, &w.Module, &w.ModuleClass, &w.ScriptPath, &w.ScriptMD5, &status, &w.CTime, &w.Report, &parentStepID); err != nil {
		return labflow.WorkflowRecord{}, err
	}
	w.Status = labflow.State(status)
	if parentStepID.Valid {
		v := parentStepID.String
		w.ParentStepID = &v
	}
	return w, nil
}

const selectWorkflowCols = `pk, id, user, module, module_class, script_path, script_md5, status, ctime, report, parent_step_id`

func (s *Store) GetWorkflow(ctx context.Context, id string) (labflow.WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectWorkflowCols+` FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return labflow.WorkflowRecord{}, &labflow.NotExistent{Kind: "workflow", ID: id}
	}
	if err != nil {
		return labflow.WorkflowRecord{}, fmt.Errorf("sqlite: get workflow: %w", err)
	}
	return w, nil
}

func (s *Store) GetWorkflowByPK(ctx context.Context, pk int64) (labflow.WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectWorkflowCols+` FROM workflows WHERE pk = ?`, pk)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return labflow.WorkflowRecord{}, &labflow.NotExistent{Kind: "workflow", ID: fmt.Sprintf("pk:%d", pk)}
	}
	if err != nil {
		return labflow.WorkflowRecord{}, fmt.Errorf("sqlite: get workflow by pk: %w", err)
	}
	return w, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, w labflow.WorkflowRecord) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET user=?, module=?, module_class=?, script_path=?, script_md5=?, status=?, ctime=?, parent_step_id=?
		WHERE id=?`,
		w.User, w.Module, w.ModuleClass, w.ScriptPath, w.ScriptMD5, string(w.Status), w.CTime, nullable(w.ParentStepID), w.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update workflow: %w", err)
	}
	s.logger.Debug("sqlite: workflow updated", "id", w.ID, "status", w.Status, "duration", time.Since(start))
	return nil
}

func (s *Store) ListWorkflows(ctx context.Context, user string, status []labflow.State) ([]labflow.WorkflowRecord, error) {
	query := `SELECT ` + selectWorkflowCols + ` FROM workflows WHERE 1=1`
	var args []any
	if user != "" {
		query += ` AND user = ?`
		args = append(args, user)
	}
	if len(status) > 0 {
		query += ` AND status IN (` + placeholders(len(status)) + `)`
		for _, st := range status {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY pk ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list workflows: %w", err)
	}
	defer rows.Close()

	var out []labflow.WorkflowRecord
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ListRootWorkflows(ctx context.Context, user string, includeFinished bool) ([]labflow.WorkflowRecord, error) {
	query := `SELECT ` + selectWorkflowCols + ` FROM workflows WHERE parent_step_id IS NULL`
	var args []any
	if user != "" {
		query += ` AND user = ?`
		args = append(args, user)
	}
	if !includeFinished {
		query += ` AND status != ?`
		args = append(args, string(labflow.StateFinished))
	}
	query += ` ORDER BY pk ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list root workflows: %w", err)
	}
	defer rows.Close()

	var out []labflow.WorkflowRecord
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ParentStep(ctx context.Context, workflowID string) (labflow.StepRecord, bool, error) {
	var parentStepID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT parent_step_id FROM workflows WHERE id = ?`, workflowID).Scan(&parentStepID)
	if err == sql.ErrNoRows {
		return labflow.StepRecord{}, false, &labflow.NotExistent{Kind: "workflow", ID: workflowID}
	}
	if err != nil {
		return labflow.StepRecord{}, false, fmt.Errorf("sqlite: parent step lookup: %w", err)
	}
	if !parentStepID.Valid {
		return labflow.StepRecord{}, false, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectStepCols+` FROM steps WHERE id = ?`, parentStepID.String)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return labflow.StepRecord{}, false, nil
	}
	if err != nil {
		return labflow.StepRecord{}, false, fmt.Errorf("sqlite: parent step: %w", err)
	}
	return step, true, nil
}

// --- Steps ---

const selectStepCols = `id, workflow_id, name, user, status, next_call, created_at, updated_at`

func scanStep(row interface {
	Scan(dest ...any) error
}) (labflow.StepRecord, error) {
	var s labflow.StepRecord
	var status string
	if err := row.Scan(&s.ID, &s.WorkflowID, &s.Name, &s.User, &status, &s.NextCall, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return labflow.StepRecord{}, err
	}
	s.Status = labflow.State(status)
	return s, nil
}

func (s *Store) CreateStep(ctx context.Context, st labflow.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (id, workflow_id, name, user, status, next_call, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.WorkflowID, st.Name, st.User, string(st.Status), st.NextCall, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create step: %w", err)
	}
	s.logger.Debug("sqlite: step created", "workflow_id", st.WorkflowID, "name", st.Name)
	return nil
}

func (s *Store) GetStep(ctx context.Context, workflowID, name string) (labflow.StepRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectStepCols+` FROM steps WHERE workflow_id = ? AND name = ?`, workflowID, name)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return labflow.StepRecord{}, false, nil
	}
	if err != nil {
		return labflow.StepRecord{}, false, fmt.Errorf("sqlite: get step: %w", err)
	}
	return step, true, nil
}

func (s *Store) UpdateStep(ctx context.Context, st labflow.StepRecord) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE steps SET status=?, next_call=?, updated_at=? WHERE id=?`,
		string(st.Status), st.NextCall, st.UpdatedAt, st.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update step: %w", err)
	}
	s.logger.Debug("sqlite: step updated", "id", st.ID, "status", st.Status, "duration", time.Since(start))
	return nil
}

func (s *Store) ListSteps(ctx context.Context, workflowID string, status []labflow.State) ([]labflow.StepRecord, error) {
	query := `SELECT ` + selectStepCols + ` FROM steps WHERE workflow_id = ?`
	args := []any{workflowID}
	if len(status) > 0 {
		query += ` AND status IN (` + placeholders(len(status)) + `)`
		for _, st := range status {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list steps: %w", err)
	}
	defer rows.Close()

	var out []labflow.StepRecord
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan step: %w", err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// --- Attachments ---

func (s *Store) AppendCalculationAttachment(ctx context.Context, stepID, calcID string) error {
	var next int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM calc_attachments WHERE step_id = ?`, stepID).Scan(&next); err != nil {
		return fmt.Errorf("sqlite: next calc seq: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO calc_attachments (step_id, seq, calc_id) VALUES (?, ?, ?)`, stepID, next, calcID)
	if err != nil {
		return fmt.Errorf("sqlite: append calc attachment: %w", err)
	}
	return nil
}

func (s *Store) AppendSubworkflowAttachment(ctx context.Context, stepID, childWorkflowID string) error {
	var next int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM sub_attachments WHERE step_id = ?`, stepID).Scan(&next); err != nil {
		return fmt.Errorf("sqlite: next sub seq: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sub_attachments (step_id, seq, child_workflow_id) VALUES (?, ?, ?)`, stepID, next, childWorkflowID)
	if err != nil {
		return fmt.Errorf("sqlite: append sub attachment: %w", err)
	}
	return nil
}

func (s *Store) ClearStepAttachments(ctx context.Context, stepID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calc_attachments WHERE step_id = ?`, stepID); err != nil {
		return fmt.Errorf("sqlite: clear calc attachments: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sub_attachments WHERE step_id = ?`, stepID); err != nil {
		return fmt.Errorf("sqlite: clear sub attachments: %w", err)
	}
	return nil
}

func (s *Store) StepCalculations(ctx context.Context, stepID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT calc_id FROM calc_attachments WHERE step_id = ? ORDER BY seq ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: step calculations: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) StepSubworkflows(ctx context.Context, stepID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT child_workflow_id FROM sub_attachments WHERE step_id = ? ORDER BY seq ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: step subworkflows: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- Bags (shared implementation for params/attrs/results) ---

func (s *Store) getBag(ctx context.Context, table, workflowID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM `+table+` WHERE workflow_id = ? AND key = ?`, workflowID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get %s: %w", table, err)
	}
	return value, true, nil
}

func (s *Store) setBag(ctx context.Context, table, workflowID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (workflow_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (workflow_id, key) DO UPDATE SET value = excluded.value`,
		workflowID, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: set %s: %w", table, err)
	}
	return nil
}

func (s *Store) GetParam(ctx context.Context, workflowID, key string) (string, bool, error) {
	return s.getBag(ctx, "params", workflowID, key)
}

func (s *Store) SetParam(ctx context.Context, workflowID, key, value string, force bool) error {
	return s.setBag(ctx, "params", workflowID, key, value)
}

func (s *Store) GetAttr(ctx context.Context, workflowID, key string) (string, bool, error) {
	return s.getBag(ctx, "attrs", workflowID, key)
}

func (s *Store) SetAttr(ctx context.Context, workflowID, key, value string) error {
	return s.setBag(ctx, "attrs", workflowID, key, value)
}

func (s *Store) GetResult(ctx context.Context, workflowID, key string) (string, bool, error) {
	return s.getBag(ctx, "results", workflowID, key)
}

func (s *Store) SetResult(ctx context.Context, workflowID, key, value string) error {
	return s.setBag(ctx, "results", workflowID, key, value)
}

// --- Report ---

func (s *Store) AppendReport(ctx context.Context, workflowID, line string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET report = CASE WHEN report = '' THEN ? ELSE report || char(10) || ? END
		WHERE id = ?`, line, line, workflowID)
	if err != nil {
		return fmt.Errorf("sqlite: append report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, workflowID string) (string, error) {
	var report string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM workflows WHERE id = ?`, workflowID).Scan(&report)
	if err == sql.ErrNoRows {
		return "", &labflow.NotExistent{Kind: "workflow", ID: workflowID}
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get report: %w", err)
	}
	return report, nil
}

func (s *Store) ClearReport(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workflows SET report = '' WHERE id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("sqlite: clear report: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
