// Package postgres implements labflow.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scidag/labflow"
)

// Store implements labflow.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ labflow.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			pk BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			"user" TEXT NOT NULL,
			module TEXT NOT NULL,
			module_class TEXT NOT NULL,
			script_path TEXT NOT NULL,
			script_md5 TEXT NOT NULL,
			status TEXT NOT NULL,
			ctime BIGINT NOT NULL,
			report TEXT NOT NULL DEFAULT '',
			parent_step_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			"user" TEXT NOT NULL,
			status TEXT NOT NULL,
			next_call TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
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
		`CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows("user")`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create table: %w", err)
		}
	}
	return nil
}

// Close does not release the pool. The pool is owned by the caller; Close
// is a no-op beyond satisfying labflow.Store's Lifecycle contract
// symmetrically with the sqlite adapter — callers that created the pool
// themselves should still Close it explicitly after this returns.
func (s *Store) Close() error { return nil }

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

const selectWorkflowCols = `pk, id, "user", module, module_class, script_path, script_md5, status, ctime, report, parent_step_id`

func scanWorkflow(row pgx.Row) (labflow.WorkflowRecord, error) {
	var w labflow.WorkflowRecord
	var status string
	var parentStepID *string
	if err := row.Scan(&w.PK, &w.ID, &w.User, &w.Module, &w.ModuleClass, &w.ScriptPath, &w.ScriptMD5, &status, &w.CTime, &w.Report, &parentStepID); err != nil {
		return labflow.WorkflowRecord{}, err
	}
	w.Status = labflow.State(status)
	w.ParentStepID = parentStepID
	return w, nil
}

func (s *Store) CreateWorkflow(ctx context.Context, w labflow.WorkflowRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, "user", module, module_class, script_path, script_md5, status, ctime, report, parent_step_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.User, w.Module, w.ModuleClass, w.ScriptPath, w.ScriptMD5, string(w.Status), w.CTime, w.Report, nullable(w.ParentStepID))
	if err != nil {
		return fmt.Errorf("postgres: create workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (labflow.WorkflowRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectWorkflowCols+` FROM workflows WHERE id = $1`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return labflow.WorkflowRecord{}, &labflow.NotExistent{Kind: "workflow", ID: id}
	}
	if err != nil {
		return labflow.WorkflowRecord{}, fmt.Errorf("postgres: get workflow: %w", err)
	}
	return w, nil
}

func (s *Store) GetWorkflowByPK(ctx context.Context, pk int64) (labflow.WorkflowRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectWorkflowCols+` FROM workflows WHERE pk = $1`, pk)
	w, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return labflow.WorkflowRecord{}, &labflow.NotExistent{Kind: "workflow", ID: fmt.Sprintf("pk:%d", pk)}
	}
	if err != nil {
		return labflow.WorkflowRecord{}, fmt.Errorf("postgres: get workflow by pk: %w", err)
	}
	return w, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, w labflow.WorkflowRecord) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workflows SET "user"=$1, module=$2, module_class=$3, script_path=$4, script_md5=$5, status=$6, ctime=$7, parent_step_id=$8
		WHERE id=$9`,
		w.User, w.Module, w.ModuleClass, w.ScriptPath, w.ScriptMD5, string(w.Status), w.CTime, nullable(w.ParentStepID), w.ID)
	if err != nil {
		return fmt.Errorf("postgres: update workflow: %w", err)
	}
	return nil
}

func (s *Store) ListWorkflows(ctx context.Context, user string, status []labflow.State) ([]labflow.WorkflowRecord, error) {
	query := `SELECT ` + selectWorkflowCols + ` FROM workflows WHERE 1=1`
	var args []any
	n := 1
	if user != "" {
		query += fmt.Sprintf(` AND "user" = $%d`, n)
		args = append(args, user)
		n++
	}
	if len(status) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, n)
		args = append(args, statusStrings(status))
		n++
	}
	query += ` ORDER BY pk ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list workflows: %w", err)
	}
	defer rows.Close()

	var out []labflow.WorkflowRecord
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ListRootWorkflows(ctx context.Context, user string, includeFinished bool) ([]labflow.WorkflowRecord, error) {
	query := `SELECT ` + selectWorkflowCols + ` FROM workflows WHERE parent_step_id IS NULL`
	var args []any
	n := 1
	if user != "" {
		query += fmt.Sprintf(` AND "user" = $%d`, n)
		args = append(args, user)
		n++
	}
	if !includeFinished {
		query += fmt.Sprintf(` AND status != $%d`, n)
		args = append(args, string(labflow.StateFinished))
		n++
	}
	query += ` ORDER BY pk ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list root workflows: %w", err)
	}
	defer rows.Close()

	var out []labflow.WorkflowRecord
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ParentStep(ctx context.Context, workflowID string) (labflow.StepRecord, bool, error) {
	var parentStepID *string
	err := s.pool.QueryRow(ctx, `SELECT parent_step_id FROM workflows WHERE id = $1`, workflowID).Scan(&parentStepID)
	if errors.Is(err, pgx.ErrNoRows) {
		return labflow.StepRecord{}, false, &labflow.NotExistent{Kind: "workflow", ID: workflowID}
	}
	if err != nil {
		return labflow.StepRecord{}, false, fmt.Errorf("postgres: parent step lookup: %w", err)
	}
	if parentStepID == nil {
		return labflow.StepRecord{}, false, nil
	}

	row := s.pool.QueryRow(ctx, `SELECT `+selectStepCols+` FROM steps WHERE id = $1`, *parentStepID)
	step, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return labflow.StepRecord{}, false, nil
	}
	if err != nil {
		return labflow.StepRecord{}, false, fmt.Errorf("postgres: parent step: %w", err)
	}
	return step, true, nil
}

const selectStepCols = `id, workflow_id, name, "user", status, next_call, created_at, updated_at`

func scanStep(row pgx.Row) (labflow.StepRecord, error) {
	var st labflow.StepRecord
	var status string
	if err := row.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.User, &status, &st.NextCall, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return labflow.StepRecord{}, err
	}
	st.Status = labflow.State(status)
	return st, nil
}

func (s *Store) CreateStep(ctx context.Context, st labflow.StepRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO steps (id, workflow_id, name, "user", status, next_call, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		st.ID, st.WorkflowID, st.Name, st.User, string(st.Status), st.NextCall, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create step: %w", err)
	}
	return nil
}

func (s *Store) GetStep(ctx context.Context, workflowID, name string) (labflow.StepRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectStepCols+` FROM steps WHERE workflow_id = $1 AND name = $2`, workflowID, name)
	st, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return labflow.StepRecord{}, false, nil
	}
	if err != nil {
		return labflow.StepRecord{}, false, fmt.Errorf("postgres: get step: %w", err)
	}
	return st, true, nil
}

func (s *Store) UpdateStep(ctx context.Context, st labflow.StepRecord) error {
	_, err := s.pool.Exec(ctx, `UPDATE steps SET status=$1, next_call=$2, updated_at=$3 WHERE id=$4`,
		string(st.Status), st.NextCall, st.UpdatedAt, st.ID)
	if err != nil {
		return fmt.Errorf("postgres: update step: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, workflowID string, status []labflow.State) ([]labflow.StepRecord, error) {
	query := `SELECT ` + selectStepCols + ` FROM steps WHERE workflow_id = $1`
	args := []any{workflowID}
	if len(status) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statusStrings(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list steps: %w", err)
	}
	defer rows.Close()

	var out []labflow.StepRecord
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) AppendCalculationAttachment(ctx context.Context, stepID, calcID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calc_attachments (step_id, seq, calc_id)
		VALUES ($1, COALESCE((SELECT MAX(seq) + 1 FROM calc_attachments WHERE step_id = $1), 0), $2)`,
		stepID, calcID)
	if err != nil {
		return fmt.Errorf("postgres: append calc attachment: %w", err)
	}
	return nil
}

func (s *Store) AppendSubworkflowAttachment(ctx context.Context, stepID, childWorkflowID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sub_attachments (step_id, seq, child_workflow_id)
		VALUES ($1, COALESCE((SELECT MAX(seq) + 1 FROM sub_attachments WHERE step_id = $1), 0), $2)`,
		stepID, childWorkflowID)
	if err != nil {
		return fmt.Errorf("postgres: append sub attachment: %w", err)
	}
	return nil
}

func (s *Store) ClearStepAttachments(ctx context.Context, stepID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM calc_attachments WHERE step_id = $1`, stepID); err != nil {
		return fmt.Errorf("postgres: clear calc attachments: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM sub_attachments WHERE step_id = $1`, stepID); err != nil {
		return fmt.Errorf("postgres: clear sub attachments: %w", err)
	}
	return nil
}

func (s *Store) StepCalculations(ctx context.Context, stepID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT calc_id FROM calc_attachments WHERE step_id = $1 ORDER BY seq ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("postgres: step calculations: %w", err)
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
	rows, err := s.pool.Query(ctx, `SELECT child_workflow_id FROM sub_attachments WHERE step_id = $1 ORDER BY seq ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("postgres: step subworkflows: %w", err)
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

func (s *Store) getBag(ctx context.Context, table, workflowID, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM `+table+` WHERE workflow_id = $1 AND key = $2`, workflowID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: get %s: %w", table, err)
	}
	return value, true, nil
}

func (s *Store) setBag(ctx context.Context, table, workflowID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+table+` (workflow_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, key) DO UPDATE SET value = excluded.value`,
		workflowID, key, value)
	if err != nil {
		return fmt.Errorf("postgres: set %s: %w", table, err)
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

func (s *Store) AppendReport(ctx context.Context, workflowID, line string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workflows SET report = CASE WHEN report = '' THEN $1 ELSE report || chr(10) || $1 END
		WHERE id = $2`, line, workflowID)
	if err != nil {
		return fmt.Errorf("postgres: append report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, workflowID string) (string, error) {
	var report string
	err := s.pool.QueryRow(ctx, `SELECT report FROM workflows WHERE id = $1`, workflowID).Scan(&report)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &labflow.NotExistent{Kind: "workflow", ID: workflowID}
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get report: %w", err)
	}
	return report, nil
}

func (s *Store) ClearReport(ctx context.Context, workflowID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE workflows SET report = '' WHERE id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("postgres: clear report: %w", err)
	}
	return nil
}

func statusStrings(status []labflow.State) []string {
	out := make([]string, len(status))
	for i, st := range status {
		out[i] = string(st)
	}
	return out
}
