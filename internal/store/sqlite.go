package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/easelhq/easel/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id               TEXT PRIMARY KEY,
    workflow_id      TEXT NOT NULL,
    owner_id         TEXT NOT NULL,
    status           TEXT NOT NULL,
    job_id           TEXT NOT NULL DEFAULT '',
    params           TEXT,
    optimize_prompt  INTEGER NOT NULL DEFAULT 0,
    save_to_library  INTEGER NOT NULL DEFAULT 0,
    optimized_prompt TEXT NOT NULL DEFAULT '',
    output_names     TEXT,
    store_paths      TEXT,
    asset_ids        TEXT,
    error            TEXT NOT NULL DEFAULT '',
    progress         TEXT NOT NULL DEFAULT '',
    images_completed INTEGER NOT NULL DEFAULT 0,
    images_total     INTEGER NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL,
    completed_at     DATETIME
)`

const createWorkflowsTable = `
CREATE TABLE IF NOT EXISTS workflows (
    id         TEXT PRIMARY KEY,
    group_id   TEXT NOT NULL,
    owner_id   TEXT NOT NULL,
    version    INTEGER NOT NULL,
    pinned     INTEGER NOT NULL DEFAULT 0,
    graph      TEXT NOT NULL,
    overrides  TEXT,
    visibility TEXT NOT NULL,
    tags       TEXT,
    created_at DATETIME NOT NULL,
    UNIQUE (group_id, version)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createRunsTable,
		createWorkflowsTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init database: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// toJSON serializes v for a nullable JSON text column, mapping empty values
// to NULL.
func toJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case model.OverrideMap:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// fromJSON deserializes a nullable JSON text column into out, leaving out
// untouched for NULL.
func fromJSON(col sql.NullString, out any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), out); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	params, err := toJSON(r.Params)
	if err != nil {
		return err
	}
	names, err := toJSON(r.OutputNames)
	if err != nil {
		return err
	}
	paths, err := toJSON(r.StorePaths)
	if err != nil {
		return err
	}
	assets, err := toJSON(r.AssetIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, workflow_id, owner_id, status, job_id, params,
			optimize_prompt, save_to_library, optimized_prompt,
			output_names, store_paths, asset_ids, error, progress,
			images_completed, images_total, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkflowID, r.OwnerID, r.Status, r.JobID, params,
		r.OptimizePrompt, r.SaveToLibrary, r.OptimizedPrompt,
		names, paths, assets, r.Error, r.Progress,
		r.ImagesCompleted, r.ImagesTotal, r.CreatedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, workflow_id, owner_id, status, job_id, params,
	optimize_prompt, save_to_library, optimized_prompt,
	output_names, store_paths, asset_ids, error, progress,
	images_completed, images_total, created_at, completed_at`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun reads one run row, normalizing the legacy "running" status alias
// at this boundary so no caller ever observes it.
func scanRun(row rowScanner) (*model.Run, error) {
	r := &model.Run{}
	var params, names, paths, assets sql.NullString
	err := row.Scan(
		&r.ID, &r.WorkflowID, &r.OwnerID, &r.Status, &r.JobID, &params,
		&r.OptimizePrompt, &r.SaveToLibrary, &r.OptimizedPrompt,
		&names, &paths, &assets, &r.Error, &r.Progress,
		&r.ImagesCompleted, &r.ImagesTotal, &r.CreatedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = model.CanonicalStatus(r.Status)
	if err := fromJSON(params, &r.Params); err != nil {
		return nil, err
	}
	if err := fromJSON(names, &r.OutputNames); err != nil {
		return nil, err
	}
	if err := fromJSON(paths, &r.StorePaths); err != nil {
		return nil, err
	}
	if err := fromJSON(assets, &r.AssetIDs); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a page of the owner's runs ordered by created_at DESC,
// along with the owner's total run count.
func (s *SQLiteStore) ListRuns(ctx context.Context, ownerID string, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs WHERE owner_id = ?", ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE owner_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// UpdateRunStatus moves a run to a new non-terminal status, enforcing the
// forward-only transition rule.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	return s.transition(ctx, id, status,
		"UPDATE runs SET status = ? WHERE id = ?", status, id)
}

// FinishRun moves a run to a terminal status, recording the error message
// (empty for completed runs) and the completion timestamp.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status, errMsg string) error {
	if !model.TerminalStatus(status) {
		return fmt.Errorf("finish run: %q is not terminal", status)
	}
	return s.transition(ctx, id, status,
		"UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?",
		status, errMsg, time.Now().UTC(), id)
}

// transition applies update after checking that the run's current status may
// move to next. The read and write share one transaction so the check is
// atomic with the update.
func (s *SQLiteStore) transition(ctx context.Context, id, next, update string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read run status: %w", err)
	}

	if !model.ValidTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return tx.Commit()
}

// SetRunJobID records the compute backend's job id for a run.
func (s *SQLiteStore) SetRunJobID(ctx context.Context, id, jobID string) error {
	return s.updateRunByID(ctx, "UPDATE runs SET job_id = ? WHERE id = ?", jobID, id)
}

// SetRunOptimizedPrompt records the rewritten prompt for a run.
func (s *SQLiteStore) SetRunOptimizedPrompt(ctx context.Context, id, prompt string) error {
	return s.updateRunByID(ctx, "UPDATE runs SET optimized_prompt = ? WHERE id = ?", prompt, id)
}

// SetRunImagesTotal records the expected artifact count before uploads begin.
func (s *SQLiteStore) SetRunImagesTotal(ctx context.Context, id string, total int) error {
	return s.updateRunByID(ctx, "UPDATE runs SET images_total = ? WHERE id = ?", total, id)
}

// UpdateRunProgress persists the incremental upload state. images_completed
// is clamped to never move backward, so concurrent readers always observe a
// monotonically non-decreasing counter.
func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, id string, p RunProgress) error {
	names, err := toJSON(p.OutputNames)
	if err != nil {
		return err
	}
	paths, err := toJSON(p.StorePaths)
	if err != nil {
		return err
	}
	assets, err := toJSON(p.AssetIDs)
	if err != nil {
		return err
	}

	return s.updateRunByID(ctx,
		`UPDATE runs SET progress = ?, images_completed = MAX(images_completed, ?),
		 output_names = ?, store_paths = ?, asset_ids = ? WHERE id = ?`,
		p.Message, p.ImagesCompleted, names, paths, assets, id)
}

func (s *SQLiteStore) updateRunByID(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRunStats returns aggregate statistics over all runs. Status counts are
// keyed by canonical status, so legacy rows fold into "generating".
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{CountByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count runs by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[model.CanonicalStatus(status)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG((julianday(completed_at) - julianday(created_at)) * 86400000), 0)
		 FROM runs WHERE completed_at IS NOT NULL`).Scan(&stats.AvgDurationMS)
	if err != nil {
		return nil, fmt.Errorf("average run duration: %w", err)
	}

	return stats, nil
}

// CreateWorkflow inserts a new workflow version. The version number is
// assigned here as the group's next version; the first version of a group is
// always pinned, and pinning a later version unpins the previous one in the
// same transaction so each group has exactly one pinned version.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf *model.WorkflowDefinition) error {
	overrides, err := toJSON(wf.Overrides)
	if err != nil {
		return err
	}
	tags, err := toJSON(wf.Tags)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxVersion int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM workflows WHERE group_id = ?",
		wf.GroupID).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("read group version: %w", err)
	}
	wf.Version = maxVersion + 1

	if wf.Version == 1 {
		wf.Pinned = true
	} else if wf.Pinned {
		if _, err := tx.ExecContext(ctx,
			"UPDATE workflows SET pinned = 0 WHERE group_id = ?", wf.GroupID); err != nil {
			return fmt.Errorf("unpin previous versions: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (
			id, group_id, owner_id, version, pinned, graph, overrides,
			visibility, tags, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.GroupID, wf.OwnerID, wf.Version, wf.Pinned, string(wf.Graph),
		overrides, wf.Visibility, tags, wf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return tx.Commit()
}

const workflowColumns = `id, group_id, owner_id, version, pinned, graph,
	overrides, visibility, tags, created_at`

func scanWorkflow(row rowScanner) (*model.WorkflowDefinition, error) {
	wf := &model.WorkflowDefinition{}
	var graph string
	var overrides, tags sql.NullString
	err := row.Scan(
		&wf.ID, &wf.GroupID, &wf.OwnerID, &wf.Version, &wf.Pinned, &graph,
		&overrides, &wf.Visibility, &tags, &wf.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.Graph = json.RawMessage(graph)
	if err := fromJSON(overrides, &wf.Overrides); err != nil {
		return nil, err
	}
	if err := fromJSON(tags, &wf.Tags); err != nil {
		return nil, err
	}
	return wf, nil
}

// GetWorkflow retrieves a workflow version by ID.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// GetPinnedWorkflow retrieves the pinned version of a workflow group.
func (s *SQLiteStore) GetPinnedWorkflow(ctx context.Context, groupID string) (*model.WorkflowDefinition, error) {
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE group_id = ? AND pinned = 1`, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pinned workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns a page of workflow versions ordered by creation time
// DESC, along with the total count.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, limit, offset int) ([]*model.WorkflowDefinition, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*model.WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate workflows: %w", err)
	}

	return workflows, total, nil
}
