package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-pipeline"
)

// SQLStore persists executions through database/sql. The full record lives in
// a JSON document column; the guard and projection columns are extracted so
// transitions and stage queries never deserialize the whole run.
type SQLStore struct {
	db    *sql.DB
	table string
}

// NewSQLStore builds a store over the given DB and table name.
func NewSQLStore(db *sql.DB, table string) *SQLStore {
	if table == "" {
		table = "node_executions"
	}
	return &SQLStore{db: db, table: table}
}

// Save inserts a new execution with version 1.
func (s *SQLStore) Save(ctx context.Context, ne *NodeExecution) (*NodeExecution, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sql store not configured")
	}
	if ne == nil || strings.TrimSpace(ne.UUID) == "" {
		return nil, ErrExecutionNotFound
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	rec := ne.Clone()
	rec.Version = 1
	rec.UpdatedAt = time.Now().UTC()
	document, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`INSERT INTO %s (
		uuid, plan_execution_id, node_id, status, is_stage, old_retry,
		start_ts, end_ts, version, document, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	now := rec.UpdatedAt.Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, q,
		rec.UUID,
		rec.Ambiance.PlanExecutionID,
		rec.NodeID,
		string(rec.Status),
		boolToInt(rec.IsStage()),
		boolToInt(rec.OldRetry),
		rec.StartTsMillis,
		rec.EndTsMillis,
		rec.Version,
		string(document),
		now,
		now,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateID
		}
		return nil, err
	}
	return rec.Clone(), nil
}

// Get reads one execution by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*NodeExecution, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sql store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s.get(ctx, s.db, id)
}

// Update applies ops under the version lock without a status guard.
func (s *SQLStore) Update(ctx context.Context, id string, ops Ops) (*NodeExecution, error) {
	return s.guardedUpdate(ctx, id, "", ops, nil)
}

// UpdateStatusWithOps transitions with an allowed-from guard. A rejected
// guard returns (nil, nil).
func (s *SQLStore) UpdateStatusWithOps(ctx context.Context, id string, to pipeline.Status, ops Ops, allowedFrom pipeline.StatusSet) (*NodeExecution, error) {
	return s.guardedUpdate(ctx, id, to, ops, allowedFrom)
}

func (s *SQLStore) guardedUpdate(ctx context.Context, id string, to pipeline.Status, ops Ops, allowedFrom pipeline.StatusSet) (*NodeExecution, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sql store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	rec, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if to != "" && len(allowedFrom) > 0 && !allowedFrom.Contains(rec.Status) {
		return nil, nil
	}

	next := rec.Clone()
	if to != "" {
		next.Status = to
	}
	if ops != nil {
		ops(next)
	}
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()

	document, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`UPDATE %s
		SET status=?, is_stage=?, old_retry=?, start_ts=?, end_ts=?, version=?, document=?, updated_at=?
		WHERE uuid=? AND version=?`, s.table)
	result, err := tx.ExecContext(ctx, q,
		string(next.Status),
		boolToInt(next.IsStage()),
		boolToInt(next.OldRetry),
		next.StartTsMillis,
		next.EndTsMillis,
		next.Version,
		string(document),
		next.UpdatedAt.Format(time.RFC3339Nano),
		id,
		rec.Version,
	)
	if err != nil {
		return nil, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	tx = nil
	return next, nil
}

// FetchByPlanExecution returns the run's executions in creation order.
func (s *SQLStore) FetchByPlanExecution(ctx context.Context, planExecutionID string) ([]*NodeExecution, error) {
	return s.fetch(ctx, `WHERE plan_execution_id = ? ORDER BY created_at ASC, uuid ASC`, planExecutionID)
}

// FetchStageExecutions returns live stage executions in creation order.
func (s *SQLStore) FetchStageExecutions(ctx context.Context, planExecutionID string) ([]*NodeExecution, error) {
	return s.fetch(ctx, `WHERE plan_execution_id = ? AND is_stage = 1 AND old_retry = 0 ORDER BY created_at ASC, uuid ASC`, planExecutionID)
}

// FetchActiveOlderThan returns non-terminal executions started at or before
// the cutoff, oldest first.
func (s *SQLStore) FetchActiveOlderThan(ctx context.Context, cutoff time.Time) ([]*NodeExecution, error) {
	terminal := pipeline.TerminalStatuses()
	placeholders := make([]string, 0, len(terminal))
	args := []any{}
	for status := range terminal {
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}
	clause := fmt.Sprintf(`WHERE status NOT IN (%s) AND start_ts > 0 AND start_ts <= ? ORDER BY start_ts ASC`,
		strings.Join(placeholders, ", "))
	args = append(args, cutoff.UnixMilli())
	return s.fetch(ctx, clause, args...)
}

func (s *SQLStore) fetch(ctx context.Context, clause string, args ...any) ([]*NodeExecution, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sql store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT document FROM %s %s`, s.table, clause)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NodeExecution
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}
		var rec NodeExecution
		if err := json.Unmarshal([]byte(document), &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type sqlQueryContext interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q sqlQueryContext, id string) (*NodeExecution, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE uuid = ?`, s.table)
	var document string
	err := q.QueryRowContext(ctx, query, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec NodeExecution
	if err := json.Unmarshal([]byte(document), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		uuid TEXT PRIMARY KEY,
		plan_execution_id TEXT NOT NULL,
		node_id TEXT,
		status TEXT NOT NULL,
		is_stage INTEGER NOT NULL DEFAULT 0,
		old_retry INTEGER NOT NULL DEFAULT 0,
		start_ts INTEGER,
		end_ts INTEGER,
		version INTEGER NOT NULL,
		document TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.table)
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
