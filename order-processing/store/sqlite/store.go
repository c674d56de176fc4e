// Package sqlite provides a durable engine store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/store/sqlite/migrations"
)

var _ engine.Store = (*Store)(nil)

// Store persists executions and history in SQLite.
type Store struct {
	sqlDB *sql.DB
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers; transitions are read-modify-write.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) CreateExecution(ctx context.Context, exec *engine.Execution) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM workflow_executions WHERE workflow_id = ?`, exec.WorkflowID).Scan(&state)
		switch {
		case err == nil:
			if engine.State(state).Closed() {
				return engine.ErrAlreadyClosed
			}
			return engine.ErrAlreadyStarted
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check execution: %w", err)
		}

		waitingOn, err := encodeNames(exec.WaitingOn)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO workflow_executions (
	workflow_id,
	workflow_type,
	input,
	state,
	waiting_on,
	wait_command,
	wake_at,
	status,
	result,
	error,
	version,
	created_at,
	updated_at,
	closed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			exec.WorkflowID,
			exec.WorkflowType,
			string(exec.Input),
			string(exec.State),
			waitingOn,
			exec.WaitCommand,
			toMillisPtr(exec.WakeAt),
			string(exec.Status),
			string(exec.Result),
			exec.Error,
			1,
			toMillis(exec.CreatedAt),
			toMillis(exec.UpdatedAt),
			toMillisPtr(exec.ClosedAt),
		)
		if err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		exec.Version = 1
		return nil
	})
}

func (s *Store) GetExecution(ctx context.Context, workflowID string) (*engine.Execution, error) {
	return getExecution(ctx, s.sqlDB, workflowID)
}

func (s *Store) UpdateExecution(ctx context.Context, exec *engine.Execution) error {
	return updateExecution(ctx, s.sqlDB, exec)
}

func (s *Store) ListExecutions(ctx context.Context, opts engine.ListOpts) ([]*engine.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	var args []any
	if len(opts.States) > 0 {
		placeholders := make([]string, len(opts.States))
		for i, st := range opts.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, rowid`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*engine.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, event *engine.Event) error {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM workflow_executions WHERE workflow_id = ?`, event.WorkflowID).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.ErrNotFound
		}
		return fmt.Errorf("check execution: %w", err)
	}
	return appendEvent(ctx, s.sqlDB, event)
}

func (s *Store) History(ctx context.Context, workflowID string) ([]*engine.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	seq,
	workflow_id,
	type,
	command,
	name,
	attempt,
	payload,
	error,
	error_type,
	non_retryable,
	final,
	wake_at,
	created_at
FROM workflow_events
WHERE workflow_id = ?
ORDER BY seq
`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	events := make([]*engine.Event, 0)
	for rows.Next() {
		var (
			ev           engine.Event
			evType       string
			payload      string
			nonRetryable bool
			final        bool
			wakeAt       sql.NullInt64
			createdAt    int64
		)
		if err := rows.Scan(
			&ev.Seq,
			&ev.WorkflowID,
			&evType,
			&ev.Command,
			&ev.Name,
			&ev.Attempt,
			&payload,
			&ev.Error,
			&ev.ErrorType,
			&nonRetryable,
			&final,
			&wakeAt,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = engine.EventType(evType)
		ev.Payload = rawJSON(payload)
		ev.NonRetryable = nonRetryable
		ev.Final = final
		ev.WakeAt = fromNullMillis(wakeAt)
		ev.CreatedAt = fromMillis(createdAt)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return events, nil
}

func (s *Store) Transition(ctx context.Context, workflowID string, fn engine.TransitionFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exec, err := getExecution(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		event, err := fn(exec)
		if err != nil {
			return err
		}
		if err := updateExecution(ctx, tx, exec); err != nil {
			return err
		}
		if event != nil {
			event.WorkflowID = workflowID
			return appendEvent(ctx, tx, event)
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const executionColumns = `
	workflow_id,
	workflow_type,
	input,
	state,
	waiting_on,
	wait_command,
	wake_at,
	status,
	result,
	error,
	version,
	created_at,
	updated_at,
	closed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*engine.Execution, error) {
	var (
		exec      engine.Execution
		input     string
		state     string
		waitingOn string
		wakeAt    sql.NullInt64
		status    string
		result    string
		createdAt int64
		updatedAt int64
		closedAt  sql.NullInt64
	)
	if err := row.Scan(
		&exec.WorkflowID,
		&exec.WorkflowType,
		&input,
		&state,
		&waitingOn,
		&exec.WaitCommand,
		&wakeAt,
		&status,
		&result,
		&exec.Error,
		&exec.Version,
		&createdAt,
		&updatedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}
	exec.Input = rawJSON(input)
	exec.State = engine.State(state)
	if waitingOn != "" {
		if err := json.Unmarshal([]byte(waitingOn), &exec.WaitingOn); err != nil {
			return nil, fmt.Errorf("decode waiting_on: %w", err)
		}
	}
	exec.WakeAt = fromNullMillis(wakeAt)
	exec.Status = rawJSON(status)
	exec.Result = rawJSON(result)
	exec.CreatedAt = fromMillis(createdAt)
	exec.UpdatedAt = fromMillis(updatedAt)
	exec.ClosedAt = fromNullMillis(closedAt)
	return &exec, nil
}

func getExecution(ctx context.Context, q querier, workflowID string) (*engine.Execution, error) {
	row := q.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE workflow_id = ?`, workflowID)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

func updateExecution(ctx context.Context, q querier, exec *engine.Execution) error {
	waitingOn, err := encodeNames(exec.WaitingOn)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
UPDATE workflow_executions SET
	state = ?,
	waiting_on = ?,
	wait_command = ?,
	wake_at = ?,
	status = ?,
	result = ?,
	error = ?,
	version = version + 1,
	updated_at = ?,
	closed_at = ?
WHERE workflow_id = ? AND version = ?
`,
		string(exec.State),
		waitingOn,
		exec.WaitCommand,
		toMillisPtr(exec.WakeAt),
		string(exec.Status),
		string(exec.Result),
		exec.Error,
		toMillis(exec.UpdatedAt),
		toMillisPtr(exec.ClosedAt),
		exec.WorkflowID,
		exec.Version,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n == 0 {
		var found int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM workflow_executions WHERE workflow_id = ?`, exec.WorkflowID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return engine.ErrNotFound
		}
		return engine.ErrConflict
	}
	exec.Version++
	return nil
}

func appendEvent(ctx context.Context, q querier, event *engine.Event) error {
	res, err := q.ExecContext(ctx, `
INSERT INTO workflow_events (
	workflow_id,
	type,
	command,
	name,
	attempt,
	payload,
	error,
	error_type,
	non_retryable,
	final,
	wake_at,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		event.WorkflowID,
		string(event.Type),
		event.Command,
		event.Name,
		event.Attempt,
		string(event.Payload),
		event.Error,
		event.ErrorType,
		event.NonRetryable,
		event.Final,
		toMillisPtr(event.WakeAt),
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	event.Seq = seq
	return nil
}

func encodeNames(names []string) (string, error) {
	if len(names) == 0 {
		return "", nil
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode waiting_on: %w", err)
	}
	return string(data), nil
}

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func toMillisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
