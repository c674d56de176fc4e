// Package postgres provides an engine store on PostgreSQL for workers
// that share executions across processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/store/postgres/migrations"
)

var _ engine.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Callers apply migrations themselves.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to databaseURL and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return New(pool), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateExecution(ctx context.Context, exec *engine.Execution) error {
	const query = `
INSERT INTO workflow_executions (
	workflow_id, workflow_type, input, state, waiting_on, wait_command, wake_at,
	status, result, error, version, created_at, updated_at, closed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		exec.WorkflowID,
		exec.WorkflowType,
		jsonArg(exec.Input),
		string(exec.State),
		namesArg(exec.WaitingOn),
		exec.WaitCommand,
		exec.WakeAt,
		jsonArg(exec.Status),
		jsonArg(exec.Result),
		exec.Error,
		exec.CreatedAt.UTC(),
		exec.UpdatedAt.UTC(),
		exec.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetExecution(ctx, exec.WorkflowID)
			if getErr == nil && existing.State.Closed() {
				return engine.ErrAlreadyClosed
			}
			return engine.ErrAlreadyStarted
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	exec.Version = 1
	return nil
}

func (s *Store) GetExecution(ctx context.Context, workflowID string) (*engine.Execution, error) {
	return s.getExecution(ctx, workflowID, false)
}

func (s *Store) UpdateExecution(ctx context.Context, exec *engine.Execution) error {
	const query = `
UPDATE workflow_executions SET
	state = $1,
	waiting_on = $2,
	wait_command = $3,
	wake_at = $4,
	status = $5,
	result = $6,
	error = $7,
	version = version + 1,
	updated_at = $8,
	closed_at = $9
WHERE workflow_id = $10 AND version = $11`

	tag, err := s.exec(ctx, query,
		string(exec.State),
		namesArg(exec.WaitingOn),
		exec.WaitCommand,
		exec.WakeAt,
		jsonArg(exec.Status),
		jsonArg(exec.Result),
		exec.Error,
		exec.UpdatedAt.UTC(),
		exec.ClosedAt,
		exec.WorkflowID,
		exec.Version,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.getExecution(ctx, exec.WorkflowID, false); errors.Is(err, engine.ErrNotFound) {
			return engine.ErrNotFound
		}
		return engine.ErrConflict
	}
	exec.Version++
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, opts engine.ListOpts) ([]*engine.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	var args []any
	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		args = append(args, states)
		query += ` WHERE state = ANY($1)`
	}
	query += ` ORDER BY created_at, workflow_id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
	const query = `
INSERT INTO workflow_events (
	workflow_id, type, command, name, attempt, payload, error, error_type,
	non_retryable, final, wake_at, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING seq`

	err := s.queryRow(ctx, query,
		event.WorkflowID,
		string(event.Type),
		event.Command,
		event.Name,
		event.Attempt,
		jsonArg(event.Payload),
		event.Error,
		event.ErrorType,
		event.NonRetryable,
		event.Final,
		event.WakeAt,
		event.CreatedAt.UTC(),
	).Scan(&event.Seq)
	if err != nil {
		if isForeignKeyViolation(err) {
			return engine.ErrNotFound
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, workflowID string) ([]*engine.Event, error) {
	const query = `
SELECT seq, workflow_id, type, command, name, attempt, payload, error, error_type,
	non_retryable, final, wake_at, created_at
FROM workflow_events
WHERE workflow_id = $1
ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	events := make([]*engine.Event, 0)
	for rows.Next() {
		var (
			ev     engine.Event
			evType string
		)
		if err := rows.Scan(
			&ev.Seq, &ev.WorkflowID, &evType, &ev.Command, &ev.Name, &ev.Attempt, &ev.Payload,
			&ev.Error, &ev.ErrorType, &ev.NonRetryable, &ev.Final, &ev.WakeAt, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = engine.EventType(evType)
		ev.CreatedAt = ev.CreatedAt.UTC()
		ev.WakeAt = utcPtr(ev.WakeAt)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return events, nil
}

// Transition locks the execution row for the duration of fn.
func (s *Store) Transition(ctx context.Context, workflowID string, fn engine.TransitionFunc) error {
	return withTx(ctx, s.pool, func(ctx context.Context) error {
		exec, err := s.getExecution(ctx, workflowID, true)
		if err != nil {
			return err
		}
		event, err := fn(exec)
		if err != nil {
			return err
		}
		if err := s.UpdateExecution(ctx, exec); err != nil {
			return err
		}
		if event != nil {
			event.WorkflowID = workflowID
			return s.AppendEvent(ctx, event)
		}
		return nil
	})
}

const executionColumns = `workflow_id, workflow_type, input, state, waiting_on, wait_command, wake_at,
	status, result, error, version, created_at, updated_at, closed_at`

func (s *Store) getExecution(ctx context.Context, workflowID string, forUpdate bool) (*engine.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE workflow_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	exec, err := scanExecution(s.queryRow(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

func scanExecution(row pgx.Row) (*engine.Execution, error) {
	var (
		exec  engine.Execution
		state string
	)
	if err := row.Scan(
		&exec.WorkflowID, &exec.WorkflowType, &exec.Input, &state, &exec.WaitingOn, &exec.WaitCommand, &exec.WakeAt,
		&exec.Status, &exec.Result, &exec.Error, &exec.Version, &exec.CreatedAt, &exec.UpdatedAt, &exec.ClosedAt,
	); err != nil {
		return nil, err
	}
	exec.State = engine.State(state)
	if len(exec.WaitingOn) == 0 {
		exec.WaitingOn = nil
	}
	exec.CreatedAt = exec.CreatedAt.UTC()
	exec.UpdatedAt = exec.UpdatedAt.UTC()
	exec.WakeAt = utcPtr(exec.WakeAt)
	exec.ClosedAt = utcPtr(exec.ClosedAt)
	return &exec, nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}

// jsonArg passes raw JSON as text so the server parses it into jsonb.
func jsonArg(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func namesArg(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
