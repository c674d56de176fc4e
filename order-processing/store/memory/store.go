// Package memory provides an in-process engine store. State lives as long
// as the Store value, so it survives engine restarts within one process
// but not process exits.
package memory

import (
	"context"
	"slices"
	"sync"

	"order-fulfillment-engine/order-processing/engine"
)

var _ engine.Store = (*Store)(nil)

type Store struct {
	mu         sync.Mutex
	executions map[string]*engine.Execution
	order      []string
	events     map[string][]*engine.Event
	seq        int64
}

func New() *Store {
	return &Store{
		executions: make(map[string]*engine.Execution),
		events:     make(map[string][]*engine.Event),
	}
}

func (s *Store) CreateExecution(ctx context.Context, exec *engine.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.executions[exec.WorkflowID]; ok {
		if existing.State.Closed() {
			return engine.ErrAlreadyClosed
		}
		return engine.ErrAlreadyStarted
	}
	exec.Version = 1
	s.executions[exec.WorkflowID] = exec.Clone()
	s.order = append(s.order, exec.WorkflowID)
	return nil
}

func (s *Store) GetExecution(ctx context.Context, workflowID string) (*engine.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[workflowID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return exec.Clone(), nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec *engine.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(exec)
}

func (s *Store) update(exec *engine.Execution) error {
	current, ok := s.executions[exec.WorkflowID]
	if !ok {
		return engine.ErrNotFound
	}
	if current.Version != exec.Version {
		return engine.ErrConflict
	}
	exec.Version++
	s.executions[exec.WorkflowID] = exec.Clone()
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, opts engine.ListOpts) ([]*engine.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*engine.Execution
	for _, id := range s.order {
		exec := s.executions[id]
		if len(opts.States) > 0 && !slices.Contains(opts.States, exec.State) {
			continue
		}
		out = append(out, exec.Clone())
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, event *engine.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[event.WorkflowID]; !ok {
		return engine.ErrNotFound
	}
	s.append(event)
	return nil
}

func (s *Store) append(event *engine.Event) {
	s.seq++
	event.Seq = s.seq
	ev := *event
	ev.Payload = slices.Clone(event.Payload)
	s.events[event.WorkflowID] = append(s.events[event.WorkflowID], &ev)
}

func (s *Store) History(ctx context.Context, workflowID string) ([]*engine.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[workflowID]
	out := make([]*engine.Event, len(events))
	for i, ev := range events {
		c := *ev
		c.Payload = slices.Clone(ev.Payload)
		out[i] = &c
	}
	return out, nil
}

func (s *Store) Transition(ctx context.Context, workflowID string, fn engine.TransitionFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.executions[workflowID]
	if !ok {
		return engine.ErrNotFound
	}
	exec := current.Clone()
	event, err := fn(exec)
	if err != nil {
		return err
	}
	if err := s.update(exec); err != nil {
		return err
	}
	if event != nil {
		event.WorkflowID = workflowID
		s.append(event)
	}
	return nil
}
