// Package storetest is a conformance suite shared by engine.Store backends.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment-engine/order-processing/engine"
)

// Factory returns an empty store. The suite never reuses a store across
// subtests.
type Factory func(t *testing.T) engine.Store

// Run exercises the engine.Store contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("DuplicateCreate", func(t *testing.T) { testDuplicateCreate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateVersioning", func(t *testing.T) { testUpdateVersioning(t, newStore(t)) })
	t.Run("ListByState", func(t *testing.T) { testListByState(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("Transition", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("TransitionAbort", func(t *testing.T) { testTransitionAbort(t, newStore(t)) })
	t.Run("TransitionMissing", func(t *testing.T) { testTransitionMissing(t, newStore(t)) })
	t.Run("ConcurrentTransitions", func(t *testing.T) { testConcurrentTransitions(t, newStore(t)) })
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newExecution(id string, created time.Time) *engine.Execution {
	return &engine.Execution{
		WorkflowID:   id,
		WorkflowType: "OrderFulfillmentWorkflow",
		Input:        json.RawMessage(`{"order_id":"` + id + `"}`),
		State:        engine.StateRunning,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func testCreateAndGet(t *testing.T, s engine.Store) {
	ctx := context.Background()
	exec := newExecution("order-1", epoch)
	require.NoError(t, s.CreateExecution(ctx, exec))

	got, err := s.GetExecution(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "OrderFulfillmentWorkflow", got.WorkflowType)
	assert.Equal(t, engine.StateRunning, got.State)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(got.Input))
	assert.Equal(t, exec.Version, got.Version)
	assert.True(t, epoch.Equal(got.CreatedAt))
	assert.Nil(t, got.WakeAt)
	assert.Nil(t, got.ClosedAt)
}

func testDuplicateCreate(t *testing.T, s engine.Store) {
	ctx := context.Background()
	exec := newExecution("order-1", epoch)
	require.NoError(t, s.CreateExecution(ctx, exec))

	err := s.CreateExecution(ctx, newExecution("order-1", epoch))
	require.ErrorIs(t, err, engine.ErrAlreadyStarted)

	closed := epoch.Add(time.Minute)
	exec.State = engine.StateCompleted
	exec.ClosedAt = &closed
	require.NoError(t, s.UpdateExecution(ctx, exec))

	err = s.CreateExecution(ctx, newExecution("order-1", epoch))
	require.ErrorIs(t, err, engine.ErrAlreadyClosed)
}

func testGetMissing(t *testing.T, s engine.Store) {
	_, err := s.GetExecution(context.Background(), "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func testUpdateVersioning(t *testing.T, s engine.Store) {
	ctx := context.Background()
	exec := newExecution("order-1", epoch)
	require.NoError(t, s.CreateExecution(ctx, exec))

	stale := exec.Clone()

	wake := epoch.Add(time.Hour)
	exec.State = engine.StateWaiting
	exec.WaitingOn = []string{"manual-review-decision"}
	exec.WaitCommand = 3
	exec.WakeAt = &wake
	exec.Status = json.RawMessage(`{"status":"manual_review"}`)
	before := exec.Version
	require.NoError(t, s.UpdateExecution(ctx, exec))
	assert.Equal(t, before+1, exec.Version)

	got, err := s.GetExecution(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StateWaiting, got.State)
	assert.Equal(t, []string{"manual-review-decision"}, got.WaitingOn)
	assert.Equal(t, 3, got.WaitCommand)
	require.NotNil(t, got.WakeAt)
	assert.True(t, wake.Equal(*got.WakeAt))
	assert.JSONEq(t, `{"status":"manual_review"}`, string(got.Status))
	assert.Equal(t, exec.Version, got.Version)

	stale.State = engine.StateFailed
	require.ErrorIs(t, s.UpdateExecution(ctx, stale), engine.ErrConflict)

	missing := newExecution("missing", epoch)
	require.Error(t, s.UpdateExecution(ctx, missing))
}

func testListByState(t *testing.T, s engine.Store) {
	ctx := context.Background()
	for i, id := range []string{"order-a", "order-b", "order-c"} {
		require.NoError(t, s.CreateExecution(ctx, newExecution(id, epoch.Add(time.Duration(i)*time.Second))))
	}
	b, err := s.GetExecution(ctx, "order-b")
	require.NoError(t, err)
	b.State = engine.StateWaiting
	b.WaitingOn = []string{"manual-review-decision"}
	require.NoError(t, s.UpdateExecution(ctx, b))

	all, err := s.ListExecutions(ctx, engine.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "order-a", all[0].WorkflowID)
	assert.Equal(t, "order-c", all[2].WorkflowID)

	running, err := s.ListExecutions(ctx, engine.ListOpts{States: []engine.State{engine.StateRunning}})
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "order-a", running[0].WorkflowID)
	assert.Equal(t, "order-c", running[1].WorkflowID)

	limited, err := s.ListExecutions(ctx, engine.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "order-a", limited[0].WorkflowID)
}

func testHistory(t *testing.T, s engine.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, newExecution("order-1", epoch)))
	require.NoError(t, s.CreateExecution(ctx, newExecution("order-2", epoch)))

	first := &engine.Event{
		WorkflowID: "order-1", Type: engine.EventActivityStarted, Command: 0,
		Name: "ValidateOrder", Attempt: 1, Payload: json.RawMessage(`{"a":1}`), CreatedAt: epoch,
	}
	second := &engine.Event{
		WorkflowID: "order-1", Type: engine.EventActivityFailed, Command: 0, Name: "ValidateOrder",
		Attempt: 1, Error: "boom", ErrorType: "TransientError", NonRetryable: true, Final: true, CreatedAt: epoch,
	}
	other := &engine.Event{WorkflowID: "order-2", Type: engine.EventMarkerRecorded, Command: 0, Name: "now", CreatedAt: epoch}
	require.NoError(t, s.AppendEvent(ctx, first))
	require.NoError(t, s.AppendEvent(ctx, other))
	require.NoError(t, s.AppendEvent(ctx, second))
	assert.Less(t, first.Seq, second.Seq)

	events, err := s.History(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, engine.EventActivityStarted, events[0].Type)
	assert.Equal(t, "ValidateOrder", events[0].Name)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Payload))
	assert.Equal(t, engine.EventActivityFailed, events[1].Type)
	assert.Equal(t, "boom", events[1].Error)
	assert.Equal(t, "TransientError", events[1].ErrorType)
	assert.True(t, events[1].NonRetryable)
	assert.True(t, events[1].Final)

	empty, err := s.History(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.ErrorIs(t, s.AppendEvent(ctx, &engine.Event{WorkflowID: "missing", Type: engine.EventMarkerRecorded}), engine.ErrNotFound)
}

func testTransition(t *testing.T, s engine.Store) {
	ctx := context.Background()
	exec := newExecution("order-1", epoch)
	require.NoError(t, s.CreateExecution(ctx, exec))
	exec.State = engine.StateWaiting
	exec.WaitingOn = []string{"manual-review-decision"}
	exec.WaitCommand = 2
	require.NoError(t, s.UpdateExecution(ctx, exec))

	err := s.Transition(ctx, "order-1", func(e *engine.Execution) (*engine.Event, error) {
		require.True(t, e.Waits("manual-review-decision"))
		e.State = engine.StateRunning
		e.WaitingOn = nil
		return &engine.Event{
			Type: engine.EventSignalReceived, Command: e.WaitCommand,
			Name: "manual-review-decision", Payload: json.RawMessage(`"approve"`), CreatedAt: epoch,
		}, nil
	})
	require.NoError(t, err)

	got, err := s.GetExecution(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StateRunning, got.State)
	assert.Empty(t, got.WaitingOn)
	assert.Equal(t, exec.Version+1, got.Version)

	events, err := s.History(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "order-1", events[0].WorkflowID)
	assert.Equal(t, 2, events[0].Command)
	assert.JSONEq(t, `"approve"`, string(events[0].Payload))
}

func testTransitionAbort(t *testing.T, s engine.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, newExecution("order-1", epoch)))

	err := s.Transition(ctx, "order-1", func(e *engine.Execution) (*engine.Event, error) {
		e.State = engine.StateFailed
		return nil, engine.ErrNotWaiting
	})
	require.ErrorIs(t, err, engine.ErrNotWaiting)

	got, err := s.GetExecution(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StateRunning, got.State)

	events, err := s.History(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func testTransitionMissing(t *testing.T, s engine.Store) {
	err := s.Transition(context.Background(), "missing", func(*engine.Execution) (*engine.Event, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, engine.ErrNotFound)
}

// A waiting execution accepts exactly one of many concurrent signals.
func testConcurrentTransitions(t *testing.T, s engine.Store) {
	ctx := context.Background()
	exec := newExecution("order-1", epoch)
	require.NoError(t, s.CreateExecution(ctx, exec))
	exec.State = engine.StateWaiting
	exec.WaitingOn = []string{"manual-review-decision"}
	require.NoError(t, s.UpdateExecution(ctx, exec))

	const senders = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transition(ctx, "order-1", func(e *engine.Execution) (*engine.Event, error) {
				if !e.Waits("manual-review-decision") {
					return nil, engine.ErrNotWaiting
				}
				e.State = engine.StateRunning
				e.WaitingOn = nil
				return &engine.Event{Type: engine.EventSignalReceived, Name: "manual-review-decision", CreatedAt: epoch}, nil
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, engine.ErrNotWaiting) && !errors.Is(err, engine.ErrConflict) {
				t.Errorf("unexpected transition error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	events, err := s.History(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
