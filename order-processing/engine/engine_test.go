package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/store/memory"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string { return e.msg }

type permanentErr struct{ msg string }

func (e *permanentErr) Error() string { return e.msg }

func fastOptions() engine.Options {
	return engine.Options{
		Workers: 2,
		ActivityOptions: engine.ActivityOptions{
			StartToCloseTimeout: time.Second,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:        time.Millisecond,
				BackoffCoefficient:     2.0,
				MaximumInterval:        5 * time.Millisecond,
				MaximumAttempts:        3,
				NonRetryableErrorTypes: []string{"permanentErr"},
			},
		},
	}
}

func startEngine(t *testing.T, e *engine.Engine) {
	t.Helper()
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
}

func waitState(t *testing.T, e *engine.Engine, id string, state engine.State) *engine.Execution {
	t.Helper()
	var exec *engine.Execution
	require.Eventually(t, func() bool {
		got, err := e.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		exec = got
		return got.State == state
	}, waitFor, tick)
	return exec
}

func getResult(t *testing.T, h *engine.Handle, out any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return h.Get(ctx, out)
}

// failure summarizes the activity error a workflow observed.
type failure struct {
	Type         string
	Attempt      int
	NonRetryable bool
}

func failureOf(err error) (failure, error) {
	var actErr *engine.ActivityError
	if !errors.As(err, &actErr) {
		return failure{}, err
	}
	return failure{Type: actErr.Type, Attempt: actErr.Attempt, NonRetryable: actErr.NonRetryable}, nil
}

func TestCompletedActivitiesAreReplayedNotReinvoked(t *testing.T) {
	var first, second atomic.Int32
	e := engine.New(memory.New(), fastOptions())
	e.RegisterActivity("First", engine.Activity(func(ctx context.Context, in string) (string, error) {
		first.Add(1)
		return "first:" + in, nil
	}))
	e.RegisterActivity("Second", engine.Activity(func(ctx context.Context, in string) (string, error) {
		second.Add(1)
		return "second:" + in, nil
	}))
	e.RegisterWorkflow("TwoStep", engine.Workflow(func(ctx *engine.Context, in string) (string, error) {
		var a string
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "First", in, &a); err != nil {
			return "", err
		}
		sig, err := ctx.AwaitSignal(0, "go")
		if err != nil {
			return "", err
		}
		var b string
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "Second", sig.Payload, &b); err != nil {
			return "", err
		}
		return a + "|" + b, nil
	}))
	startEngine(t, e)

	ctx := context.Background()
	h, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "wf-1", Workflow: "TwoStep"}, "x")
	require.NoError(t, err)

	exec := waitState(t, e, "wf-1", engine.StateWaiting)
	assert.Equal(t, []string{"go"}, exec.WaitingOn)
	require.NoError(t, e.Signal(ctx, "wf-1", "go", "y"))

	var out string
	require.NoError(t, getResult(t, h, &out))
	assert.Equal(t, "first:x|second:y", out)
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())

	history, err := e.History(ctx, "wf-1")
	require.NoError(t, err)
	var types []engine.EventType
	for _, ev := range history {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []engine.EventType{
		engine.EventActivityStarted,
		engine.EventActivityCompleted,
		engine.EventWaitStarted,
		engine.EventSignalReceived,
		engine.EventActivityStarted,
		engine.EventActivityCompleted,
	}, types)
}

func TestRetryableFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	e := engine.New(memory.New(), fastOptions())
	e.RegisterActivity("Flaky", engine.Activity(func(ctx context.Context, _ struct{}) (int, error) {
		n := calls.Add(1)
		info, ok := engine.GetActivityInfo(ctx)
		if !ok || info.Attempt != int(n) {
			return 0, &permanentErr{msg: "unexpected attempt number"}
		}
		if n < 3 {
			return 0, &transientErr{msg: "gateway timeout"}
		}
		return info.Attempt, nil
	}))
	e.RegisterWorkflow("Retry", engine.Workflow(func(ctx *engine.Context, _ struct{}) (int, error) {
		var attempt int
		err := ctx.ExecuteActivity(engine.ActivityOptions{}, "Flaky", struct{}{}, &attempt)
		return attempt, err
	}))
	startEngine(t, e)

	h, err := e.StartWorkflow(context.Background(), engine.StartOptions{ID: "wf-retry", Workflow: "Retry"}, struct{}{})
	require.NoError(t, err)

	var attempt int
	require.NoError(t, getResult(t, h, &attempt))
	assert.Equal(t, 3, attempt)

	history, err := e.History(context.Background(), "wf-retry")
	require.NoError(t, err)
	var failed int
	for _, ev := range history {
		if ev.Type == engine.EventActivityFailed {
			failed++
			assert.False(t, ev.Final)
			assert.Equal(t, "transientErr", ev.ErrorType)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestActivityFailures(t *testing.T) {
	tests := []struct {
		name    string
		opts    engine.ActivityOptions
		fail    func(ctx context.Context) error
		want    failure
		invokes int32
	}{
		{
			name:    "non-retryable type name",
			fail:    func(context.Context) error { return &permanentErr{msg: "card stolen"} },
			want:    failure{Type: "permanentErr", Attempt: 1, NonRetryable: true},
			invokes: 1,
		},
		{
			name: "non-retryable application error",
			fail: func(context.Context) error {
				return temporal.NewNonRetryableApplicationError("bad input", "InputError", nil)
			},
			want:    failure{Type: "InputError", Attempt: 1, NonRetryable: true},
			invokes: 1,
		},
		{
			name:    "wrapped non-retryable",
			fail:    func(context.Context) error { return fmt.Errorf("charge: %w", &permanentErr{msg: "closed account"}) },
			want:    failure{Type: "permanentErr", Attempt: 1, NonRetryable: true},
			invokes: 1,
		},
		{
			name:    "retries exhausted",
			fail:    func(context.Context) error { return &transientErr{msg: "unavailable"} },
			want:    failure{Type: "transientErr", Attempt: 3},
			invokes: 3,
		},
		{
			name: "attempt timeout",
			opts: engine.ActivityOptions{
				StartToCloseTimeout: 20 * time.Millisecond,
				RetryPolicy:         &temporal.RetryPolicy{InitialInterval: time.Millisecond, MaximumAttempts: 2},
			},
			fail: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			want:    failure{Type: "deadlineExceededError", Attempt: 2},
			invokes: 2,
		},
		{
			name:    "panic",
			fail:    func(context.Context) error { panic("boom") },
			want:    failure{Type: "errorString", Attempt: 3},
			invokes: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var invokes atomic.Int32
			e := engine.New(memory.New(), fastOptions())
			e.RegisterActivity("Fail", engine.ActivityNoResult(func(ctx context.Context, _ struct{}) error {
				invokes.Add(1)
				return tt.fail(ctx)
			}))
			e.RegisterWorkflow("Failing", engine.Workflow(func(ctx *engine.Context, _ struct{}) (failure, error) {
				err := ctx.ExecuteActivity(tt.opts, "Fail", struct{}{}, nil)
				if err == nil {
					return failure{}, errors.New("activity unexpectedly succeeded")
				}
				return failureOf(err)
			}))
			startEngine(t, e)

			h, err := e.StartWorkflow(context.Background(), engine.StartOptions{ID: "wf", Workflow: "Failing"}, nil)
			require.NoError(t, err)

			var got failure
			require.NoError(t, getResult(t, h, &got))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.invokes, invokes.Load())
		})
	}
}

func TestActivityErrorIsStableAcrossReplay(t *testing.T) {
	var invokes atomic.Int32
	e := engine.New(memory.New(), fastOptions())
	e.RegisterActivity("Fail", engine.ActivityNoResult(func(context.Context, struct{}) error {
		invokes.Add(1)
		return &permanentErr{msg: "declined"}
	}))
	e.RegisterWorkflow("FailThenWait", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		err := ctx.ExecuteActivity(engine.ActivityOptions{}, "Fail", struct{}{}, nil)
		if _, werr := ctx.AwaitSignal(0, "go"); werr != nil {
			return "", werr
		}
		return err.Error(), nil
	}))
	startEngine(t, e)

	ctx := context.Background()
	h, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "wf", Workflow: "FailThenWait"}, nil)
	require.NoError(t, err)
	waitState(t, e, "wf", engine.StateWaiting)
	require.NoError(t, e.Signal(ctx, "wf", "go", ""))

	var msg string
	require.NoError(t, getResult(t, h, &msg))
	assert.Equal(t, "activity Fail failed after 1 attempt(s): declined", msg)
	assert.Equal(t, int32(1), invokes.Load())
}

func TestSignalDelivery(t *testing.T) {
	e := engine.New(memory.New(), fastOptions())
	release := make(chan struct{})
	e.RegisterActivity("Block", engine.ActivityNoResult(func(ctx context.Context, _ struct{}) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	e.RegisterWorkflow("Review", engine.Workflow(func(ctx *engine.Context, _ struct{}) (engine.Signal, error) {
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "Block", nil, nil); err != nil {
			return engine.Signal{}, err
		}
		return ctx.AwaitSignal(0, "approve", "reject")
	}))
	startEngine(t, e)

	ctx := context.Background()
	require.ErrorIs(t, e.Signal(ctx, "missing", "approve", ""), engine.ErrNotFound)

	h, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "wf", Workflow: "Review"}, nil)
	require.NoError(t, err)

	require.ErrorIs(t, e.Signal(ctx, "wf", "approve", "early"), engine.ErrNotWaiting)
	close(release)

	waitState(t, e, "wf", engine.StateWaiting)
	require.ErrorIs(t, e.Signal(ctx, "wf", "unknown", ""), engine.ErrNotWaiting)
	require.NoError(t, e.Signal(ctx, "wf", "reject", "fraud"))
	require.ErrorIs(t, e.Signal(ctx, "wf", "approve", "late"), engine.ErrNotWaiting)

	var sig engine.Signal
	require.NoError(t, getResult(t, h, &sig))
	assert.Equal(t, engine.Signal{Name: "reject", Payload: "fraud"}, sig)
}

func TestConcurrentSignalsFirstWins(t *testing.T) {
	e := engine.New(memory.New(), fastOptions())
	e.RegisterWorkflow("Wait", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		sig, err := ctx.AwaitSignal(0, "decision")
		return sig.Payload, err
	}))
	startEngine(t, e)

	ctx := context.Background()
	h, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "wf", Workflow: "Wait"}, nil)
	require.NoError(t, err)
	waitState(t, e, "wf", engine.StateWaiting)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []string
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := fmt.Sprintf("p%d", i)
			if err := e.Signal(ctx, "wf", "decision", payload); err == nil {
				mu.Lock()
				accepted = append(accepted, payload)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, engine.ErrNotWaiting)
			}
		}()
	}
	wg.Wait()
	require.Len(t, accepted, 1)

	var out string
	require.NoError(t, getResult(t, h, &out))
	assert.Equal(t, accepted[0], out)
}

func TestOneExecutionPerWorkflowID(t *testing.T) {
	e := engine.New(memory.New(), fastOptions())
	e.RegisterWorkflow("Wait", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		sig, err := ctx.AwaitSignal(0, "done")
		return sig.Payload, err
	}))
	startEngine(t, e)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "order-1", Workflow: "Wait"}, nil)
			if err == nil {
				started.Add(1)
				return
			}
			assert.ErrorIs(t, err, engine.ErrAlreadyStarted)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), started.Load())

	waitState(t, e, "order-1", engine.StateWaiting)
	require.NoError(t, e.Signal(ctx, "order-1", "done", "ok"))
	waitState(t, e, "order-1", engine.StateCompleted)

	_, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "order-1", Workflow: "Wait"}, nil)
	require.ErrorIs(t, err, engine.ErrAlreadyClosed)

	_, err = e.StartWorkflow(ctx, engine.StartOptions{ID: "order-2", Workflow: "Nope"}, nil)
	require.ErrorIs(t, err, engine.ErrUnknownWorkflow)
	_, err = e.StartWorkflow(ctx, engine.StartOptions{Workflow: "Wait"}, nil)
	require.Error(t, err)
}

func TestWorkflowFailureSurfacesFromHandle(t *testing.T) {
	e := engine.New(memory.New(), fastOptions())
	e.RegisterWorkflow("Broken", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		return "", errors.New("order data corrupt")
	}))
	e.RegisterWorkflow("Panics", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		panic("unexpected nil")
	}))
	e.RegisterWorkflow("Unknown", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		return "", ctx.ExecuteActivity(engine.ActivityOptions{}, "NotRegistered", nil, nil)
	}))
	startEngine(t, e)

	for workflow, want := range map[string]string{
		"Broken":  "order data corrupt",
		"Panics":  "workflow panicked: unexpected nil",
		"Unknown": "activity not registered",
	} {
		h, err := e.StartWorkflow(context.Background(), engine.StartOptions{ID: "wf-" + workflow, Workflow: workflow}, nil)
		require.NoError(t, err)

		err = getResult(t, h, nil)
		var wfErr *engine.WorkflowError
		require.ErrorAs(t, err, &wfErr, workflow)
		assert.Equal(t, "wf-"+workflow, wfErr.WorkflowID)
		assert.Contains(t, wfErr.Message, want)

		exec, err := e.GetStatus(context.Background(), "wf-"+workflow)
		require.NoError(t, err)
		assert.Equal(t, engine.StateFailed, exec.State)
		assert.NotNil(t, exec.ClosedAt)
	}

	_, err := e.GetStatus(context.Background(), "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
	_, err = e.History(context.Background(), "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCrashMidActivityResumesWithNextAttempt(t *testing.T) {
	store := memory.New()
	var before atomic.Int32
	registerBefore := func(e *engine.Engine) {
		e.RegisterActivity("Before", engine.Activity(func(context.Context, struct{}) (string, error) {
			before.Add(1)
			return "validated", nil
		}))
	}
	workflow := engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		var v string
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "Before", nil, &v); err != nil {
			return "", err
		}
		var charged string
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "Charge", nil, &charged); err != nil {
			return "", err
		}
		return v + "/" + charged, nil
	})

	crashed := engine.New(store, fastOptions())
	registerBefore(crashed)
	inFlight := make(chan struct{})
	crashed.RegisterActivity("Charge", engine.Activity(func(ctx context.Context, _ struct{}) (string, error) {
		close(inFlight)
		<-ctx.Done()
		return "", ctx.Err()
	}))
	crashed.RegisterWorkflow("Pay", workflow)
	require.NoError(t, crashed.Start())

	_, err := crashed.StartWorkflow(context.Background(), engine.StartOptions{ID: "wf", Workflow: "Pay"}, nil)
	require.NoError(t, err)
	<-inFlight
	crashed.Stop()

	exec, err := store.GetExecution(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, engine.StateRunning, exec.State)

	var attempts []int
	var mu sync.Mutex
	resumed := engine.New(store, fastOptions())
	registerBefore(resumed)
	resumed.RegisterActivity("Charge", engine.Activity(func(ctx context.Context, _ struct{}) (string, error) {
		info, _ := engine.GetActivityInfo(ctx)
		mu.Lock()
		attempts = append(attempts, info.Attempt)
		mu.Unlock()
		return "charged", nil
	}))
	resumed.RegisterWorkflow("Pay", workflow)
	startEngine(t, resumed)

	var out string
	require.NoError(t, getResult(t, resumed.GetHandle("wf"), &out))
	assert.Equal(t, "validated/charged", out)
	assert.Equal(t, int32(1), before.Load())
	mu.Lock()
	assert.Equal(t, []int{2}, attempts)
	mu.Unlock()
}

func TestReplayDivergenceFailsExecution(t *testing.T) {
	store := memory.New()
	noop := engine.ActivityNoResult(func(context.Context, struct{}) error { return nil })

	v1 := engine.New(store, fastOptions())
	v1.RegisterActivity("A", noop)
	v1.RegisterWorkflow("Flow", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "A", nil, nil); err != nil {
			return "", err
		}
		_, err := ctx.AwaitSignal(0, "go")
		return "v1", err
	}))
	require.NoError(t, v1.Start())
	_, err := v1.StartWorkflow(context.Background(), engine.StartOptions{ID: "wf", Workflow: "Flow"}, nil)
	require.NoError(t, err)
	waitState(t, v1, "wf", engine.StateWaiting)
	v1.Stop()

	v2 := engine.New(store, fastOptions())
	v2.RegisterActivity("B", noop)
	v2.RegisterWorkflow("Flow", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "B", nil, nil); err != nil {
			return "", err
		}
		_, err := ctx.AwaitSignal(0, "go")
		return "v2", err
	}))
	startEngine(t, v2)
	require.NoError(t, v2.Signal(context.Background(), "wf", "go", ""))

	err = getResult(t, v2.GetHandle("wf"), nil)
	var wfErr *engine.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Contains(t, wfErr.Message, "nondeterministic")
}

func TestWaitTimeoutUsesDurableTimer(t *testing.T) {
	store := memory.New()
	mock := clock.NewMock()
	workflow := engine.Workflow(func(ctx *engine.Context, _ struct{}) (engine.Signal, error) {
		return ctx.AwaitSignal(time.Hour, "decision")
	})
	opts := fastOptions()
	opts.Clock = mock

	first := engine.New(store, opts)
	first.RegisterWorkflow("Timed", workflow)
	require.NoError(t, first.Start())
	_, err := first.StartWorkflow(context.Background(), engine.StartOptions{ID: "wf", Workflow: "Timed"}, nil)
	require.NoError(t, err)
	exec := waitState(t, first, "wf", engine.StateWaiting)
	require.NotNil(t, exec.WakeAt)
	assert.True(t, mock.Now().UTC().Add(time.Hour).Equal(*exec.WakeAt))
	first.Stop()

	second := engine.New(store, opts)
	second.RegisterWorkflow("Timed", workflow)
	startEngine(t, second)

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		got, err := second.GetStatus(context.Background(), "wf")
		return err == nil && got.State == engine.StateCompleted
	}, waitFor, tick)

	var sig engine.Signal
	require.NoError(t, getResult(t, second.GetHandle("wf"), &sig))
	assert.True(t, sig.TimedOut)
	require.ErrorIs(t, second.Signal(context.Background(), "wf", "decision", "late"), engine.ErrNotWaiting)
}

func TestSignalBeatsTimer(t *testing.T) {
	mock := clock.NewMock()
	opts := fastOptions()
	opts.Clock = mock
	e := engine.New(memory.New(), opts)
	e.RegisterWorkflow("Timed", engine.Workflow(func(ctx *engine.Context, _ struct{}) (engine.Signal, error) {
		return ctx.AwaitSignal(time.Hour, "decision")
	}))
	startEngine(t, e)

	ctx := context.Background()
	h, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "wf", Workflow: "Timed"}, nil)
	require.NoError(t, err)
	waitState(t, e, "wf", engine.StateWaiting)
	require.NoError(t, e.Signal(ctx, "wf", "decision", "approve"))
	mock.Add(2 * time.Hour)

	var sig engine.Signal
	require.NoError(t, getResult(t, h, &sig))
	assert.Equal(t, engine.Signal{Name: "decision", Payload: "approve"}, sig)
}

func TestStatusAndTimeAreReplayStable(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(1000 * time.Hour)
	opts := fastOptions()
	opts.Clock = mock
	e := engine.New(memory.New(), opts)

	type snapshot struct {
		Step      string    `json:"step"`
		StartedAt time.Time `json:"started_at"`
	}
	e.RegisterWorkflow("Clocked", engine.Workflow(func(ctx *engine.Context, _ struct{}) (time.Time, error) {
		started := ctx.Now()
		_ = ctx.SetStatus(snapshot{Step: "waiting", StartedAt: started})
		if _, err := ctx.AwaitSignal(0, "go"); err != nil {
			return time.Time{}, err
		}
		_ = ctx.SetStatus(snapshot{Step: "done", StartedAt: started})
		return started, nil
	}))
	startEngine(t, e)

	ctx := context.Background()
	startedAt := mock.Now().UTC()
	h, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "wf", Workflow: "Clocked"}, nil)
	require.NoError(t, err)
	exec := waitState(t, e, "wf", engine.StateWaiting)
	assert.JSONEq(t, fmt.Sprintf(`{"step":"waiting","started_at":%q}`, startedAt.Format(time.RFC3339Nano)), string(exec.Status))

	mock.Add(time.Hour)
	require.NoError(t, e.Signal(ctx, "wf", "go", ""))

	var got time.Time
	require.NoError(t, getResult(t, h, &got))
	assert.True(t, startedAt.Equal(got))

	exec, err = e.GetStatus(ctx, "wf")
	require.NoError(t, err)
	assert.Contains(t, string(exec.Status), `"step":"done"`)
}

func TestClientOnlyEngineHandsWorkToPollingWorker(t *testing.T) {
	store := memory.New()
	client := engine.New(store, engine.Options{Workers: 0})
	require.NoError(t, client.Start())
	t.Cleanup(client.Stop)

	var invokes atomic.Int32
	opts := fastOptions()
	opts.PollInterval = 10 * time.Millisecond
	worker := engine.New(store, opts)
	worker.RegisterActivity("Work", engine.ActivityNoResult(func(context.Context, struct{}) error {
		invokes.Add(1)
		return nil
	}))
	worker.RegisterWorkflow("Job", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		if err := ctx.ExecuteActivity(engine.ActivityOptions{}, "Work", nil, nil); err != nil {
			return "", err
		}
		sig, err := ctx.AwaitSignal(0, "finish")
		return sig.Payload, err
	}))
	startEngine(t, worker)

	ctx := context.Background()
	h, err := client.StartWorkflow(ctx, engine.StartOptions{ID: "job-1", Workflow: "Job"}, nil)
	require.NoError(t, err)

	waitState(t, client, "job-1", engine.StateWaiting)
	require.NoError(t, client.Signal(ctx, "job-1", "finish", "done"))

	var out string
	require.NoError(t, getResult(t, h, &out))
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(1), invokes.Load())
}

func TestLaterWaitKeepsItsOwnTimer(t *testing.T) {
	mock := clock.NewMock()
	opts := fastOptions()
	opts.Clock = mock
	e := engine.New(memory.New(), opts)
	e.RegisterWorkflow("TwoWaits", engine.Workflow(func(ctx *engine.Context, _ struct{}) (engine.Signal, error) {
		if _, err := ctx.AwaitSignal(time.Hour, "first"); err != nil {
			return engine.Signal{}, err
		}
		return ctx.AwaitSignal(time.Hour, "second")
	}))
	startEngine(t, e)

	ctx := context.Background()
	h, err := e.StartWorkflow(ctx, engine.StartOptions{ID: "wf", Workflow: "TwoWaits"}, nil)
	require.NoError(t, err)
	waitState(t, e, "wf", engine.StateWaiting)
	require.NoError(t, e.Signal(ctx, "wf", "first", ""))

	require.Eventually(t, func() bool {
		got, err := e.GetStatus(ctx, "wf")
		return err == nil && got.State == engine.StateWaiting && got.Waits("second")
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		got, err := e.GetStatus(ctx, "wf")
		return err == nil && got.State == engine.StateCompleted
	}, waitFor, tick)

	var sig engine.Signal
	require.NoError(t, getResult(t, h, &sig))
	assert.True(t, sig.TimedOut)
}

// listRecorder records the state filters of every list query.
type listRecorder struct {
	engine.Store
	mu    sync.Mutex
	lists [][]engine.State
}

func (s *listRecorder) ListExecutions(ctx context.Context, opts engine.ListOpts) ([]*engine.Execution, error) {
	s.mu.Lock()
	s.lists = append(s.lists, append([]engine.State(nil), opts.States...))
	s.mu.Unlock()
	return s.Store.ListExecutions(ctx, opts)
}

func (s *listRecorder) snapshot() [][]engine.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]engine.State(nil), s.lists...)
}

func TestPollingSkipsParkedExecutions(t *testing.T) {
	store := &listRecorder{Store: memory.New()}
	opts := fastOptions()
	opts.PollInterval = 5 * time.Millisecond
	e := engine.New(store, opts)
	startEngine(t, e)

	require.Eventually(t, func() bool { return len(store.snapshot()) >= 4 }, waitFor, tick)

	lists := store.snapshot()
	assert.ElementsMatch(t, []engine.State{engine.StateRunning, engine.StateWaiting}, lists[0])
	for _, states := range lists[1:] {
		assert.Equal(t, []engine.State{engine.StateRunning}, states)
	}
}

func TestHandlePollsOnEngineClock(t *testing.T) {
	mock := clock.NewMock()
	store := memory.New()
	opts := fastOptions()
	opts.Clock = mock
	opts.PollInterval = time.Second

	worker := engine.New(store, opts)
	worker.RegisterWorkflow("Job", engine.Workflow(func(ctx *engine.Context, _ struct{}) (string, error) {
		sig, err := ctx.AwaitSignal(0, "finish")
		return sig.Payload, err
	}))
	startEngine(t, worker)

	ctx := context.Background()
	_, err := worker.StartWorkflow(ctx, engine.StartOptions{ID: "job", Workflow: "Job"}, nil)
	require.NoError(t, err)
	waitState(t, worker, "job", engine.StateWaiting)

	// observer shares the store but is never told about the close
	observer := engine.New(store, engine.Options{Workers: 0, Clock: mock, PollInterval: time.Second})
	done := make(chan error, 1)
	var out string
	go func() { done <- observer.GetHandle("job").Get(ctx, &out) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, worker.Signal(ctx, "job", "finish", "ok"))
	waitState(t, worker, "job", engine.StateCompleted)

	select {
	case err := <-done:
		t.Fatalf("handle returned before its clock ticked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, waitFor, tick)
	assert.Equal(t, "ok", out)
}
