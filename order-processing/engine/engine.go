package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.temporal.io/sdk/log"
)

// WorkflowFunc is the untyped form of a registered workflow
type WorkflowFunc func(ctx *Context, input json.RawMessage) (any, error)

// Workflow adapts a typed workflow function to a WorkflowFunc
func Workflow[I, O any](fn func(*Context, I) (O, error)) WorkflowFunc {
	return func(ctx *Context, input json.RawMessage) (any, error) {
		var in I
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decode workflow input: %w", err)
			}
		}
		return fn(ctx, in)
	}
}

// StartOptions identifies a new execution
type StartOptions struct {
	// ID is the workflow id. At most one execution ever exists per id.
	ID string
	// Workflow is the registered workflow type to run.
	Workflow string
}

// Engine drives workflow executions persisted in a Store. An Engine is
// started once; after Stop a new Engine must be created over the store.
type Engine struct {
	store  Store
	opts   Options
	logger log.Logger
	clock  clock.Clock

	regMu      sync.RWMutex
	workflows  map[string]WorkflowFunc
	activities map[string]ActivityFunc

	timerMu sync.Mutex
	timers  map[timerKey]*clock.Timer

	waitMu  sync.Mutex
	waiters map[string][]chan struct{}

	queue *workQueue

	runMu   sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns an engine over store. Register workflows and activities
// before calling Start.
func New(store Store, opts Options) *Engine {
	opts = opts.normalized()
	return &Engine{
		store:      store,
		opts:       opts,
		logger:     log.With(opts.Logger, "Identity", opts.Identity),
		clock:      opts.Clock,
		workflows:  make(map[string]WorkflowFunc),
		activities: make(map[string]ActivityFunc),
		timers:     make(map[timerKey]*clock.Timer),
		waiters:    make(map[string][]chan struct{}),
		queue:      newWorkQueue(),
	}
}

func (e *Engine) RegisterWorkflow(name string, fn WorkflowFunc) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.workflows[name] = fn
}

func (e *Engine) RegisterActivity(name string, fn ActivityFunc) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.activities[name] = fn
}

func (e *Engine) workflow(name string) (WorkflowFunc, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	fn, ok := e.workflows[name]
	return fn, ok
}

func (e *Engine) activity(name string) (ActivityFunc, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	fn, ok := e.activities[name]
	return fn, ok
}

// Start launches the workers, recovers executions left running or
// waiting by a previous process, and begins polling the store. It does
// nothing for a client-only engine.
func (e *Engine) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}
	if e.started || e.opts.Workers == 0 {
		return nil
	}
	e.started = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.workLoop(ctx)
	}

	if err := e.Recover(ctx); err != nil {
		e.logger.Error("Unable to recover executions", "Error", err)
	}
	if e.opts.PollInterval > 0 {
		e.wg.Add(1)
		go e.pollLoop(ctx)
	}

	e.logger.Info("Engine started", "Workers", e.opts.Workers, "PollInterval", e.opts.PollInterval)
	return nil
}

// Stop cancels in-flight work and waits for workers to return.
// Interrupted executions stay running in the store and resume on the
// next Start over the same store.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if e.stopped {
		e.runMu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.queue.close()
	e.wg.Wait()

	e.timerMu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.timerMu.Unlock()

	e.logger.Info("Engine stopped")
}

// Run starts the engine and blocks until interruptCh yields, then stops it.
func (e *Engine) Run(interruptCh <-chan interface{}) error {
	if err := e.Start(); err != nil {
		return err
	}
	<-interruptCh
	e.Stop()
	return nil
}

// Recover enqueues running executions and arms timers of waiting ones.
func (e *Engine) Recover(ctx context.Context) error {
	return e.recover(ctx, StateRunning, StateWaiting)
}

// recover lists executions in states and schedules them. The poll loop
// passes only StateRunning so parked executions are not rescanned.
func (e *Engine) recover(ctx context.Context, states ...State) error {
	execs, err := e.store.ListExecutions(ctx, ListOpts{States: states})
	if err != nil {
		return fmt.Errorf("list open executions: %w", err)
	}
	var running, timers int
	for _, exec := range execs {
		switch exec.State {
		case StateRunning:
			e.enqueue(exec.WorkflowID)
			running++
		case StateWaiting:
			if exec.WakeAt != nil {
				e.armTimer(exec.WorkflowID, exec.WaitCommand, *exec.WakeAt)
				timers++
			}
		}
	}
	if running > 0 || timers > 0 {
		e.logger.Debug("Recovered executions", "Running", running, "Timers", timers)
	}
	return nil
}

// StartWorkflow persists a new execution and schedules it. It returns
// ErrAlreadyStarted or ErrAlreadyClosed when the id was used before.
func (e *Engine) StartWorkflow(ctx context.Context, opts StartOptions, input any) (*Handle, error) {
	if opts.ID == "" {
		return nil, errors.New("engine: workflow id is required")
	}
	if opts.Workflow == "" {
		return nil, errors.New("engine: workflow type is required")
	}
	if e.opts.Workers > 0 {
		if _, ok := e.workflow(opts.Workflow); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, opts.Workflow)
		}
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode workflow input: %w", err)
	}

	now := e.clock.Now().UTC()
	exec := &Execution{
		WorkflowID:   opts.ID,
		WorkflowType: opts.Workflow,
		Input:        data,
		State:        StateRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", opts.ID, err)
	}

	e.logger.Info("Workflow started", "WorkflowID", opts.ID, "WorkflowType", opts.Workflow)
	e.enqueue(opts.ID)
	return &Handle{WorkflowID: opts.ID, engine: e}, nil
}

// GetHandle returns a handle to an existing execution.
func (e *Engine) GetHandle(workflowID string) *Handle {
	return &Handle{WorkflowID: workflowID, engine: e}
}

// Signal records a signal for an execution waiting on name and schedules
// it. Executions that are unknown return ErrNotFound; executions not
// currently waiting on name return ErrNotWaiting and record nothing.
func (e *Engine) Signal(ctx context.Context, workflowID, name, payload string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode signal payload: %w", err)
	}
	var command int
	err = e.store.Transition(ctx, workflowID, func(exec *Execution) (*Event, error) {
		if !exec.Waits(name) {
			return nil, ErrNotWaiting
		}
		command = exec.WaitCommand
		ev := &Event{
			WorkflowID: workflowID,
			Type:       EventSignalReceived,
			Command:    exec.WaitCommand,
			Name:       name,
			Payload:    data,
			CreatedAt:  e.clock.Now().UTC(),
		}
		e.resume(exec)
		return ev, nil
	})
	if err != nil {
		return fmt.Errorf("signal %s to %s: %w", name, workflowID, err)
	}

	e.logger.Info("Signal received", "WorkflowID", workflowID, "Signal", name)
	e.stopTimer(workflowID, command)
	e.enqueue(workflowID)
	return nil
}

// GetStatus returns the persisted execution, including the status
// snapshot last published by the workflow.
func (e *Engine) GetStatus(ctx context.Context, workflowID string) (*Execution, error) {
	exec, err := e.store.GetExecution(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get status of %s: %w", workflowID, err)
	}
	return exec, nil
}

// History returns the recorded events of an execution.
func (e *Engine) History(ctx context.Context, workflowID string) ([]*Event, error) {
	if _, err := e.store.GetExecution(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("get history of %s: %w", workflowID, err)
	}
	return e.store.History(ctx, workflowID)
}

func (e *Engine) resume(exec *Execution) {
	exec.State = StateRunning
	exec.WaitingOn = nil
	exec.WaitCommand = 0
	exec.WakeAt = nil
	exec.UpdatedAt = e.clock.Now().UTC()
}

func (e *Engine) enqueue(workflowID string) {
	if e.opts.Workers == 0 {
		return
	}
	e.queue.push(workflowID)
}

func (e *Engine) workLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		id, ok := e.queue.pop()
		if !ok {
			return
		}
		e.drive(ctx, id)
		e.queue.done(id)
	}
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := e.clock.Ticker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.recover(ctx, StateRunning); err != nil && ctx.Err() == nil {
				e.logger.Warn("Unable to poll executions", "Error", err)
			}
		}
	}
}

// drive runs an execution's workflow function until it completes, fails,
// or parks. Only the worker holding the id from the queue writes a
// running execution.
func (e *Engine) drive(ctx context.Context, workflowID string) {
	logger := log.With(e.logger, "WorkflowID", workflowID)

	exec, err := e.store.GetExecution(ctx, workflowID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Unable to load execution", "Error", err)
		}
		return
	}
	if exec.State != StateRunning {
		return
	}

	fn, ok := e.workflow(exec.WorkflowType)
	if !ok {
		e.close(ctx, exec, nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, exec.WorkflowType))
		return
	}
	events, err := e.store.History(ctx, workflowID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Unable to load history", "Error", err)
			e.retryLater(workflowID)
		}
		return
	}

	wctx := newContext(ctx, e, exec, events)
	result, runErr := runWorkflow(fn, wctx, exec.Input)
	if wctx.fault != nil {
		runErr = wctx.fault
	}
	exec.Status = wctx.status

	var stored *storeError
	switch {
	case errors.Is(runErr, errParked) && wctx.parking != nil:
		p := wctx.parking
		exec.State = StateWaiting
		exec.WaitingOn = p.signals
		exec.WaitCommand = p.command
		exec.WakeAt = p.wakeAt
		exec.UpdatedAt = e.clock.Now().UTC()
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			if ctx.Err() == nil {
				logger.Error("Unable to park execution", "Error", err)
				e.retryLater(workflowID)
			}
			return
		}
		if p.wakeAt != nil {
			e.armTimer(workflowID, p.command, *p.wakeAt)
		}
		logger.Debug("Workflow waiting", "Signals", p.signals, "WakeAt", p.wakeAt)
	case errors.Is(runErr, ErrEngineStopped) || ctx.Err() != nil:
		logger.Debug("Workflow interrupted by shutdown")
	case errors.As(runErr, &stored):
		logger.Warn("Store failure while running workflow, will retry", "Error", stored)
		e.retryLater(workflowID)
	default:
		e.close(ctx, exec, result, runErr)
	}
}

func runWorkflow(fn WorkflowFunc, ctx *Context, input json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panicked: %v", r)
		}
	}()
	return fn(ctx, input)
}

func (e *Engine) close(ctx context.Context, exec *Execution, result any, runErr error) {
	if runErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			runErr = fmt.Errorf("encode workflow result: %w", err)
		} else {
			exec.Result = data
		}
	}

	now := e.clock.Now().UTC()
	exec.WaitingOn = nil
	exec.WaitCommand = 0
	exec.WakeAt = nil
	exec.UpdatedAt = now
	exec.ClosedAt = &now
	if runErr != nil {
		exec.State = StateFailed
		exec.Error = runErr.Error()
	} else {
		exec.State = StateCompleted
	}

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Unable to close execution", "WorkflowID", exec.WorkflowID, "Error", err)
			e.retryLater(exec.WorkflowID)
		}
		return
	}

	if runErr != nil {
		e.logger.Error("Workflow failed", "WorkflowID", exec.WorkflowID, "Error", runErr)
	} else {
		e.logger.Info("Workflow completed", "WorkflowID", exec.WorkflowID)
	}
	e.notify(exec.WorkflowID)
}

func (e *Engine) retryLater(workflowID string) {
	delay := e.opts.PollInterval
	if delay <= 0 {
		delay = time.Second
	}
	e.clock.AfterFunc(delay, func() { e.enqueue(workflowID) })
}

// timerKey identifies the timer of one wait. Each wait of an execution has
// its own command number, so a later wait never shares an earlier timer.
type timerKey struct {
	workflowID string
	command    int
}

func (e *Engine) armTimer(workflowID string, command int, wakeAt time.Time) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	key := timerKey{workflowID, command}
	if _, ok := e.timers[key]; ok {
		return
	}
	d := wakeAt.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	e.timers[key] = e.clock.AfterFunc(d, func() { e.fireTimer(workflowID, command) })
}

func (e *Engine) stopTimer(workflowID string, command int) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	key := timerKey{workflowID, command}
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
}

func (e *Engine) timerArmed(workflowID string, command int) bool {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	_, ok := e.timers[timerKey{workflowID, command}]
	return ok
}

// fireTimer records the timeout of a wait that is still pending. A wait
// already satisfied by a signal is left alone.
func (e *Engine) fireTimer(workflowID string, command int) {
	e.timerMu.Lock()
	delete(e.timers, timerKey{workflowID, command})
	e.timerMu.Unlock()

	err := e.store.Transition(context.Background(), workflowID, func(exec *Execution) (*Event, error) {
		if exec.State != StateWaiting || exec.WaitCommand != command || exec.WakeAt == nil {
			return nil, ErrNotWaiting
		}
		ev := &Event{
			WorkflowID: workflowID,
			Type:       EventTimerFired,
			Command:    command,
			WakeAt:     exec.WakeAt,
			CreatedAt:  e.clock.Now().UTC(),
		}
		e.resume(exec)
		return ev, nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotWaiting) && !errors.Is(err, ErrNotFound) {
			e.logger.Error("Unable to fire timer", "WorkflowID", workflowID, "Error", err)
		}
		return
	}

	e.logger.Info("Wait timed out", "WorkflowID", workflowID)
	e.enqueue(workflowID)
}

func (e *Engine) subscribe(workflowID string) chan struct{} {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	ch := make(chan struct{})
	e.waiters[workflowID] = append(e.waiters[workflowID], ch)
	return ch
}

func (e *Engine) unsubscribe(workflowID string, ch chan struct{}) {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	chans := e.waiters[workflowID]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(e.waiters, workflowID)
	} else {
		e.waiters[workflowID] = chans
	}
}

func (e *Engine) notify(workflowID string) {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	for _, ch := range e.waiters[workflowID] {
		close(ch)
	}
	delete(e.waiters, workflowID)
}
