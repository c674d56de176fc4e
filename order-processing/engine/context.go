package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/log"
)

// Context is handed to workflow functions. Every call that observes the
// outside world goes through it so that replay reproduces the same
// values from history. A Context is confined to the goroutine running
// the workflow function.
type Context struct {
	ctx    context.Context
	engine *Engine
	exec   *Execution
	replay *replayIndex
	logger log.Logger

	next    int
	status  json.RawMessage
	parking *parking
	// fault is the first unrecoverable error seen by a call; it wins over
	// whatever the workflow function returns.
	fault error
}

type parking struct {
	command int
	signals []string
	wakeAt  *time.Time
}

// storeError marks failures of the store itself. Executions hitting one
// stay running and are retried.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return "engine store: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func newContext(ctx context.Context, e *Engine, exec *Execution, events []*Event) *Context {
	c := &Context{
		ctx:    ctx,
		engine: e,
		exec:   exec,
		replay: newReplayIndex(events),
		status: exec.Status,
	}
	c.logger = &replayLogger{c: c, base: log.With(e.logger,
		"WorkflowID", exec.WorkflowID,
		"WorkflowType", exec.WorkflowType,
	)}
	return c
}

// WorkflowID returns the id of the running execution.
func (c *Context) WorkflowID() string { return c.exec.WorkflowID }

// IsReplaying reports whether the next call will be answered from history.
func (c *Context) IsReplaying() bool { return c.replay.resolved(c.next) }

// GetLogger returns a logger that stays silent while replaying.
func (c *Context) GetLogger() log.Logger { return c.logger }

// SetStatus publishes a JSON snapshot readable through Engine.GetStatus.
func (c *Context) SetStatus(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode workflow status: %w", err)
	}
	if bytes.Equal(data, c.status) {
		return nil
	}
	c.status = data
	if c.IsReplaying() {
		return nil
	}

	c.exec.Status = data
	c.exec.UpdatedAt = c.engine.clock.Now().UTC()
	if err := c.engine.store.UpdateExecution(c.ctx, c.exec); err != nil {
		c.fault = &storeError{err: err}
		return c.fault
	}
	return nil
}

// Now returns the workflow's notion of the current time. The first call
// at a given point records the clock; replays return the recorded value.
func (c *Context) Now() time.Time {
	if c.blocked() != nil {
		return time.Time{}
	}
	cmd := c.next
	c.next++

	rec := c.replay.get(cmd)
	if err := c.check(cmd, rec, kindMarker, "now"); err != nil {
		return time.Time{}
	}
	if rec != nil && rec.value != nil {
		var t time.Time
		if err := json.Unmarshal(rec.value, &t); err == nil {
			return t
		}
	}

	t := c.engine.clock.Now().UTC()
	data, _ := json.Marshal(t)
	if err := c.append(&Event{Type: EventMarkerRecorded, Command: cmd, Name: "now", Payload: data}); err != nil {
		return t
	}
	return t
}

// ExecuteActivity invokes the named activity and decodes its result into
// result, which may be nil. Retryable failures are retried under the
// call's policy; a permanent failure or exhausted policy returns an
// *ActivityError. Business outcomes belong in the result, not the error.
func (c *Context) ExecuteActivity(opts ActivityOptions, name string, input, result any) error {
	if err := c.blocked(); err != nil {
		return err
	}
	cmd := c.next
	c.next++

	rec := c.replay.get(cmd)
	if err := c.check(cmd, rec, kindActivity, name); err != nil {
		return err
	}
	if rec != nil && rec.completed {
		return decodeResult(rec.result, result)
	}
	if rec != nil && rec.failure != nil {
		return rec.failure
	}

	fn, ok := c.engine.activity(name)
	if !ok {
		c.fault = fmt.Errorf("%w: %q", ErrUnknownActivity, name)
		return c.fault
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode input of activity %s: %w", name, err)
	}
	opts = opts.merge(c.engine.opts.ActivityOptions)
	policy := opts.RetryPolicy

	attempt := 1
	if rec != nil {
		// The recorded attempts either failed or were lost to a crash;
		// neither is issued again.
		attempt = rec.attempts + 1
		if policy.MaximumAttempts > 0 && attempt > int(policy.MaximumAttempts) {
			return c.failActivity(cmd, name, attempt-1, "AttemptLost", "last attempt did not report an outcome", true)
		}
		if err := c.sleep(retryDelay(policy, attempt-1)); err != nil {
			return err
		}
	}

	for {
		if err := c.append(&Event{Type: EventActivityStarted, Command: cmd, Name: name, Attempt: attempt, Payload: payload}); err != nil {
			return err
		}

		info := ActivityInfo{WorkflowID: c.exec.WorkflowID, Activity: name, Attempt: attempt, Command: cmd}
		out, runErr := c.invoke(fn, info, payload, opts.StartToCloseTimeout)
		if runErr == nil {
			data, err := json.Marshal(out)
			if err != nil {
				return c.failActivity(cmd, name, attempt, "EncodeError", err.Error(), true)
			}
			if err := c.append(&Event{Type: EventActivityCompleted, Command: cmd, Name: name, Attempt: attempt, Payload: data}); err != nil {
				return err
			}
			return decodeResult(data, result)
		}
		if c.ctx.Err() != nil {
			// Shutdown, not an outcome; the attempt is replaced on resume.
			return ErrEngineStopped
		}

		errType, retryable := classify(policy, runErr)
		if !retryable || attemptsExhausted(policy, attempt) {
			return c.failActivity(cmd, name, attempt, errType, runErr.Error(), !retryable)
		}
		if err := c.append(&Event{
			Type: EventActivityFailed, Command: cmd, Name: name, Attempt: attempt,
			Error: runErr.Error(), ErrorType: errType,
		}); err != nil {
			return err
		}
		c.logger.Warn("Activity attempt failed, retrying", "Activity", name, "Attempt", attempt, "Error", runErr)

		if err := c.sleep(retryDelay(policy, attempt)); err != nil {
			return err
		}
		attempt++
	}
}

// AwaitSignal waits for one of the named signals, or for timeout when it
// is positive. When no outcome is recorded yet the execution parks: the
// returned error must be returned by the workflow function unchanged.
// A fired timeout yields a Signal with TimedOut set.
func (c *Context) AwaitSignal(timeout time.Duration, names ...string) (Signal, error) {
	if err := c.blocked(); err != nil {
		return Signal{}, err
	}
	cmd := c.next
	c.next++

	rec := c.replay.get(cmd)
	if err := c.check(cmd, rec, kindWait, ""); err != nil {
		return Signal{}, err
	}
	if rec != nil && rec.signal != nil {
		return *rec.signal, nil
	}
	if len(names) == 0 && timeout <= 0 {
		return Signal{}, errors.New("engine: wait needs a signal name or a timeout")
	}

	if rec == nil {
		var wakeAt *time.Time
		if timeout > 0 {
			t := c.engine.clock.Now().UTC().Add(timeout)
			wakeAt = &t
		}
		payload, _ := json.Marshal(names)
		if err := c.append(&Event{Type: EventWaitStarted, Command: cmd, Payload: payload, WakeAt: wakeAt}); err != nil {
			return Signal{}, err
		}
		rec = c.replay.get(cmd)
	}

	c.parking = &parking{command: cmd, signals: rec.signals, wakeAt: rec.deadline}
	return Signal{}, errParked
}

func (c *Context) blocked() error {
	if c.fault != nil {
		return c.fault
	}
	if c.parking != nil {
		return errParked
	}
	return nil
}

func (c *Context) check(cmd int, rec *commandRecord, kind commandKind, name string) error {
	if rec == nil {
		return nil
	}
	if rec.kind != kind || (kind != kindWait && rec.name != name) {
		c.fault = fmt.Errorf("%w: call %d is %s %q but history recorded %s %q",
			ErrNonDeterministic, cmd, kind, name, rec.kind, rec.name)
		return c.fault
	}
	return nil
}

func (c *Context) append(ev *Event) error {
	ev.WorkflowID = c.exec.WorkflowID
	ev.CreatedAt = c.engine.clock.Now().UTC()
	if err := c.engine.store.AppendEvent(c.ctx, ev); err != nil {
		if c.ctx.Err() != nil {
			return ErrEngineStopped
		}
		c.fault = &storeError{err: err}
		return c.fault
	}
	c.replay.apply(ev)
	return nil
}

func (c *Context) failActivity(cmd int, name string, attempt int, errType, msg string, nonRetryable bool) error {
	ev := &Event{
		Type: EventActivityFailed, Command: cmd, Name: name, Attempt: attempt,
		Error: msg, ErrorType: errType, NonRetryable: nonRetryable, Final: true,
	}
	if err := c.append(ev); err != nil {
		return err
	}
	return c.replay.get(cmd).failure
}

func (c *Context) invoke(fn ActivityFunc, info ActivityInfo, input json.RawMessage, timeout time.Duration) (any, error) {
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	ctx = activityContext(ctx, info, c.engine.logger)

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("activity %s panicked: %v", info.Activity, r)}
			}
		}()
		out, err := fn(ctx, input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Context) sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-c.engine.clock.After(d):
		return nil
	case <-c.ctx.Done():
		return ErrEngineStopped
	}
}

func decodeResult(data json.RawMessage, result any) error {
	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode activity result: %w", err)
	}
	return nil
}

type replayLogger struct {
	c    *Context
	base log.Logger
}

func (l *replayLogger) Debug(msg string, keyvals ...interface{}) {
	if !l.c.IsReplaying() {
		l.base.Debug(msg, keyvals...)
	}
}

func (l *replayLogger) Info(msg string, keyvals ...interface{}) {
	if !l.c.IsReplaying() {
		l.base.Info(msg, keyvals...)
	}
}

func (l *replayLogger) Warn(msg string, keyvals ...interface{}) {
	if !l.c.IsReplaying() {
		l.base.Warn(msg, keyvals...)
	}
}

func (l *replayLogger) Error(msg string, keyvals ...interface{}) {
	if !l.c.IsReplaying() {
		l.base.Error(msg, keyvals...)
	}
}
