// Package engine is an embedded durable execution engine.
//
// A workflow is a plain Go function that receives a *Context and drives
// activities through it. Every activity attempt, signal and timer is
// appended to the execution's history in a Store before the workflow
// observes it. After a crash the engine replays the workflow function from
// the beginning; calls whose outcome is already in history return the
// recorded value immediately, so completed side effects are never issued
// again and real invocation resumes from the first call without a record.
//
// Workflow functions must be deterministic. They must not read the wall
// clock, random numbers, or any other input that is not obtained through
// the Context (ExecuteActivity, AwaitSignal, Now). The engine detects
// replays that diverge from history and fails the execution with
// ErrNonDeterministic, but it cannot detect every violation.
//
// Waiting for a signal does not hold a goroutine. AwaitSignal records the
// wait, and the workflow unwinds by returning the error it was given; the
// execution is persisted as waiting and resumed by replay once a matching
// signal (or the wait's timer) is recorded.
package engine
