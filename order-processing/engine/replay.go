package engine

import (
	"encoding/json"
	"time"
)

type commandKind int

const (
	kindActivity commandKind = iota + 1
	kindWait
	kindMarker
)

func (k commandKind) String() string {
	switch k {
	case kindActivity:
		return "activity"
	case kindWait:
		return "wait"
	case kindMarker:
		return "marker"
	}
	return "unknown"
}

// commandRecord folds the history events of one workflow call.
type commandRecord struct {
	kind commandKind
	name string

	// activity
	attempts  int
	completed bool
	result    json.RawMessage
	failure   *ActivityError

	// wait
	signals  []string
	deadline *time.Time
	signal   *Signal

	// marker
	value json.RawMessage
}

// resolved reports whether the call has an outcome replay can return.
func (r *commandRecord) resolved() bool {
	switch r.kind {
	case kindActivity:
		return r.completed || r.failure != nil
	case kindWait:
		return r.signal != nil
	case kindMarker:
		return r.value != nil
	}
	return false
}

type replayIndex struct {
	commands map[int]*commandRecord
}

func newReplayIndex(events []*Event) *replayIndex {
	idx := &replayIndex{commands: make(map[int]*commandRecord)}
	for _, ev := range events {
		idx.apply(ev)
	}
	return idx
}

func (idx *replayIndex) get(cmd int) *commandRecord {
	return idx.commands[cmd]
}

func (idx *replayIndex) resolved(cmd int) bool {
	rec := idx.commands[cmd]
	return rec != nil && rec.resolved()
}

func (idx *replayIndex) record(cmd int, kind commandKind, name string) *commandRecord {
	rec := idx.commands[cmd]
	if rec == nil {
		rec = &commandRecord{kind: kind, name: name}
		idx.commands[cmd] = rec
	}
	return rec
}

func (idx *replayIndex) apply(ev *Event) {
	switch ev.Type {
	case EventActivityStarted:
		rec := idx.record(ev.Command, kindActivity, ev.Name)
		if ev.Attempt > rec.attempts {
			rec.attempts = ev.Attempt
		}
	case EventActivityCompleted:
		rec := idx.record(ev.Command, kindActivity, ev.Name)
		rec.completed = true
		rec.result = ev.Payload
	case EventActivityFailed:
		rec := idx.record(ev.Command, kindActivity, ev.Name)
		if ev.Attempt > rec.attempts {
			rec.attempts = ev.Attempt
		}
		if ev.Final {
			rec.failure = &ActivityError{
				Activity:     ev.Name,
				Attempt:      ev.Attempt,
				Type:         ev.ErrorType,
				Message:      ev.Error,
				NonRetryable: ev.NonRetryable,
			}
		}
	case EventWaitStarted:
		rec := idx.record(ev.Command, kindWait, "")
		_ = json.Unmarshal(ev.Payload, &rec.signals)
		rec.deadline = ev.WakeAt
	case EventSignalReceived:
		rec := idx.record(ev.Command, kindWait, "")
		var payload string
		_ = json.Unmarshal(ev.Payload, &payload)
		rec.signal = &Signal{Name: ev.Name, Payload: payload}
	case EventTimerFired:
		rec := idx.record(ev.Command, kindWait, "")
		rec.signal = &Signal{TimedOut: true}
	case EventMarkerRecorded:
		rec := idx.record(ev.Command, kindMarker, ev.Name)
		rec.value = ev.Payload
	}
}
