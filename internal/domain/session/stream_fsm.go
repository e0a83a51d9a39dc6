package session

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Stream lifecycle events.
const (
	EventActivate   = "activate"   // session wants the stream up
	EventOpened     = "opened"     // transport connected successfully
	EventDropped    = "dropped"    // transport error or premature close
	EventDeactivate = "deactivate" // build finished or session torn down
	EventGiveUp     = "give_up"    // retry ceiling reached
)

// StreamContext carries the session identity through the machine.
type StreamContext struct {
	BuildID string
}

// StreamStateMachine enforces the valid stream-status transitions:
//
//	idle -> reconnecting -> connected -> reconnecting (on drop)
//	reconnecting -> idle (build no longer active)
//	reconnecting -> error (retry ceiling reached)
type StreamStateMachine struct {
	interpreter *statekit.Interpreter[StreamContext]
}

// NewStreamStateMachine builds the machine starting in the given status.
func NewStreamStateMachine(initial StreamStatus, buildID string) (*StreamStateMachine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("invalid initial stream status: %s", initial)
	}

	builder := statekit.NewMachine[StreamContext]("stream-machine").
		WithInitial(statekit.StateID(initial)).
		WithContext(StreamContext{BuildID: buildID})

	builder.State(statekit.StateID(StreamIdle)).
		On(EventActivate).Target(statekit.StateID(StreamReconnecting)).
		Done()

	builder.State(statekit.StateID(StreamReconnecting)).
		On(EventOpened).Target(statekit.StateID(StreamConnected)).
		On(EventDeactivate).Target(statekit.StateID(StreamIdle)).
		On(EventGiveUp).Target(statekit.StateID(StreamError)).
		Done()

	builder.State(statekit.StateID(StreamConnected)).
		On(EventDropped).Target(statekit.StateID(StreamReconnecting)).
		On(EventDeactivate).Target(statekit.StateID(StreamIdle)).
		Done()

	builder.State(statekit.StateID(StreamError)).
		On(EventActivate).Target(statekit.StateID(StreamReconnecting)).
		On(EventDeactivate).Target(statekit.StateID(StreamIdle)).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build stream state machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &StreamStateMachine{interpreter: interpreter}, nil
}

// Transition attempts to apply a stream event. Returns an error when the
// event is not valid for the current status.
func (sm *StreamStateMachine) Transition(event string) error {
	before := sm.Current()
	sm.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := sm.Current()

	if before == after && !selfTransition(before, event) {
		return fmt.Errorf("stream event '%s' not allowed in status '%s'", event, before)
	}
	return nil
}

// Current returns the machine's current stream status.
func (sm *StreamStateMachine) Current() StreamStatus {
	return StreamStatus(sm.interpreter.State().Value)
}

// selfTransition reports whether the event legitimately leaves the status
// unchanged, so Transition does not misreport it as rejected.
func selfTransition(status StreamStatus, event string) bool {
	// Re-activating an already reconnecting stream is a no-op, not an error.
	return status == StreamReconnecting && event == EventActivate
}
