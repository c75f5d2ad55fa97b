package connection

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a managed socket.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Lifecycle events
const (
	eventConnect = "connect"
	eventOpen    = "open"
	eventClose   = "close"
	eventRetry   = "retry"
	eventRedial  = "redial"
)

// newLifecycle builds the state machine. onEnter runs synchronously inside
// Event and must not fire further events.
func newLifecycle(onEnter func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateDisconnected)}, Dst: string(StateConnecting)},
			{Name: eventOpen, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
			{Name: eventClose, Src: []string{string(StateConnecting), string(StateConnected), string(StateReconnecting)}, Dst: string(StateDisconnected)},
			{Name: eventRetry, Src: []string{string(StateDisconnected)}, Dst: string(StateReconnecting)},
			{Name: eventRedial, Src: []string{string(StateReconnecting)}, Dst: string(StateConnecting)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst))
			},
		},
	)
}
