package protocol

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Alexchinaxian/fieldbus/logger"
)

// State represents the connection state of a protocol instance.
type State uint32

// Connection states. Valid transitions are
// Disconnected → Connecting → Connected → {Error, Disconnected};
// DisconnectedState is reachable from every state and resets the cycle.
const (
	// DisconnectedState indicates that the transport is not established.
	DisconnectedState State = iota
	// ConnectingState indicates that the transport is being established.
	ConnectingState
	// ConnectedState indicates that the transport is established and the
	// instance is ready for data exchange.
	ConnectedState
	// ErrorState indicates that the transport failed; the instance must be
	// disconnected before it can be connected again.
	ErrorState
)

// IsDisconnected returns if the current state is disconnected.
func (s State) IsDisconnected() bool { return s == DisconnectedState }

// IsConnecting returns if the current state is connecting.
func (s State) IsConnecting() bool { return s == ConnectingState }

// IsConnected returns if the current state is connected.
func (s State) IsConnected() bool { return s == ConnectedState }

// IsError returns if the current state is the error state.
func (s State) IsError() bool { return s == ErrorState }

// String returns string representation of the current state.
func (s State) String() string {
	switch s {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// StateChangeHandler is a function type that represents a handler for
// connection state changes.
//
// Note: the handler is invoked in blocking mode while the transition is
// applied. Take care with long-running implementations.
type StateChangeHandler func(prevState State, newState State)

// StateManager manages the connection state of a protocol instance.
//
// It provides methods for managing state transitions and notifying listeners
// of state changes. State transitions are safe for concurrent use.
type StateManager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateManager creates a new StateManager instance, initializing it to
// DisconnectedState.
//
// It accepts optional StateChangeHandler functions that will be invoked when
// the connection state changes.
func NewStateManager(l logger.Logger, handlers ...StateChangeHandler) *StateManager {
	if l == nil {
		l = logger.GetLogger()
	}

	sm := &StateManager{
		logger:   l,
		handlers: make([]StateChangeHandler, 0, len(handlers)),
	}
	sm.handlers = append(sm.handlers, handlers...)
	sm.state.Store(uint32(DisconnectedState))
	sm.cond = sync.NewCond(&sm.mu)

	return sm
}

// State returns the current connection state.
func (sm *StateManager) State() State {
	return State(sm.state.Load())
}

// AddHandler adds one or more StateChangeHandler functions to be invoked on
// state changes.
func (sm *StateManager) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or
// until the context is done. It returns nil if the desired state is reached,
// or an error if the context is canceled or times out.
func (sm *StateManager) WaitState(ctx context.Context, state State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		sm.cond.Broadcast()
	})
	defer stopFunc()

	for sm.State() != state {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			sm.cond.Wait()
		}
	}

	return nil
}

// ToConnecting transitions the connection state to ConnectingState.
//
// This transition is only allowed from DisconnectedState or ErrorState.
// If the state is already ConnectingState, the function is a no-op.
//
// Returns nil on success, or ErrInvalidTransition otherwise.
func (sm *StateManager) ToConnecting() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	curState := sm.State()

	if curState.IsConnecting() {
		return nil // Already in ConnectingState, no-op
	}

	if !curState.IsDisconnected() && !curState.IsError() {
		return ErrInvalidTransition
	}

	sm.setState(ConnectingState)
	sm.invokeHandlers(curState, ConnectingState)

	return nil
}

// ToConnected transitions the connection state to ConnectedState.
//
// This transition is only allowed from ConnectingState and indicates that the
// transport is established and ready for data exchange.
// If the state is already ConnectedState, the function is a no-op.
//
// Returns nil on success, or ErrInvalidTransition otherwise.
func (sm *StateManager) ToConnected() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	curState := sm.State()

	if curState.IsConnected() {
		return nil // Already in ConnectedState, no-op
	}

	if !curState.IsConnecting() {
		return ErrInvalidTransition
	}

	sm.setState(ConnectedState)
	sm.invokeHandlers(curState, ConnectedState)

	return nil
}

// ToError transitions the connection state to ErrorState.
//
// This transition is allowed from ConnectingState and ConnectedState; a
// disconnected instance cannot fail. If the state is already ErrorState, the
// function is a no-op.
//
// Returns nil on success, or ErrInvalidTransition otherwise.
func (sm *StateManager) ToError() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	curState := sm.State()

	if curState.IsError() {
		return nil // Already in ErrorState, no-op
	}

	if curState.IsDisconnected() {
		return ErrInvalidTransition
	}

	sm.setState(ErrorState)
	sm.invokeHandlers(curState, ErrorState)

	return nil
}

// ToDisconnected transitions the connection state to DisconnectedState.
// This transition is allowed from any state and represents a disconnection or
// a reset of the connection.
func (sm *StateManager) ToDisconnected() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	curState := sm.State()

	if curState.IsDisconnected() {
		return // Already in DisconnectedState, no need to transition
	}

	sm.setState(DisconnectedState)
	sm.invokeHandlers(curState, DisconnectedState)
}

// setState atomically sets the current state to newState. It also broadcasts
// a signal to any waiting goroutines.
func (sm *StateManager) setState(newState State) {
	sm.state.Store(uint32(newState))
	sm.cond.Broadcast()
}

// invokeHandlers invokes all registered StateChangeHandler functions with the
// previous and new states.
func (sm *StateManager) invokeHandlers(prevState State, newState State) {
	for _, handler := range sm.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}
