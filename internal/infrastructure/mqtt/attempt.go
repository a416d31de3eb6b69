package mqtt

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a connection attempt or session.
type State string

// Connection states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateClosed       State = "closed"
)

// Attempt tracks a single connect or test invocation.
//
// An attempt resolves exactly once: only the first of success, failure,
// or timeout produces the externally visible result. All later events
// for the same attempt are discarded, including a broker success that
// arrives after the timeout already fired.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Resolution is guarded
//     by sync.Once.
type Attempt struct {
	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	state State
	err   error
}

// newAttempt creates an attempt in the connecting state.
func newAttempt() *Attempt {
	return &Attempt{
		done:  make(chan struct{}),
		state: StateConnecting,
	}
}

// resolve records the attempt's terminal state. Only the first call has
// any effect; it reports whether this call won the resolution.
func (a *Attempt) resolve(state State, err error) bool {
	won := false
	a.once.Do(func() {
		a.mu.Lock()
		a.state = state
		a.err = err
		a.mu.Unlock()
		close(a.done)
		won = true
	})
	return won
}

// succeed resolves the attempt as connected.
func (a *Attempt) succeed() bool {
	return a.resolve(StateConnected, nil)
}

// fail resolves the attempt as an error.
func (a *Attempt) fail(err error) bool {
	return a.resolve(StateError, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
}

// await blocks until the attempt resolves or the bound elapses.
// An elapsed bound resolves the attempt as a timeout; if a broker
// callback wins the race at the last instant, that result stands.
//
// Returns:
//   - error: nil if the attempt connected, the terminal error otherwise
func (a *Attempt) await(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.done:
	case <-timer.C:
		a.resolve(StateError, fmt.Errorf("%w: after %v", ErrConnectTimeout, timeout))
		<-a.done
	}

	return a.Err()
}

// State returns the attempt's current state.
func (a *Attempt) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Err returns the terminal error, or nil if the attempt succeeded or
// has not resolved yet.
func (a *Attempt) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// Resolved reports whether the attempt has reached a terminal state.
func (a *Attempt) Resolved() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
