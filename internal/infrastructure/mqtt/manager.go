package mqtt

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Role identifies a logical session slot owned by the Manager.
type Role string

// Session roles. At most one live session exists per role.
const (
	// RoleTest is the operator-facing test connection slot.
	RoleTest Role = "test"

	// RoleBridge is the persistent bridge subscription slot.
	RoleBridge Role = "bridge"
)

// Manager owns broker sessions.
//
// It holds at most one live Session per logical role. Establishing a
// new session for a role disposes the prior handle first, so orphaned
// sockets cannot accumulate. Sessions are explicit objects returned to
// callers; there is no shared module-level handle.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	sessions map[Role]*Session
	mu       sync.Mutex
	logger   Logger
}

// NewManager creates a session manager.
//
// Parameters:
//   - logger: Used for teardown warnings and handler errors (may be nil)
func NewManager(logger Logger) *Manager {
	return &Manager{
		sessions: make(map[Role]*Session),
		logger:   logger,
	}
}

// Connect establishes a new session for the given role.
//
// The flow is:
//  1. Dispose any prior session for the role (graceful disconnect)
//  2. Preflight-validate the broker URL (no network I/O on violation)
//  3. Attempt the connection under the mode's bound (10s test,
//     30s persistent)
//
// The attempt resolves exactly once. A broker success arriving after
// the bound elapsed is discarded and the underlying socket is killed.
//
// Parameters:
//   - role: The logical session slot
//   - cfg: Broker connection target
//   - persistent: Selects the persistent (30s) or test (10s) bound
//
// Returns:
//   - *Session: Live session, registered under the role
//   - error: ErrInvalidBrokerURL, ErrConnectTimeout, or ErrConnectionFailed
func (m *Manager) Connect(role Role, cfg BrokerConfig, persistent bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Tear down the prior handle before dialling. At most one live
	// session per role.
	if prior := m.sessions[role]; prior != nil {
		if err := prior.Disconnect(); err != nil && m.logger != nil {
			m.logger.Warn("disposing prior session failed", "role", string(role), "error", err)
		}
		delete(m.sessions, role)
	}

	if err := ValidateBrokerURL(cfg.Broker); err != nil {
		return nil, err
	}

	timeout := TestConnectTimeout
	if persistent {
		timeout = PersistentConnectTimeout
	}

	session, err := dial(cfg, timeout, m.logger)
	if err != nil {
		return nil, err
	}

	m.sessions[role] = session
	return session, nil
}

// Test performs a one-shot connection test: connect under the test
// bound, then disconnect immediately.
//
// Returns:
//   - error: nil if the broker accepted the connection
func (m *Manager) Test(cfg BrokerConfig) error {
	if _, err := m.Connect(RoleTest, cfg, false); err != nil {
		return err
	}
	return m.Disconnect(RoleTest)
}

// Session returns the live session for a role, or nil.
func (m *Manager) Session(role Role) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[role]
}

// Disconnect gracefully tears down the session for a role.
// A missing session is not an error.
func (m *Manager) Disconnect(role Role) error {
	m.mu.Lock()
	session := m.sessions[role]
	delete(m.sessions, role)
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Disconnect()
}

// ForceCloseAll immediately terminates every session. For shutdown.
func (m *Manager) ForceCloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[Role]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.ForceClose()
	}
}

// dial performs a single bounded connection attempt.
func dial(cfg BrokerConfig, timeout time.Duration, logger Logger) (*Session, error) {
	session := &Session{
		cfg:           cfg,
		logger:        logger,
		subscriptions: make(map[string]byte),
		state:         StateConnecting,
	}

	attempt := newAttempt()

	opts := buildClientOptions(cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		// During the attempt this is a failure; afterwards it is a
		// broker-initiated drop. The attempt guard sorts out which.
		attempt.fail(err)
		session.markClosed(err)
	})

	client := pahomqtt.NewClient(opts)
	session.client = client

	go func() {
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			attempt.fail(err)
			return
		}
		attempt.succeed()
	}()

	if err := attempt.await(timeout); err != nil {
		// Kill the socket so a late handshake can't leave a live
		// connection nobody owns.
		client.Disconnect(0)
		session.stateMu.Lock()
		session.state = StateError
		session.stateMu.Unlock()
		return nil, err
	}

	session.stateMu.Lock()
	session.state = StateConnected
	session.stateMu.Unlock()

	return session, nil
}
