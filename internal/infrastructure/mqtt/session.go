package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Logger is the subset of the application logger used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload (typically JSON)
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Session is a live broker connection owned by the Manager.
//
// A session is created connected and moves to disconnected on explicit
// Disconnect, or to closed on a broker- or network-initiated drop.
// Subscriptions are tracked so that an explicit disconnect can
// unsubscribe from every topic before terminating the connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	client pahomqtt.Client
	cfg    BrokerConfig
	logger Logger

	// subscriptions tracks active topics for teardown on disconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	state   State
	stateMu sync.RWMutex
}

// markClosed records a broker- or network-initiated drop.
func (s *Session) markClosed(err error) {
	s.stateMu.Lock()
	alive := s.state == StateConnected
	if alive {
		s.state = StateClosed
	}
	s.stateMu.Unlock()

	if alive && s.logger != nil {
		s.logger.Warn("broker connection lost", "error", err)
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected reports whether the session is live.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected && s.client.IsConnected()
}

// checkLive gates operations on the session's lifecycle state. A
// dropped session reports ErrSessionClosed so callers can tell a dead
// handle from one that was never connected.
func (s *Session) checkLive() error {
	switch s.State() {
	case StateConnected:
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrNotConnected
	}
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Publish sends a message on the session with acknowledgement awaited
// under the publish bound.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (typically JSON)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := s.checkLive(); err != nil {
		return err
	}

	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the specified topic at
// QoS 1 (at least once). The subscription is tracked for teardown on
// disconnect.
//
// Parameters:
//   - topic: The topic pattern to subscribe to (wildcards allowed)
//   - handler: Callback invoked for each message
func (s *Session) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if err := s.checkLive(); err != nil {
		return err
	}

	s.subMu.Lock()
	s.subscriptions[topic] = subscribeQoS
	s.subMu.Unlock()

	token := s.client.Subscribe(topic, subscribeQoS, s.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		s.dropSubscription(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		s.dropSubscription(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (s *Session) dropSubscription(topic string) {
	s.subMu.Lock()
	delete(s.subscriptions, topic)
	s.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (s *Session) SubscriptionCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscriptions)
}

// Disconnect tears the session down gracefully.
//
// Every tracked topic is unsubscribed first, each independently awaited;
// unsubscribe failures are logged as warnings and never abort the
// teardown. The connection is then terminated with a quiesce period for
// pending operations.
func (s *Session) Disconnect() error {
	s.stateMu.Lock()
	if s.state != StateConnected && s.state != StateClosed {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateDisconnected
	s.stateMu.Unlock()

	s.subMu.Lock()
	topics := make([]string, 0, len(s.subscriptions))
	for topic := range s.subscriptions {
		topics = append(topics, topic)
	}
	s.subscriptions = make(map[string]byte)
	s.subMu.Unlock()

	if s.client.IsConnected() {
		for _, topic := range topics {
			token := s.client.Unsubscribe(topic)
			if !token.WaitTimeout(defaultPublishTimeout) {
				s.warn("unsubscribe timed out", "topic", topic)
				continue
			}
			if err := token.Error(); err != nil {
				s.warn("unsubscribe failed", "topic", topic, "error", err)
			}
		}
	}

	s.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// ForceClose terminates the connection immediately without unsubscribing
// or waiting for pending operations. For shutdown paths where waiting is
// unacceptable.
func (s *Session) ForceClose() {
	s.stateMu.Lock()
	s.state = StateDisconnected
	s.stateMu.Unlock()

	s.subMu.Lock()
	s.subscriptions = make(map[string]byte)
	s.subMu.Unlock()

	s.client.Disconnect(0)
}

func (s *Session) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (s *Session) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("message handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			s.warn("message handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
