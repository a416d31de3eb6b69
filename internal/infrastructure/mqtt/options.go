package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Connection constants.
const (
	// TestConnectTimeout bounds a one-shot test connection attempt.
	TestConnectTimeout = 10 * time.Second

	// PersistentConnectTimeout bounds a persistent bridge connection
	// attempt. Longer than the test bound because a bridge start is
	// allowed to ride out a slow broker.
	PersistentConnectTimeout = 30 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish
	// or subscribe acknowledgement.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending
	// operations on graceful disconnect, in milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// subscribeQoS is the delivery quality for bridge subscriptions
	// (at least once).
	subscribeQoS = 1

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// acceptedSchemes are the broker URL schemes accepted by preflight
// validation, mapped to the scheme the paho library understands.
var acceptedSchemes = map[string]string{
	"mqtt":  "tcp",
	"mqtts": "ssl",
	"tcp":   "tcp",
	"ssl":   "ssl",
	"ws":    "ws",
	"wss":   "wss",
}

// BrokerConfig describes a broker connection target.
//
// Values typically originate from the stored protocol settings rather
// than config.yaml, since operators edit them at runtime.
type BrokerConfig struct {
	// Broker is the full broker URL, e.g. "mqtt://broker.local:1883".
	Broker string

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// ClientID identifies this client to the broker. When empty, a
	// random one is generated at connect time.
	ClientID string
}

// ValidateBrokerURL performs preflight validation of a broker address.
//
// The URL must use an accepted scheme (mqtt, mqtts, tcp, ssl, ws, wss)
// and parse with a non-empty host and port. Violations are reported
// without any network I/O.
//
// Returns:
//   - error: wrapping ErrInvalidBrokerURL, or nil if the URL is usable
func ValidateBrokerURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidBrokerURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBrokerURL, err)
	}

	if _, ok := acceptedSchemes[u.Scheme]; !ok {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBrokerURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidBrokerURL)
	}
	if u.Port() == "" {
		return fmt.Errorf("%w: missing port", ErrInvalidBrokerURL)
	}

	return nil
}

// normalizeBrokerURL rewrites mqtt:// and mqtts:// schemes to the
// tcp:// and ssl:// forms the paho library expects. The caller must
// have validated the URL first.
func normalizeBrokerURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	mapped, ok := acceptedSchemes[u.Scheme]
	if !ok || mapped == u.Scheme {
		return raw
	}
	u.Scheme = mapped
	return u.String()
}

// buildClientOptions creates paho client options for a single attempt.
//
// Auto-reconnect is deliberately off: reconnection policy belongs to
// the Manager, which owns session lifecycle. The paho retry machinery
// would otherwise resurrect handles behind the Manager's back.
func buildClientOptions(cfg BrokerConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(normalizeBrokerURL(cfg.Broker))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = randomClientID("telemetry")
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(defaultKeepAlive)

	if strings.HasPrefix(normalizeBrokerURL(cfg.Broker), "ssl://") ||
		strings.HasPrefix(normalizeBrokerURL(cfg.Broker), "wss://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// randomClientID generates a broker client ID with a random hex suffix,
// e.g. "bridge_3f9c2a1b".
func randomClientID(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}
