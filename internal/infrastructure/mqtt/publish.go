package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for one-shot publishes (1MB).
// Aligns with typical broker limits.
const maxPayloadSize = 1 << 20

// PublishOnce opens a connection scoped to exactly one publish.
//
// The forwarder uses this for secondary-broker forwarding: connect with
// a random client ID, publish, disconnect. No pooling; each forward
// pays the full connect/teardown cost, which is acceptable at the
// expected message rates.
//
// Parameters:
//   - cfg: Broker target. An empty ClientID gets a random "bridge_" one.
//   - topic: The concrete topic to publish to
//   - payload: The message payload (max 1MB)
//
// Returns:
//   - error: ErrInvalidBrokerURL, ErrInvalidTopic, ErrConnectTimeout,
//     ErrConnectionFailed, or ErrPublishFailed
func PublishOnce(cfg BrokerConfig, topic string, payload []byte) error {
	if err := ValidateBrokerURL(cfg.Broker); err != nil {
		return err
	}
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes",
			ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if cfg.ClientID == "" {
		cfg.ClientID = randomClientID("bridge")
	}

	client := pahomqtt.NewClient(buildClientOptions(cfg))

	token := client.Connect()
	if !token.WaitTimeout(TestConnectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("%w: after %v", ErrConnectTimeout, TestConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer client.Disconnect(defaultDisconnectQuiesce)

	pub := client.Publish(topic, subscribeQoS, false, payload)
	if !pub.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := pub.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
