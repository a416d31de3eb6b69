package ingest

import "strings"

// firmwarePlaceholderID is emitted by devices that have not been
// provisioned yet. It must never become a registry row.
const firmwarePlaceholderID = "unknown-device"

// ResolveDeviceID returns the device identifier for an inbound message.
//
// The payload's device_id wins when present and plausible. Otherwise
// the identifier is taken from the topic, which follows the
// <namespace>/devices/<id>/<kind> convention, so iot/devices/ABC-123/status
// resolves to ABC-123.
//
// Returns ErrMissingDeviceID when neither source yields a plausible
// identifier.
func ResolveDeviceID(payloadID, topic string) (string, error) {
	if id := strings.TrimSpace(payloadID); plausibleDeviceID(id) {
		return id, nil
	}
	if id := deviceIDFromTopic(topic); plausibleDeviceID(id) {
		return id, nil
	}
	return "", ErrMissingDeviceID
}

func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return strings.TrimSpace(parts[2])
}

// plausibleDeviceID rejects identifiers that cannot name a single
// device: empty strings, MQTT wildcards, path separators, and the
// firmware placeholder id.
func plausibleDeviceID(id string) bool {
	switch {
	case id == "":
		return false
	case id == "+" || id == "#":
		return false
	case strings.ContainsAny(id, "/+#"):
		return false
	case id == firmwarePlaceholderID:
		return false
	}
	return true
}
