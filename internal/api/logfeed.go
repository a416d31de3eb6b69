package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/astrodev/telemetry-core/internal/ingest"
)

// Feed mirrors operator-relevant lifecycle events onto the live log
// channel, formatted the same way the ingest pipeline formats its own
// entries: [LEVEL] <RFC3339> - message.
//
// The feed is for events an operator watching the dashboard should see
// (bridge connected, bridge lost, forward target unreachable). It is
// not a transport for structured logs; those go through the logger.
type Feed struct {
	hub *Hub
}

// NewFeed creates a live log feed over the given hub.
func NewFeed(hub *Hub) *Feed {
	return &Feed{hub: hub}
}

// Infof publishes an info-level line onto the live log channel.
func (f *Feed) Infof(format string, args ...any) {
	f.publish("info", format, args...)
}

// Warnf publishes a warning-level line onto the live log channel.
func (f *Feed) Warnf(format string, args ...any) {
	f.publish("warn", format, args...)
}

// Errorf publishes an error-level line onto the live log channel.
func (f *Feed) Errorf(format string, args ...any) {
	f.publish("error", format, args...)
}

func (f *Feed) publish(level, format string, args ...any) {
	if f.hub == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s - %s",
		strings.ToUpper(level),
		time.Now().UTC().Format(time.RFC3339),
		fmt.Sprintf(format, args...))
	f.hub.Broadcast(ingest.ChannelBridgeLog, line)
}
