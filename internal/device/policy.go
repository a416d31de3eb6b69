package device

import "context"

// WritePolicy authorises inserts into the telemetry tables.
//
// In deployment the relational store sits behind a row-level policy
// layer that can deny individual writes; modelling it as an injected
// hook keeps that failure mode testable. A denied reading insert is
// fatal to the request, a denied history append is logged and skipped.
type WritePolicy interface {
	// AllowInsert reports whether a row may be inserted into the given
	// table for the given device. A non-nil error denies the write.
	AllowInsert(ctx context.Context, table string, deviceID string) error
}

// AllowAll is the default policy: every write is permitted.
type AllowAll struct{}

// AllowInsert always permits the write.
func (AllowAll) AllowInsert(context.Context, string, string) error { return nil }
