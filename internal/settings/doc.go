// Package settings manages the protocol settings singleton.
//
// The settings document controls secondary-protocol forwarding: whether
// a secondary broker and/or sync service are enabled, their connection
// parameters, and the broker topic templates. It is stored as one JSON
// document in a single row and re-read on every bridge request, so an
// operator toggling forwarding takes effect immediately.
//
// # Concurrency
//
// Reads are concurrent and uncached. Saves replace the whole document
// with no optimistic locking; the last writer wins.
//
// # Compatibility
//
// Stored documents contain both the singular "command" and plural
// "commands" topic keys, written by different client generations.
// Topics.CommandTopic prefers the singular and falls back to the
// plural; the document is never rewritten to unify them. Unrecognised
// keys anywhere in the document survive a load/save round trip.
package settings
