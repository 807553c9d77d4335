// Package timeutil provides SerializableTimer, a replacement for
// time.AfterFunc whose deterministic state can be snapshotted and restored.
// This is used for long-lived timeouts that must survive persistence, such
// as transaction retransmit and cleanup timers.
//
// Callbacks are runtime-only: after restoring a snapshot with RestoreTimer,
// reattach them with SetCallback or Reset. All operations are safe for
// concurrent use.
package timeutil
