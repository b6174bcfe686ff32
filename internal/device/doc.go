// Package device implements one printer connection over the bridge control
// channel.
//
// A Connection owns a command queue bound to /ws/control/<uuid>. Opening it
// waits for the bridge "connected" greeting; errors raised during the
// handshake are classified so callers can tell a timeout from an
// authentication challenge. Every command is a single queued request that
// resolves once. The optional camera stream uses its own channel and is torn
// down before the control channel when the connection closes.
package device
