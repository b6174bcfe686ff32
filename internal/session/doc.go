// Package session owns device selection, authentication, and command
// dispatch for the printers reachable through the bridge.
//
// A Manager is constructed once at startup and torn down explicitly. It keeps
// one connection per device id for its lifetime, tracks which device is
// selected, caches the last accepted password in memory, and remembers the
// last discovery error label per device so repeated errors notify once.
// Concurrent selections of the same device collapse into a single
// connection attempt.
package session
