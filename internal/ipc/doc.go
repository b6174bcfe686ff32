// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Errors cross the socket as text, so the server prefixes each one with its
// stable label and the client turns that back into a *RemoteError that still
// matches the services sentinels with errors.Is.
package ipc
