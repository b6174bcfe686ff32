// Package main hosts the printlink CLI entrypoint and command graph.
//
// Commands translate terminal invocations into IPC calls against the daemon,
// which owns the bridge connections. The hidden daemon command runs the
// daemon itself and is what `printlink start` launches in the background.
package main
