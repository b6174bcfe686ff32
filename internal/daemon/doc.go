// Package daemon coordinates the long-running Printlink process.
//
// It wires configuration, the device catalog, the session manager, the
// discovery feed with its USB hotplug trigger, and the slicing backend into a
// single lifecycle with flock-based locking to prevent multiple instances.
// Each Start builds a fresh session manager; Stop tears down every device
// connection, camera stream and background loop.
//
// Keep orchestration logic here: protocol details live in device, session and
// slicing while the daemon focuses on startup, shutdown, and the operations
// exposed over IPC.
package daemon
