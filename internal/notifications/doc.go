// Package notifications delivers device and job events via ntfy.
//
// The default implementation publishes to the ntfy topic configured in
// config.toml and degrades to a no-op when notifications are disabled. The
// session manager reports device error transitions through NotifyDeviceError;
// the daemon reports finished print uploads and slicing runs.
package notifications
