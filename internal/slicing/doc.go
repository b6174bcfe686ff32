// Package slicing drives a slicing backend over a serialized command channel.
//
// The Client exposes the backend's command vocabulary: model uploads,
// placement, parameter changes, slicing control and result retrieval. Every
// call is admitted to a cmdqueue.Queue so at most one command is in flight.
// Backend launches a local slicing backend process on the first free port.
package slicing
