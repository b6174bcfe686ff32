// Package protocol defines the wire-level vocabulary shared by device and
// slicing channels: response status tags, the tagged Outcome delivered to
// command callers, lenient JSON decoding, device reports, and discovery
// descriptors.
package protocol
