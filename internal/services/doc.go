// Package services hosts the error taxonomy and context helpers shared by the
// session, queue, and transport layers.
//
// Every failure that crosses a package boundary is tagged with one of the
// exported sentinel markers so callers can branch with errors.Is, and carries a
// stable machine-readable label for rendering. Device-reported error strings are
// normalized through ClassifyLabel before they reach callers.
package services
