// Package logs reads the daemon log file for `printlink logs`.
//
// A negative offset returns the last lines of the file; a non-negative offset
// resumes where a previous read stopped. Follow reads poll until new lines
// arrive or the wait expires.
package logs
