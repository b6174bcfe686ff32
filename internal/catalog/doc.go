// Package catalog persists every device the discovery feed has reported in a
// SQLite database so the CLI can list and resolve printers by name while the
// bridge is quiet. Credentials are never stored.
package catalog
