// Package cli provides shared helpers for the forseti command line:
// typed command errors and shutdown signal handling.
package cli
