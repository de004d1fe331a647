package history

// Package history provides a minimal persistence layer for unit run records.
//
// It currently supports:
//   - Run record appends (one per executed leaf unit)
//   - Recent record queries for inspection tooling
