// Package async provides panic-safe concurrent execution helpers for
// background work.
//
// SafeGo runs a function in a goroutine with panic recovery and a timeout;
// Batch processes a slice concurrently with a bounded worker count and
// collects every error. Use these instead of bare `go func()` so a panicking
// task cannot take the process down.
//
// The permission materializer uses Batch for group fan-out, where one
// membership change touches one row per grant the group holds.
package async
