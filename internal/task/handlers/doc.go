// Package handlers contains the built-in task handler implementations and
// their registration with the executor registry.
//
// All three handlers simulate multi-step work: each step waits out a
// parameter-tunable delay, checks for cooperative cancellation, and reports
// progress, so a running task is both observable and cancellable at bounded
// intervals.
package handlers
