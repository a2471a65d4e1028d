// Package core provides the execution model types for ditto-runner: the error
// taxonomy, step statuses and results, and the ActionSink device contract.
package core
