// Package loop implements the pooled event loop that runs outgoing calls.
//
// Calls are submitted as tasks and complete through a Future. The
// synchronous call style is a Future awaited by the caller, so both styles
// share one bounded queue and one set of workers.
package loop
