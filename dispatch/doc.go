// Package dispatch implements the Dispatcher, which maps (service, procedure)
// pairs to handlers and runs incoming requests against them.
package dispatch
