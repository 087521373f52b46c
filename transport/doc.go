// Package transport defines the wire-independent building blocks of yarpc.
//
// It provides the Request and Response types exchanged between services,
// the Handler, Inbound and Outbound interfaces implemented by the concrete
// transports, middleware composition and the error taxonomy that every
// transport carries across the wire unchanged.
package transport
