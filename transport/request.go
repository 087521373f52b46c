package transport

import "time"

// EncodingRaw is the encoding assumed when a request does not name one.
const EncodingRaw = "raw"

// Request is a single RPC request, independent of the transport that carries it.
type Request struct {
	// Caller is the name of the calling service
	Caller string

	// Service is the name of the service being called
	Service string

	// Encoding names the codec used for Body
	Encoding string

	// Procedure is the name of the procedure being called
	Procedure string

	// Headers carries application headers
	Headers Headers

	// Body is the encoded request payload
	Body []byte

	// TTL bounds how long the caller is willing to wait; zero means no limit
	TTL time.Duration
}

// Validate checks that the request can be dispatched.
func (r *Request) Validate() error {
	if r == nil {
		return Errorf(CodeBadRequest, "request is nil")
	}
	if r.Service == "" {
		return Errorf(CodeBadRequest, "missing service name")
	}
	if r.Procedure == "" {
		return Errorf(CodeBadRequest, "missing procedure name")
	}
	if r.TTL < 0 {
		return Errorf(CodeBadRequest, "negative TTL %s for procedure %q", r.TTL, r.Procedure)
	}
	return nil
}

// EncodingOrDefault returns the request encoding, falling back to raw.
func (r *Request) EncodingOrDefault() string {
	if r.Encoding == "" {
		return EncodingRaw
	}
	return r.Encoding
}

// Response is the result of a successful call.
type Response struct {
	Headers Headers
	Body    []byte
}
