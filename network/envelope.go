package network

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/najoast/yarpc/transport"
)

// RequestEnvelope is the payload of a request frame.
type RequestEnvelope struct {
	Caller    string            `msgpack:"caller,omitempty"`
	Service   string            `msgpack:"service"`
	Procedure string            `msgpack:"procedure"`
	Encoding  string            `msgpack:"encoding,omitempty"`
	TTLMillis int64             `msgpack:"ttl_ms,omitempty"`
	Headers   map[string]string `msgpack:"headers,omitempty"`
	Body      []byte            `msgpack:"body,omitempty"`
}

// ResponseEnvelope is the payload of a response or error frame.
type ResponseEnvelope struct {
	Headers    map[string]string `msgpack:"headers,omitempty"`
	Body       []byte            `msgpack:"body,omitempty"`
	ErrCode    string            `msgpack:"err_code,omitempty"`
	ErrMessage string            `msgpack:"err_message,omitempty"`
}

// RequestFrame encodes req as a request frame with the given id.
func RequestFrame(id uint64, req *transport.Request) (*Frame, error) {
	env := RequestEnvelope{
		Caller:    req.Caller,
		Service:   req.Service,
		Procedure: req.Procedure,
		Encoding:  req.Encoding,
		TTLMillis: req.TTL.Milliseconds(),
		Body:      req.Body,
	}
	if req.TTL > 0 && env.TTLMillis == 0 {
		// Sub-millisecond TTLs must not turn into "no deadline"
		env.TTLMillis = 1
	}
	if req.Headers.Len() > 0 {
		env.Headers = req.Headers.Items()
	}

	payload, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request envelope: %w", err)
	}
	return &Frame{Type: FrameRequest, ID: id, Payload: payload}, nil
}

// DecodeRequest decodes the request carried by a request frame.
func DecodeRequest(f *Frame) (*transport.Request, error) {
	if f.Type != FrameRequest {
		return nil, fmt.Errorf("expected request frame, got %s", f.Type)
	}

	var env RequestEnvelope
	if err := msgpack.Unmarshal(f.Payload, &env); err != nil {
		return nil, fmt.Errorf("failed to decode request envelope: %w", err)
	}

	return &transport.Request{
		Caller:    env.Caller,
		Service:   env.Service,
		Procedure: env.Procedure,
		Encoding:  env.Encoding,
		Headers:   transport.HeadersFromMap(env.Headers),
		Body:      env.Body,
		TTL:       time.Duration(env.TTLMillis) * time.Millisecond,
	}, nil
}

// ResponseFrame encodes the outcome of a call. A non-nil err produces an
// error frame carrying the error code and message.
func ResponseFrame(id uint64, resp *transport.Response, err error) (*Frame, error) {
	var (
		env   ResponseEnvelope
		ftype = FrameResponse
	)

	if err != nil {
		terr := transport.AsError(err)
		env.ErrCode = string(terr.Code)
		env.ErrMessage = terr.Message
		ftype = FrameError
	} else if resp != nil {
		env.Body = resp.Body
		if resp.Headers.Len() > 0 {
			env.Headers = resp.Headers.Items()
		}
	}

	payload, merr := msgpack.Marshal(&env)
	if merr != nil {
		return nil, fmt.Errorf("failed to encode response envelope: %w", merr)
	}
	return &Frame{Type: ftype, ID: id, Payload: payload}, nil
}

// DecodeResponse decodes a response or error frame. Error frames are returned
// as *transport.Error.
func DecodeResponse(f *Frame) (*transport.Response, error) {
	if f.Type != FrameResponse && f.Type != FrameError {
		return nil, transport.Errorf(transport.CodeUnexpected, "expected response frame, got %s", f.Type)
	}

	var env ResponseEnvelope
	if err := msgpack.Unmarshal(f.Payload, &env); err != nil {
		return nil, transport.Errorf(transport.CodeUnexpected, "failed to decode response envelope: %v", err)
	}

	if f.Type == FrameError {
		return nil, transport.NewError(transport.Code(env.ErrCode), env.ErrMessage)
	}

	return &transport.Response{
		Headers: transport.HeadersFromMap(env.Headers),
		Body:    env.Body,
	}, nil
}
