package encoding

import (
	"context"
	"reflect"

	"github.com/najoast/yarpc/transport"
)

// Caller is the subset of a channel used for typed calls.
type Caller interface {
	CallEncoded(ctx context.Context, procedure, encoding string, body []byte, headers transport.Headers) (*transport.Response, error)
}

// Procedure builds a procedure whose request and response are serialised with codec.
func Procedure[Req, Resp any](name string, codec Codec, fn func(ctx context.Context, req Req) (Resp, error)) transport.Procedure {
	handler := transport.HandlerFunc(func(ctx context.Context, treq *transport.Request) (*transport.Response, error) {
		req := newValue[Req]()
		if len(treq.Body) > 0 {
			if err := codec.Unmarshal(treq.Body, target(&req)); err != nil {
				return nil, transport.Errorf(transport.CodeBadRequest,
					"failed to decode %s request for procedure %q: %v", codec.Name(), name, err)
			}
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}

		body, err := codec.Marshal(resp)
		if err != nil {
			return nil, transport.Errorf(transport.CodeUnexpected,
				"failed to encode %s response for procedure %q: %v", codec.Name(), name, err)
		}

		return &transport.Response{Body: body}, nil
	})

	return transport.Procedure{
		Name:     name,
		Encoding: codec.Name(),
		Handler:  handler,
	}
}

// Call encodes req with codec, calls procedure and decodes the response.
func Call[Req, Resp any](ctx context.Context, c Caller, codec Codec, procedure string, req Req, headers transport.Headers) (Resp, error) {
	var zero Resp

	body, err := codec.Marshal(req)
	if err != nil {
		return zero, transport.Errorf(transport.CodeBadRequest,
			"failed to encode %s request for procedure %q: %v", codec.Name(), procedure, err)
	}

	tresp, err := c.CallEncoded(ctx, procedure, codec.Name(), body, headers)
	if err != nil {
		return zero, err
	}

	resp := newValue[Resp]()
	if len(tresp.Body) > 0 {
		if err := codec.Unmarshal(tresp.Body, target(&resp)); err != nil {
			return zero, transport.Errorf(transport.CodeUnexpected,
				"failed to decode %s response for procedure %q: %v", codec.Name(), procedure, err)
		}
	}

	return resp, nil
}

// newValue returns the zero value of T, allocating the pointee when T is a pointer.
func newValue[T any]() T {
	var v T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Ptr {
		v = reflect.New(rt.Elem()).Interface().(T)
	}
	return v
}

// target returns the value codecs should decode into: the pointer itself when
// *p is already a non-nil pointer, otherwise p.
func target[T any](p *T) interface{} {
	rv := reflect.ValueOf(*p)
	if rv.IsValid() && rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return *p
	}
	return p
}
