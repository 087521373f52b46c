// Package encoding provides the codecs used to serialise request and
// response bodies, and helpers that turn typed Go functions into procedures
// and typed calls.
//
// Server usage:
//
//	proc := encoding.Procedure("get", encoding.JSON, func(ctx context.Context, req *GetRequest) (*GetResponse, error) {
//	    return store.Get(ctx, req.Key)
//	})
//	r.Register(proc)
//
// Client usage:
//
//	resp, err := encoding.Call[*GetRequest, *GetResponse](ctx, ch, encoding.JSON, "get", &GetRequest{Key: "k"})
package encoding
