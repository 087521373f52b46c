// Package rpc composes a dispatcher, inbounds, outbounds and an event
// loop into the object a service process builds once.
//
// An RPC is created for the process's own service name. Procedures are
// registered into its dispatcher and served by every inbound; other
// services are reached through channels bound to outbounds:
//
//	r, err := rpc.New(rpc.Config{
//		Service:   "frontend",
//		Inbounds:  []transport.Inbound{tcp.NewInbound(network.DefaultConfig(), logger)},
//		Outbounds: map[string]transport.Outbound{"kv": tcp.NewOutbound(peer.Single("kv:7000"), network.DefaultConfig(), logger)},
//	})
//	if err != nil {
//		return err
//	}
//	if err := r.Start(ctx); err != nil {
//		return err
//	}
//	defer r.Stop(ctx)
//
//	ch, err := r.Channel("kv")
//	resp, err := ch.Call(ctx, "get", []byte("key"))
//
// Outgoing calls run on a bounded worker pool. CallAsync returns a
// future; Call is CallAsync followed by Get.
package rpc
