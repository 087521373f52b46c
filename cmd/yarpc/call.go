package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/najoast/yarpc/bootstrap"
	"github.com/najoast/yarpc/config"
	"github.com/najoast/yarpc/encoding"
	"github.com/najoast/yarpc/loop"
	"github.com/najoast/yarpc/rpc"
	"github.com/najoast/yarpc/transport"
)

// clientOptions are the flags shared by commands that call a service.
type clientOptions struct {
	transport string
	peers     []string
	chooser   string
	path      string
	caller    string
	ttl       time.Duration
	headers   []string
	verbose   bool
}

func (o *clientOptions) addFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&o.transport, "transport", "t", config.TransportTCP, "transport: tcp, http or websocket")
	fs.StringSliceVarP(&o.peers, "peer", "p", nil, "peer address; repeat or comma-separate for several")
	fs.StringVar(&o.chooser, "chooser", "round-robin", "peer chooser: round-robin, random or least-pending")
	fs.StringVar(&o.path, "path", "", "websocket endpoint path")
	fs.StringVar(&o.caller, "caller", "yarpc-cli", "caller service name")
	fs.DurationVar(&o.ttl, "ttl", 5*time.Second, "call time to live")
	fs.StringArrayVarP(&o.headers, "header", "H", nil, "request header as key=value; repeatable")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "print response headers to stderr")
	_ = cmd.MarkFlagRequired("peer")
}

// dial starts an RPC whose only outbound reaches service. The returned
// function stops it.
func (o *clientOptions) dial(ctx context.Context, service string) (*rpc.Channel, func(), error) {
	out, err := bootstrap.BuildOutbound(service, config.OutboundConfig{
		Transport: o.transport,
		Peers:     o.peers,
		Chooser:   o.chooser,
		Path:      o.path,
	}, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}

	r, err := rpc.New(rpc.Config{
		Service:   o.caller,
		Outbounds: map[string]transport.Outbound{service: out},
		Loop:      loop.Options{Workers: 1, QueueSize: 1},
	})
	if err != nil {
		return nil, nil, err
	}
	if err := r.Start(ctx); err != nil {
		return nil, nil, err
	}
	stop := func() { _ = r.Stop(context.WithoutCancel(ctx)) }

	ch, err := r.Channel(service)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return ch, stop, nil
}

// callOptions returns the per-call options from the flags.
func (o *clientOptions) callOptions(enc string) ([]rpc.CallOption, error) {
	headers, err := parseHeaders(o.headers)
	if err != nil {
		return nil, err
	}
	opts := []rpc.CallOption{rpc.WithHeaders(headers)}
	if o.ttl > 0 {
		opts = append(opts, rpc.WithTTL(o.ttl))
	}
	if enc != "" {
		opts = append(opts, rpc.WithEncoding(enc))
	}
	return opts, nil
}

func (o *clientOptions) printHeaders(w io.Writer, resp *transport.Response) {
	if !o.verbose {
		return
	}
	for k, v := range resp.Headers.Items() {
		fmt.Fprintf(w, "%s: %s\n", k, v)
	}
}

func newCallCmd() *cobra.Command {
	var (
		opts     clientOptions
		enc      string
		bodyFile string
	)

	cmd := &cobra.Command{
		Use:   "call SERVICE PROCEDURE [BODY]",
		Short: "Call a procedure and print the response body",
		Long: `Calls PROCEDURE of SERVICE on the given peers and writes the response
body to stdout. The body is taken from the BODY argument, from --file, or
from stdin when --file is "-".

With --encoding msgpack or yaml the body is read as JSON, sent in that
encoding, and the response is printed back as JSON. raw and json bodies
are sent unchanged.`,
		Example: `  yarpc call -p 127.0.0.1:7000 kv get '{"key":"a"}'
  yarpc call -t http -p http://127.0.0.1:8080 -H x-tenant=blue kv set -f req.json`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args[2:], bodyFile)
			if err != nil {
				return err
			}
			return runCall(cmd, &opts, args[0], args[1], enc, body)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVarP(&enc, "encoding", "e", "json", "request encoding: raw, json, msgpack or yaml")
	cmd.Flags().StringVarP(&bodyFile, "file", "f", "", `read the body from a file, or stdin for "-"`)
	return cmd
}

func runCall(cmd *cobra.Command, opts *clientOptions, service, procedure, enc string, body []byte) error {
	ctx := commandContext(cmd)

	body, err := encodeBody(enc, body)
	if err != nil {
		return err
	}
	callOpts, err := opts.callOptions(enc)
	if err != nil {
		return err
	}

	ch, stop, err := opts.dial(ctx, service)
	if err != nil {
		return err
	}
	defer stop()

	resp, err := ch.Call(ctx, procedure, body, callOpts...)
	if err != nil {
		return err
	}
	opts.printHeaders(cmd.ErrOrStderr(), resp)

	out, err := decodeBody(enc, resp.Body)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	w.Write(out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Fprintln(w)
	}
	return nil
}

func newProceduresCmd() *cobra.Command {
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   "procedures SERVICE",
		Short: "List the procedures a service serves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []rpc.ProcedureInfo
			if err := callMeta(cmd, &opts, args[0], rpc.ProceduresProcedure, &infos); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tPROCEDURE\tENCODING")
			for _, p := range infos {
				enc := p.Encoding
				if enc == "" {
					enc = "any"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Service, p.Name, enc)
			}
			return tw.Flush()
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func newHealthCmd() *cobra.Command {
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   "health SERVICE",
		Short: "Check that a service answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status rpc.HealthStatus
			if err := callMeta(cmd, &opts, args[0], rpc.HealthProcedure, &status); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.Status)
			return nil
		},
	}
	opts.addFlags(cmd)
	return cmd
}

// callMeta calls a meta procedure and decodes its JSON response into v.
func callMeta(cmd *cobra.Command, opts *clientOptions, service, procedure string, v interface{}) error {
	ctx := commandContext(cmd)

	callOpts, err := opts.callOptions(encoding.JSON.Name())
	if err != nil {
		return err
	}
	ch, stop, err := opts.dial(ctx, service)
	if err != nil {
		return err
	}
	defer stop()

	resp, err := ch.Call(ctx, procedure, nil, callOpts...)
	if err != nil {
		return err
	}
	opts.printHeaders(cmd.ErrOrStderr(), resp)
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("malformed %s response: %w", procedure, err)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readBody picks the request body from the argument or the file flag.
func readBody(stdin io.Reader, args []string, file string) ([]byte, error) {
	switch {
	case len(args) > 0 && file != "":
		return nil, fmt.Errorf("give the body as an argument or with --file, not both")
	case len(args) > 0:
		return []byte(args[0]), nil
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, nil
	}
}

// parseHeaders turns key=value pairs into headers.
func parseHeaders(pairs []string) (transport.Headers, error) {
	headers := transport.NewHeaders()
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return headers, fmt.Errorf("header %q is not key=value", pair)
		}
		headers = headers.With(strings.TrimSpace(k), v)
	}
	return headers, nil
}

// structured reports whether enc is a registered encoding other than raw
// and json, whose bodies are converted from and to JSON.
func structured(enc string) (encoding.Codec, bool) {
	if enc == "" || enc == encoding.Raw.Name() || enc == encoding.JSON.Name() {
		return nil, false
	}
	return encoding.Lookup(enc)
}

func encodeBody(enc string, body []byte) ([]byte, error) {
	codec, ok := structured(enc)
	if !ok || len(bytes.TrimSpace(body)) == 0 {
		return body, nil
	}

	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("body must be JSON to send as %s: %w", enc, err)
	}
	return codec.Marshal(v)
}

func decodeBody(enc string, body []byte) ([]byte, error) {
	codec, ok := structured(enc)
	if !ok || len(body) == 0 {
		return body, nil
	}

	var v interface{}
	if err := codec.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("malformed %s response: %w", enc, err)
	}
	return json.MarshalIndent(v, "", "  ")
}
