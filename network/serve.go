package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/najoast/yarpc/transport"
)

// ServeConn reads request frames from conn and answers each one with the
// router's response. Requests are handled concurrently. ServeConn returns
// when the connection ends, after every in-flight request has finished;
// a clean close returns nil.
func ServeConn(ctx context.Context, conn FrameConn, router transport.Router, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	// Closing the connection unblocks ReadFrame once ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if isClosedErr(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch f.Type {
		case FrameRequest:
			wg.Add(1)
			go func(f *Frame) {
				defer wg.Done()
				handleRequest(ctx, conn, router, f, logger)
			}(f)

		case FramePing:
			if err := conn.WriteFrame(&Frame{Type: FramePong, ID: f.ID}); err != nil {
				return err
			}

		default:
			logger.Warn("unexpected frame on server connection",
				zap.Stringer("type", f.Type), zap.String("remote", conn.RemoteAddr()))
		}
	}
}

// handleRequest dispatches one request frame and writes the answer.
func handleRequest(ctx context.Context, conn FrameConn, router transport.Router, f *Frame, logger *zap.Logger) {
	var (
		resp *transport.Response
		err  error
	)

	req, derr := DecodeRequest(f)
	if derr != nil {
		err = transport.Errorf(transport.CodeBadRequest, "%v", derr)
	} else {
		resp, err = router.Handle(ctx, req)
	}

	out, ferr := ResponseFrame(f.ID, resp, err)
	if ferr != nil {
		logger.Error("failed to encode response", zap.Uint64("id", f.ID), zap.Error(ferr))
		out, ferr = ResponseFrame(f.ID, nil, transport.Errorf(transport.CodeUnexpected, "%v", ferr))
		if ferr != nil {
			return
		}
	}

	if werr := conn.WriteFrame(out); werr != nil {
		logger.Debug("failed to write response",
			zap.Uint64("id", f.ID), zap.String("remote", conn.RemoteAddr()), zap.Error(werr))
	}
}

// isClosedErr reports whether err means the peer or we closed the connection.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
