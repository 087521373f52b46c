package http

import (
	"net/http"

	"github.com/najoast/yarpc/transport"
)

// Header names of the HTTP call protocol.
const (
	CallerHeader    = "Rpc-Caller"
	ServiceHeader   = "Rpc-Service"
	ProcedureHeader = "Rpc-Procedure"
	EncodingHeader  = "Rpc-Encoding"
	TTLHeader       = "Context-TTL-MS"
	StatusHeader    = "Rpc-Status"

	// ApplicationHeaderPrefix prefixes every application header.
	ApplicationHeaderPrefix = "Rpc-Header-"
)

// StatusFromCode maps an error code to the HTTP status it is served with.
func StatusFromCode(code transport.Code) int {
	switch code {
	case transport.CodeBadRequest:
		return http.StatusBadRequest
	case transport.CodeUnknownService, transport.CodeUnknownProcedure:
		return http.StatusNotFound
	case transport.CodeTimeout:
		return http.StatusGatewayTimeout
	case transport.CodeUnavailable:
		return http.StatusServiceUnavailable
	case transport.CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeFromStatus maps an HTTP status to an error code. It is only used
// when a response carries no Rpc-Status header.
func CodeFromStatus(status int) transport.Code {
	switch {
	case status == http.StatusBadRequest:
		return transport.CodeBadRequest
	case status == http.StatusNotFound:
		return transport.CodeUnknownProcedure
	case status == http.StatusGatewayTimeout:
		return transport.CodeTimeout
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway:
		return transport.CodeUnavailable
	case status == http.StatusTooManyRequests:
		return transport.CodeResourceExhausted
	case status >= 400 && status < 500:
		return transport.CodeBadRequest
	default:
		return transport.CodeUnexpected
	}
}
