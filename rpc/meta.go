package rpc

import (
	"context"
	"encoding/json"

	"github.com/najoast/yarpc/transport"
)

// Names of the procedures every RPC serves under its own service.
const (
	ProceduresProcedure = "meta::procedures"
	HealthProcedure     = "meta::health"
)

// ProcedureInfo describes a registered procedure in the meta::procedures
// response.
type ProcedureInfo struct {
	Service  string `json:"service"`
	Name     string `json:"name"`
	Encoding string `json:"encoding,omitempty"`
}

// HealthStatus is the meta::health response.
type HealthStatus struct {
	Status string `json:"status"`
}

func (r *RPC) metaProcedures() []transport.Procedure {
	return []transport.Procedure{
		{
			Service: r.cfg.Service,
			Name:    ProceduresProcedure,
			Handler: transport.HandlerFunc(r.handleProcedures),
		},
		{
			Service: r.cfg.Service,
			Name:    HealthProcedure,
			Handler: transport.HandlerFunc(r.handleHealth),
		},
	}
}

func (r *RPC) handleProcedures(context.Context, *transport.Request) (*transport.Response, error) {
	procs := r.dispatcher.Procedures()
	infos := make([]ProcedureInfo, 0, len(procs))
	for _, p := range procs {
		infos = append(infos, ProcedureInfo{Service: p.Service, Name: p.Name, Encoding: p.Encoding})
	}
	return jsonResponse(infos)
}

func (r *RPC) handleHealth(context.Context, *transport.Request) (*transport.Response, error) {
	return jsonResponse(HealthStatus{Status: "ok"})
}

func jsonResponse(v interface{}) (*transport.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, transport.Errorf(transport.CodeUnexpected, "failed to encode response: %v", err)
	}
	return &transport.Response{Body: body}, nil
}
