// Package rpc exposes the agent-facing operations over JSON-RPC on a
// persistent TCP connection.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
	"github.com/xiaot623/gogo/controlplane/internal/service"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Control"

// Server exposes agent RPC endpoints.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	closed    bool
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the control plane service.
func NewServer(svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts RPC connections on ln until Shutdown is called. It returns
// at once, closing ln, if Shutdown has already been called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			slog.Warn("rpc accept failed", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections. A server shut down before
// Serve runs never starts accepting.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the agent RPC methods.
type Handler struct {
	service *service.Service
}

// ReportEventsResponse is returned after a batch of events is ingested.
type ReportEventsResponse struct {
	Count int `json:"count"`
}

// AckResponse is a generic OK response.
type AckResponse struct {
	OK bool `json:"ok"`
}

// RegisterRun registers a new run.
func (h *Handler) RegisterRun(req *domain.RegisterRunRequest, resp *domain.Run) error {
	if req == nil {
		return rpcError(fmt.Errorf("%w: register request is required", domain.ErrInvalidArgument))
	}

	run, err := h.service.RegisterRun(context.Background(), *req)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil {
		*resp = *run
	}
	return nil
}

// ReportEvents ingests a batch of events.
func (h *Handler) ReportEvents(req *domain.ReportEventsRequest, resp *ReportEventsResponse) error {
	if req == nil {
		return rpcError(fmt.Errorf("%w: events are required", domain.ErrInvalidArgument))
	}

	n, err := h.service.AddEvents(context.Background(), req.Events)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil {
		resp.Count = n
	}
	return nil
}

// CompleteRun marks a run as finished.
func (h *Handler) CompleteRun(req *domain.CompleteRunRequest, resp *AckResponse) error {
	if req == nil {
		return rpcError(fmt.Errorf("%w: complete request is required", domain.ErrInvalidArgument))
	}

	ok, err := h.service.CompleteRun(context.Background(), *req)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil {
		resp.OK = ok
	}
	return nil
}

// CancelRun cancels a run.
func (h *Handler) CancelRun(req *domain.RunIDRequest, resp *AckResponse) error {
	if req == nil || req.RunID == "" {
		return rpcError(fmt.Errorf("%w: runId is required", domain.ErrInvalidArgument))
	}

	ok, err := h.service.CancelRun(context.Background(), req.RunID)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil {
		resp.OK = ok
	}
	return nil
}

// rpcError flattens err into "CODE: message" since JSON-RPC only carries
// strings.
func rpcError(err error) error {
	return fmt.Errorf("%s: %s", domain.ErrorCode(err), err.Error())
}
