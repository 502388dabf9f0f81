package idxsyncd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"idxsync/internal/errs"
	"idxsync/internal/logging"
)

var log = logging.Log("idxsyncd")

const DefaultAdminListen = "127.0.0.1:7447"

type Options struct {
	Listen string
}

// Server answers admin requests on a line-delimited JSON-RPC socket.
type Server struct {
	opts Options
	h    *Handlers

	mu        sync.Mutex
	listener  net.Listener
	closeOnce sync.Once
	closed    chan struct{}
}

func NewServer(opts Options, h *Handlers) *Server {
	if strings.TrimSpace(opts.Listen) == "" {
		opts.Listen = DefaultAdminListen
	}
	return &Server{
		opts:   opts,
		h:      h,
		closed: make(chan struct{}),
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run serves until ctx ends or Close is called. Requests inherit ctx.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server is nil")
	}
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	log.WithField("addr", ln.Addr().String()).Info("admin listening")

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closed:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Server) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := readLine(r)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = writeLine(w, Response{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &ErrorObject{Code: codeParse, Message: "parse error"},
			})
			continue
		}
		resp := s.dispatch(ctx, req)
		if len(req.ID) == 0 {
			continue
		}
		if err := writeLine(w, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		resp.Error = &ErrorObject{Code: codeInvalidRequest, Message: "invalid jsonrpc version"}
		return resp
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "ping":
		result = "pong"
	case "version":
		result = s.h.Version()
	case "index.list":
		result, err = s.h.IndexList()
	case "index.run":
		var p IndexRunParams
		if !decodeParams(req, &p, &resp) {
			return resp
		}
		if strings.TrimSpace(p.Name) == "" {
			resp.Error = &ErrorObject{Code: codeInvalidParams, Message: "name is required"}
			return resp
		}
		result, err = s.h.IndexRun(ctx, p)
	case "index.status":
		var p IndexStatusParams
		if !decodeParams(req, &p, &resp) {
			return resp
		}
		result, err = s.h.IndexStatus(p)
	default:
		resp.Error = &ErrorObject{Code: codeNoMethod, Message: "method not found"}
		return resp
	}

	if err != nil {
		resp.Error = &ErrorObject{Code: codeServer, Message: err.Error(), Kind: string(errs.KindOf(err))}
		return resp
	}
	resp.Result = result
	return resp
}

func decodeParams(req Request, out any, resp *Response) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		resp.Error = &ErrorObject{Code: codeInvalidParams, Message: "invalid params"}
		return false
	}
	return true
}
