// Package rpc is the host boundary of the chat core: a newline-delimited
// JSON protocol over a stream socket. Requests are `{"id","command","data"}`
// lines answered by `{"id","success",...}` lines; push events from the core
// are interleaved as `{"event","data","timestamp"}` lines with no id.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/core"
)

// MaxLineSize bounds one request line. Voice messages carry base64 audio, so
// the limit is generous.
const MaxLineSize = 8 << 20

// Request is one command line from the host.
type Request struct {
	ID      int64          `json:"id"`
	Command string         `json:"command"`
	Data    map[string]any `json:"data,omitempty"`
}

// Server serves the command surface of one core service.
type Server struct {
	svc *core.Service

	mu sync.Mutex
	ln net.Listener
}

// NewServer wraps svc.
func NewServer(svc *core.Service) *Server {
	return &Server{svc: svc}
}

// Serve accepts connections on ln until ctx is done. Each connection gets the
// full command surface plus the event stream.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	zap.L().Info("rpc listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	zap.L().Debug("rpc client connected", zap.String("remote", conn.RemoteAddr().String()))

	var writeMu sync.Mutex
	writeLine := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := conn.Write(b); err != nil {
			return err
		}
		_, err = conn.Write([]byte{'\n'})
		return err
	}

	// Forward push events for the lifetime of the connection.
	events, cancel := s.svc.Events().Subscribe(0)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeLine(ev); err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), MaxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = writeLine(map[string]any{"success": false, "error": "malformed request"})
			continue
		}
		resp := s.svc.Dispatch(ctx, core.Command{Name: req.Command, Data: req.Data})
		out := make(map[string]any, len(resp)+1)
		for k, v := range resp {
			out[k] = v
		}
		out["id"] = req.ID
		if err := writeLine(out); err != nil {
			return
		}
	}
	if err := sc.Err(); err != nil {
		zap.L().Debug("rpc read failed", zap.Error(err))
	}
}
