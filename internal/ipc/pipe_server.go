package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultConnTimeout       = 5 * time.Second
	maxConcurrentConnections = 4
	maxAcceptFailures        = 10
)

// listenFn and dialFn are the platform transport; tests swap them for
// loopback sockets.
var (
	listenFn = listenPipe
	dialFn   = dialPipe
)

// PipeServer accepts one request per connection and answers it.
type PipeServer struct {
	pipeName string
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewPipeServer returns a stopped server. An empty pipeName selects
// DefaultPipeName().
func NewPipeServer(pipeName string, handler Handler) *PipeServer {
	if pipeName == "" {
		pipeName = DefaultPipeName()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PipeServer{
		pipeName:  pipeName,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		connSlots: make(chan struct{}, maxConcurrentConnections),
	}
}

// PipeName returns the listen pipe name.
func (s *PipeServer) PipeName() string {
	return s.pipeName
}

// Start begins listening. It fails when already started, when there is no
// handler, or when the pipe cannot be created.
func (s *PipeServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("pipe server already started")
	}
	if s.handler == nil {
		return errors.New("pipe server requires a handler")
	}
	listener, err := listenFn(s.pipeName)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.pipeName, err)
	}
	s.listener = listener
	s.started = true
	s.wg.Go(s.acceptLoop)
	return nil
}

// Stop closes the listener and waits for in-flight connections.
func (s *PipeServer) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	var closeErr error
	if listener != nil {
		closeErr = listener.Close()
	}
	s.wg.Wait()
	return closeErr
}

func (s *PipeServer) acceptLoop() {
	failures := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			failures++
			if failures > maxAcceptFailures {
				slog.Warn("[ipc] accept loop: repeated failures, backing off", "error", err, "count", failures)
				time.Sleep(500 * time.Millisecond)
			} else {
				slog.Debug("[ipc] accept error", "error", err)
			}
			continue
		}
		failures = 0

		select {
		case s.connSlots <- struct{}{}:
		default:
			slog.Warn("[ipc] too many connections, rejecting client")
			_ = writeFrame(conn, Response{Error: "server busy"})
			_ = conn.Close()
			continue
		}
		s.wg.Go(func() {
			defer func() { <-s.connSlots }()
			s.serveConn(conn)
		})
	}
}

func (s *PipeServer) serveConn(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		slog.Warn("[ipc] failed to set connection deadline", "error", err)
		return
	}

	raw, err := readFrame(conn, maxRequestBytes)
	if errors.Is(err, io.EOF) {
		slog.Debug("[ipc] client disconnected without sending data")
		return
	}
	var resp Response
	if err == nil {
		var req Request
		if req, err = decodeRequest(raw); err == nil {
			slog.Debug("[ipc] request received", "command", req.Command)
			resp = s.handler.HandleIPC(req)
		}
	}
	if err != nil {
		resp = Response{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	if err := writeFrame(conn, resp); err != nil {
		slog.Debug("[ipc] failed to write response", "error", err)
	}
}

// Send delivers one request to the server on pipeName and returns its
// answer. An empty pipeName selects DefaultPipeName().
func Send(pipeName string, req Request) (Response, error) {
	if pipeName == "" {
		pipeName = DefaultPipeName()
	}
	conn, err := dialFn(pipeName, defaultConnTimeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := writeFrame(conn, req); err != nil {
		return Response{}, err
	}
	raw, err := readFrame(conn, maxResponseBytes)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}
