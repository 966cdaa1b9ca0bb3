package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/nkthebass/XenoCPUUtility-legacy/engine"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	"go.uber.org/multierr"
)

// Commands understood by the server, one per line.
const (
	CmdPause  = "PAUSE"
	CmdResume = "RESUME"
	CmdStop   = "STOP"
	CmdStatus = "STATUS"
)

const maxLineBytes = 4096

// Controller is the part of the engine the server drives.
type Controller interface {
	Pause() error
	Resume() error
	Stop()
	Snapshot() engine.Snapshot
}

// Server accepts control commands for a running session on a unix socket.
type Server struct {
	path string
	ctrl Controller
	sink utils.LogSink

	// checkPeer rejects connections from other users.
	checkPeer func(*net.UnixConn) error

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(path string, ctrl Controller, sink utils.LogSink) *Server {
	return &Server{
		path:      path,
		ctrl:      ctrl,
		sink:      utils.SinkOr(sink),
		checkPeer: checkPeer,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket. A stale socket file left by a dead process is replaced.
func (s *Server) Listen() error {
	if fi, err := os.Lstat(s.path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if conn, err := net.Dial("unix", s.path); err == nil {
			conn.Close()
			return fmt.Errorf("control socket %s is already in use", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("failed to remove stale socket %s: %w", s.path, err)
		}
	}

	l, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		return multierr.Append(fmt.Errorf("failed to restrict %s: %w", s.path, err), l.Close())
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	utils.Emitf(s.sink, "Control socket listening on %s", s.path)
	return nil
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("control server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			utils.Emitf(s.sink, "Control accept error: %v", err)
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if uc, ok := conn.(*net.UnixConn); ok && s.checkPeer != nil {
		if err := s.checkPeer(uc); err != nil {
			utils.Emitf(s.sink, "Control connection rejected: %v", err)
			fmt.Fprintf(conn, "ERR %v\n", err)
			return
		}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.dispatch(line)
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(line string) string {
	cmd := strings.ToUpper(line)
	utils.Emitf(s.sink, "Control command: %s", cmd)

	switch cmd {
	case CmdPause:
		if err := s.ctrl.Pause(); err != nil {
			return "ERR " + err.Error()
		}
		return "OK paused"
	case CmdResume:
		if err := s.ctrl.Resume(); err != nil {
			return "ERR " + err.Error()
		}
		return "OK resumed"
	case CmdStop:
		s.ctrl.Stop()
		return "OK stopped"
	case CmdStatus:
		return "OK " + s.ctrl.Snapshot().String()
	}
	return fmt.Sprintf("ERR unknown command %q", line)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, drops open connections, waits for their handlers
// and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = multierr.Append(err, s.listener.Close())
	}
	for c := range s.conns {
		// Handlers may be closing these too.
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = multierr.Append(err, rmErr)
	}
	return err
}
