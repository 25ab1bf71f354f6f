package daemon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dictd/internal/protocol"
)

// maxFrameSize bounds a single request line.
const maxFrameSize = 64 * 1024

// Handler answers decoded requests. after, when non-nil, runs once the
// response has been written to the client.
type Handler interface {
	Handle(ctx context.Context, req protocol.Request) (resp protocol.Response, after func())
}

// Server accepts control connections on a Unix-domain socket.
type Server struct {
	listener *net.UnixListener
	handler  Handler
	logger   *zap.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Listen binds path with owner-only permissions.
func Listen(path string, handler Handler, logger *zap.Logger) (*Server, error) {
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to bind control socket: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to restrict control socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener: l,
		handler:  handler,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", zap.Error(err))
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting, closes every open connection and waits for their goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With(zap.String("conn", uuid.NewString()))
	logger.Debug("client connected")

	reader := bufio.NewReaderSize(conn, 4096)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, errFrameTooLarge) {
				_, _ = conn.Write(protocol.Encode(protocol.Failure("Request too large")))
				logger.Warn("dropping client with oversized frame")
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}

		var resp protocol.Response
		var after func()
		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			logger.Debug("bad request", zap.ByteString("frame", frame), zap.Error(err))
			resp = protocol.Failure(err.Error())
		} else {
			resp, after = s.handler.Handle(s.ctx, req)
		}

		_, werr := conn.Write(protocol.Encode(resp))
		if after != nil {
			after()
		}
		if werr != nil {
			logger.Debug("write failed", zap.Error(werr))
			return
		}
	}
}

var errFrameTooLarge = errors.New("frame exceeds maximum size")

// readFrame returns the next newline-terminated frame without the newline.
// A trailing partial frame at EOF is discarded.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice('\n')
		frame = append(frame, chunk...)
		if len(frame) > maxFrameSize {
			return nil, errFrameTooLarge
		}
		switch {
		case err == nil:
			return frame[:len(frame)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}
