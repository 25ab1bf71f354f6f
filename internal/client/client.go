// Package client talks to the dictd daemon over its control socket.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/eliteGoblin/dictd/internal/protocol"
)

// DefaultTimeout bounds one command round trip.
const DefaultTimeout = 5 * time.Second

var (
	// ErrDaemonNotRunning means no daemon is listening on the socket.
	ErrDaemonNotRunning = errors.New("daemon is not running")

	// ErrConnectionClosed means the daemon hung up before sending a full response.
	ErrConnectionClosed = errors.New("connection closed before a response was received")
)

// TimeoutError means the daemon did not answer within Timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response from daemon within %s", e.Timeout)
}

// Client sends single commands to the daemon.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// New creates a client. A zero timeout means DefaultTimeout.
func New(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{SocketPath: socketPath, Timeout: timeout}
}

// Send writes one command and waits for its response.
func (c *Client) Send(ctx context.Context, command string) (*protocol.Response, error) {
	if _, err := os.Stat(c.SocketPath); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, fmt.Errorf("control socket: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, c.classify(ctx, err, timeout)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	// Cancellation unblocks the read through the deadline; conn is still closed once, above.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if _, err := conn.Write(protocol.EncodeRequest(protocol.Request{Command: command})); err != nil {
		return nil, c.classify(ctx, err, timeout)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, c.classify(ctx, err, timeout)
	}
	return protocol.DecodeResponse(line)
}

// classify maps transport errors to the client's error kinds.
func (c *Client) classify(ctx context.Context, err error, timeout time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ENOENT):
		return ErrDaemonNotRunning
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &TimeoutError{Timeout: timeout}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ErrConnectionClosed
	default:
		return fmt.Errorf("control socket: %w", err)
	}
}
