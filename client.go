package msgnet

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Errors returned by client operations.
var (
	// ErrResolve is returned by Connect when the host cannot be resolved.
	ErrResolve = errors.New("address resolution failed")
	// ErrAlreadyConnected is returned by Connect while a connection is open.
	ErrAlreadyConnected = errors.New("already connected")
)

// Client owns exactly one client-role connection to a Server. Messages
// from the server are queued on Incoming with a nil Remote.
type Client[T MessageType] struct {
	logger Logger
	opts   options
	in     *Queue[OwnedMessage[T]]

	mu      sync.Mutex
	conn    *Conn[T]
	reactor *reactor
}

// NewClient returns a disconnected client.
func NewClient[T MessageType](opt ...Option) *Client[T] {
	opts := newOptions(opt...)
	return &Client[T]{
		logger: opts.logger,
		opts:   opts,
		in:     NewQueue[OwnedMessage[T]](),
	}
}

// Connect resolves host and starts connecting to it in the background.
// It returns once the attempt is launched; the handshake completes
// asynchronously. A resolution failure returns an error wrapping
// ErrResolve and leaves the client untouched.
//
// ctx bounds resolution only. The connection lives until Disconnect.
func (c *Client[T]) Connect(ctx context.Context, host string, port uint16) error {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return errors.Wrapf(ErrResolve, "lookup %q: %v", host, err)
	}

	endpoints := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		endpoints = append(endpoints, net.JoinHostPort(addr, strconv.Itoa(int(port))))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return ErrAlreadyConnected
	}
	if c.reactor != nil {
		_ = c.reactor.stop()
	}

	c.reactor = newReactor(context.WithoutCancel(ctx))
	c.conn = newConn[T](RoleClient, nil, c.in, c.reactor, c.opts)
	c.conn.startClient(endpoints)

	c.logger.Info("connecting", "host", host, "port", port)
	return nil
}

// Disconnect closes the connection and waits for its goroutines to
// return. Safe to call multiple times.
func (c *Client[T]) Disconnect() {
	c.mu.Lock()
	conn, r := c.conn, c.reactor
	c.conn, c.reactor = nil, nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if r != nil {
		if err := r.stop(); err != nil {
			c.logger.Warn("reactor stopped with error", "error", err)
		}
	}
}

// Close disconnects the client. It exists so a Client can be deferred
// like any other io.Closer.
func (c *Client[T]) Close() error {
	c.Disconnect()
	return nil
}

// IsConnected reports whether the socket is open. It does not wait for,
// or imply, a completed handshake.
func (c *Client[T]) IsConnected() bool {
	conn := c.Conn()
	return conn != nil && conn.IsConnected()
}

// Send queues msg for the server.
func (c *Client[T]) Send(msg Message[T]) error {
	conn := c.Conn()
	if conn == nil {
		return ErrConnectionClosed
	}
	return conn.Send(msg)
}

// Conn returns the current connection, or nil when disconnected.
func (c *Client[T]) Conn() *Conn[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn
}

// Incoming returns the queue of messages received from the server.
func (c *Client[T]) Incoming() *Queue[OwnedMessage[T]] {
	return c.in
}
